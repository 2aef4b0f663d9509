package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smartassist/smartassist/internal/memory"
	"github.com/smartassist/smartassist/internal/tools"
	"github.com/smartassist/smartassist/pkg/models"
)

// defaultChunkSize and defaultChunkOverlap are used for the
// memory_index tool's automatic chunking when the caller omits both.
const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// MemorySearchTool performs semantic search over indexed memory entries,
// the Memory tool group's read side.
type MemorySearchTool struct {
	Manager *memory.Manager
}

func (MemorySearchTool) Name() string { return "memory_search" }

func (MemorySearchTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "memory_search",
		Description: "Search previously indexed memory entries by semantic similarity.",
		InputSchema: objSchema(map[string]any{
			"query":     strProp("The search query."),
			"scope":     map[string]any{"type": "string", "enum": []string{"session", "channel", "agent", "global"}},
			"scope_id":  strProp("The ID the scope is relative to (session ID, channel ID, or agent ID)."),
			"limit":     map[string]any{"type": "integer", "description": "Max results to return (default 10)."},
			"threshold": map[string]any{"type": "number", "description": "Minimum similarity score 0-1 (default 0.7)."},
		}, "query"),
	}
}

func (t MemorySearchTool) Group() tools.ToolGroup                { return tools.GroupMemory }
func (t MemorySearchTool) RequiresApproval(json.RawMessage) bool { return false }

func (t MemorySearchTool) Execute(ctx context.Context, _ string, args json.RawMessage, tc tools.ToolContext) (*tools.ToolResult, error) {
	if t.Manager == nil {
		return tools.ErrorResult("memory search is not configured"), nil
	}

	var input struct {
		Query     string  `json:"query"`
		Scope     string  `json:"scope"`
		ScopeID   string  `json:"scope_id"`
		Limit     int     `json:"limit"`
		Threshold float32 `json:"threshold"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.ErrorResult("invalid arguments: " + err.Error()), nil
	}

	scope := models.MemoryScope(input.Scope)
	if scope == "" {
		scope = models.ScopeSession
	}
	scopeID := input.ScopeID
	if scopeID == "" {
		if scope == models.ScopeSession {
			scopeID = tc.SessionID
		} else if scope == models.ScopeAgent {
			scopeID = tc.AgentID
		}
	}

	req := &models.SearchRequest{
		Query:     input.Query,
		Scope:     scope,
		ScopeID:   scopeID,
		Limit:     input.Limit,
		Threshold: input.Threshold,
	}

	resp, err := t.Manager.Search(ctx, req)
	if err != nil {
		return tools.ErrorResult("memory search failed: " + err.Error()), nil
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return tools.ErrorResult("encoding results: " + err.Error()), nil
	}
	return &tools.ToolResult{Content: string(payload)}, nil
}

// MemoryIndexTool chunks text and stores it for later semantic search,
// the Memory tool group's write side. Always requires approval since it
// persists content into the embedding store.
type MemoryIndexTool struct {
	Manager *memory.Manager
}

func (MemoryIndexTool) Name() string { return "memory_index" }

func (MemoryIndexTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "memory_index",
		Description: "Chunk text and index it into memory for later semantic search.",
		InputSchema: objSchema(map[string]any{
			"content":       strProp("The text to index."),
			"scope":         map[string]any{"type": "string", "enum": []string{"session", "channel", "agent", "global"}},
			"source":        strProp("Where the content came from, e.g. \"message\", \"document\", \"note\"."),
			"chunk_size":    map[string]any{"type": "integer", "description": "Max characters per chunk (default 1000)."},
			"chunk_overlap": map[string]any{"type": "integer", "description": "Overlap between consecutive chunks (default 200)."},
		}, "content"),
	}
}

func (t MemoryIndexTool) Group() tools.ToolGroup                { return tools.GroupMemory }
func (t MemoryIndexTool) RequiresApproval(json.RawMessage) bool { return true }

func (t MemoryIndexTool) Execute(ctx context.Context, _ string, args json.RawMessage, tc tools.ToolContext) (*tools.ToolResult, error) {
	if t.Manager == nil {
		return tools.ErrorResult("memory indexing is not configured"), nil
	}

	var input struct {
		Content      string `json:"content"`
		Scope        string `json:"scope"`
		Source       string `json:"source"`
		ChunkSize    int    `json:"chunk_size"`
		ChunkOverlap int    `json:"chunk_overlap"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.ErrorResult("invalid arguments: " + err.Error()), nil
	}
	if input.ChunkSize <= 0 {
		input.ChunkSize = defaultChunkSize
	}
	if input.ChunkOverlap <= 0 {
		input.ChunkOverlap = defaultChunkOverlap
	}
	if input.Source == "" {
		input.Source = "note"
	}

	chunks := tools.ChunkText(input.Content, input.ChunkSize, input.ChunkOverlap)
	if len(chunks) == 0 {
		return tools.ErrorResult("content must not be empty"), nil
	}

	now := time.Now()
	entries := make([]*models.MemoryEntry, 0, len(chunks))
	for _, chunk := range chunks {
		entries = append(entries, &models.MemoryEntry{
			ID:        uuid.NewString(),
			SessionID: tc.SessionID,
			AgentID:   tc.AgentID,
			Content:   chunk,
			Metadata: models.MemoryMetadata{
				Source: input.Source,
			},
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := t.Manager.Index(ctx, entries); err != nil {
		return tools.ErrorResult("indexing failed: " + err.Error()), nil
	}
	return &tools.ToolResult{Content: fmt.Sprintf("indexed %d chunk(s)", len(entries))}, nil
}
