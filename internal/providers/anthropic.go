package providers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures an Anthropic-backed Provider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	Logger       *slog.Logger
}

// AnthropicProvider streams Claude completions, normalizing content-block
// deltas and tool-use blocks into StreamEvent.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	logger       *slog.Logger
}

// NewAnthropicProvider builds an AnthropicProvider from cfg.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		logger:       cfg.Logger,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  convertAnthropicMessages(req.Messages),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertAnthropicTools(req.Tools)
	}

	events := make(chan StreamEvent, 16)
	go p.runStream(ctx, params, model, events)
	return events, nil
}

func (p *AnthropicProvider) runStream(ctx context.Context, params anthropic.MessageNewParams, model string, events chan<- StreamEvent) {
	defer close(events)

	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		stream := p.client.Messages.NewStreaming(ctx, params)
		ok := p.consumeStream(stream, events)
		if ok {
			return
		}
		lastErr = stream.Err()
		perr := classifyAnthropicError(lastErr)
		if !perr.IsRetryable() || attempt == p.maxRetries {
			events <- StreamEvent{Kind: EventError, Err: perr}
			return
		}
		p.logger.Warn("anthropic stream retrying", "attempt", attempt, "error", lastErr)
		select {
		case <-ctx.Done():
			events <- StreamEvent{Kind: EventError, Err: ctx.Err()}
			return
		case <-time.After(retryDelay * time.Duration(attempt)):
		}
	}
}

// consumeStream decodes content-block events into StreamEvent, accumulating
// tool-use input JSON across delta events. Returns true only if message_stop
// was observed; a stream that ends before it, with or without an error,
// returns false.
func (p *AnthropicProvider) consumeStream(stream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}, events chan<- StreamEvent) bool {
	var toolID, toolName string
	var toolInput strings.Builder
	inTool := false
	var usage Usage

	for stream.Next() {
		evt := stream.Current()
		switch evt.Type {
		case "content_block_start":
			block := evt.ContentBlock.AsAny()
			if tu, ok := block.(anthropic.ToolUseBlock); ok {
				inTool = true
				toolID = tu.ID
				toolName = tu.Name
				toolInput.Reset()
			}
		case "content_block_delta":
			delta := evt.Delta.AsAny()
			switch d := delta.(type) {
			case anthropic.TextDelta:
				events <- StreamEvent{Kind: EventText, Text: d.Text}
			case anthropic.InputJSONDelta:
				if inTool {
					toolInput.WriteString(d.PartialJSON)
				}
			}
		case "content_block_stop":
			if inTool {
				events <- StreamEvent{Kind: EventToolUse, Tool: &ToolUse{
					ID:        toolID,
					Name:      toolName,
					InputJSON: json.RawMessage(toolInput.String()),
				}}
				inTool = false
			}
		case "message_delta":
			if u := evt.Usage; u.OutputTokens > 0 {
				usage.OutputTokens = int(u.OutputTokens)
			}
		case "message_start":
			if u := evt.Message.Usage; u.InputTokens > 0 {
				usage.InputTokens = int(u.InputTokens)
			}
		case "message_stop":
			events <- StreamEvent{Kind: EventUsage, Usage: &usage}
			events <- StreamEvent{Kind: EventDone}
			return true
		}
	}
	return false
}

func convertAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
		case RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Text, false)))
		}
	}
	return out
}

func convertAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		var schema anthropic.ToolInputSchemaParam
		_ = json.Unmarshal(s.InputSchema, &schema)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        s.Name,
				Description: anthropic.String(s.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}

func classifyAnthropicError(err error) *ProviderError {
	if err == nil {
		return newProviderError("anthropic", ErrCodeUnknown, 0, errors.New("unknown stream failure"))
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return newProviderError("anthropic", classifyHTTPStatus(apiErr.StatusCode), apiErr.StatusCode, err)
	}
	return newProviderError("anthropic", ErrCodeUnknown, 0, err)
}
