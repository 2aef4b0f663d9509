package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/internal/hooks"
	"github.com/smartassist/smartassist/internal/providers"
	"github.com/smartassist/smartassist/internal/telemetry"
	"github.com/smartassist/smartassist/internal/tools"
	"github.com/smartassist/smartassist/pkg/models"
)

// defaultMaxTurns bounds the number of provider round trips a single
// InboundMessage may trigger via tool use, guarding against a model
// stuck issuing tool calls indefinitely.
const defaultMaxTurns = 8

// session owns one conversation's running turn state: its message
// history and the agent binding that answers it. A session is
// long-lived across many InboundMessages from the same SessionKey;
// history accumulates in memory only (spec: "no core-owned history
// store" beyond an optional append-only log consumed by memory tools).
type session struct {
	key      SessionKey
	binding  AgentBinding
	registry *providers.Registry
	toolReg  *tools.Registry
	executor *tools.Executor
	logger   *slog.Logger
	tracer   *telemetry.Tracer
	hooks    *hooks.Registry

	mu      sync.Mutex
	history []providers.Message
}

func newSession(key SessionKey, binding AgentBinding, registry *providers.Registry, toolReg *tools.Registry, executor *tools.Executor, logger *slog.Logger, tracer *telemetry.Tracer, hookRegistry *hooks.Registry) *session {
	if hookRegistry == nil {
		hookRegistry = hooks.NewRegistry(logger)
	}
	if tracer == nil {
		tracer, _ = telemetry.New(telemetry.Config{})
	}
	return &session{
		key:      key,
		binding:  binding,
		registry: registry,
		toolReg:  toolReg,
		executor: executor,
		logger:   logger,
		tracer:   tracer,
		hooks:    hookRegistry,
	}
}

// handle runs the full turn for one InboundMessage: resolve the
// provider, stream the completion, execute any requested tools and feed
// their results back, and send the assembled outbound text.
func (s *session) handle(ctx context.Context, msg *models.InboundMessage, sender channels.ChannelSender) (err error) {
	ctx, span := s.tracer.StartTurn(ctx, string(s.key), string(s.binding.AgentID))
	defer func() { telemetry.End(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	provider, err := s.registry.Resolve(s.binding.Vendor)
	if err != nil {
		return fmt.Errorf("orchestration: resolving provider %q: %w", s.binding.Vendor, err)
	}

	defer func() {
		turnHistory := make([]*providers.Message, len(s.history))
		for i := range s.history {
			m := s.history[i]
			turnHistory[i] = &m
		}
		s.hooks.TriggerAsync(context.WithoutCancel(ctx), hooks.NewEvent(hooks.EventAgentCompleted, "").
			WithSession(string(s.key)).
			WithChannel(msg.AccountID, msg.Channel).
			WithContext("success", err == nil).
			WithMessages(turnHistory))
	}()

	recvEvent := hooks.NewEvent(hooks.EventMessageReceived, "").
		WithSession(string(s.key)).
		WithChannel(msg.AccountID, msg.Channel).
		WithMessage(msg).
		WithContext("agent_id", string(s.binding.AgentID))
	_ = s.hooks.Trigger(ctx, recvEvent)

	system := s.binding.System
	if recalled, ok := recvEvent.Context["memory_context"].(string); ok && recalled != "" {
		system = recalled + "\n\n" + system
	}

	s.history = append(s.history, providers.Message{Role: providers.RoleUser, Text: msg.Text})

	maxTurns := s.binding.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	var assembled string
	for turn := 0; turn < maxTurns; turn++ {
		req := providers.ChatRequest{
			Model:    s.binding.Model,
			System:   system,
			Messages: append([]providers.Message(nil), s.history...),
			Tools:    s.toolSpecs(),
		}

		events, err := provider.ChatStream(ctx, req)
		if err != nil {
			return fmt.Errorf("orchestration: chat_stream: %w", err)
		}

		text, toolUses, streamErr := drainStream(events)
		if streamErr != nil {
			s.logger.Error("provider stream error", "session", s.key, "error", streamErr)
			return streamErr
		}

		if text != "" {
			assembled += text
			s.history = append(s.history, providers.Message{Role: providers.RoleAssistant, Text: text})
		}

		if len(toolUses) == 0 {
			break
		}

		for _, tu := range toolUses {
			result := s.runTool(ctx, msg, tu)
			s.history = append(s.history, providers.Message{
				Role:       providers.RoleTool,
				Text:       result,
				ToolCallID: tu.ID,
			})
		}
	}

	if assembled == "" {
		return nil
	}

	chunker := channels.NewMessageChunker(sender.MaxMessageLength())
	for i, chunk := range chunker.Chunk(assembled) {
		out := models.OutboundMessage{
			Target: models.SendTarget{ChatID: msg.Chat.ID},
			Text:   chunk,
		}
		if i == 0 {
			out.ReplyTo = msg.ID
		}
		if _, err := sender.Send(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

// runTool pushes a ToolUse through the executor's check_input ->
// approval -> execute -> check_output pipeline and returns the text fed
// back to the provider as a tool-result message.
func (s *session) runTool(ctx context.Context, msg *models.InboundMessage, tu *providers.ToolUse) string {
	ctx, span := s.tracer.StartTool(ctx, tu.Name)
	var err error
	defer func() { telemetry.End(span, err) }()

	tc := tools.ToolContext{
		SessionID: string(s.key),
		AgentID:   s.binding.AgentID,
	}

	var result *tools.ToolResult
	var duration time.Duration
	result, duration, err = s.executor.Execute(ctx, tu.ID, tu.Name, json.RawMessage(tu.InputJSON), tc, tools.OriginAgentTurn)
	span.SetAttributes(attribute.Int64("tool.duration_ms", duration.Milliseconds()))
	if err != nil {
		return fmt.Sprintf("tool %q failed: %v", tu.Name, err)
	}
	if result == nil {
		return fmt.Sprintf("tool %q produced no result", tu.Name)
	}
	return result.Content
}

// toolSpecs builds the ToolSpec list the provider request carries,
// restricted to s.binding.ToolNames when set.
func (s *session) toolSpecs() []providers.ToolSpec {
	var defs []tools.ToolDefinition
	if len(s.binding.ToolNames) == 0 {
		defs = s.toolReg.Definitions()
	} else {
		for _, name := range s.binding.ToolNames {
			if t, ok := s.toolReg.Get(name); ok {
				defs = append(defs, t.Definition())
			}
		}
	}

	out := make([]providers.ToolSpec, 0, len(defs))
	for _, d := range defs {
		out = append(out, providers.ToolSpec{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return out
}

// drainStream consumes every StreamEvent, concatenating text deltas and
// collecting each ToolUse, until EventDone, EventError, or channel
// close.
func drainStream(events <-chan providers.StreamEvent) (string, []*providers.ToolUse, error) {
	var text string
	var toolUses []*providers.ToolUse

	for evt := range events {
		switch evt.Kind {
		case providers.EventText:
			text += evt.Text
		case providers.EventToolUse:
			toolUses = append(toolUses, evt.Tool)
		case providers.EventError:
			return text, toolUses, evt.Err
		case providers.EventDone, providers.EventUsage:
			// no-op: usage accounting is surfaced via metrics, not returned here
		}
	}
	return text, toolUses, nil
}
