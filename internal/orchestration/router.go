// Package orchestration wires the Channel, Provider, Tool, and Safety
// layers together into the turn loop:
//
//	channel.receive -> InboundMessage -> agent router (by channel/account/peer/guild)
//	  -> Provider.chat_stream(messages, tools) -> StreamEvent*
//	    -> on ToolUse: safety.check_input -> [approval.request if required]
//	       -> tool.execute -> safety.check_output -> feed result back into Provider
//	  -> outbound text assembled -> channel.send
//
// Each channel's receive loop stays independent; the router fans every
// inbound message into a per-session agent turn and invokes the tool
// executor synchronously within that turn.
package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/internal/hooks"
	"github.com/smartassist/smartassist/internal/providers"
	"github.com/smartassist/smartassist/internal/telemetry"
	"github.com/smartassist/smartassist/internal/tools"
	"github.com/smartassist/smartassist/pkg/models"
)

// SessionKey identifies the conversational scope a turn belongs to —
// one running agent per (channel, account, peer/guild), matching spec
// §3's "route by channel/account/peer/guild" requirement.
type SessionKey = models.SessionKey

// sessionKeyFor derives the routing key for an inbound message. Direct
// chats key on the sender; group/channel/thread chats key on the chat
// itself, so every member of a group shares one running turn instead of
// spawning one per sender.
func sessionKeyFor(msg *models.InboundMessage) SessionKey {
	switch msg.Chat.Type {
	case models.ChatDirect:
		return SessionKey(fmt.Sprintf("%s:%s:%s", msg.Channel, msg.AccountID, msg.Sender.ID))
	default:
		return SessionKey(fmt.Sprintf("%s:%s:%s", msg.Channel, msg.AccountID, msg.Chat.ID))
	}
}

// AgentBinding is the static configuration a Router resolves a session
// to: which model/vendor answers it, its system prompt, and the subset
// of tools it may call.
type AgentBinding struct {
	AgentID     models.AgentId
	Vendor      string
	Model       string
	System      string
	ToolNames   []string // empty means "every registered tool"
	MaxTurns    int      // bounds tool-use round trips per InboundMessage
}

// AgentResolver picks the AgentBinding that should answer msg. The
// default resolver (see NewStaticResolver) ignores the message and
// always returns the same binding; a multi-tenant deployment supplies
// its own resolver keyed on msg.AccountID/msg.Channel.
type AgentResolver interface {
	Resolve(msg *models.InboundMessage) (AgentBinding, error)
}

// StaticResolver returns the same AgentBinding for every message.
type StaticResolver struct {
	binding AgentBinding
}

func NewStaticResolver(binding AgentBinding) *StaticResolver {
	return &StaticResolver{binding: binding}
}

func (s *StaticResolver) Resolve(*models.InboundMessage) (AgentBinding, error) {
	return s.binding, nil
}

// Router is the Orchestration layer: it owns one Turn state machine per
// active SessionKey, fans inbound messages from the channel registry
// into the right turn, and sends the resulting OutboundMessage back out
// through the same channel instance.
type Router struct {
	channels  *channels.Registry
	providers *providers.Registry
	toolReg   *tools.Registry
	executor  *tools.Executor
	resolver  AgentResolver
	logger    *slog.Logger
	tracer    *telemetry.Tracer
	hooks     *hooks.Registry

	mu       sync.Mutex
	sessions map[SessionKey]*session
}

// RouterConfig bundles the layers a Router wires together.
type RouterConfig struct {
	Channels  *channels.Registry
	Providers *providers.Registry
	Tools     *tools.Registry
	Executor  *tools.Executor
	Resolver  AgentResolver
	Logger    *slog.Logger
	// Tracer emits one span per agent turn and one child span per tool
	// call. Nil gets a no-op tracer, same as an unconfigured OTLP endpoint.
	Tracer *telemetry.Tracer
	// Hooks fires message.received/agent.completed events around each
	// turn (memory auto-recall/auto-capture subscribe here). Nil means no
	// handlers run, same as a Registry with nothing registered.
	Hooks *hooks.Registry
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer, _ = telemetry.New(telemetry.Config{})
	}
	if cfg.Hooks == nil {
		cfg.Hooks = hooks.NewRegistry(cfg.Logger)
	}
	return &Router{
		channels:  cfg.Channels,
		providers: cfg.Providers,
		toolReg:   cfg.Tools,
		executor:  cfg.Executor,
		resolver:  cfg.Resolver,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
		hooks:     cfg.Hooks,
		sessions:  make(map[SessionKey]*session),
	}
}

// Run aggregates inbound messages from every registered channel and
// dispatches each into its session's turn, until ctx is cancelled.
// Dispatch happens one message at a time per SessionKey but concurrently
// across sessions: no global ordering is imposed across channels, while
// the conversation a given peer is having still serializes.
func (r *Router) Run(ctx context.Context) error {
	inbound := r.channels.AggregateMessages(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			go r.dispatch(ctx, msg)
		}
	}
}

// Dispatch routes a single inbound message synchronously, for callers
// (the gateway, tests) that want to drive the pipeline without the
// channel aggregation loop.
func (r *Router) Dispatch(ctx context.Context, msg *models.InboundMessage) error {
	return r.dispatch(ctx, msg)
}

func (r *Router) dispatch(ctx context.Context, msg *models.InboundMessage) error {
	binding, err := r.resolver.Resolve(msg)
	if err != nil {
		r.logger.Error("agent resolution failed", "channel", msg.Channel, "error", err)
		return err
	}

	key := sessionKeyFor(msg)
	sess := r.sessionFor(key, binding)

	sender, ok := r.channels.Sender(msg.AccountID)
	if !ok {
		r.logger.Error("no sender registered for account", "account_id", msg.AccountID, "channel", msg.Channel)
		return fmt.Errorf("orchestration: no channel sender for account %q", msg.AccountID)
	}

	return sess.handle(ctx, msg, sender)
}

func (r *Router) sessionFor(key SessionKey, binding AgentBinding) *session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		return s
	}

	s := newSession(key, binding, r.providers, r.toolReg, r.executor, r.logger, r.tracer, r.hooks)
	r.sessions[key] = s
	return s
}
