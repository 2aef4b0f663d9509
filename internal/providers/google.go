package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

// GoogleConfig configures a Gemini-backed Provider.
type GoogleConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	Logger       *slog.Logger
}

// GoogleProvider streams Gemini completions, draining the SDK's Go 1.23
// iter.Seq2 response iterator into StreamEvent.
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
	maxRetries   int
	logger       *slog.Logger
}

func NewGoogleProvider(ctx context.Context, cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{
		client:       client,
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		logger:       cfg.Logger,
	}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	contents := convertGoogleMessages(req.Messages)
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if len(req.Tools) > 0 {
		config.Tools = convertGoogleTools(req.Tools)
	}

	events := make(chan StreamEvent, 16)
	go p.runStream(ctx, model, contents, config, events)
	return events, nil
}

func (p *GoogleProvider) runStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig, events chan<- StreamEvent) {
	defer close(events)

	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, config)
		ok, err := p.consumeStream(ctx, streamIter, events)
		if ok {
			return
		}
		lastErr = err
		perr := classifyGoogleError(lastErr)
		if !perr.IsRetryable() || attempt == p.maxRetries {
			events <- StreamEvent{Kind: EventError, Err: perr}
			return
		}
		p.logger.Warn("google stream retrying", "attempt", attempt, "error", lastErr)
		select {
		case <-ctx.Done():
			events <- StreamEvent{Kind: EventError, Err: ctx.Err()}
			return
		case <-time.After(retryDelay * time.Duration(attempt)):
		}
	}
}

func (p *GoogleProvider) consumeStream(ctx context.Context, streamIter func(func(*genai.GenerateContentResponse, error) bool), events chan<- StreamEvent) (bool, error) {
	var usage Usage
	var streamErr error

	streamIter(func(resp *genai.GenerateContentResponse, err error) bool {
		select {
		case <-ctx.Done():
			streamErr = ctx.Err()
			return false
		default:
		}
		if err != nil {
			streamErr = err
			return false
		}
		if resp == nil {
			return true
		}
		if resp.UsageMetadata != nil {
			usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					events <- StreamEvent{Kind: EventText, Text: part.Text}
				}
				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					events <- StreamEvent{Kind: EventToolUse, Tool: &ToolUse{
						ID:        part.FunctionCall.Name,
						Name:      part.FunctionCall.Name,
						InputJSON: argsJSON,
					}}
				}
			}
		}
		return true
	})

	if streamErr != nil {
		return false, streamErr
	}
	events <- StreamEvent{Kind: EventUsage, Usage: &usage}
	events <- StreamEvent{Kind: EventDone}
	return true, nil
}

func convertGoogleMessages(msgs []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		content := &genai.Content{}
		switch m.Role {
		case RoleUser, RoleTool:
			content.Role = genai.RoleUser
		case RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}
		content.Parts = append(content.Parts, &genai.Part{Text: m.Text})
		out = append(out, content)
	}
	return out
}

func convertGoogleTools(specs []ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		var schema genai.Schema
		_ = json.Unmarshal(s.InputSchema, &schema)
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  &schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func classifyGoogleError(err error) *ProviderError {
	if err == nil {
		return newProviderError("google", ErrCodeUnknown, 0, errors.New("unknown stream failure"))
	}
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return newProviderError("google", classifyHTTPStatus(apiErr.Code), apiErr.Code, err)
	}
	return newProviderError("google", ErrCodeUnknown, 0, err)
}
