package slack

import (
	"context"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// SlackAPIClient defines the interface for Slack API operations used by the
// adapter. This interface allows mock injection during testing.
type SlackAPIClient interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	DeleteMessageContext(ctx context.Context, channelID, timestamp string) (string, string, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

// SocketModeClient defines the interface for Socket Mode operations.
type SocketModeClient interface {
	Run() error
	Ack(req socketmode.Request, payload ...interface{})
	Events() <-chan socketmode.Event
}

var _ SlackAPIClient = (*slack.Client)(nil)

// realSocketModeClient wraps a *socketmode.Client to implement SocketModeClient.
type realSocketModeClient struct {
	client *socketmode.Client
}

func newRealSocketModeClient(c *socketmode.Client) SocketModeClient {
	return &realSocketModeClient{client: c}
}

func (r *realSocketModeClient) Run() error { return r.client.Run() }

func (r *realSocketModeClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

func (r *realSocketModeClient) Events() <-chan socketmode.Event { return r.client.Events }

// MockSlackClient is a test double for SlackAPIClient.
type MockSlackClient struct {
	AuthTestContextFunc      func(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContextFunc   func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContextFunc func(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	DeleteMessageContextFunc func(ctx context.Context, channelID, timestamp string) (string, string, error)
	AddReactionContextFunc   func(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReactionCtxFunc    func(ctx context.Context, name string, item slack.ItemRef) error
	UploadFileV2ContextFunc  func(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

func (m *MockSlackClient) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	if m.AuthTestContextFunc != nil {
		return m.AuthTestContextFunc(ctx)
	}
	return &slack.AuthTestResponse{UserID: "U12345", Team: "TestTeam"}, nil
}

func (m *MockSlackClient) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if m.PostMessageContextFunc != nil {
		return m.PostMessageContextFunc(ctx, channelID, options...)
	}
	return channelID, "1234567890.123456", nil
}

func (m *MockSlackClient) UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error) {
	if m.UpdateMessageContextFunc != nil {
		return m.UpdateMessageContextFunc(ctx, channelID, timestamp, options...)
	}
	return channelID, timestamp, "", nil
}

func (m *MockSlackClient) DeleteMessageContext(ctx context.Context, channelID, timestamp string) (string, string, error) {
	if m.DeleteMessageContextFunc != nil {
		return m.DeleteMessageContextFunc(ctx, channelID, timestamp)
	}
	return channelID, timestamp, nil
}

func (m *MockSlackClient) AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error {
	if m.AddReactionContextFunc != nil {
		return m.AddReactionContextFunc(ctx, name, item)
	}
	return nil
}

func (m *MockSlackClient) RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error {
	if m.RemoveReactionCtxFunc != nil {
		return m.RemoveReactionCtxFunc(ctx, name, item)
	}
	return nil
}

func (m *MockSlackClient) UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
	if m.UploadFileV2ContextFunc != nil {
		return m.UploadFileV2ContextFunc(ctx, params)
	}
	return &slack.FileSummary{ID: "F12345"}, nil
}

// MockSocketModeClient is a test double for SocketModeClient.
type MockSocketModeClient struct {
	RunFunc    func() error
	AckFunc    func(req socketmode.Request, payload ...interface{})
	EventsChan chan socketmode.Event
}

func NewMockSocketModeClient() *MockSocketModeClient {
	return &MockSocketModeClient{EventsChan: make(chan socketmode.Event, 100)}
}

func (m *MockSocketModeClient) Run() error {
	if m.RunFunc != nil {
		return m.RunFunc()
	}
	select {}
}

func (m *MockSocketModeClient) Ack(req socketmode.Request, payload ...interface{}) {
	if m.AckFunc != nil {
		m.AckFunc(req, payload...)
	}
}

func (m *MockSocketModeClient) Events() <-chan socketmode.Event { return m.EventsChan }

func (m *MockSocketModeClient) Close() { close(m.EventsChan) }
