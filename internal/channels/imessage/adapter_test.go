//go:build darwin

package imessage

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartassist/smartassist/internal/channels"
	"github.com/smartassist/smartassist/pkg/models"
)

func newTestHealth() *channels.BaseHealthAdapter {
	return channels.NewBaseHealthAdapter(models.ChannelIMessage, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{}
	if err := c.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.DatabasePath != "~/Library/Messages/chat.db" {
		t.Errorf("unexpected default database path %q", c.DatabasePath)
	}
	if c.PollInterval != time.Second {
		t.Errorf("expected default poll interval 1s, got %v", c.PollInterval)
	}
}

func TestAppleTimestampToTime(t *testing.T) {
	got := appleTimestampToTime(0)
	want := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected apple epoch, got %v", got)
	}
}

func TestEscapeAppleScript(t *testing.T) {
	got := escapeAppleScript(`say "hi" \ there`)
	want := `say \"hi\" \\ there`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExpandPath_NoTilde(t *testing.T) {
	if got := expandPath("/tmp/chat.db"); got != "/tmp/chat.db" {
		t.Errorf("expected unchanged path, got %q", got)
	}
}

func TestAdapter_EditUnsupported(t *testing.T) {
	a := &Adapter{health: newTestHealth()}
	if err := a.Edit(context.Background(), models.MessageId("x"), "y"); err == nil {
		t.Fatal("expected edit to be unsupported")
	}
	if err := a.Delete(context.Background(), models.MessageId("x")); err == nil {
		t.Fatal("expected delete to be unsupported")
	}
	if err := a.React(context.Background(), models.MessageId("x"), "emoji"); err == nil {
		t.Fatal("expected react to be unsupported")
	}
}

func TestAdapter_SendTyping_NoOp(t *testing.T) {
	a := &Adapter{}
	if err := a.SendTyping(context.Background(), "x"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestAdapter_MaxMessageLength(t *testing.T) {
	a := &Adapter{}
	if a.MaxMessageLength() != 5000 {
		t.Errorf("expected 5000, got %d", a.MaxMessageLength())
	}
}

func TestAdvanceWatermark(t *testing.T) {
	var counter atomic.Int64
	counter.Store(5)
	advanceWatermark(&counter, 3)
	if counter.Load() != 5 {
		t.Errorf("expected watermark to stay at 5, got %d", counter.Load())
	}
	advanceWatermark(&counter, 10)
	if counter.Load() != 10 {
		t.Errorf("expected watermark to advance to 10, got %d", counter.Load())
	}
}
