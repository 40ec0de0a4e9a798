package channels

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/foolllll-j/cloudimg/pkg/bus"
	"github.com/foolllll-j/cloudimg/pkg/config"
)

type recordingChannel struct {
	*BaseChannel
	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func newRecordingChannel(name string, b *bus.MessageBus) *recordingChannel {
	return &recordingChannel{BaseChannel: NewBaseChannel(name, nil, b, nil)}
}

func (r *recordingChannel) Start(ctx context.Context) error {
	r.setRunning(true)
	return nil
}

func (r *recordingChannel) Stop(ctx context.Context) error {
	r.setRunning(false)
	return nil
}

func (r *recordingChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingChannel) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestManager_OneBotRegisteredFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	m, err := NewManager(cfg, bus.NewMessageBus())
	if err != nil {
		t.Fatalf("NewManager error = %v", err)
	}
	if names := m.GetEnabledChannels(); len(names) != 1 || names[0] != "onebot" {
		t.Fatalf("enabled = %v", names)
	}
	if _, ok := m.MediaHost("onebot"); !ok {
		t.Fatal("onebot channel should serve as media host")
	}

	cfg.OneBot.WSUrl = ""
	m2, _ := NewManager(cfg, bus.NewMessageBus())
	if len(m2.GetEnabledChannels()) != 0 {
		t.Fatal("no ws_url means no channel")
	}
}

func TestManager_DispatchOutbound(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OneBot.WSUrl = ""
	msgBus := bus.NewMessageBus()
	m, _ := NewManager(cfg, msgBus)

	rec := newRecordingChannel("test", msgBus)
	m.RegisterChannel("test", rec)
	if _, ok := m.MediaHost("test"); ok {
		t.Fatal("recording channel is not a media host")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("StartAll error = %v", err)
	}

	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "test", ChatID: "private:1", Content: "hi"})
	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "missing", ChatID: "private:1", Content: "dropped"})

	deadline := time.Now().Add(time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count() != 1 {
		t.Fatalf("sent = %d, want 1", rec.count())
	}

	status := m.GetStatus()["test"].(map[string]interface{})
	if status["running"] != true {
		t.Fatalf("status = %+v", status)
	}

	if err := m.SendToChannel(ctx, "missing", "private:1", "x"); err == nil {
		t.Fatal("expected error for unknown channel")
	}
	_ = m.StopAll(ctx)
	if rec.IsRunning() {
		t.Fatal("channel should be stopped")
	}
}
