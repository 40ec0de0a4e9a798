// cloudimg - OneBot bridge for CloudFlare ImgBed
// License: MIT
//
// Copyright (c) 2026 cloudimg contributors

package bot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/foolllll-j/cloudimg/pkg/bus"
	"github.com/foolllll-j/cloudimg/pkg/commands"
	"github.com/foolllll-j/cloudimg/pkg/config"
	"github.com/foolllll-j/cloudimg/pkg/logger"
	"github.com/foolllll-j/cloudimg/pkg/message"
	"github.com/foolllll-j/cloudimg/pkg/utils"
)

const internalErrorReply = "处理指令时出错，请稍后重试"

// Bot consumes inbound chat messages, routes them to commands and publishes
// the replies. Each message is handled on its own goroutine so a long upload
// batch does not hold up other chats.
type Bot struct {
	bus     *bus.MessageBus
	cfg     *config.Config
	router  *commands.Router
	running atomic.Bool
	wg      sync.WaitGroup
}

func NewBot(cfg *config.Config, msgBus *bus.MessageBus, router *commands.Router) *Bot {
	return &Bot{
		bus:    msgBus,
		cfg:    cfg,
		router: router,
	}
}

// Run blocks until ctx is cancelled, the bus is closed or Stop is called, then
// waits for in-flight handlers.
func (b *Bot) Run(ctx context.Context) error {
	b.running.Store(true)
	defer b.running.Store(false)

	for b.running.Load() {
		msg, ok := b.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}

		b.wg.Add(1)
		go func(msg bus.InboundMessage) {
			defer b.wg.Done()
			b.handle(ctx, msg)
		}(msg)
	}

	b.wg.Wait()
	return nil
}

func (b *Bot) Stop() {
	b.running.Store(false)
}

func (b *Bot) IsRunning() bool {
	return b.running.Load()
}

func (b *Bot) handle(ctx context.Context, msg bus.InboundMessage) {
	reply, err := b.processMessage(ctx, msg)
	if err != nil {
		logger.ErrorCF("bot", "Command failed", map[string]interface{}{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
		reply = &commands.Reply{Content: internalErrorReply}
	}
	if reply == nil || (reply.Content == "" && len(reply.Media) == 0) {
		return
	}

	out := bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply.Content,
		Media:   reply.Media,
	}
	if reply.Quote && msg.Event != nil {
		out.ReplyTo = msg.Event.MessageID
	}
	b.bus.PublishOutbound(out)
}

func (b *Bot) processMessage(ctx context.Context, msg bus.InboundMessage) (*commands.Reply, error) {
	evt := msg.Event
	if evt == nil {
		evt = &message.Event{MessageType: "private", RawMessage: msg.Content, Segments: message.ParseCQ(msg.Content)}
	}

	req := &commands.Request{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		SenderID: msg.SenderID,
		Admin:    b.cfg.IsAdmin(msg.SenderID),
		Event:    evt,
	}
	reply, handled, err := b.router.Route(ctx, req)
	if !handled {
		return nil, nil
	}

	logger.InfoCF("bot", fmt.Sprintf("Handled %s from %s:%s: %s", req.Name, msg.Channel, msg.SenderID, utils.Truncate(msg.Content, 80)),
		map[string]interface{}{
			"chat_id": msg.ChatID,
			"admin":   req.Admin,
		})
	return reply, err
}

// ProcessDirect runs one line of CQ-coded text as a private message from the
// console. It returns nil when the text is not a command.
func (b *Bot) ProcessDirect(ctx context.Context, content string, admin bool) (*commands.Reply, error) {
	evt := &message.Event{MessageType: "private", RawMessage: content, Segments: message.ParseCQ(content)}
	req := &commands.Request{
		Channel:  "cli",
		ChatID:   "direct",
		SenderID: "cli",
		Admin:    admin,
		Event:    evt,
	}
	reply, _, err := b.router.Route(ctx, req)
	return reply, err
}
