package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/foolllll-j/cloudimg/pkg/bus"
	"github.com/foolllll-j/cloudimg/pkg/config"
	"github.com/foolllll-j/cloudimg/pkg/logger"
	"github.com/foolllll-j/cloudimg/pkg/media"
	"github.com/foolllll-j/cloudimg/pkg/message"
	"github.com/foolllll-j/cloudimg/pkg/utils"
)

const (
	apiTimeout     = 8 * time.Second
	forwardTimeout = 15 * time.Second
)

var _ media.Host = (*OneBotChannel)(nil)

type OneBotChannel struct {
	*BaseChannel
	config     config.OneBotConfig
	conn       *websocket.Conn
	ctx        context.Context
	cancel     context.CancelFunc
	dedup      map[string]struct{}
	dedupRing  []string
	dedupIdx   int
	mu         sync.Mutex
	writeMu    sync.Mutex
	apiWaitMu  sync.Mutex
	apiWaiters map[string]chan oneBotAPIResponse
}

type oneBotRawEvent struct {
	PostType      string          `json:"post_type"`
	MessageType   string          `json:"message_type"`
	SubType       string          `json:"sub_type"`
	MessageID     json.RawMessage `json:"message_id"`
	UserID        json.RawMessage `json:"user_id"`
	GroupID       json.RawMessage `json:"group_id"`
	RawMessage    string          `json:"raw_message"`
	Message       json.RawMessage `json:"message"`
	Sender        json.RawMessage `json:"sender"`
	SelfID        json.RawMessage `json:"self_id"`
	Time          json.RawMessage `json:"time"`
	MetaEventType string          `json:"meta_event_type"`
	Echo          string          `json:"echo"`
	RetCode       json.RawMessage `json:"retcode"`
	Status        BotStatus       `json:"status"`
}

// BotStatus is either the "status" string of an API response or the status
// object carried by heartbeat events.
type BotStatus struct {
	Online bool `json:"online"`
	Good   bool `json:"good"`
	Text   string
}

func (s *BotStatus) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*s = BotStatus{}
		return nil
	}

	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = BotStatus{Text: strings.TrimSpace(text)}
		return nil
	}

	var obj struct {
		Online bool `json:"online"`
		Good   bool `json:"good"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*s = BotStatus{
		Online: obj.Online,
		Good:   obj.Good,
	}
	return nil
}

type oneBotSender struct {
	UserID   json.RawMessage `json:"user_id"`
	Nickname string          `json:"nickname"`
	Card     string          `json:"card"`
}

func (s oneBotSender) displayName() string {
	if s.Card != "" {
		return s.Card
	}
	return s.Nickname
}

type oneBotAPIRequest struct {
	Action string      `json:"action"`
	Params interface{} `json:"params"`
	Echo   string      `json:"echo,omitempty"`
}

// oneBotSegment is the array form of an outgoing message segment.
type oneBotSegment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

type oneBotSendPrivateMsgParams struct {
	UserID  int64           `json:"user_id"`
	Message []oneBotSegment `json:"message"`
}

type oneBotSendGroupMsgParams struct {
	GroupID int64           `json:"group_id"`
	Message []oneBotSegment `json:"message"`
}

type oneBotAPIResponse struct {
	Status  string          `json:"status"`
	RetCode json.RawMessage `json:"retcode"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
	Echo    string          `json:"echo"`
}

// err turns a failed response into an error naming the action.
func (r *oneBotAPIResponse) err(action string) error {
	status := strings.ToLower(strings.TrimSpace(r.Status))
	if status == "" || status == "ok" {
		return nil
	}
	retcode, _ := parseJSONInt64(r.RetCode)
	detail := r.Wording
	if detail == "" {
		detail = r.Message
	}
	if detail != "" {
		return fmt.Errorf("%s failed: status=%s retcode=%d: %s", action, status, retcode, detail)
	}
	return fmt.Errorf("%s failed: status=%s retcode=%d", action, status, retcode)
}

func NewOneBotChannel(cfg config.OneBotConfig, messageBus *bus.MessageBus) (*OneBotChannel, error) {
	base := NewBaseChannel("onebot", cfg, messageBus, cfg.AllowFrom)

	const dedupSize = 1024

	return &OneBotChannel{
		BaseChannel: base,
		config:      cfg,
		dedup:       make(map[string]struct{}, dedupSize),
		dedupRing:   make([]string, dedupSize),
		dedupIdx:    0,
		apiWaiters:  make(map[string]chan oneBotAPIResponse),
	}, nil
}

func (c *OneBotChannel) Start(ctx context.Context) error {
	if c.config.WSUrl == "" {
		return fmt.Errorf("OneBot ws_url not configured")
	}

	logger.InfoCF("onebot", "Starting OneBot channel", map[string]interface{}{
		"ws_url": utils.RedactURL(c.config.WSUrl),
	})

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		logger.WarnCF("onebot", "Initial connection failed, will retry in background", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		go c.listen()
	}

	if c.config.ReconnectInterval > 0 {
		go c.reconnectLoop()
	} else {
		// If reconnect is disabled but initial connection failed, we cannot recover
		if !c.connected() {
			return fmt.Errorf("failed to connect to OneBot and reconnect is disabled")
		}
	}

	c.setRunning(true)
	logger.InfoC("onebot", "OneBot channel started successfully")

	return nil
}

func (c *OneBotChannel) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := make(map[string][]string)
	if c.config.AccessToken != "" {
		header["Authorization"] = []string{"Bearer " + c.config.AccessToken}
	}

	conn, _, err := dialer.Dial(c.config.WSUrl, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	logger.InfoC("onebot", "WebSocket connected")
	return nil
}

func (c *OneBotChannel) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *OneBotChannel) reconnectLoop() {
	interval := time.Duration(c.config.ReconnectInterval) * time.Second
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(interval):
			if c.connected() {
				continue
			}
			logger.InfoC("onebot", "Attempting to reconnect...")
			if err := c.connect(); err != nil {
				logger.ErrorCF("onebot", "Reconnect failed", map[string]interface{}{
					"error": err.Error(),
				})
			} else {
				go c.listen()
			}
		}
	}
}

func (c *OneBotChannel) Stop(ctx context.Context) error {
	logger.InfoC("onebot", "Stopping OneBot channel")
	c.setRunning(false)

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	return nil
}

func (c *OneBotChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("OneBot channel not running")
	}

	action, params, err := buildSendRequest(msg)
	if err != nil {
		return err
	}
	if params == nil {
		return nil
	}

	req := oneBotAPIRequest{
		Action: action,
		Params: params,
		Echo:   nextEcho("send"),
	}
	if err := c.write(req); err != nil {
		logger.ErrorCF("onebot", "Failed to send message", map[string]interface{}{
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
		return err
	}
	return nil
}

func nextEcho(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// buildSegments renders an outbound message as OneBot array segments: an
// optional reply quote, the text, then one segment per media item.
func buildSegments(msg bus.OutboundMessage) []oneBotSegment {
	segments := make([]oneBotSegment, 0, 2+len(msg.Media))
	if msg.ReplyTo != "" {
		segments = append(segments, oneBotSegment{Type: "reply", Data: map[string]string{"id": msg.ReplyTo}})
	}
	if msg.Content != "" {
		segments = append(segments, oneBotSegment{Type: "text", Data: map[string]string{"text": msg.Content}})
	}
	for _, item := range msg.Media {
		if item.URL == "" {
			continue
		}
		segType := "image"
		if item.Type == "video" {
			segType = "video"
		}
		segments = append(segments, oneBotSegment{Type: segType, Data: map[string]string{"file": item.URL}})
	}
	return segments
}

// buildSendRequest maps a chat id to the send action. It returns nil params
// when the message has nothing to send.
func buildSendRequest(msg bus.OutboundMessage) (string, interface{}, error) {
	chatID := msg.ChatID
	segments := buildSegments(msg)

	var (
		action string
		params interface{}
	)
	switch {
	case strings.HasPrefix(chatID, "group:"):
		groupID, err := strconv.ParseInt(chatID[len("group:"):], 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid group ID in chatID: %s", chatID)
		}
		action, params = "send_group_msg", oneBotSendGroupMsgParams{GroupID: groupID, Message: segments}
	case strings.HasPrefix(chatID, "private:"):
		userID, err := strconv.ParseInt(chatID[len("private:"):], 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid user ID in chatID: %s", chatID)
		}
		action, params = "send_private_msg", oneBotSendPrivateMsgParams{UserID: userID, Message: segments}
	default:
		userID, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid chatID for OneBot: %s", chatID)
		}
		action, params = "send_private_msg", oneBotSendPrivateMsgParams{UserID: userID, Message: segments}
	}

	if len(segments) == 0 {
		return action, nil, nil
	}
	return action, params, nil
}

func (c *OneBotChannel) write(req oneBotAPIRequest) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("OneBot WebSocket not connected")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal OneBot request: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// callOneBotAPI sends an action and waits for the response carrying the same
// echo, the timeout, ctx cancellation or channel shutdown.
func (c *OneBotChannel) callOneBotAPI(ctx context.Context, action string, params interface{}, timeout time.Duration) (*oneBotAPIResponse, error) {
	if timeout <= 0 {
		timeout = apiTimeout
	}

	echo := nextEcho("api")
	waiter := make(chan oneBotAPIResponse, 1)

	c.apiWaitMu.Lock()
	c.apiWaiters[echo] = waiter
	c.apiWaitMu.Unlock()

	defer func() {
		c.apiWaitMu.Lock()
		delete(c.apiWaiters, echo)
		c.apiWaitMu.Unlock()
	}()

	req := oneBotAPIRequest{
		Action: action,
		Params: params,
		Echo:   echo,
	}
	if err := c.write(req); err != nil {
		return nil, fmt.Errorf("failed to write OneBot API request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var stopped <-chan struct{}
	if c.ctx != nil {
		stopped = c.ctx.Done()
	}

	select {
	case resp := <-waiter:
		return &resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("OneBot API request timeout: action=%s", action)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-stopped:
		return nil, fmt.Errorf("OneBot channel stopped")
	}
}

func messageIDParam(id string) interface{} {
	id = strings.TrimSpace(id)
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

// GetMsg fetches a stored message, used to read the message a reply quotes.
func (c *OneBotChannel) GetMsg(ctx context.Context, id string) (*message.Event, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("empty message id")
	}

	resp, err := c.callOneBotAPI(ctx, "get_msg", map[string]interface{}{
		"message_id": messageIDParam(id),
	}, apiTimeout)
	if err != nil {
		return nil, err
	}
	if err := resp.err("get_msg"); err != nil {
		return nil, err
	}

	data := gjson.ParseBytes(resp.Data)
	if !data.IsObject() {
		return nil, fmt.Errorf("get_msg returned no message")
	}
	return eventFromData(data), nil
}

// GetForwardMsg fetches the nodes of a forward bundle. Implementations
// disagree on where the nodes live, so data.messages, data.message and a
// bare array are all accepted.
func (c *OneBotChannel) GetForwardMsg(ctx context.Context, id string) ([]message.Node, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("empty forward id")
	}

	resp, err := c.callOneBotAPI(ctx, "get_forward_msg", map[string]interface{}{
		"message_id": id,
		"id":         id,
	}, forwardTimeout)
	if err != nil {
		return nil, err
	}
	if err := resp.err("get_forward_msg"); err != nil {
		return nil, err
	}

	data := gjson.ParseBytes(resp.Data)
	var nodes gjson.Result
	switch {
	case data.IsArray():
		nodes = data
	case data.Get("messages").IsArray():
		nodes = data.Get("messages")
	case data.Get("message").IsArray():
		nodes = data.Get("message")
	default:
		return nil, nil
	}
	return message.ParseNodes(nodes), nil
}

// GetFile asks the host where it keeps a file it only knows by id.
func (c *OneBotChannel) GetFile(ctx context.Context, id string) (*media.FileInfo, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("empty file id")
	}

	resp, err := c.callOneBotAPI(ctx, "get_file", map[string]interface{}{
		"file_id": id,
		"file":    id,
	}, apiTimeout)
	if err != nil {
		return nil, err
	}
	if err := resp.err("get_file"); err != nil {
		return nil, err
	}

	data := gjson.ParseBytes(resp.Data)
	return &media.FileInfo{
		URL:  data.Get("url").String(),
		File: data.Get("file").String(),
		Name: data.Get("file_name").String(),
	}, nil
}

// eventFromData converts a get_msg payload into an event.
func eventFromData(data gjson.Result) *message.Event {
	sender := data.Get("sender")
	userID := data.Get("user_id").Int()
	if userID == 0 {
		userID = sender.Get("user_id").Int()
	}
	senderName := sender.Get("card").String()
	if senderName == "" {
		senderName = sender.Get("nickname").String()
	}

	evt := &message.Event{
		MessageID:   data.Get("message_id").String(),
		MessageType: data.Get("message_type").String(),
		UserID:      userID,
		GroupID:     data.Get("group_id").Int(),
		SenderName:  senderName,
		Time:        data.Get("time").Int(),
		RawMessage:  data.Get("raw_message").String(),
	}

	var raw []byte
	if msg := data.Get("message"); msg.Exists() {
		raw = []byte(msg.Raw)
	}
	evt.Segments = message.Parse(raw, evt.RawMessage)
	return evt
}

func (c *OneBotChannel) listen() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				logger.WarnC("onebot", "WebSocket connection is nil, listener exiting")
				return
			}

			_, payload, err := conn.ReadMessage()
			if err != nil {
				logger.ErrorCF("onebot", "WebSocket read error", map[string]interface{}{
					"error": err.Error(),
				})
				c.mu.Lock()
				if c.conn == conn {
					c.conn.Close()
					c.conn = nil
				}
				c.mu.Unlock()
				return
			}

			logger.DebugCF("onebot", "Raw WebSocket message received", map[string]interface{}{
				"length":  len(payload),
				"payload": utils.Truncate(string(payload), 500),
			})

			var raw oneBotRawEvent
			if err := json.Unmarshal(payload, &raw); err != nil {
				logger.WarnCF("onebot", "Failed to unmarshal raw event", map[string]interface{}{
					"error":   err.Error(),
					"payload": utils.Truncate(string(payload), 200),
				})
				continue
			}

			if raw.Echo != "" {
				c.dispatchAPIResponse(raw, payload)
				continue
			}

			rawCopy := raw
			go c.handleRawEvent(&rawCopy)
		}
	}
}

func (c *OneBotChannel) dispatchAPIResponse(raw oneBotRawEvent, payload []byte) {
	var resp oneBotAPIResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		resp = oneBotAPIResponse{
			Echo: raw.Echo,
		}
	}

	if resp.Echo == "" {
		resp.Echo = raw.Echo
	}
	if resp.Status == "" {
		resp.Status = raw.Status.Text
	}

	c.apiWaitMu.Lock()
	waiter := c.apiWaiters[resp.Echo]
	c.apiWaitMu.Unlock()
	if waiter == nil {
		if err := resp.err(resp.Echo); err != nil {
			logger.WarnCF("onebot", "OneBot request failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return
	}

	select {
	case waiter <- resp:
	default:
	}
}

func parseJSONInt64(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, nil
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseInt(s, 10, 64)
	}
	return 0, fmt.Errorf("cannot parse as int64: %s", string(raw))
}

func parseJSONString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return string(raw)
}

func (c *OneBotChannel) handleRawEvent(raw *oneBotRawEvent) {
	switch raw.PostType {
	case "message":
		evt, err := normalizeMessageEvent(raw)
		if err != nil {
			logger.WarnCF("onebot", "Failed to normalize message event", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		c.handleMessage(evt)
	case "meta_event":
		c.handleMetaEvent(raw)
	case "notice", "request", "message_sent":
		logger.DebugCF("onebot", "Event ignored", map[string]interface{}{
			"post_type": raw.PostType,
			"sub_type":  raw.SubType,
		})
	default:
		logger.DebugCF("onebot", "Unknown post_type", map[string]interface{}{
			"post_type": raw.PostType,
		})
	}
}

func normalizeMessageEvent(raw *oneBotRawEvent) (*message.Event, error) {
	userID, err := parseJSONInt64(raw.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w (raw: %s)", err, string(raw.UserID))
	}

	groupID, _ := parseJSONInt64(raw.GroupID)
	selfID, _ := parseJSONInt64(raw.SelfID)
	ts, _ := parseJSONInt64(raw.Time)

	var sender oneBotSender
	if len(raw.Sender) > 0 {
		if err := json.Unmarshal(raw.Sender, &sender); err != nil {
			logger.WarnCF("onebot", "Failed to parse sender", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	return &message.Event{
		MessageID:   parseJSONString(raw.MessageID),
		MessageType: raw.MessageType,
		UserID:      userID,
		GroupID:     groupID,
		SelfID:      selfID,
		SenderName:  sender.displayName(),
		Time:        ts,
		RawMessage:  raw.RawMessage,
		Segments:    message.Parse(raw.Message, raw.RawMessage),
	}, nil
}

func (c *OneBotChannel) handleMetaEvent(raw *oneBotRawEvent) {
	switch raw.MetaEventType {
	case "lifecycle":
		logger.InfoCF("onebot", "Lifecycle event", map[string]interface{}{
			"sub_type": raw.SubType,
		})
	case "heartbeat":
		logger.DebugCF("onebot", "Heartbeat received", map[string]interface{}{
			"online": raw.Status.Online,
			"good":   raw.Status.Good,
		})
	default:
		logger.DebugCF("onebot", "Unknown meta_event_type", map[string]interface{}{
			"meta_event_type": raw.MetaEventType,
		})
	}
}

func (c *OneBotChannel) handleMessage(evt *message.Event) {
	if c.isDuplicate(evt.MessageID) {
		logger.DebugCF("onebot", "Duplicate message, skipping", map[string]interface{}{
			"message_id": evt.MessageID,
		})
		return
	}

	if evt.SelfID != 0 && evt.UserID == evt.SelfID {
		return
	}

	content := evt.PlainText()
	if content == "" && len(evt.Segments) == 0 {
		logger.DebugCF("onebot", "Received empty message, ignoring", map[string]interface{}{
			"message_id": evt.MessageID,
		})
		return
	}

	senderID := strconv.FormatInt(evt.UserID, 10)
	if !c.IsAllowed(senderID) {
		logger.DebugCF("onebot", "Message ignored (sender not allowed)", map[string]interface{}{
			"sender":     senderID,
			"message_id": evt.MessageID,
			"type":       evt.MessageType,
		})
		return
	}

	metadata := map[string]string{
		"message_id":   evt.MessageID,
		"message_type": evt.MessageType,
	}
	if evt.SenderName != "" {
		metadata["sender_name"] = evt.SenderName
	}

	switch evt.MessageType {
	case "group":
		groupIDStr := strconv.FormatInt(evt.GroupID, 10)
		if !c.isGroupAllowed(groupIDStr) {
			logger.DebugCF("onebot", "Group message ignored (group not allowed)", map[string]interface{}{
				"sender": senderID,
				"group":  groupIDStr,
			})
			return
		}
		metadata["group_id"] = groupIDStr
	case "private":
	default:
		logger.DebugCF("onebot", "Unknown message_type", map[string]interface{}{
			"message_type": evt.MessageType,
		})
		return
	}

	chatID := evt.ChatID()
	logger.InfoCF("onebot", "Received message", map[string]interface{}{
		"chat_id":    chatID,
		"sender":     senderID,
		"message_id": evt.MessageID,
		"segments":   len(evt.Segments),
		"content":    utils.Truncate(content, 100),
	})

	c.HandleMessage(senderID, chatID, content, evt, metadata)
}

func (c *OneBotChannel) isDuplicate(messageID string) bool {
	if messageID == "" || messageID == "0" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.dedup[messageID]; exists {
		return true
	}

	if old := c.dedupRing[c.dedupIdx]; old != "" {
		delete(c.dedup, old)
	}
	c.dedupRing[c.dedupIdx] = messageID
	c.dedup[messageID] = struct{}{}
	c.dedupIdx = (c.dedupIdx + 1) % len(c.dedupRing)

	return false
}

func (c *OneBotChannel) isGroupAllowed(groupID string) bool {
	if len(c.config.AllowGroups) == 0 {
		return true
	}

	for _, allowed := range c.config.AllowGroups {
		normalized := strings.TrimSpace(strings.TrimPrefix(allowed, "group:"))
		if normalized == groupID {
			return true
		}
	}

	return false
}
