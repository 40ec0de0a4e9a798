package media

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/foolllll-j/cloudimg/pkg/logger"
	"github.com/foolllll-j/cloudimg/pkg/message"
)

// ErrUnsupportedForward is returned when a merged-forward bundle was detected
// but no media could be read out of it.
var ErrUnsupportedForward = errors.New("unsupported forward bundle")

var errNoHost = errors.New("no chat host available")

const (
	multiMsgApp   = "com.tencent.multimsg"
	cardScanDepth = 4
)

var forwardIDKeys = []string{"resid", "m_resid", "forward_id", "id"}

// ForwardHandle points at a merged-forward bundle. Inline holds the nodes when
// the host already delivered them; otherwise ID is looked up with get_forward_msg.
type ForwardHandle struct {
	ID     string
	Inline []message.Node
}

// Extractor collects media references from a chat event. Host may be nil, in
// which case quoted messages and forward bundles are only read from what the
// event already carries.
type Extractor struct {
	Host Host
}

func NewExtractor(host Host) *Extractor {
	return &Extractor{Host: host}
}

// Extract returns the media references of an event in priority order:
// forward bundle, images of the quoted message, images of the message itself,
// then a single quoted image or video. No media is an empty result, not an error.
func (x *Extractor) Extract(ctx context.Context, evt *message.Event) ([]Reference, error) {
	quoted := x.quotedChain(ctx, evt)

	handle, found, ambiguous := x.detect(evt.Segments, quoted)
	if found {
		refs, err := x.Flatten(ctx, handle)
		if err != nil {
			logger.WarnCF("media", "Failed to flatten forward bundle", map[string]interface{}{
				"forward_id": handle.ID,
				"error":      err.Error(),
			})
		}
		if len(refs) > 0 {
			return refs, nil
		}
		return nil, ErrUnsupportedForward
	}
	if ambiguous {
		return nil, ErrUnsupportedForward
	}

	if refs := collect(quoted, message.KindImage); len(refs) > 0 {
		return refs, nil
	}
	if refs := collect(evt.Segments, message.KindImage); len(refs) > 0 {
		return refs, nil
	}
	for _, kind := range []message.Kind{message.KindImage, message.KindVideo} {
		for _, seg := range message.OfKind(quoted, kind) {
			if ref, ok := FromSegment(seg); ok {
				return []Reference{ref}, nil
			}
		}
	}
	return nil, nil
}

// Detect reports whether the event points at a merged-forward bundle.
// ambiguous is set when a forward segment or merged-chat-record card was
// recognized but carried neither an id nor inline content.
func (x *Extractor) Detect(ctx context.Context, evt *message.Event) (handle ForwardHandle, found bool, ambiguous bool) {
	return x.detect(evt.Segments, x.quotedChain(ctx, evt))
}

func (x *Extractor) detect(current, quoted []message.Segment) (ForwardHandle, bool, bool) {
	h, ok, bareCurrent := forwardIn(current)
	if ok {
		return h, true, false
	}
	h, ok, bareQuoted := forwardIn(quoted)
	if ok {
		return h, true, false
	}

	ambiguous := bareCurrent || bareQuoted
	for _, seg := range message.OfKind(quoted, message.KindJSON) {
		id, recognized := scanCard(seg.Data)
		if id != "" {
			return ForwardHandle{ID: id}, true, false
		}
		if recognized {
			ambiguous = true
		}
	}
	return ForwardHandle{}, false, ambiguous
}

// forwardIn returns the first usable forward segment. bare reports a forward
// segment with neither id nor nodes.
func forwardIn(segments []message.Segment) (handle ForwardHandle, found bool, bare bool) {
	for _, seg := range segments {
		if seg.Kind != message.KindForward {
			continue
		}
		if seg.ID != "" || len(seg.Nodes) > 0 {
			return ForwardHandle{ID: seg.ID, Inline: seg.Nodes}, true, false
		}
		bare = true
	}
	return ForwardHandle{}, false, bare
}

// quotedChain returns the chain of the replied-to message, fetching it from
// the host when the reply segment did not carry it.
func (x *Extractor) quotedChain(ctx context.Context, evt *message.Event) []message.Segment {
	reply, ok := evt.Reply()
	if !ok {
		return nil
	}
	if len(reply.Chain) > 0 {
		return reply.Chain
	}
	if reply.ID == "" || x.Host == nil {
		return nil
	}

	quoted, err := x.Host.GetMsg(ctx, reply.ID)
	if err != nil {
		logger.WarnCF("media", "Failed to fetch quoted message", map[string]interface{}{
			"reply_id": reply.ID,
			"error":    err.Error(),
		})
		return nil
	}
	if quoted == nil {
		return nil
	}
	return quoted.Segments
}

// Flatten walks a bundle and every nested bundle below it, collecting image
// and video references in order. Nested bundles that fail to load are skipped.
func (x *Extractor) Flatten(ctx context.Context, handle ForwardHandle) ([]Reference, error) {
	nodes, err := x.nodes(ctx, handle)
	if err != nil {
		return nil, err
	}
	var refs []Reference
	x.walkNodes(ctx, nodes, 1, &refs)
	return refs, nil
}

func (x *Extractor) nodes(ctx context.Context, handle ForwardHandle) ([]message.Node, error) {
	if len(handle.Inline) > 0 {
		return handle.Inline, nil
	}
	if handle.ID == "" {
		return nil, ErrUnsupportedForward
	}
	if x.Host == nil {
		return nil, errNoHost
	}
	nodes, err := x.Host.GetForwardMsg(ctx, handle.ID)
	if err != nil {
		return nil, fmt.Errorf("get forward %s: %w", handle.ID, err)
	}
	return nodes, nil
}

func (x *Extractor) walkNodes(ctx context.Context, nodes []message.Node, depth int, refs *[]Reference) {
	for _, node := range nodes {
		for _, seg := range node.Content {
			switch seg.Kind {
			case message.KindImage, message.KindVideo:
				if ref, ok := FromSegment(seg); ok {
					*refs = append(*refs, ref)
				}
			case message.KindForward:
				if depth >= message.MaxDepth {
					logger.WarnCF("media", "Nested forward too deep, skipping", map[string]interface{}{
						"forward_id": seg.ID,
						"depth":      depth,
					})
					continue
				}
				nested, err := x.nodes(ctx, ForwardHandle{ID: seg.ID, Inline: seg.Nodes})
				if err != nil {
					logger.WarnCF("media", "Failed to load nested forward", map[string]interface{}{
						"forward_id": seg.ID,
						"error":      err.Error(),
					})
					continue
				}
				x.walkNodes(ctx, nested, depth+1, refs)
			}
		}
	}
}

func collect(segments []message.Segment, kind message.Kind) []Reference {
	var refs []Reference
	for _, seg := range message.OfKind(segments, kind) {
		if ref, ok := FromSegment(seg); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// scanCard looks for a merged-chat-record card inside a JSON card payload.
// recognized is true when such a card was found, id is its bundle id if any.
func scanCard(data string) (id string, recognized bool) {
	data = strings.TrimSpace(data)
	if data == "" || !gjson.Valid(data) {
		return "", false
	}
	card, ok := findMultiMsg(gjson.Parse(data), 0)
	if !ok {
		return "", false
	}
	for _, key := range forwardIDKeys {
		if id := findKey(card, key, 0); id != "" {
			return id, true
		}
	}
	return "", true
}

func findMultiMsg(v gjson.Result, depth int) (gjson.Result, bool) {
	if depth > cardScanDepth {
		return gjson.Result{}, false
	}
	if v.Type == gjson.String {
		s := strings.TrimSpace(v.String())
		if (strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")) && gjson.Valid(s) {
			return findMultiMsg(gjson.Parse(s), depth+1)
		}
		return gjson.Result{}, false
	}
	if v.IsObject() {
		if v.Get("app").String() == multiMsgApp || v.Get("meta.detail.resid").Exists() {
			return v, true
		}
	}
	if !v.IsObject() && !v.IsArray() {
		return gjson.Result{}, false
	}

	var found gjson.Result
	ok := false
	v.ForEach(func(_, child gjson.Result) bool {
		found, ok = findMultiMsg(child, depth+1)
		return !ok
	})
	return found, ok
}

func findKey(v gjson.Result, key string, depth int) string {
	if depth > cardScanDepth {
		return ""
	}
	if v.Type == gjson.String {
		s := strings.TrimSpace(v.String())
		if strings.HasPrefix(s, "{") && gjson.Valid(s) {
			return findKey(gjson.Parse(s), key, depth+1)
		}
		return ""
	}
	if !v.IsObject() && !v.IsArray() {
		return ""
	}
	if v.IsObject() {
		if val := v.Get(key); val.Type == gjson.String || val.Type == gjson.Number {
			if s := strings.TrimSpace(val.String()); s != "" {
				return s
			}
		}
	}

	result := ""
	v.ForEach(func(_, child gjson.Result) bool {
		result = findKey(child, key, depth+1)
		return result == ""
	})
	return result
}

