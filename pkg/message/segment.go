// Package message models OneBot v11 message chains as a tree of tagged
// segments. Forward bundles and quoted messages nest further chains inside a
// segment; parsing is bounded by MaxDepth.
package message

import (
	"strconv"
	"strings"
)

type Kind string

const (
	KindText    Kind = "text"
	KindAt      Kind = "at"
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindReply   Kind = "reply"
	KindForward Kind = "forward"
	KindJSON    Kind = "json"
	KindUnknown Kind = "unknown"
)

// MaxDepth bounds how many forward/reply levels are parsed or walked.
const MaxDepth = 5

type Segment struct {
	Kind Kind

	// text / at
	Text string
	AtQQ string

	// image / video
	URL    string
	File   string
	Path   string
	FileID string
	Name   string

	// reply id or forward bundle id
	ID string
	// Chain is the quoted message when the host delivered it with the reply.
	Chain []Segment
	// Nodes is the bundle content when the host inlined it into the forward segment.
	Nodes []Node

	// json card payload, still encoded
	Data string

	// original type name for unknown segments
	Type string
}

// Node is one message inside a forward bundle.
type Node struct {
	SenderID   string
	SenderName string
	Time       int64
	Content    []Segment
}

type Event struct {
	MessageID   string
	MessageType string
	UserID      int64
	GroupID     int64
	SelfID      int64
	SenderName  string
	Time        int64
	RawMessage  string
	Segments    []Segment
}

// ChatID is the routing key used for replies: "group:<id>" or "private:<id>".
func (e *Event) ChatID() string {
	if e.MessageType == "group" && e.GroupID != 0 {
		return "group:" + strconv.FormatInt(e.GroupID, 10)
	}
	return "private:" + strconv.FormatInt(e.UserID, 10)
}

// PlainText joins all text segments and trims the result.
func (e *Event) PlainText() string {
	return PlainText(e.Segments)
}

// Reply returns the first reply segment of the event.
func (e *Event) Reply() (Segment, bool) {
	for _, seg := range e.Segments {
		if seg.Kind == KindReply {
			return seg, true
		}
	}
	return Segment{}, false
}

func PlainText(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		if seg.Kind == KindText {
			b.WriteString(seg.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

// FirstText returns the first non-empty text segment, trimmed.
func FirstText(segments []Segment) string {
	for _, seg := range segments {
		if seg.Kind != KindText {
			continue
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			return text
		}
	}
	return ""
}

// OfKind returns the segments of the given kind in chain order.
func OfKind(segments []Segment, kind Kind) []Segment {
	var out []Segment
	for _, seg := range segments {
		if seg.Kind == kind {
			out = append(out, seg)
		}
	}
	return out
}
