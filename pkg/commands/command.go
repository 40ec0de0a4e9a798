package commands

import (
	"context"
	"strings"

	"github.com/foolllll-j/cloudimg/pkg/bus"
	"github.com/foolllll-j/cloudimg/pkg/message"
)

type Command interface {
	Name() string
	Description() string
	// Usage is the argument synopsis shown by the help command.
	Usage() string
	Execute(ctx context.Context, req *Request) (*Reply, error)
}

// AliasedCommand is an optional interface for commands reachable under
// more than one name.
type AliasedCommand interface {
	Command
	Aliases() []string
}

// Request is one parsed command invocation.
type Request struct {
	Channel  string
	ChatID   string
	SenderID string
	Admin    bool
	Event    *message.Event

	// Name is the command word without prefix, Args the remaining words.
	Name string
	Args []string
}

// Arg returns the i-th argument or "".
func (r *Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

// Reply is what a command sends back to the chat.
type Reply struct {
	Content string
	Media   []bus.MediaItem
	// Quote asks the channel to quote the triggering message.
	Quote bool
}

func textReply(content string) *Reply {
	return &Reply{Content: content}
}

// ParseCommandLine splits "/name arg1 arg2" into name and args. ok is false
// when text does not start with prefix or has nothing after it.
func ParseCommandLine(text, prefix string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return fields[0], fields[1:], true
}
