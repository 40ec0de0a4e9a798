package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/foolllll-j/cloudimg/pkg/logger"
)

type Registry struct {
	commands map[string]Command
	primary  []string
	mu       sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]Command),
	}
}

func (r *Registry) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[cmd.Name()]; !exists {
		r.primary = append(r.primary, cmd.Name())
	}
	r.commands[cmd.Name()] = cmd
	if aliased, ok := cmd.(AliasedCommand); ok {
		for _, alias := range aliased.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

func (r *Registry) Get(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

func (r *Registry) Execute(ctx context.Context, req *Request) (*Reply, error) {
	logger.InfoCF("command", "Command execution started",
		map[string]interface{}{
			"command": req.Name,
			"args":    req.Args,
			"chat_id": req.ChatID,
			"sender":  req.SenderID,
		})

	cmd, ok := r.Get(req.Name)
	if !ok {
		logger.ErrorCF("command", "Command not found",
			map[string]interface{}{
				"command": req.Name,
			})
		return nil, fmt.Errorf("command '%s' not found", req.Name)
	}

	start := time.Now()
	reply, err := cmd.Execute(ctx, req)
	duration := time.Since(start)

	if err != nil {
		logger.ErrorCF("command", "Command execution failed",
			map[string]interface{}{
				"command":  req.Name,
				"duration": duration.Milliseconds(),
				"error":    err.Error(),
			})
	} else {
		logger.InfoCF("command", "Command execution completed",
			map[string]interface{}{
				"command":     req.Name,
				"duration_ms": duration.Milliseconds(),
			})
	}

	return reply, err
}

// List returns the primary command names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.primary...)
}

// Count returns the number of registered commands, aliases excluded.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.primary)
}

// GetSummaries returns one "/name usage - description" line per command.
func (r *Registry) GetSummaries(prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]string, 0, len(r.primary))
	for _, name := range r.primary {
		cmd := r.commands[name]
		line := prefix + name
		if usage := cmd.Usage(); usage != "" {
			line += " " + usage
		}
		line += " - " + cmd.Description()
		if aliased, ok := cmd.(AliasedCommand); ok && len(aliased.Aliases()) > 0 {
			aliases := append([]string(nil), aliased.Aliases()...)
			sort.Strings(aliases)
			for i := range aliases {
				aliases[i] = prefix + aliases[i]
			}
			line += "（别名 " + strings.Join(aliases, " ") + "）"
		}
		summaries = append(summaries, line)
	}
	return summaries
}
