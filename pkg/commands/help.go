package commands

import (
	"context"
	"strings"

	"github.com/foolllll-j/cloudimg/pkg/keywords"
)

type HelpCommand struct {
	registry *Registry
	store    *keywords.Store
	prefix   string
}

func NewHelpCommand(registry *Registry, store *keywords.Store, prefix string) *HelpCommand {
	return &HelpCommand{registry: registry, store: store, prefix: prefix}
}

func (c *HelpCommand) Name() string        { return "imghelp" }
func (c *HelpCommand) Usage() string       { return "" }
func (c *HelpCommand) Description() string { return "显示可用指令" }

func (c *HelpCommand) Execute(ctx context.Context, req *Request) (*Reply, error) {
	var b strings.Builder
	b.WriteString("可用指令：")
	for _, line := range c.registry.GetSummaries(c.prefix) {
		b.WriteString("\n")
		b.WriteString(line)
	}

	if keys := c.store.Keywords(); len(keys) > 0 {
		b.WriteString("\n关键词：")
		for _, key := range keys {
			b.WriteString(" ")
			b.WriteString(c.prefix)
			b.WriteString(key)
		}
	}
	return textReply(b.String()), nil
}
