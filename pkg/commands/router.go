package commands

import (
	"context"
	"strings"

	"github.com/foolllll-j/cloudimg/pkg/config"
	"github.com/foolllll-j/cloudimg/pkg/imgbed"
	"github.com/foolllll-j/cloudimg/pkg/keywords"
	"github.com/foolllll-j/cloudimg/pkg/logger"
	"github.com/foolllll-j/cloudimg/pkg/media"
	"github.com/foolllll-j/cloudimg/pkg/upload"
)

// Router maps chat text to a registered command or, failing that, to a
// keyword mapping.
type Router struct {
	prefix   string
	registry *Registry
	store    *keywords.Store
	random   RandomSource
}

func NewRouter(prefix string, registry *Registry, store *keywords.Store, random RandomSource) *Router {
	if prefix == "" {
		prefix = "/"
	}
	return &Router{
		prefix:   prefix,
		registry: registry,
		store:    store,
		random:   random,
	}
}

// Setup wires the standard command set. host may be nil when no chat host is
// connected; uploads then only see media carried by the event itself.
func Setup(cfg *config.Config, store *keywords.Store, client *imgbed.Client, host media.Host) *Router {
	registry := NewRegistry()
	registry.Register(NewRandomCommand(client))

	chain := media.NewChain(client.HTTP(), host)
	orchestrator := upload.NewOrchestrator(chain, client, cfg.ImgBed.MaxConcurrency)
	registry.Register(NewUploadCommand(cfg, media.NewExtractor(host), orchestrator))

	registry.Register(NewLinkCommand(store))
	registry.Register(NewUnlinkCommand(store))
	registry.Register(NewHelpCommand(registry, store, cfg.Prefix()))

	logger.InfoCF("command", "Commands registered", map[string]interface{}{
		"count":    registry.Count(),
		"keywords": len(store.Keywords()),
	})
	return NewRouter(cfg.Prefix(), registry, store, client)
}

func (r *Router) Registry() *Registry {
	return r.registry
}

// Route runs the command addressed by req.Event. handled is false when the
// message is not a command, in which case the bot stays silent. A keyword
// only matches when the message is exactly prefix+keyword.
func (r *Router) Route(ctx context.Context, req *Request) (reply *Reply, handled bool, err error) {
	if req.Event == nil {
		return nil, false, nil
	}
	text := strings.TrimSpace(req.Event.PlainText())
	name, args, ok := ParseCommandLine(text, r.prefix)
	if !ok {
		return nil, false, nil
	}
	req.Name, req.Args = name, args

	if _, ok := r.registry.Get(name); ok {
		reply, err := r.registry.Execute(ctx, req)
		return reply, true, err
	}

	if len(args) > 0 || text != r.prefix+name {
		return nil, false, nil
	}
	mapping, ok := r.store.Get(name)
	if !ok {
		return nil, false, nil
	}

	logger.InfoCF("command", "Keyword matched", map[string]interface{}{
		"keyword": name,
		"folder":  mapping.Folder,
		"chat_id": req.ChatID,
	})
	cmd := &KeywordCommand{source: r.random, keyword: name, mapping: mapping}
	reply, err = cmd.Execute(ctx, req)
	return reply, true, err
}
