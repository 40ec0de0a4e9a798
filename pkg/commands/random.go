package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/foolllll-j/cloudimg/pkg/bus"
	"github.com/foolllll-j/cloudimg/pkg/imgbed"
	"github.com/foolllll-j/cloudimg/pkg/keywords"
	"github.com/foolllll-j/cloudimg/pkg/logger"
)

// RandomSource picks a random file on the image host.
type RandomSource interface {
	Random(ctx context.Context, folder, content string) (*imgbed.RandomResult, error)
}

// RandomCommand sends a random image or video from the host root.
type RandomCommand struct {
	source RandomSource
}

func NewRandomCommand(source RandomSource) *RandomCommand {
	return &RandomCommand{source: source}
}

func (c *RandomCommand) Name() string        { return "img" }
func (c *RandomCommand) Usage() string       { return "" }
func (c *RandomCommand) Description() string { return "随机获取一张图片或视频" }

func (c *RandomCommand) Execute(ctx context.Context, req *Request) (*Reply, error) {
	return randomReply(ctx, c.source, "", keywords.ContentAll), nil
}

// randomReply fetches a random file and renders it, or the user-facing error.
func randomReply(ctx context.Context, source RandomSource, folder, content string) *Reply {
	result, err := source.Random(ctx, folder, content)
	if err != nil {
		logger.WarnCF("command", "Random media request failed", map[string]interface{}{
			"folder": folder,
			"error":  err.Error(),
		})
		return textReply(describeRandomError(err))
	}
	return &Reply{Media: []bus.MediaItem{{Type: string(result.Kind), URL: result.URL}}}
}

func describeRandomError(err error) string {
	var statusErr *imgbed.StatusError
	switch {
	case errors.Is(err, imgbed.ErrNotConfigured):
		return "请先在配置文件中设置图床的基础地址 (base_url)"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("API请求失败，状态码: %d", statusErr.Code)
	default:
		return "请求图床失败，请检查 base_url 和文件夹名是否正确。"
	}
}

// KeywordCommand serves a keyword registered with imglink. It is not kept in
// the registry; the router builds one per matching message.
type KeywordCommand struct {
	source  RandomSource
	keyword string
	mapping keywords.Mapping
}

func (c *KeywordCommand) Name() string        { return c.keyword }
func (c *KeywordCommand) Usage() string       { return "" }
func (c *KeywordCommand) Description() string { return "随机获取" + keywords.Describe(c.mapping.ContentType) }

func (c *KeywordCommand) Execute(ctx context.Context, req *Request) (*Reply, error) {
	return randomReply(ctx, c.source, c.mapping.Folder, c.mapping.ContentType), nil
}
