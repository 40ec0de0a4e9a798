package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/foolllll-j/cloudimg/pkg/keywords"
)

const adminOnly = "此指令仅限管理员使用"

const linkUsageHint = "使用 /imglink 关键词 文件夹名 [内容类型] 来添加新映射。\n内容类型可选: img(图片), vid(视频), 未指定则为全部"

const linkParamError = "参数错误！格式：/imglink 关键词 文件夹名 [内容类型]\n" +
	"例如：/imglink 3cy 3cy 或 /imglink 3cy 3cy img\n" +
	"内容类型可选: img(图片), vid(视频), 未指定则为全部\n\n" +
	"不带参数使用 /imglink 可查看所有映射。"

// LinkCommand lists keyword mappings or registers one.
type LinkCommand struct {
	store *keywords.Store
}

func NewLinkCommand(store *keywords.Store) *LinkCommand {
	return &LinkCommand{store: store}
}

func (c *LinkCommand) Name() string        { return "imglink" }
func (c *LinkCommand) Usage() string       { return "[关键词 文件夹名 [img|vid]]" }
func (c *LinkCommand) Description() string { return "查看或添加关键词映射（管理员）" }

func (c *LinkCommand) Execute(ctx context.Context, req *Request) (*Reply, error) {
	if !req.Admin {
		return textReply(adminOnly), nil
	}

	keyword := req.Arg(0)
	if keyword == "" {
		return textReply(c.list()), nil
	}

	folder := req.Arg(1)
	if folder == "" {
		return textReply(linkParamError), nil
	}

	contentType, ok := keywords.ParseContentType(req.Arg(2))
	if !ok {
		return textReply("内容类型参数错误！可选值: img(图片), vid(视频)"), nil
	}

	if err := c.store.Set(keyword, keywords.Mapping{Folder: folder, ContentType: contentType}); err != nil {
		return nil, fmt.Errorf("save keyword %q: %w", keyword, err)
	}

	desc := keywords.Describe(contentType)
	return textReply(fmt.Sprintf("已将关键词 '%s' 与文件夹 '%s' 关联（%s），现在发送 /%s 即可获取该文件夹的随机%s。",
		keyword, folder, desc, keyword, desc)), nil
}

func (c *LinkCommand) list() string {
	keys := c.store.Keywords()
	if len(keys) == 0 {
		return "当前没有已设置的关键词映射。"
	}

	var b strings.Builder
	b.WriteString("当前关键词映射列表：\n")
	for _, key := range keys {
		m, _ := c.store.Get(key)
		fmt.Fprintf(&b, "  /%s -> %s (%s)\n", key, m.Folder, m.ContentType)
	}
	b.WriteString("\n")
	b.WriteString(linkUsageHint)
	return strings.TrimSpace(b.String())
}

// UnlinkCommand removes a keyword mapping.
type UnlinkCommand struct {
	store *keywords.Store
}

func NewUnlinkCommand(store *keywords.Store) *UnlinkCommand {
	return &UnlinkCommand{store: store}
}

func (c *UnlinkCommand) Name() string        { return "imgunlink" }
func (c *UnlinkCommand) Usage() string       { return "关键词" }
func (c *UnlinkCommand) Description() string { return "删除关键词映射（管理员）" }

func (c *UnlinkCommand) Execute(ctx context.Context, req *Request) (*Reply, error) {
	if !req.Admin {
		return textReply(adminOnly), nil
	}

	keyword := req.Arg(0)
	if keyword == "" {
		return textReply("参数错误！格式：/imgunlink 关键词\n例如：/imgunlink 3cy"), nil
	}

	removed, err := c.store.Remove(keyword)
	if err != nil {
		return nil, fmt.Errorf("remove keyword %q: %w", keyword, err)
	}
	if !removed {
		return textReply(fmt.Sprintf("关键词 '%s' 不存在映射。", keyword)), nil
	}
	return textReply(fmt.Sprintf("已删除关键词 '%s' 的映射。", keyword)), nil
}
