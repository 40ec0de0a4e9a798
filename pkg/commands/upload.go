package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/foolllll-j/cloudimg/pkg/config"
	"github.com/foolllll-j/cloudimg/pkg/logger"
	"github.com/foolllll-j/cloudimg/pkg/media"
	"github.com/foolllll-j/cloudimg/pkg/selection"
	"github.com/foolllll-j/cloudimg/pkg/upload"
)

const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// UploadCommand uploads the media found in (or quoted by) the message to a
// folder on the image host. An optional index spec picks a subset.
type UploadCommand struct {
	cfg          *config.Config
	extractor    *media.Extractor
	orchestrator *upload.Orchestrator
}

func NewUploadCommand(cfg *config.Config, extractor *media.Extractor, orchestrator *upload.Orchestrator) *UploadCommand {
	return &UploadCommand{
		cfg:          cfg,
		extractor:    extractor,
		orchestrator: orchestrator,
	}
}

func (c *UploadCommand) Name() string      { return "上传" }
func (c *UploadCommand) Aliases() []string { return []string{"upload"} }
func (c *UploadCommand) Usage() string     { return "文件夹名 [序号]" }
func (c *UploadCommand) Description() string {
	return "上传引用消息、当前消息或合并转发中的图片/视频，序号如 1,3-5"
}

func (c *UploadCommand) Execute(ctx context.Context, req *Request) (*Reply, error) {
	if c.cfg.ImgBed.UploadAdminOnly && !req.Admin {
		return textReply("上传功能仅限管理员使用"), nil
	}

	folder := strings.TrimSpace(req.Arg(0))
	if folder == "" {
		return textReply("请指定上传的文件夹名，格式：/上传 文件夹名"), nil
	}
	if strings.ContainsAny(folder, asciiPunctuation) {
		return textReply("文件夹名不能包含英文标点符号：" + folder), nil
	}
	if req.Event == nil {
		return textReply("未找到引用消息中的图片/视频"), nil
	}

	refs, err := c.extractor.Extract(ctx, req.Event)
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedForward) {
			return textReply("暂不支持该合并转发格式"), nil
		}
		return nil, fmt.Errorf("extract media: %w", err)
	}
	if len(refs) == 0 {
		return textReply("未找到引用消息中的图片/视频"), nil
	}

	indices, err := selection.Parse(strings.Join(req.Args[1:], ","), len(refs))
	if err != nil {
		return textReply(describeSelectionError(err)), nil
	}

	items := upload.Select(refs, indices)
	logger.InfoCF("command", "Uploading media", map[string]interface{}{
		"folder":   folder,
		"found":    len(refs),
		"selected": len(items),
		"chat_id":  req.ChatID,
	})

	outcomes := c.orchestrator.UploadBatch(ctx, folder, items)
	return &Reply{Content: upload.Report(outcomes, c.cfg.ImgBed.ShowUploadLink), Quote: true}, nil
}

func describeSelectionError(err error) string {
	var selErr *selection.Error
	if !errors.As(err, &selErr) {
		return "序号格式错误"
	}
	switch selErr.Reason {
	case selection.ReasonOutOfRange:
		return fmt.Sprintf("序号 %s 超出范围，共 %d 个文件", selErr.Token, selErr.Total)
	case selection.ReasonInvalidRange:
		return fmt.Sprintf("序号范围 %s 无效，格式如 1-3", selErr.Token)
	case selection.ReasonInvalidIndex:
		return fmt.Sprintf("序号 %s 无效，格式如 1,3-5", selErr.Token)
	default:
		return "序号格式错误：" + selErr.Error()
	}
}
