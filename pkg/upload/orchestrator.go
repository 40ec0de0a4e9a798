// Package upload runs batch uploads of media references to the image host
// and renders the result for chat.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/foolllll-j/cloudimg/pkg/imgbed"
	"github.com/foolllll-j/cloudimg/pkg/logger"
	"github.com/foolllll-j/cloudimg/pkg/media"
	"github.com/foolllll-j/cloudimg/pkg/utils"
)

const DefaultConcurrency = 3

// Uploader stores bytes on the image host and returns the public URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, folder, filename string) (string, error)
}

// Item is a selected reference together with its 1-based position in the
// list it was selected from.
type Item struct {
	Index int
	Ref   media.Reference
}

// Outcome is the result of one item. Exactly one of URL and Error is set.
type Outcome struct {
	Index    int
	Kind     media.Kind
	OK       bool
	URL      string
	Error    string
	Filename string
}

// Select picks refs by 1-based indices, keeping the indices on the items.
func Select(refs []media.Reference, indices []int) []Item {
	items := make([]Item, 0, len(indices))
	for _, idx := range indices {
		if idx < 1 || idx > len(refs) {
			continue
		}
		items = append(items, Item{Index: idx, Ref: refs[idx-1]})
	}
	return items
}

type Orchestrator struct {
	resolver       media.Resolver
	uploader       Uploader
	maxConcurrency int64
}

func NewOrchestrator(resolver media.Resolver, uploader Uploader, maxConcurrency int) *Orchestrator {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultConcurrency
	}
	return &Orchestrator{
		resolver:       resolver,
		uploader:       uploader,
		maxConcurrency: int64(maxConcurrency),
	}
}

// UploadBatch resolves and uploads every item, at most maxConcurrency at a
// time. A failing item never stops the others. Outcomes are sorted by index.
func (o *Orchestrator) UploadBatch(ctx context.Context, folder string, items []Item) []Outcome {
	batchID := uuid.NewString()[:8]
	started := time.Now()
	logger.InfoCF("upload", "Batch started", map[string]interface{}{
		"batch":  batchID,
		"folder": folder,
		"items":  len(items),
	})

	sem := semaphore.NewWeighted(o.maxConcurrency)
	outcomes := make([]Outcome, len(items))
	var wg sync.WaitGroup

	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = failed(item, "已取消")
			continue
		}
		wg.Add(1)
		go func(i int, item Item) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = o.uploadOne(ctx, batchID, folder, item)
		}(i, item)
	}
	wg.Wait()

	sort.Slice(outcomes, func(a, b int) bool { return outcomes[a].Index < outcomes[b].Index })

	ok := 0
	for _, out := range outcomes {
		if out.OK {
			ok++
		}
	}
	logger.InfoCF("upload", "Batch finished", map[string]interface{}{
		"batch":     batchID,
		"succeeded": ok,
		"failed":    len(outcomes) - ok,
		"elapsed":   time.Since(started).String(),
	})
	return outcomes
}

func (o *Orchestrator) uploadOne(ctx context.Context, batchID, folder string, item Item) Outcome {
	res, err := o.resolver.Resolve(ctx, item.Ref)
	if err != nil {
		logger.WarnCF("upload", "Resolve failed", map[string]interface{}{
			"batch": batchID,
			"index": item.Index,
			"error": err.Error(),
		})
		return failed(item, describeError(err))
	}

	url, err := o.uploader.Upload(ctx, res.Data, folder, res.Filename)
	if err != nil {
		logger.WarnCF("upload", "Upload failed", map[string]interface{}{
			"batch": batchID,
			"index": item.Index,
			"error": err.Error(),
		})
		out := failed(item, describeError(err))
		out.Filename = res.Filename
		return out
	}

	logger.DebugCF("upload", "Item uploaded", map[string]interface{}{
		"batch": batchID,
		"index": item.Index,
		"url":   utils.RedactURL(url),
		"bytes": len(res.Data),
	})
	return Outcome{
		Index:    item.Index,
		Kind:     item.Ref.Kind,
		OK:       true,
		URL:      url,
		Filename: res.Filename,
	}
}

func failed(item Item, msg string) Outcome {
	return Outcome{
		Index:    item.Index,
		Kind:     item.Ref.Kind,
		Error:    msg,
		Filename: item.Ref.Filename,
	}
}

// describeError turns an error into a short message fit for chat.
func describeError(err error) string {
	var failure *media.Failure
	var statusErr *imgbed.StatusError
	var respErr *imgbed.ResponseError
	switch {
	case errors.As(err, &failure):
		return failure.Message
	case errors.Is(err, imgbed.ErrNotConfigured):
		return "上传API地址未配置"
	case errors.As(err, &statusErr):
		if statusErr.Body == "" {
			return fmt.Sprintf("上传失败，状态码: %d", statusErr.Code)
		}
		return fmt.Sprintf("上传失败，状态码: %d, 响应: %s", statusErr.Code, utils.Truncate(statusErr.Body, 100))
	case errors.As(err, &respErr):
		return fmt.Sprintf("上传响应格式错误，响应: %s", utils.Truncate(respErr.Body, 100))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "上传超时"
	default:
		return "文件上传失败"
	}
}
