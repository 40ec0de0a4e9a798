package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/foolllll-j/cloudimg/pkg/logger"
	"github.com/foolllll-j/cloudimg/pkg/utils"
)

// ErrNotApplicable is returned by a resolver that cannot handle the reference
// at all, so the chain moves on without recording a failure.
var ErrNotApplicable = errors.New("resolver not applicable")

type FailureKind string

const (
	FailureDownload    FailureKind = "download_failed"
	FailureUnavailable FailureKind = "unavailable"
)

// Failure is a resolution error safe to show in chat. Err keeps the detail for
// logs only.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func downloadFailure(err error) *Failure {
	return &Failure{Kind: FailureDownload, Message: "下载失败", Err: err}
}

func unavailableFailure(cause error) *Failure {
	return &Failure{Kind: FailureUnavailable, Message: "无法获取媒体数据", Err: cause}
}

// Resolved holds downloaded media and the filename to upload it under.
type Resolved struct {
	Data     []byte
	Filename string
}

type Resolver interface {
	Resolve(ctx context.Context, ref Reference) (*Resolved, error)
}

// Chain tries each resolver in order and returns the first success. When none
// succeeds the result is an unavailable failure wrapping the first recorded
// tier failure.
type Chain []Resolver

// NewChain builds the standard URL, local file, file-id lookup order. host may
// be nil, which disables the lookup tier.
func NewChain(client *resty.Client, host Host) Chain {
	fetcher := NewURLFetcher(client)
	chain := Chain{fetcher, LocalFile{}}
	if host != nil {
		chain = append(chain, &FileLookup{Host: host, Fetcher: fetcher})
	}
	return chain
}

func (c Chain) Resolve(ctx context.Context, ref Reference) (*Resolved, error) {
	var first error
	for _, r := range c {
		res, err := r.Resolve(ctx, ref)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrNotApplicable) {
			continue
		}
		if first == nil {
			first = err
		}
	}
	return nil, unavailableFailure(first)
}

// URLFetcher downloads http(s) locators.
type URLFetcher struct {
	client *resty.Client
}

func NewURLFetcher(client *resty.Client) *URLFetcher {
	if client == nil {
		client = resty.New()
	}
	return &URLFetcher{client: client}
}

func (u *URLFetcher) Resolve(ctx context.Context, ref Reference) (*Resolved, error) {
	if !utils.IsHTTPURL(ref.URL) {
		return nil, ErrNotApplicable
	}
	data, err := u.Download(ctx, ref.URL)
	if err != nil {
		return nil, err
	}
	return &Resolved{Data: data, Filename: ref.Name()}, nil
}

// Download fetches rawURL. Failures are reported as download failures; the
// cause is logged with the URL redacted.
func (u *URLFetcher) Download(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := u.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		logger.WarnCF("media", "Download failed", map[string]interface{}{
			"url":        utils.RedactURL(rawURL),
			"error_type": fmt.Sprintf("%T", err),
		})
		return nil, downloadFailure(err)
	}
	if !resp.IsSuccess() {
		logger.WarnCF("media", "Download returned non-2xx", map[string]interface{}{
			"url":    utils.RedactURL(rawURL),
			"status": resp.StatusCode(),
		})
		return nil, downloadFailure(fmt.Errorf("status %d", resp.StatusCode()))
	}
	return resp.Body(), nil
}

// LocalFile reads locators that point at an existing file.
type LocalFile struct{}

func (LocalFile) Resolve(_ context.Context, ref Reference) (*Resolved, error) {
	if ref.Path == "" {
		return nil, ErrNotApplicable
	}
	info, err := os.Stat(ref.Path)
	if err != nil || info.IsDir() {
		return nil, ErrNotApplicable
	}
	data, err := os.ReadFile(ref.Path)
	if err != nil {
		logger.WarnCF("media", "Failed to read local media", map[string]interface{}{
			"path":  ref.Path,
			"error": err.Error(),
		})
		return nil, unavailableFailure(err)
	}
	return &Resolved{Data: data, Filename: ref.Name()}, nil
}

// FileLookup asks the chat host where an opaque file id lives, then reads or
// downloads it.
type FileLookup struct {
	Host    Host
	Fetcher *URLFetcher
}

func (l *FileLookup) Resolve(ctx context.Context, ref Reference) (*Resolved, error) {
	if ref.FileID == "" || l.Host == nil {
		return nil, ErrNotApplicable
	}

	info, err := l.Host.GetFile(ctx, ref.FileID)
	if err != nil {
		logger.WarnCF("media", "get_file failed", map[string]interface{}{
			"file_id": ref.FileID,
			"error":   err.Error(),
		})
		return nil, unavailableFailure(err)
	}

	filename := ref.Filename
	if filename == "" && info.Name != "" && path.Ext(info.Name) != "" {
		filename = info.Name
	}

	if info.File != "" {
		local := strings.TrimPrefix(info.File, "file://")
		if st, statErr := os.Stat(local); statErr == nil && !st.IsDir() {
			data, readErr := os.ReadFile(local)
			if readErr == nil {
				if filename == "" {
					filename = withDefaultExt(path.Base(strings.ReplaceAll(local, "\\", "/")), ref.Kind)
				}
				return &Resolved{Data: data, Filename: filename}, nil
			}
		}
	}

	if !utils.IsHTTPURL(info.URL) {
		return nil, unavailableFailure(nil)
	}
	data, err := l.Fetcher.Download(ctx, info.URL)
	if err != nil {
		return nil, err
	}
	if filename == "" {
		filename = withDefaultExt(filenameFromURL(info.URL), ref.Kind)
	}
	return &Resolved{Data: data, Filename: filename}, nil
}

// withDefaultExt keeps name when it has an extension and otherwise appends the
// per-kind default one.
func withDefaultExt(name string, kind Kind) string {
	if name == "" {
		return DefaultFilename(kind)
	}
	if path.Ext(name) != "" {
		return name
	}
	return name + path.Ext(DefaultFilename(kind))
}
