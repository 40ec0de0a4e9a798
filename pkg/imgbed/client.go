// Package imgbed talks to a CloudFlare ImgBed compatible image host: the
// random-pick endpoint and the multipart upload endpoint.
package imgbed

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/foolllll-j/cloudimg/pkg/logger"
	"github.com/foolllll-j/cloudimg/pkg/media"
	"github.com/foolllll-j/cloudimg/pkg/utils"
)

// ErrNotConfigured is returned when no base address is set.
var ErrNotConfigured = errors.New("image host base address not configured")

const maxBodyInError = 200

// StatusError is a non-success HTTP status from the image host.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Body)
}

// ResponseError is a 200 response the client could not make sense of.
type ResponseError struct {
	Reason string
	Body   string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("upload response %s: %s", e.Reason, e.Body)
}

type Options struct {
	BaseURL string
	// UploadURL overrides BaseURL for uploads.
	UploadURL          string
	AuthCode           string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

type Client struct {
	baseURL   string
	uploadURL string
	authCode  string
	http      *resty.Client
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rc := resty.New().SetTimeout(timeout)
	if opts.InsecureSkipVerify {
		rc.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	upload := strings.TrimRight(strings.TrimSpace(opts.UploadURL), "/")
	if upload == "" {
		upload = base
	}
	return &Client{
		baseURL:   base,
		uploadURL: upload,
		authCode:  strings.TrimSpace(opts.AuthCode),
		http:      rc,
	}
}

// HTTP exposes the underlying client so media downloads share its timeout
// and TLS settings.
func (c *Client) HTTP() *resty.Client {
	return c.http
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// RandomResult is a randomly picked file on the host.
type RandomResult struct {
	URL  string
	Kind media.Kind
}

var videoExts = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true,
	".wmv": true, ".flv": true, ".webm": true,
}

// KindOf classifies a file URL or path by extension.
func KindOf(p string) media.Kind {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if videoExts[strings.ToLower(path.Ext(p))] {
		return media.KindVideo
	}
	return media.KindImage
}

// Random asks the host for a random file. folder may be empty for the root;
// content is the filter passed through as is ("image", "video" or "image,video").
func (c *Client) Random(ctx context.Context, folder, content string) (*RandomResult, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	if content == "" {
		content = "image,video"
	}

	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("form", "text").
		SetQueryParam("content", content)
	if folder != "" {
		req.SetQueryParam("dir", folder)
	}

	resp, err := req.Get(c.baseURL + "/random")
	if err != nil {
		logger.WarnCF("imgbed", "Random request failed", map[string]interface{}{
			"base_url":   utils.RedactURL(c.baseURL),
			"folder":     folder,
			"error_type": fmt.Sprintf("%T", err),
		})
		return nil, fmt.Errorf("random request: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, &StatusError{Op: "random", Code: resp.StatusCode(), Body: utils.Truncate(strings.TrimSpace(resp.String()), maxBodyInError)}
	}

	rel := strings.TrimSpace(resp.String())
	if rel == "" {
		return nil, &ResponseError{Reason: "empty", Body: ""}
	}
	fileURL := utils.JoinURL(c.baseURL, rel)
	return &RandomResult{URL: fileURL, Kind: KindOf(fileURL)}, nil
}

type uploadFormat struct {
	ext  string
	mime string
}

var uploadFormats = map[string]uploadFormat{
	".mp4":  {".mp4", "video/mp4"},
	".webm": {".webm", "video/webm"},
	".jpg":  {".jpg", "image/jpeg"},
	".jpeg": {".jpg", "image/jpeg"},
	".png":  {".png", "image/png"},
	".gif":  {".gif", "image/gif"},
	".bmp":  {".bmp", "image/bmp"},
}

// UploadFormat maps a filename hint to the extension and MIME type sent to
// the host. Unknown extensions upload as JPEG.
func UploadFormat(filename string) (ext, mime string) {
	if f, ok := uploadFormats[strings.ToLower(path.Ext(filename))]; ok {
		return f.ext, f.mime
	}
	return ".jpg", "image/jpeg"
}

// Upload stores data under folder and returns the public URL of the file.
func (c *Client) Upload(ctx context.Context, data []byte, folder, filename string) (string, error) {
	if c.uploadURL == "" {
		return "", ErrNotConfigured
	}
	ext, mime := UploadFormat(filename)

	params := map[string]string{
		"serverCompress": "false",
		"uploadFolder":   folder,
		"returnFormat":   "full",
	}
	if c.authCode != "" {
		params["authCode"] = c.authCode
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetMultipartField("file", "upload"+ext, mime, bytes.NewReader(data)).
		Post(c.uploadURL + "/upload")
	if err != nil {
		logger.WarnCF("imgbed", "Upload request failed", map[string]interface{}{
			"upload_url": utils.RedactURL(c.uploadURL),
			"folder":     folder,
			"error_type": fmt.Sprintf("%T", err),
		})
		return "", fmt.Errorf("upload request: %w", err)
	}

	body := strings.TrimSpace(resp.String())
	if resp.StatusCode() != 200 {
		return "", &StatusError{Op: "upload", Code: resp.StatusCode(), Body: utils.Truncate(body, maxBodyInError)}
	}
	if !gjson.Valid(body) {
		return "", &ResponseError{Reason: "is not JSON", Body: utils.Truncate(body, maxBodyInError)}
	}

	src, err := parseUploadResponse(body)
	if err != nil {
		return "", err
	}
	if c.baseURL == "" {
		return utils.JoinURL(c.uploadURL, src), nil
	}
	return utils.JoinURL(c.baseURL, src), nil
}

func parseUploadResponse(body string) (string, error) {
	root := gjson.Parse(body)
	var entries gjson.Result
	switch {
	case root.IsArray():
		entries = root
	case root.Get("data").IsArray():
		entries = root.Get("data")
	default:
		return "", &ResponseError{Reason: "has unexpected shape", Body: utils.Truncate(body, maxBodyInError)}
	}

	first := entries.Get("0")
	if !first.Exists() {
		return "", &ResponseError{Reason: "is empty", Body: utils.Truncate(body, maxBodyInError)}
	}
	src := strings.TrimSpace(first.Get("src").String())
	if src == "" {
		return "", &ResponseError{Reason: "has no src", Body: utils.Truncate(body, maxBodyInError)}
	}
	return src, nil
}
