// Package media finds uploadable images and videos in chat events and turns
// them into bytes.
package media

import (
	"context"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/foolllll-j/cloudimg/pkg/message"
	"github.com/foolllll-j/cloudimg/pkg/utils"
)

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Label is the user-facing name of the kind.
func (k Kind) Label() string {
	if k == KindVideo {
		return "视频"
	}
	return "图片"
}

// Reference is one media item found in a message, before download.
type Reference struct {
	Kind     Kind
	URL      string
	Path     string
	FileID   string
	Filename string
}

// HasLocator reports whether the reference can be resolved at all.
func (r Reference) HasLocator() bool {
	return r.URL != "" || r.Path != "" || r.FileID != ""
}

// Name returns the filename hint, falling back to a per-kind default.
func (r Reference) Name() string {
	if r.Filename != "" {
		return r.Filename
	}
	return DefaultFilename(r.Kind)
}

func DefaultFilename(kind Kind) string {
	if kind == KindVideo {
		return "video.mp4"
	}
	return "image.jpg"
}

// FromSegment builds a reference from an image or video segment. The second
// result is false for other kinds and for segments without any locator.
func FromSegment(seg message.Segment) (Reference, bool) {
	var ref Reference
	switch seg.Kind {
	case message.KindImage:
		ref.Kind = KindImage
	case message.KindVideo:
		ref.Kind = KindVideo
	default:
		return Reference{}, false
	}

	file := strings.TrimSpace(seg.File)
	switch {
	case utils.IsHTTPURL(seg.URL):
		ref.URL = seg.URL
	case utils.IsHTTPURL(file):
		ref.URL = file
	}

	switch {
	case seg.Path != "":
		ref.Path = seg.Path
	case strings.HasPrefix(file, "file://"):
		ref.Path = strings.TrimPrefix(file, "file://")
	case filepath.IsAbs(file):
		ref.Path = file
	}

	ref.FileID = seg.FileID
	if ref.FileID == "" && isOpaqueFile(file) {
		ref.FileID = file
	}

	if !ref.HasLocator() {
		return Reference{}, false
	}
	ref.Filename = pickFilename(seg.Name, file, ref.Path, ref.URL)
	return ref, true
}

func isOpaqueFile(file string) bool {
	if file == "" {
		return false
	}
	for _, prefix := range []string{"http://", "https://", "file://", "base64://"} {
		if strings.HasPrefix(file, prefix) {
			return false
		}
	}
	return !filepath.IsAbs(file)
}

func pickFilename(name, file, localPath, rawURL string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if file != "" && !utils.IsHTTPURL(file) {
		if base := path.Base(filepath.ToSlash(strings.TrimPrefix(file, "file://"))); path.Ext(base) != "" {
			return base
		}
	}
	if localPath != "" {
		if base := filepath.Base(localPath); filepath.Ext(base) != "" {
			return base
		}
	}
	if rawURL != "" {
		if base := filenameFromURL(rawURL); path.Ext(base) != "" {
			return base
		}
	}
	return ""
}

func filenameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := strings.TrimSpace(path.Base(parsed.Path))
	if base == "" || base == "." || base == "/" {
		return ""
	}
	return base
}

// FileInfo is what the host returns for a get_file lookup.
type FileInfo struct {
	URL  string
	File string
	Name string
}

// Host is the subset of chat-host actions media lookups depend on.
type Host interface {
	GetMsg(ctx context.Context, messageID string) (*message.Event, error)
	GetForwardMsg(ctx context.Context, forwardID string) ([]message.Node, error)
	GetFile(ctx context.Context, fileID string) (*FileInfo, error)
}
