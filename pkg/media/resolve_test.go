package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-resty/resty/v2"
)

func newMediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			_, _ = w.Write([]byte("png-bytes"))
		case "/files/abc":
			_, _ = w.Write([]byte("video-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestChain_URLDownload(t *testing.T) {
	server := newMediaServer(t)
	chain := NewChain(resty.New(), nil)

	res, err := chain.Resolve(context.Background(), Reference{Kind: KindImage, URL: server.URL + "/ok.png", Filename: "ok.png"})
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if string(res.Data) != "png-bytes" || res.Filename != "ok.png" {
		t.Fatalf("Resolve = %q, %q", res.Data, res.Filename)
	}
}

func TestChain_ExhaustedIsUnavailable(t *testing.T) {
	server := newMediaServer(t)
	chain := NewChain(resty.New(), nil)

	_, err := chain.Resolve(context.Background(), Reference{Kind: KindImage, URL: server.URL + "/missing.png"})
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("error = %v, want *Failure", err)
	}
	if f.Kind != FailureUnavailable || f.Error() != "无法获取媒体数据" {
		t.Fatalf("failure = %+v, want unavailable", f)
	}

	var cause *Failure
	if !errors.As(f.Err, &cause) || cause.Kind != FailureDownload {
		t.Fatalf("cause = %v, want wrapped download failure", f.Err)
	}
}

func TestURLFetcher_DownloadFailure(t *testing.T) {
	server := newMediaServer(t)

	_, err := NewURLFetcher(resty.New()).Resolve(context.Background(), Reference{Kind: KindImage, URL: server.URL + "/missing.png"})
	var f *Failure
	if !errors.As(err, &f) || f.Kind != FailureDownload || f.Error() != "下载失败" {
		t.Fatalf("error = %v, want download failure", err)
	}
}

func TestChain_LocalFileFallback(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "local.gif")
	if err := os.WriteFile(p, []byte("gif"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	chain := NewChain(resty.New(), nil)

	res, err := chain.Resolve(context.Background(), Reference{Kind: KindImage, Path: p, Filename: "local.gif"})
	if err != nil || string(res.Data) != "gif" {
		t.Fatalf("Resolve = %+v, %v", res, err)
	}
}

func TestChain_FileLookupDerivesName(t *testing.T) {
	server := newMediaServer(t)
	host := &fakeHost{files: map[string]*FileInfo{
		"fid": {URL: server.URL + "/files/abc"},
	}}
	chain := NewChain(resty.New(), host)

	res, err := chain.Resolve(context.Background(), Reference{Kind: KindVideo, FileID: "fid"})
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if string(res.Data) != "video-bytes" || res.Filename != "abc.mp4" {
		t.Fatalf("Resolve = %q, %q", res.Data, res.Filename)
	}
}

func TestChain_FileLookupLocalFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cached.mp4")
	if err := os.WriteFile(p, []byte("mp4"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	host := &fakeHost{files: map[string]*FileInfo{"fid": {File: p}}}
	chain := NewChain(resty.New(), host)

	res, err := chain.Resolve(context.Background(), Reference{Kind: KindVideo, FileID: "fid", Filename: "orig.mp4"})
	if err != nil || string(res.Data) != "mp4" || res.Filename != "orig.mp4" {
		t.Fatalf("Resolve = %+v, %v", res, err)
	}
}

func TestChain_Exhausted(t *testing.T) {
	chain := NewChain(resty.New(), nil)

	_, err := chain.Resolve(context.Background(), Reference{Kind: KindImage, Path: "/does/not/exist.png", FileID: "x"})
	var f *Failure
	if !errors.As(err, &f) || f.Kind != FailureUnavailable || f.Error() != "无法获取媒体数据" {
		t.Fatalf("error = %v, want unavailable failure", err)
	}
}

func TestChain_FallsThroughAfterDownloadFailure(t *testing.T) {
	server := newMediaServer(t)
	host := &fakeHost{files: map[string]*FileInfo{"fid": {URL: server.URL + "/files/abc"}}}
	chain := NewChain(resty.New(), host)

	res, err := chain.Resolve(context.Background(), Reference{
		Kind:     KindVideo,
		URL:      server.URL + "/expired.mp4",
		FileID:   "fid",
		Filename: "clip.mp4",
	})
	if err != nil || string(res.Data) != "video-bytes" || res.Filename != "clip.mp4" {
		t.Fatalf("Resolve = %+v, %v", res, err)
	}
}
