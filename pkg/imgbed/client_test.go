package imgbed

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/foolllll-j/cloudimg/pkg/media"
)

func TestRandom_JoinsRelativePath(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/random" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, "  /cats/a.png\n")
	}))
	defer server.Close()

	c := NewClient(Options{BaseURL: server.URL + "/"})
	res, err := c.Random(context.Background(), "cats", "image")
	if err != nil {
		t.Fatalf("Random error = %v", err)
	}
	if res.URL != server.URL+"/cats/a.png" {
		t.Fatalf("URL = %q, want %q", res.URL, server.URL+"/cats/a.png")
	}
	if res.Kind != media.KindImage {
		t.Fatalf("Kind = %q, want image", res.Kind)
	}
	for _, part := range []string{"form=text", "content=image", "dir=cats"} {
		if !strings.Contains(gotQuery, part) {
			t.Fatalf("query %q missing %q", gotQuery, part)
		}
	}
}

func TestRandom_NoFolderOmitsDir(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, "/v/clip.MP4")
	}))
	defer server.Close()

	c := NewClient(Options{BaseURL: server.URL})
	res, err := c.Random(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Random error = %v", err)
	}
	if strings.Contains(gotQuery, "dir=") {
		t.Fatalf("query %q should not carry dir", gotQuery)
	}
	if !strings.Contains(gotQuery, "content=image%2Cvideo") {
		t.Fatalf("query %q missing default content filter", gotQuery)
	}
	if res.Kind != media.KindVideo {
		t.Fatalf("Kind = %q, want video", res.Kind)
	}
}

func TestRandom_Errors(t *testing.T) {
	if _, err := NewClient(Options{}).Random(context.Background(), "", ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("error = %v, want ErrNotConfigured", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "no such dir")
	}))
	defer server.Close()

	_, err := NewClient(Options{BaseURL: server.URL}).Random(context.Background(), "nope", "")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("error = %v, want StatusError 404", err)
	}
}

func TestKindOf(t *testing.T) {
	tests := map[string]media.Kind{
		"https://cdn.example/a.png":       media.KindImage,
		"https://cdn.example/a.webm":      media.KindVideo,
		"https://cdn.example/a.MKV?x=1":   media.KindVideo,
		"https://cdn.example/a.gif#frag":  media.KindImage,
		"https://cdn.example/noextension": media.KindImage,
		"/local/path/movie.flv":           media.KindVideo,
	}
	for in, want := range tests {
		if got := KindOf(in); got != want {
			t.Fatalf("KindOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUploadFormat(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		mime string
	}{
		{"a.PNG", ".png", "image/png"},
		{"b.jpeg", ".jpg", "image/jpeg"},
		{"c.mp4", ".mp4", "video/mp4"},
		{"d.webm", ".webm", "video/webm"},
		{"e.bmp", ".bmp", "image/bmp"},
		{"f.gif", ".gif", "image/gif"},
		{"g.heic", ".jpg", "image/jpeg"},
		{"", ".jpg", "image/jpeg"},
	}
	for _, tt := range tests {
		ext, mime := UploadFormat(tt.name)
		if ext != tt.ext || mime != tt.mime {
			t.Fatalf("UploadFormat(%q) = %q, %q, want %q, %q", tt.name, ext, mime, tt.ext, tt.mime)
		}
	}
}

func TestUpload_MultipartAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/upload" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("authCode") != "secret" || q.Get("serverCompress") != "false" ||
			q.Get("uploadFolder") != "cats" || q.Get("returnFormat") != "full" {
			t.Errorf("query = %v", q)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile error = %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "bytes" {
			t.Errorf("file data = %q", data)
		}
		if header.Filename != "upload.png" {
			t.Errorf("filename = %q, want upload.png", header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("content type = %q, want image/png", ct)
		}
		_, _ = io.WriteString(w, `[{"src":"/file/abc.png"}]`)
	}))
	defer server.Close()

	c := NewClient(Options{BaseURL: server.URL, AuthCode: "secret"})
	got, err := c.Upload(context.Background(), []byte("bytes"), "cats", "cat.png")
	if err != nil {
		t.Fatalf("Upload error = %v", err)
	}
	if got != server.URL+"/file/abc.png" {
		t.Fatalf("Upload = %q, want %q", got, server.URL+"/file/abc.png")
	}
}

func TestUpload_NoAuthCodeOmitted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.URL.Query()["authCode"]; ok {
			t.Errorf("authCode should be omitted")
		}
		_, _ = io.WriteString(w, `{"data":[{"src":"https://other.example/x.mp4"}]}`)
	}))
	defer server.Close()

	got, err := NewClient(Options{BaseURL: server.URL}).Upload(context.Background(), []byte("v"), "vids", "x.mp4")
	if err != nil {
		t.Fatalf("Upload error = %v", err)
	}
	if got != "https://other.example/x.mp4" {
		t.Fatalf("Upload = %q", got)
	}
}

func TestUpload_SeparateUploadURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"src":"/file/u.jpg"}]`)
	}))
	defer server.Close()

	c := NewClient(Options{BaseURL: "https://cdn.example", UploadURL: server.URL})
	got, err := c.Upload(context.Background(), []byte("x"), "f", "")
	if err != nil {
		t.Fatalf("Upload error = %v", err)
	}
	if got != "https://cdn.example/file/u.jpg" {
		t.Fatalf("Upload = %q", got)
	}
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr interface{}
	}{
		{"status", http.StatusUnauthorized, "bad auth", &StatusError{}},
		{"not json", http.StatusOK, "<html>", &ResponseError{}},
		{"unexpected shape", http.StatusOK, `{"ok":true}`, &ResponseError{}},
		{"empty list", http.StatusOK, `[]`, &ResponseError{}},
		{"no src", http.StatusOK, `[{"name":"x"}]`, &ResponseError{}},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = io.WriteString(w, tt.body)
		}))

		_, err := NewClient(Options{BaseURL: server.URL}).Upload(context.Background(), []byte("x"), "f", "a.jpg")
		server.Close()

		switch tt.wantErr.(type) {
		case *StatusError:
			var target *StatusError
			if !errors.As(err, &target) || target.Code != tt.status || target.Body != tt.body {
				t.Fatalf("%s: error = %v, want StatusError", tt.name, err)
			}
		case *ResponseError:
			var target *ResponseError
			if !errors.As(err, &target) {
				t.Fatalf("%s: error = %v, want ResponseError", tt.name, err)
			}
		}
	}

	if _, err := NewClient(Options{}).Upload(context.Background(), nil, "f", "a.jpg"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("error = %v, want ErrNotConfigured", err)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestRandom_CDNExample(t *testing.T) {
	c := NewClient(Options{BaseURL: "https://cdn.example"})
	c.HTTP().SetTransport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Host != "cdn.example" || r.URL.Path != "/random" {
			t.Errorf("request to %s", r.URL)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/plain"}},
			Body:       io.NopCloser(strings.NewReader("/cats/a.png")),
			Request:    r,
		}, nil
	}))

	res, err := c.Random(context.Background(), "cats", "image,video")
	if err != nil {
		t.Fatalf("Random error = %v", err)
	}
	if res.URL != "https://cdn.example/cats/a.png" || res.Kind != media.KindImage {
		t.Fatalf("Random = %+v, want https://cdn.example/cats/a.png image", res)
	}
}
