package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foolllll-j/cloudimg/pkg/imgbed"
	"github.com/foolllll-j/cloudimg/pkg/media"
)

// trackingResolver records how many Resolve calls run at once. With waitFor
// set, each call holds until that many calls have overlapped or a second
// passes.
type trackingResolver struct {
	inFlight  atomic.Int32
	highWater atomic.Int32
	waitFor   int32
	fail      map[string]bool
}

func (r *trackingResolver) Resolve(_ context.Context, ref media.Reference) (*media.Resolved, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		hw := r.highWater.Load()
		if n <= hw || r.highWater.CompareAndSwap(hw, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for r.highWater.Load() < r.waitFor && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.fail[ref.URL] {
		return nil, &media.Failure{Kind: media.FailureDownload, Message: "下载失败"}
	}
	return &media.Resolved{Data: []byte(ref.URL), Filename: ref.Name()}, nil
}

type recordingUploader struct {
	mu      sync.Mutex
	folders []string
	uploads []string
	err     error
}

func (u *recordingUploader) Upload(_ context.Context, data []byte, folder, filename string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.folders = append(u.folders, folder)
	u.uploads = append(u.uploads, string(data))
	return "https://cdn.example/file/" + filename, nil
}

func refs(n int) []media.Reference {
	out := make([]media.Reference, n)
	for i := range out {
		out[i] = media.Reference{
			Kind:     media.KindImage,
			URL:      fmt.Sprintf("https://img.example/%d.png", i+1),
			Filename: fmt.Sprintf("%d.png", i+1),
		}
	}
	return out
}

func TestUploadBatch_ConcurrencyCap(t *testing.T) {
	resolver := &trackingResolver{waitFor: 3}
	o := NewOrchestrator(resolver, &recordingUploader{}, 3)

	outcomes := o.UploadBatch(context.Background(), "cats", Select(refs(4), []int{1, 2, 3, 4}))
	if len(outcomes) != 4 {
		t.Fatalf("len(outcomes) = %d, want 4", len(outcomes))
	}
	if hw := resolver.highWater.Load(); hw != 3 {
		t.Fatalf("high-water mark = %d, want 3", hw)
	}
	for i, out := range outcomes {
		if !out.OK || out.Index != i+1 {
			t.Fatalf("outcome[%d] = %+v", i, out)
		}
	}
}

func TestUploadBatch_PartialFailure(t *testing.T) {
	all := refs(5)
	resolver := &trackingResolver{fail: map[string]bool{all[1].URL: true, all[3].URL: true}}
	o := NewOrchestrator(resolver, &recordingUploader{}, 3)

	outcomes := o.UploadBatch(context.Background(), "cats", Select(all, []int{1, 2, 3, 4, 5}))
	report := Report(outcomes, true)

	if !strings.Contains(report, "成功 3/5") {
		t.Fatalf("report = %q, want it to contain 成功 3/5", report)
	}
	for _, line := range []string{"#2 ❌ 下载失败", "#4 ❌ 下载失败", "#1 ✅ 图片 https://cdn.example/file/1.png"} {
		if !strings.Contains(report, line) {
			t.Fatalf("report = %q, missing %q", report, line)
		}
	}
}

func TestUploadBatch_KeepsOriginalIndices(t *testing.T) {
	uploader := &recordingUploader{}
	o := NewOrchestrator(&trackingResolver{}, uploader, 0)

	outcomes := o.UploadBatch(context.Background(), "cats", Select(refs(4), []int{2, 3}))
	if len(outcomes) != 2 || outcomes[0].Index != 2 || outcomes[1].Index != 3 {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	if len(uploader.uploads) != 2 {
		t.Fatalf("uploads = %v, want 2", uploader.uploads)
	}
	for _, folder := range uploader.folders {
		if folder != "cats" {
			t.Fatalf("folder = %q, want cats", folder)
		}
	}
}

func TestUploadBatch_UploadErrorsDescribed(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&imgbed.StatusError{Op: "upload", Code: 403, Body: "denied"}, "上传失败，状态码: 403, 响应: denied"},
		{&imgbed.ResponseError{Reason: "is not JSON", Body: "<html>"}, "上传响应格式错误，响应: <html>"},
		{imgbed.ErrNotConfigured, "上传API地址未配置"},
		{errors.New("dial tcp: connection refused"), "文件上传失败"},
	}

	for _, tt := range tests {
		o := NewOrchestrator(&trackingResolver{}, &recordingUploader{err: tt.err}, 3)
		outcomes := o.UploadBatch(context.Background(), "f", Select(refs(1), []int{1}))
		if outcomes[0].OK || outcomes[0].Error != tt.want {
			t.Fatalf("outcome = %+v, want error %q", outcomes[0], tt.want)
		}
	}
}

func TestSelect_SkipsOutOfRange(t *testing.T) {
	items := Select(refs(2), []int{0, 1, 3})
	if len(items) != 1 || items[0].Index != 1 {
		t.Fatalf("items = %+v", items)
	}
}

func TestReport(t *testing.T) {
	single := []Outcome{{Index: 1, Kind: media.KindImage, OK: true, URL: "https://cdn.example/a.png"}}
	if got := Report(single, true); got != "文件上传成功！\n链接: https://cdn.example/a.png" {
		t.Fatalf("Report = %q", got)
	}
	if got := Report(single, false); got != "文件上传成功！" {
		t.Fatalf("Report = %q", got)
	}

	mixed := []Outcome{
		{Index: 1, Kind: media.KindImage, OK: true, URL: "https://cdn.example/a.png"},
		{Index: 2, Kind: media.KindVideo, OK: true, URL: "https://cdn.example/b.mp4"},
		{Index: 3, Kind: media.KindImage, Error: "下载失败"},
	}
	want := "上传完成，成功 2/3（图片 1，视频 1）\n#1 ✅ 图片\n#2 ✅ 视频\n#3 ❌ 下载失败"
	if got := Report(mixed, false); got != want {
		t.Fatalf("Report = %q, want %q", got, want)
	}

	singleFailure := []Outcome{{Index: 1, Kind: media.KindVideo, Error: "无法获取媒体数据"}}
	if got := Report(singleFailure, true); got != "上传完成，成功 0/1（图片 0，视频 0）\n#1 ❌ 无法获取媒体数据" {
		t.Fatalf("Report = %q", got)
	}
}
