package upload

import (
	"fmt"
	"strings"

	"github.com/foolllll-j/cloudimg/pkg/media"
)

// Report renders outcomes as a chat reply. A single successful item gets the
// short form; anything else gets a summary line and one line per item.
func Report(outcomes []Outcome, showLink bool) string {
	if len(outcomes) == 1 && outcomes[0].OK {
		if showLink {
			return "文件上传成功！\n链接: " + outcomes[0].URL
		}
		return "文件上传成功！"
	}

	succeeded, images, videos := 0, 0, 0
	for _, out := range outcomes {
		if !out.OK {
			continue
		}
		succeeded++
		if out.Kind == media.KindVideo {
			videos++
		} else {
			images++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "上传完成，成功 %d/%d（图片 %d，视频 %d）", succeeded, len(outcomes), images, videos)
	for _, out := range outcomes {
		b.WriteString("\n")
		if out.OK {
			fmt.Fprintf(&b, "#%d ✅ %s", out.Index, out.Kind.Label())
			if showLink {
				b.WriteString(" ")
				b.WriteString(out.URL)
			}
			continue
		}
		fmt.Fprintf(&b, "#%d ❌ %s", out.Index, out.Error)
	}
	return b.String()
}
