package message

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var cqPattern = regexp.MustCompile(`\[CQ:([a-zA-Z0-9_]+)(?:,([^\]]*))?\]`)

var cqUnescaper = strings.NewReplacer("&#44;", ",", "&#91;", "[", "&#93;", "]", "&amp;", "&")

// Parse decodes a OneBot "message" field. Both the segment array form and the
// CQ-code string form are accepted; rawMessage is the fallback when the field
// is empty or malformed.
func Parse(raw []byte, rawMessage string) []Segment {
	if len(raw) > 0 && gjson.ValidBytes(raw) {
		v := gjson.ParseBytes(raw)
		if v.IsArray() || v.Type == gjson.String {
			return ParseValue(v)
		}
	}
	if strings.TrimSpace(rawMessage) == "" {
		return nil
	}
	return ParseCQ(rawMessage)
}

// ParseValue decodes an already located message value.
func ParseValue(v gjson.Result) []Segment {
	return parseValue(v, 0)
}

func parseValue(v gjson.Result, depth int) []Segment {
	if depth > MaxDepth || !v.Exists() {
		return nil
	}
	if v.Type == gjson.String {
		return ParseCQ(v.String())
	}
	if !v.IsArray() {
		return nil
	}
	items := v.Array()
	segments := make([]Segment, 0, len(items))
	for _, item := range items {
		segments = append(segments, parseSegment(item, depth))
	}
	return segments
}

func parseSegment(item gjson.Result, depth int) Segment {
	segType := item.Get("type").String()
	data := item.Get("data")

	switch segType {
	case "text":
		return Segment{Kind: KindText, Text: data.Get("text").String()}
	case "at":
		return Segment{Kind: KindAt, AtQQ: dataString(data, "qq")}
	case "image", "video":
		return Segment{
			Kind:   Kind(segType),
			URL:    dataString(data, "url"),
			File:   dataString(data, "file"),
			Path:   dataString(data, "path"),
			FileID: dataString(data, "file_id"),
			Name:   dataString(data, "name", "filename", "file_name"),
		}
	case "reply":
		seg := Segment{Kind: KindReply, ID: dataString(data, "id")}
		if chain := data.Get("message"); chain.Exists() {
			seg.Chain = parseValue(chain, depth+1)
		}
		return seg
	case "forward":
		seg := Segment{Kind: KindForward, ID: dataString(data, "id", "resid")}
		if content := data.Get("content"); content.IsArray() {
			seg.Nodes = parseNodes(content, depth+1)
		}
		return seg
	case "json":
		payload := data.Get("data")
		card := payload.Raw
		if payload.Type == gjson.String {
			card = payload.String()
		}
		return Segment{Kind: KindJSON, Data: strings.TrimSpace(card)}
	default:
		return Segment{Kind: KindUnknown, Type: segType}
	}
}

// ParseNodes decodes the node list of a forward bundle, as returned by
// get_forward_msg or inlined into a forward segment.
func ParseNodes(v gjson.Result) []Node {
	return parseNodes(v, 0)
}

func parseNodes(v gjson.Result, depth int) []Node {
	if depth > MaxDepth || !v.IsArray() {
		return nil
	}
	items := v.Array()
	nodes := make([]Node, 0, len(items))
	for _, item := range items {
		nodes = append(nodes, parseNode(item, depth))
	}
	return nodes
}

func parseNode(item gjson.Result, depth int) Node {
	body := item
	if item.Get("type").String() == "node" && item.Get("data").Exists() {
		body = item.Get("data")
	}
	content := body.Get("content")
	if !content.Exists() {
		content = body.Get("message")
	}
	return Node{
		SenderID:   dataString(body, "sender.user_id", "user_id", "uin"),
		SenderName: dataString(body, "sender.nickname", "nickname", "name"),
		Time:       body.Get("time").Int(),
		Content:    parseValue(content, depth),
	}
}

// dataString returns the first non-empty value among keys, trimmed. Numeric
// ids are rendered without exponent.
func dataString(data gjson.Result, keys ...string) string {
	for _, key := range keys {
		v := data.Get(key)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return ""
}

// ParseCQ decodes a CQ-code string such as "hi[CQ:image,file=a.jpg,url=...]".
func ParseCQ(content string) []Segment {
	matches := cqPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		if content == "" {
			return nil
		}
		return []Segment{{Kind: KindText, Text: cqUnescaper.Replace(content)}}
	}

	segments := make([]Segment, 0, len(matches)+1)
	cursor := 0
	for _, m := range matches {
		if m[0] > cursor {
			segments = append(segments, Segment{Kind: KindText, Text: cqUnescaper.Replace(content[cursor:m[0]])})
		}

		segType := content[m[2]:m[3]]
		paramsRaw := ""
		if m[4] >= 0 && m[5] >= 0 {
			paramsRaw = content[m[4]:m[5]]
		}
		params := parseCQParams(paramsRaw)

		switch segType {
		case "text":
			segments = append(segments, Segment{Kind: KindText, Text: params["text"]})
		case "at":
			segments = append(segments, Segment{Kind: KindAt, AtQQ: params["qq"]})
		case "image", "video":
			name := params["name"]
			if name == "" {
				name = params["filename"]
			}
			segments = append(segments, Segment{
				Kind:   Kind(segType),
				URL:    params["url"],
				File:   params["file"],
				Path:   params["path"],
				FileID: params["file_id"],
				Name:   name,
			})
		case "reply":
			segments = append(segments, Segment{Kind: KindReply, ID: params["id"]})
		case "forward":
			segments = append(segments, Segment{Kind: KindForward, ID: params["id"]})
		case "json":
			segments = append(segments, Segment{Kind: KindJSON, Data: params["data"]})
		default:
			segments = append(segments, Segment{Kind: KindUnknown, Type: segType})
		}
		cursor = m[1]
	}

	if cursor < len(content) {
		segments = append(segments, Segment{Kind: KindText, Text: cqUnescaper.Replace(content[cursor:])})
	}
	return segments
}

func parseCQParams(params string) map[string]string {
	result := make(map[string]string)
	if params == "" {
		return result
	}

	for _, item := range strings.Split(params, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		result[key] = cqUnescaper.Replace(strings.TrimSpace(parts[1]))
	}
	return result
}
