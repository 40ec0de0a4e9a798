// Package keywords persists keyword to folder mappings used by the dynamic
// random-media commands.
package keywords

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/foolllll-j/cloudimg/pkg/logger"
)

const FileName = "keyword_mappings.json"

const (
	ContentImage = "image"
	ContentVideo = "video"
	ContentAll   = "image,video"
)

type Mapping struct {
	Folder      string `json:"folder"`
	ContentType string `json:"content_type"`
}

// ParseContentType accepts the user-facing aliases. An empty value means both
// images and videos.
func ParseContentType(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ContentAll, true
	case "img", "image":
		return ContentImage, true
	case "vid", "video":
		return ContentVideo, true
	default:
		return "", false
	}
}

// Describe is the chat wording for a content type.
func Describe(contentType string) string {
	switch contentType {
	case ContentImage:
		return "图片"
	case ContentVideo:
		return "视频"
	default:
		return "图片或视频"
	}
}

// Store keeps the mappings in memory and rewrites the whole file on every
// change.
type Store struct {
	mu       sync.RWMutex
	mappings map[string]Mapping
	filePath string
}

// NewStore loads <dataDir>/keyword_mappings.json. A missing or unreadable file
// starts an empty store.
func NewStore(dataDir string) *Store {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		logger.WarnCF("keywords", "Failed to create data dir", map[string]interface{}{
			"dir":   dataDir,
			"error": err.Error(),
		})
	}
	s := &Store{
		mappings: make(map[string]Mapping),
		filePath: filepath.Join(dataDir, FileName),
	}
	s.load()
	return s
}

func (s *Store) Path() string {
	return s.filePath
}

func (s *Store) Get(keyword string) (Mapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mappings[keyword]
	return m, ok
}

// Keywords returns all keywords sorted.
func (s *Store) Keywords() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.mappings))
	for k := range s.mappings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns a copy of the mappings.
func (s *Store) All() map[string]Mapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Mapping, len(s.mappings))
	for k, v := range s.mappings {
		out[k] = v
	}
	return out
}

// Set creates or overwrites a mapping and persists the store.
func (s *Store) Set(keyword string, m Mapping) error {
	if m.ContentType == "" {
		m.ContentType = ContentAll
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.mappings[keyword]
	s.mappings[keyword] = m
	if err := s.saveAtomic(); err != nil {
		if existed {
			s.mappings[keyword] = prev
		} else {
			delete(s.mappings, keyword)
		}
		return err
	}
	return nil
}

// Remove deletes a mapping. It reports false when the keyword was unknown.
func (s *Store) Remove(keyword string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.mappings[keyword]
	if !ok {
		return false, nil
	}
	delete(s.mappings, keyword)
	if err := s.saveAtomic(); err != nil {
		s.mappings[keyword] = prev
		return false, err
	}
	return true, nil
}

func (s *Store) load() {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.ErrorCF("keywords", "Failed to read keyword mappings", map[string]interface{}{
				"path":  s.filePath,
				"error": err.Error(),
			})
		}
		return
	}

	mappings, err := decode(data)
	if err != nil {
		logger.ErrorCF("keywords", "Failed to parse keyword mappings", map[string]interface{}{
			"path":  s.filePath,
			"error": err.Error(),
		})
		return
	}
	s.mappings = mappings
	logger.InfoCF("keywords", "Keyword mappings loaded", map[string]interface{}{
		"count": len(mappings),
	})
}

// decode reads the mapping file. Values that are bare strings are folder
// names written by older versions and map to both content types.
func decode(data []byte) (map[string]Mapping, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	out := make(map[string]Mapping, len(raw))
	for keyword, value := range raw {
		var folder string
		if err := json.Unmarshal(value, &folder); err == nil {
			out[keyword] = Mapping{Folder: folder, ContentType: ContentAll}
			continue
		}
		var m Mapping
		if err := json.Unmarshal(value, &m); err != nil {
			return nil, fmt.Errorf("keyword %q: %w", keyword, err)
		}
		if m.ContentType == "" {
			m.ContentType = ContentAll
		}
		out[keyword] = m
	}
	return out, nil
}

func (s *Store) saveAtomic() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.mappings); err != nil {
		return fmt.Errorf("marshal keyword mappings: %w", err)
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
