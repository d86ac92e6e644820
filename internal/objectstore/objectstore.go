// Package objectstore stores requirement documents and decomposition
// artifacts as blobs keyed by path.
package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

const ContentTypeJSON = "application/json"

// blobs is the minimal surface the JSON helpers are built on.
type blobs interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
}

func uploadJSON(ctx context.Context, b blobs, key string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Upload(ctx, key, body, ContentTypeJSON)
}

func downloadJSON(ctx context.Context, b blobs, key string, v interface{}) error {
	body, err := b.Download(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// JoinKey prefixes key, ignoring an empty prefix.
func JoinKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	key = strings.TrimLeft(key, "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

// Memory is an in-process store for tests and single-binary development.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	body        []byte
	contentType string
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject)}
}

func (m *Memory) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{body: append([]byte(nil), body...), contentType: contentType}
	return nil
}

func (m *Memory) Download(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), obj.body...), nil
}

func (m *Memory) UploadJSON(ctx context.Context, key string, v interface{}) error {
	return uploadJSON(ctx, m, key, v)
}

func (m *Memory) DownloadJSON(ctx context.Context, key string, v interface{}) error {
	return downloadJSON(ctx, m, key, v)
}

// Keys lists stored keys in order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ContentType returns the content type recorded for key.
func (m *Memory) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[key].contentType
}
