package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps objects in process. Used for dry runs without a bucket.
type MemoryStore struct {
	bucket string

	mu      sync.Mutex
	objects map[string][]byte
	times   map[string]time.Time

	// UploadErr and DownloadErr, when set, are returned by every call
	UploadErr   error
	DownloadErr error
}

var _ ObjectStore = &MemoryStore{}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string][]byte),
		times:   make(map[string]time.Time),
	}
}

func (m *MemoryStore) Bucket() string {
	return m.bucket
}

func (m *MemoryStore) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	m.times[key] = time.Now()
}

func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

func (m *MemoryStore) Upload(_ context.Context, localPath, key string) error {
	if m.UploadErr != nil {
		return m.UploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: the file %s was not found", ErrNotFound, localPath)
		}
		return err
	}
	m.Put(key, data)
	return nil
}

func (m *MemoryStore) Download(_ context.Context, key, localPath string) error {
	if m.DownloadErr != nil {
		return m.DownloadErr
	}
	data, ok := m.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, URL(m.bucket, key))
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0644)
}

func (m *MemoryStore) List(_ context.Context, prefix, suffix string) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Object, 0)
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, suffix) {
			out = append(out, Object{Key: k, Size: int64(len(v)), LastModified: m.times[k]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Open builds the store for cfg. Backend "" and "s3" give an S3Store, "memory" a
// MemoryStore. A missing bucket gives a nil store and ErrNoBucket.
func Open(backend string, cfg Config) (ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	switch backend {
	case "", "s3":
		return NewS3Store(cfg)
	case "memory":
		return NewMemoryStore(cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}
}
