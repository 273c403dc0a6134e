// Package storage holds uploaded evidence and generated documents in named
// buckets. Object paths are slash-separated and relative to the bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Bucket names used by the service.
const (
	EvidenceBucket  = "property-evidence"
	DocumentsBucket = "customer-documents"
)

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("storage: object not found")
	// ErrInvalidPath is returned for empty, absolute or escaping object paths.
	ErrInvalidPath = errors.New("storage: invalid object path")
)

// Object describes a stored object.
type Object struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Bucket is a flat object store.
type Bucket interface {
	Name() string
	Upload(ctx context.Context, objectPath, contentType string, r io.Reader) (Object, error)
	Download(ctx context.Context, objectPath string) (io.ReadCloser, Object, error)
	Remove(ctx context.Context, objectPath string) error
	// List returns objects whose path starts with prefix, sorted by path.
	List(ctx context.Context, prefix string) ([]Object, error)
}

// Buckets opens buckets by name.
type Buckets interface {
	Bucket(name string) (Bucket, error)
}

// CleanPath validates and normalises an object path.
func CleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return clean, nil
}

// ── Memory ───────────────────────────────────────────────────────────────────

type memObject struct {
	data []byte
	meta Object
}

// MemoryBucket keeps objects in memory.
type MemoryBucket struct {
	name    string
	mu      sync.RWMutex
	objects map[string]memObject
}

// NewMemoryBucket creates an empty MemoryBucket.
func NewMemoryBucket(name string) *MemoryBucket {
	return &MemoryBucket{name: name, objects: make(map[string]memObject)}
}

func (b *MemoryBucket) Name() string { return b.name }

func (b *MemoryBucket) Upload(_ context.Context, objectPath, contentType string, r io.Reader) (Object, error) {
	p, err := CleanPath(objectPath)
	if err != nil {
		return Object{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Object{}, fmt.Errorf("storage: reading upload: %w", err)
	}
	meta := Object{Path: p, Size: int64(len(data)), ContentType: contentType, UpdatedAt: time.Now().UTC()}
	b.mu.Lock()
	b.objects[p] = memObject{data: data, meta: meta}
	b.mu.Unlock()
	return meta, nil
}

func (b *MemoryBucket) Download(_ context.Context, objectPath string) (io.ReadCloser, Object, error) {
	p, err := CleanPath(objectPath)
	if err != nil {
		return nil, Object{}, err
	}
	b.mu.RLock()
	obj, ok := b.objects[p]
	b.mu.RUnlock()
	if !ok {
		return nil, Object{}, fmt.Errorf("%s/%s: %w", b.name, p, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.meta, nil
}

func (b *MemoryBucket) Remove(_ context.Context, objectPath string) error {
	p, err := CleanPath(objectPath)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[p]; !ok {
		return fmt.Errorf("%s/%s: %w", b.name, p, ErrNotFound)
	}
	delete(b.objects, p)
	return nil
}

func (b *MemoryBucket) List(_ context.Context, prefix string) ([]Object, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Object
	for p, obj := range b.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, obj.meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// MemoryBuckets creates memory buckets on first use.
type MemoryBuckets struct {
	mu      sync.Mutex
	buckets map[string]*MemoryBucket
}

func NewMemoryBuckets() *MemoryBuckets {
	return &MemoryBuckets{buckets: make(map[string]*MemoryBucket)}
}

func (m *MemoryBuckets) Bucket(name string) (Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[name]
	if !ok {
		b = NewMemoryBucket(name)
		m.buckets[name] = b
	}
	return b, nil
}

// ── Filesystem ───────────────────────────────────────────────────────────────

// FSBucket stores objects as files under root/<bucket>. The content type is
// kept in a sidecar file next to each object.
type FSBucket struct {
	name string
	dir  string
}

const metaSuffix = ".content-type"

// NewFSBucket creates the bucket directory if needed.
func NewFSBucket(root, name string) (*FSBucket, error) {
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating bucket %s: %w", name, err)
	}
	return &FSBucket{name: name, dir: dir}, nil
}

func (b *FSBucket) Name() string { return b.name }

func (b *FSBucket) file(p string) string {
	return filepath.Join(b.dir, filepath.FromSlash(p))
}

func (b *FSBucket) Upload(_ context.Context, objectPath, contentType string, r io.Reader) (Object, error) {
	p, err := CleanPath(objectPath)
	if err != nil {
		return Object{}, err
	}
	if strings.HasSuffix(p, metaSuffix) {
		return Object{}, fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	dst := b.file(p)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Object{}, fmt.Errorf("storage: creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("storage: creating temp file: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return Object{}, fmt.Errorf("storage: writing %s: %w", p, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return Object{}, fmt.Errorf("storage: writing %s: %w", p, err)
	}
	if err := os.WriteFile(dst+metaSuffix, []byte(contentType), 0o644); err != nil {
		return Object{}, fmt.Errorf("storage: writing metadata for %s: %w", p, err)
	}
	return Object{Path: p, Size: n, ContentType: contentType, UpdatedAt: time.Now().UTC()}, nil
}

func (b *FSBucket) stat(p string) (Object, error) {
	info, err := os.Stat(b.file(p))
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, fmt.Errorf("%s/%s: %w", b.name, p, ErrNotFound)
	}
	if err != nil {
		return Object{}, fmt.Errorf("storage: stat %s: %w", p, err)
	}
	ct, _ := os.ReadFile(b.file(p) + metaSuffix)
	return Object{Path: p, Size: info.Size(), ContentType: string(ct), UpdatedAt: info.ModTime().UTC()}, nil
}

func (b *FSBucket) Download(_ context.Context, objectPath string) (io.ReadCloser, Object, error) {
	p, err := CleanPath(objectPath)
	if err != nil {
		return nil, Object{}, err
	}
	meta, err := b.stat(p)
	if err != nil {
		return nil, Object{}, err
	}
	f, err := os.Open(b.file(p))
	if err != nil {
		return nil, Object{}, fmt.Errorf("storage: opening %s: %w", p, err)
	}
	return f, meta, nil
}

func (b *FSBucket) Remove(_ context.Context, objectPath string) error {
	p, err := CleanPath(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(b.file(p)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s/%s: %w", b.name, p, ErrNotFound)
		}
		return fmt.Errorf("storage: removing %s: %w", p, err)
	}
	os.Remove(b.file(p) + metaSuffix)
	return nil
}

func (b *FSBucket) List(_ context.Context, prefix string) ([]Object, error) {
	var out []Object
	err := filepath.WalkDir(b.dir, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(b.dir, file)
		if err != nil {
			return err
		}
		p := filepath.ToSlash(rel)
		if !strings.HasPrefix(p, prefix) {
			return nil
		}
		obj, err := b.stat(p)
		if err != nil {
			return err
		}
		out = append(out, obj)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: listing %s: %w", b.name, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// FSBuckets opens filesystem buckets under a common root.
type FSBuckets struct {
	root string
}

func NewFSBuckets(root string) *FSBuckets {
	return &FSBuckets{root: root}
}

func (f *FSBuckets) Bucket(name string) (Bucket, error) {
	if _, err := CleanPath(name); err != nil || strings.Contains(name, "/") {
		return nil, fmt.Errorf("storage: invalid bucket name %q", name)
	}
	return NewFSBucket(f.root, name)
}
