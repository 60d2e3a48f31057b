package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/nmtlab/nmtgate/internal/observability"
)

// FileStore keeps keys in a single JSON object file mapping token to
// metadata. The file is re-read on every validation unless a cache TTL is
// set, in which case a deleted key stops working within one TTL.
type FileStore struct {
	path     string
	cacheTTL time.Duration
	clock    func() time.Time
	logger   observability.Logger

	// mu serializes read-modify-write of the file.
	mu sync.Mutex

	cacheMu  sync.RWMutex
	cache    map[string]Metadata
	cachedAt time.Time
	// cacheGen advances on every invalidation. A load only populates the
	// cache if no invalidation happened while it was reading.
	cacheGen uint64

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// FileOption customizes a FileStore.
type FileOption func(*FileStore)

// WithCacheTTL enables a read cache bounded by ttl.
func WithCacheTTL(ttl time.Duration) FileOption {
	return func(s *FileStore) {
		s.cacheTTL = ttl
	}
}

// WithLogger sets the logger used by the watcher.
func WithLogger(logger observability.Logger) FileOption {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) FileOption {
	return func(s *FileStore) {
		s.clock = clock
	}
}

// NewFileStore returns a store backed by path. The file need not exist.
func NewFileStore(path string, opts ...FileOption) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("key file path is required")
	}

	s := &FileStore{path: path, clock: time.Now, logger: observability.OrNop(nil)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Create(ctx context.Context, name string) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	meta := Metadata{Name: NormalizeName(name), Created: s.clock().UTC()}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.load()
	if err != nil {
		return nil, err
	}
	if _, exists := keys[token]; exists {
		return nil, fmt.Errorf("generated key collides with an existing key")
	}
	keys[token] = meta
	if err := s.save(keys); err != nil {
		return nil, err
	}
	s.invalidate()

	return &Credential{Token: token, Metadata: meta}, nil
}

func (s *FileStore) Validate(ctx context.Context, token string) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrNotFound
	}

	keys, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	meta, ok := keys[token]
	if !ok {
		return nil, ErrNotFound
	}
	return &meta, nil
}

func (s *FileStore) List(ctx context.Context) ([]Redacted, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return redactAll(keys), nil
}

func (s *FileStore) Revoke(ctx context.Context, tokenOrPrefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.load()
	if err != nil {
		return err
	}
	token, err := resolveToken(keys, tokenOrPrefix)
	if err != nil {
		return err
	}
	delete(keys, token)
	if err := s.save(keys); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// Watch invalidates the cache whenever the key file changes on disk, so
// out-of-band edits apply before the TTL expires. It returns once the watch
// is registered; Close stops it.
func (s *FileStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create key file watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("create key directory: %w", err)
	}
	// The directory is watched because saves replace the file by rename.
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch key directory: %w", err)
	}

	s.watcher = watcher
	s.done = make(chan struct{})
	go s.watch(ctx, watcher)
	return nil
}

func (s *FileStore) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(s.done)
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.invalidate()
				s.logger.Debug("Key file changed", zap.String("path", s.path), zap.String("op", event.Op.String()))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Key file watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher, if running.
func (s *FileStore) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	<-s.done
	s.watcher = nil
	return err
}

func (s *FileStore) snapshot() (map[string]Metadata, error) {
	var gen uint64
	if s.cacheTTL > 0 {
		s.cacheMu.RLock()
		if s.cache != nil && s.clock().Sub(s.cachedAt) < s.cacheTTL {
			keys := s.cache
			s.cacheMu.RUnlock()
			return keys, nil
		}
		gen = s.cacheGen
		s.cacheMu.RUnlock()
	}

	keys, err := s.load()
	if err != nil {
		return nil, err
	}

	if s.cacheTTL > 0 {
		s.cacheMu.Lock()
		if s.cacheGen == gen {
			s.cache = keys
			s.cachedAt = s.clock()
		}
		s.cacheMu.Unlock()
	}
	return keys, nil
}

func (s *FileStore) invalidate() {
	s.cacheMu.Lock()
	s.cache = nil
	s.cacheGen++
	s.cacheMu.Unlock()
}

func (s *FileStore) load() (map[string]Metadata, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Metadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]Metadata{}, nil
	}

	keys := map[string]Metadata{}
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", s.path, err)
	}
	return keys, nil
}

func (s *FileStore) save(keys map[string]Metadata) error {
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("encode key file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".keys-*.json")
	if err != nil {
		return fmt.Errorf("create temp key file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // nolint:errcheck // no-op after rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write key file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close key file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace key file: %w", err)
	}
	return nil
}

func redactAll(keys map[string]Metadata) []Redacted {
	out := make([]Redacted, 0, len(keys))
	for token, meta := range keys {
		out = append(out, Redacted{Key: RedactToken(token), Name: meta.Name, Created: meta.Created})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].Key < out[j].Key
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

func resolveToken(keys map[string]Metadata, ref string) (string, error) {
	tokens := make([]string, 0, len(keys))
	for token := range keys {
		tokens = append(tokens, token)
	}
	return Resolve(tokens, ref)
}
