package share

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

	"go.uber.org/zap"

	"github.com/nmtlab/nmtgate/internal/observability"
)

// FileStore keeps one JSON file per record under a directory.
type FileStore struct {
	dir    string
	logger observability.Logger

	// mu makes play increments and inserts atomic within the process.
	mu sync.Mutex
}

// NewFileStore returns a store rooted at dir, creating it if needed.
func NewFileStore(dir string, logger observability.Logger) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("share directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create share directory: %w", err)
	}
	return &FileStore{dir: dir, logger: observability.OrNop(logger)}, nil
}

func (s *FileStore) Insert(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(r.ID)); err == nil {
		return ErrExists
	}
	return s.write(r)
}

func (s *FileStore) Play(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidID(id) {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.read(s.path(id))
	if err != nil {
		return nil, err
	}
	record.Plays++
	if err := s.write(record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *FileStore) Public(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read share directory: %w", err)
	}

	var out []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		record, err := s.read(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("Skipping unreadable share", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		if record.Visibility == VisibilityPublic {
			out = append(out, *record)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Plays == out[j].Plays {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Plays > out[j].Plays
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read share: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse share %s: %w", filepath.Base(path), err)
	}
	return &record, nil
}

func (s *FileStore) write(r *Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode share: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".share-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp share file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // nolint:errcheck // no-op after rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write share: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close share file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(r.ID)); err != nil {
		return fmt.Errorf("replace share file: %w", err)
	}
	return nil
}
