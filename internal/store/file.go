package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/workflow"
)

// Supported on-disk formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// FileStore keeps one file per document in a directory.
// Writes go to a temp file in the same directory and are renamed into place.
type FileStore struct {
	dir    string
	format string
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewFileStore creates dir if needed. format is "json" or "yaml".
func NewFileStore(dir, format string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store directory is required")
	}
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatYAML:
	default:
		return nil, fmt.Errorf("unsupported file store format %q", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", dir, err)
	}
	return &FileStore{
		dir:    dir,
		format: format,
		logger: logger.With(zap.String("component", "file_store")),
	}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+"."+s.format)
}

func (s *FileStore) marshal(snap workflow.Snapshot) ([]byte, error) {
	if s.format == FormatYAML {
		return workflow.EncodeYAML(snap)
	}
	return workflow.EncodeJSON(snap)
}

func (s *FileStore) unmarshal(data []byte) (workflow.Snapshot, error) {
	if s.format == FormatYAML {
		return workflow.DecodeYAML(data)
	}
	return workflow.DecodeJSON(data)
}

func (s *FileStore) Load(ctx context.Context, id string) (workflow.Snapshot, error) {
	if err := ValidateID(id); err != nil {
		return workflow.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return workflow.Snapshot{}, ErrStoreClosed
	}

	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return workflow.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return workflow.Snapshot{}, fmt.Errorf("read %s: %w", id, err)
	}
	return s.unmarshal(data)
}

func (s *FileStore) Save(ctx context.Context, id string, snap workflow.Snapshot) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	data, err := s.marshal(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	tmp, err := os.CreateTemp(s.dir, "."+id+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", id, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", id, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", id, err)
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

// List skips files that fail to decode and logs them.
func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}

	ext := "." + s.format
	out := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		id := strings.TrimSuffix(name, ext)
		if ValidateID(id) != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", id, err)
		}
		snap, err := s.unmarshal(data)
		if err != nil {
			s.logger.Warn("skipping unreadable workflow file", zap.String("file", name), zap.Error(err))
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", id, err)
		}
		out = append(out, summarize(id, snap, info.ModTime().UTC()))
	}
	sortSummaries(out)
	return out, nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("store directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store path %s is not a directory", s.dir)
	}
	return nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
