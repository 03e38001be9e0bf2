package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	logx "kavitabot/pkg/logx"
)

var docName = regexp.MustCompile(`^[a-z0-9_-]+$`)

// fileStore keeps each document in <dir>/<name>.json. Writes go to a temp
// file in the same directory and are renamed into place, so a crash leaves
// either the old or the new document, never a torn one.
type fileStore struct {
	log logx.Logger
	dir string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir}, nil
}

// NewFile opens a file store rooted at dir.
func NewFile(dir string, log logx.Logger) (Store, error) {
	return openFile(Config{Driver: "file", Path: dir}, log)
}

func (s *fileStore) path(name string) (string, error) {
	if !docName.MatchString(name) {
		return "", fmt.Errorf("storage: invalid document name %q", name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

func (s *fileStore) Load(ctx context.Context, name string) ([]byte, error) {
	_ = ctx
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *fileStore) Save(ctx context.Context, name string, data []byte) error {
	_ = ctx
	p, err := s.path(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	f, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	s.log.Debug("document saved", logx.String("name", name), logx.Int("bytes", len(data)))
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
