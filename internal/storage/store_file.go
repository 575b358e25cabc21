package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"bunny-chatter/internal/session"
)

const tempFilePattern = ".sessions-*.tmp"

// FileStore keeps every session in one JSON document:
//
//	{"<user_key>": {"nickname": ..., "account_tag": ..., "history": [{"role": ..., "content": ...}]}}
//
// Each Save rewrites the document through a temp file and a rename, so a
// crash mid-write leaves the previous version in place.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ session.Store = (*FileStore)(nil)

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (map[string]session.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]session.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]session.Record{}, nil
	}

	var doc map[string]session.Record
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode store %s: %w", s.path, err)
	}
	out := make(map[string]session.Record, len(doc))
	for key, rec := range doc {
		rec.UserKey = key
		out[key] = rec.Clone()
	}
	return out, nil
}

func (s *FileStore) Save(ctx context.Context, records map[string]session.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := make(map[string]session.Record, len(records))
	for key, rec := range records {
		if rec.History == nil {
			rec.History = []session.Turn{}
		}
		doc[key] = rec
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path, data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	cleanup = false
	return nil
}
