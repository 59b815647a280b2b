package txlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/natefinch/atomic"
)

// FileStore keeps one JSON document per transaction under
// <root>/<process_type>/<transaction_id>.json. Every event re-reads the
// document, applies the event and writes it back through an atomic rename.
type FileStore struct {
	root string

	mu    sync.Mutex
	paths map[string]string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir, paths: make(map[string]string)}
}

// Root returns the base directory.
func (s *FileStore) Root() string {
	return s.root
}

// Path returns the document path of a transaction.
func (s *FileStore) Path(processType, id string) string {
	return filepath.Join(s.root, processType, id+".json")
}

// Append applies ev to the transaction document.
func (s *FileStore) Append(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Kind == KindStarted {
		t, err := Apply(nil, ev)
		if err != nil {
			return err
		}
		path := s.Path(t.ProcessType, t.ID)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create transaction dir: %w", err)
		}
		s.paths[t.ID] = path
		return s.write(path, t)
	}

	path, err := s.locate(ev.TransactionID)
	if err != nil {
		return err
	}
	t, err := s.read(path)
	if err != nil {
		return err
	}
	if _, err := Apply(t, ev); err != nil {
		return err
	}
	return s.write(path, t)
}

// Exists reports whether a document for id is present.
func (s *FileStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.locate(id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Get loads a transaction document.
func (s *FileStore) Get(_ context.Context, id string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	return s.read(path)
}

// List returns transaction summaries, newest first.
func (s *FileStore) List(_ context.Context, filter ListFilter) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(s.root, "*", "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	var out []Summary
	for _, path := range matches {
		t, err := s.read(path)
		if err != nil {
			// Foreign or corrupt files are not transactions.
			continue
		}
		sum := Summarize(t)
		if filter.Match(sum) {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *FileStore) locate(id string) (string, error) {
	if p, ok := s.paths[id]; ok {
		return p, nil
	}
	matches, err := filepath.Glob(filepath.Join(s.root, "*", id+".json"))
	if err != nil {
		return "", fmt.Errorf("locate transaction %s: %w", id, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	s.paths[id] = matches[0]
	return matches[0], nil
}

func (s *FileStore) read(path string) (*Transaction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("read transaction: %w", err)
	}
	var t Transaction
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse transaction %s: %w", path, err)
	}
	if t.ID == "" {
		return nil, fmt.Errorf("parse transaction %s: missing transaction_id", path)
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	return &t, nil
}

func (s *FileStore) write(path string, t *Transaction) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write transaction %s: %w", path, err)
	}
	return nil
}
