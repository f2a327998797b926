package offsets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const fileVersion = 1

type fileDocument struct {
	Version  int               `json:"version"`
	Accounts map[string]Record `json:"accounts"`
}

// FileBackend stores offsets in a single JSON document.
type FileBackend struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

// NewFileBackend returns a backend writing to path. The file is created on
// first save.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("offsets path is required")
	}
	return &FileBackend{path: path, now: time.Now}, nil
}

func (b *FileBackend) read() (*fileDocument, error) {
	doc := &fileDocument{Version: fileVersion, Accounts: map[string]Record{}}
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read offsets: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode offsets %s: %w", b.path, err)
	}
	if doc.Accounts == nil {
		doc.Accounts = map[string]Record{}
	}
	return doc, nil
}

// write replaces the file atomically via a temp file and rename.
func (b *FileBackend) write(doc *fileDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode offsets: %w", err)
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create offsets dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".offsets-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp offsets: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write offsets: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync offsets: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close offsets: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace offsets: %w", err)
	}
	return nil
}

func (b *FileBackend) Load(_ context.Context, accountID string) (int64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, err := b.read()
	if err != nil {
		return 0, false, err
	}
	rec, ok := doc.Accounts[accountID]
	return rec.LastUpdateID, ok, nil
}

func (b *FileBackend) Save(_ context.Context, accountID string, updateID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, err := b.read()
	if err != nil {
		return err
	}
	if rec, ok := doc.Accounts[accountID]; ok && rec.LastUpdateID >= updateID {
		return nil
	}
	doc.Version = fileVersion
	doc.Accounts[accountID] = Record{AccountID: accountID, LastUpdateID: updateID, UpdatedAt: b.now().UTC()}
	return b.write(doc)
}

func (b *FileBackend) List(_ context.Context) ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, err := b.read()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(doc.Accounts))
	for id, rec := range doc.Accounts {
		rec.AccountID = id
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (b *FileBackend) Close() error { return nil }
