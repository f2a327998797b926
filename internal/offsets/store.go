package offsets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/tgate/internal/config"
)

// Store is a write-back cache in front of a Backend. Writes are monotonic
// per account; with a zero FlushInterval every write goes straight through.
type Store struct {
	backend  Backend
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	values map[string]int64
	dirty  map[string]struct{}
	timer  *time.Timer
	closed bool

	flushMu sync.Mutex
}

// NewStore wraps backend. A positive interval batches writes and flushes at
// most once per interval.
func NewStore(backend Backend, interval time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:  backend,
		interval: interval,
		logger:   logger.With("component", "offsets"),
		values:   make(map[string]int64),
		dirty:    make(map[string]struct{}),
	}
}

// Open builds the backend selected by cfg and wraps it in a Store.
func Open(ctx context.Context, cfg config.OffsetsConfig, logger *slog.Logger) (*Store, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case "", "file":
		backend, err = NewFileBackend(cfg.Path)
	case "sql":
		backend, err = OpenSQL(ctx, cfg.Driver, cfg.DSN)
	default:
		err = fmt.Errorf("unknown offsets backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewStore(backend, cfg.FlushInterval, logger), nil
}

// Read returns the last update id for the account.
func (s *Store) Read(ctx context.Context, accountID string) (int64, bool, error) {
	s.mu.Lock()
	if v, ok := s.values[accountID]; ok {
		s.mu.Unlock()
		return v, true, nil
	}
	s.mu.Unlock()

	v, ok, err := s.backend.Load(ctx, accountID)
	if err != nil || !ok {
		return 0, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, exists := s.values[accountID]; exists && cur > v {
		return cur, true, nil
	}
	s.values[accountID] = v
	return v, true, nil
}

// Write records updateID for the account. Values at or below the cached one
// are ignored.
func (s *Store) Write(ctx context.Context, accountID string, updateID int64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("offsets: store closed")
	}
	if cur, ok := s.values[accountID]; ok && cur >= updateID {
		s.mu.Unlock()
		return nil
	}
	s.values[accountID] = updateID

	if s.interval <= 0 {
		s.mu.Unlock()
		if err := s.backend.Save(ctx, accountID, updateID); err != nil {
			// Left for the next Flush or Close.
			s.mu.Lock()
			s.dirty[accountID] = struct{}{}
			s.mu.Unlock()
			return err
		}
		return nil
	}

	s.dirty[accountID] = struct{}{}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.interval, s.flushFromTimer)
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) flushFromTimer() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()
	if err := s.Flush(context.Background()); err != nil {
		s.logger.Warn("offset flush failed", "error", err)
	}
}

// Flush persists every pending write.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	pending := make(map[string]int64, len(s.dirty))
	for id := range s.dirty {
		pending[id] = s.values[id]
	}
	s.dirty = make(map[string]struct{})
	s.mu.Unlock()

	var errs []error
	for id, v := range pending {
		if err := s.backend.Save(ctx, id, v); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", id, err))
			s.mu.Lock()
			s.dirty[id] = struct{}{}
			s.mu.Unlock()
		}
	}
	return errors.Join(errs...)
}

// List returns persisted records merged with pending cached values.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	recs, err := s.backend.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Record, len(recs))
	for _, r := range recs {
		byID[r.AccountID] = r
	}
	s.mu.Lock()
	for id, v := range s.values {
		if r, ok := byID[id]; !ok || r.LastUpdateID < v {
			byID[id] = Record{AccountID: id, LastUpdateID: v, UpdatedAt: r.UpdatedAt}
		}
	}
	s.mu.Unlock()

	out := make([]Record, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// Close flushes pending writes and releases the backend.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return errors.Join(s.Flush(ctx), s.backend.Close())
}
