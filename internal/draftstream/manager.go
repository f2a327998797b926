package draftstream

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Key builds the stream key for an account, chat and optional thread.
func Key(accountID, chatID string, threadID int) string {
	if threadID != 0 {
		return fmt.Sprintf("%s:%s:%d", accountID, chatID, threadID)
	}
	return accountID + ":" + chatID
}

// Manager holds the live streams keyed by Key. A stream that reaches a
// terminal state stays registered for Grace so late updates land on the
// stopped stream instead of starting a new one.
type Manager struct {
	grace time.Duration
	clock Clock

	mu      sync.Mutex
	streams map[string]*Stream
}

// NewManager creates an empty manager.
func NewManager(grace time.Duration, clock Clock) *Manager {
	if clock == nil {
		clock = RealClock{}
	}
	return &Manager{
		grace:   grace,
		clock:   clock,
		streams: make(map[string]*Stream),
	}
}

// GetOrCreate returns the registered stream for key, creating one if none exists.
func (m *Manager) GetOrCreate(ctx context.Context, key string, client Client, opts Options) *Stream {
	m.mu.Lock()
	if s, ok := m.streams[key]; ok {
		m.mu.Unlock()
		return s
	}
	s := m.newStreamLocked(ctx, key, client, opts)
	m.mu.Unlock()
	return s
}

// Open starts a stream for a new reply turn. A terminal stream still in its
// grace period is replaced; a live one is returned as is.
func (m *Manager) Open(ctx context.Context, key string, client Client, opts Options) *Stream {
	m.mu.Lock()
	if s, ok := m.streams[key]; ok && !s.State().Terminal() {
		m.mu.Unlock()
		return s
	}
	s := m.newStreamLocked(ctx, key, client, opts)
	m.mu.Unlock()
	return s
}

func (m *Manager) newStreamLocked(ctx context.Context, key string, client Client, opts Options) *Stream {
	if opts.Clock == nil {
		opts.Clock = m.clock
	}
	s := New(ctx, client, opts)
	s.addHook(func(State) { m.scheduleRemoval(key, s) })
	m.streams[key] = s
	return s
}

func (m *Manager) scheduleRemoval(key string, s *Stream) {
	remove := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.streams[key] == s {
			delete(m.streams, key)
		}
	}
	if m.grace <= 0 {
		remove()
		return
	}
	m.clock.AfterFunc(m.grace, remove)
}

// Get returns the stream registered for key.
func (m *Manager) Get(key string) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[key]
	return s, ok
}

// Stop ends the stream for key, if any.
func (m *Manager) Stop(key string) {
	s, ok := m.Get(key)
	if ok {
		s.Stop()
	}
}

// StopAll ends every registered stream.
func (m *Manager) StopAll() {
	m.mu.Lock()
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()
	for _, s := range streams {
		s.Stop()
	}
}

// Keys returns the registered keys, sorted.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.streams))
	for k := range m.streams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
