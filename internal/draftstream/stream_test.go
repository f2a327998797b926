package draftstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs due timers on the caller's goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

type call struct {
	op   string
	id   int
	text string
}

type fakeClient struct {
	mu      sync.Mutex
	calls   []call
	nextID  int
	editErr error
	sendErr error
}

func (c *fakeClient) Send(ctx context.Context, text string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{op: "send", text: text})
	if c.sendErr != nil {
		return 0, c.sendErr
	}
	c.nextID++
	return 100 + c.nextID, nil
}

func (c *fakeClient) Edit(ctx context.Context, id int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{op: "edit", id: id, text: text})
	return c.editErr
}

func (c *fakeClient) Delete(ctx context.Context, id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{op: "delete", id: id})
	return nil
}

func (c *fakeClient) snapshot() []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]call(nil), c.calls...)
}

func newTestStream(client Client, clock Clock) *Stream {
	return New(context.Background(), client, Options{Throttle: time.Second, MaxChars: 20, Clock: clock})
}

func TestIdenticalUpdatesMakeOneCall(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{}
	s := newTestStream(client, clock)

	s.Update("X")
	s.Update("X")
	clock.Advance(2 * time.Second)

	calls := client.snapshot()
	if len(calls) != 1 || calls[0].op != "send" {
		t.Fatalf("calls = %+v, want exactly one send", calls)
	}
}

func TestUpdateThenChangeSendsThenEdits(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{}
	s := newTestStream(client, clock)

	s.Update("X")
	s.Update("Y")
	if got := len(client.snapshot()); got != 1 {
		t.Fatalf("calls before throttle window = %d, want 1", got)
	}
	clock.Advance(time.Second)

	calls := client.snapshot()
	if len(calls) != 2 {
		t.Fatalf("calls = %+v, want send then edit", calls)
	}
	if calls[0].op != "send" || calls[0].text != "X" {
		t.Errorf("first call = %+v, want send X", calls[0])
	}
	if calls[1].op != "edit" || calls[1].text != "Y" || calls[1].id != s.MessageID() {
		t.Errorf("second call = %+v, want edit Y on message %d", calls[1], s.MessageID())
	}
	if s.State() != StateActive {
		t.Errorf("State() = %v, want active", s.State())
	}
}

func TestUpdatesCoalesceWithinWindow(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{}
	s := newTestStream(client, clock)

	s.Update("a")
	s.Update("ab")
	s.Update("abc")
	s.Update("abcd")
	clock.Advance(time.Second)

	calls := client.snapshot()
	if len(calls) != 2 {
		t.Fatalf("calls = %+v, want 2", calls)
	}
	if calls[1].text != "abcd" {
		t.Errorf("trailing edit text = %q, want latest buffer", calls[1].text)
	}
}

func TestEditErrorStopsStream(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{editErr: errors.New("Bad Request: message to edit not found")}
	var finished []State
	s := New(context.Background(), client, Options{
		Throttle: time.Second,
		Clock:    clock,
		OnFinish: func(st State) { finished = append(finished, st) },
	})

	s.Update("X")
	s.Update("Y")
	clock.Advance(time.Second)
	if s.State() != StateFailed {
		t.Fatalf("State() = %v, want failed", s.State())
	}

	before := len(client.snapshot())
	s.Update("Z")
	clock.Advance(5 * time.Second)
	if err := s.Flush(); err == nil {
		t.Error("Flush() should report the platform error")
	}
	if after := len(client.snapshot()); after != before {
		t.Errorf("platform calls after failure = %d, want 0", after-before)
	}
	if len(finished) != 1 || finished[0] != StateFailed {
		t.Errorf("OnFinish calls = %v, want [failed]", finished)
	}
}

func TestFlushBypassesThrottle(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{}
	s := newTestStream(client, clock)

	s.Update("X")
	s.Update("XY")
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	calls := client.snapshot()
	if len(calls) != 2 || calls[1].text != "XY" {
		t.Fatalf("calls = %+v, want flushed edit", calls)
	}

	clock.Advance(time.Second)
	if got := len(client.snapshot()); got != 2 {
		t.Errorf("cancelled timer fired: %d calls", got)
	}
}

func TestStopMakesUpdatesNoops(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{}
	s := newTestStream(client, clock)

	s.Update("X")
	s.Stop()
	s.Update("Y")
	clock.Advance(time.Second)

	if got := len(client.snapshot()); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
	if s.State() != StateEnded {
		t.Errorf("State() = %v, want ended", s.State())
	}
}

func TestAbortDeletesDraft(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{}
	s := newTestStream(client, clock)

	s.Update("partial")
	id := s.MessageID()
	if err := s.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}

	calls := client.snapshot()
	last := calls[len(calls)-1]
	if last.op != "delete" || last.id != id {
		t.Errorf("last call = %+v, want delete of %d", last, id)
	}
	if s.State() != StateAborted {
		t.Errorf("State() = %v, want aborted", s.State())
	}
	if s.MessageID() != 0 {
		t.Error("MessageID() should be cleared after abort")
	}
}

func TestMaxCharsStopsProactively(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{}
	s := newTestStream(client, clock)

	s.Update("short")
	s.Update("this text is definitely longer than twenty")
	clock.Advance(time.Second)

	calls := client.snapshot()
	if len(calls) != 1 {
		t.Errorf("calls = %+v, want only the first send", calls)
	}
	if !s.Overflowed() || s.State() != StateEnded {
		t.Errorf("Overflowed() = %v, State() = %v, want true/ended", s.Overflowed(), s.State())
	}
}

func TestForceNewMessageSendsFresh(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{}
	s := newTestStream(client, clock)

	s.Update("one")
	first := s.MessageID()
	s.ForceNewMessage()
	clock.Advance(time.Second)
	s.Update("two")

	calls := client.snapshot()
	if len(calls) != 2 || calls[1].op != "send" {
		t.Fatalf("calls = %+v, want a second send", calls)
	}
	if s.MessageID() == first || s.MessageID() == 0 {
		t.Errorf("MessageID() = %d, want a new id", s.MessageID())
	}
}

func TestMessageIDStableAcrossEdits(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{}
	s := newTestStream(client, clock)

	s.Update("a")
	id := s.MessageID()
	for _, text := range []string{"ab", "abc", "abcd"} {
		s.Update(text)
		clock.Advance(time.Second)
	}
	for _, c := range client.snapshot()[1:] {
		if c.op != "edit" || c.id != id {
			t.Errorf("call = %+v, want edit of %d", c, id)
		}
	}
}

func TestConcurrentUpdateWaitsForLeadingCall(t *testing.T) {
	clock := newFakeClock()
	client := &fakeClient{}
	s := newTestStream(client, clock)

	// Hold platform calls so the first update parks on its way to delivery.
	s.callMu.Lock()
	first := make(chan struct{})
	go func() {
		defer close(first)
		s.Update("X")
	}()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		queued := s.hasPending
		s.mu.Unlock()
		if queued {
			break
		}
		if time.Now().After(deadline) {
			s.callMu.Unlock()
			t.Fatal("first update never buffered")
		}
		time.Sleep(time.Millisecond)
	}

	second := make(chan struct{})
	go func() {
		defer close(second)
		s.Update("XY")
	}()
	select {
	case <-second:
	case <-time.After(time.Second):
		s.callMu.Unlock()
		t.Fatal("second update tried to deliver while the first call was pending")
	}
	s.callMu.Unlock()
	<-first

	calls := client.snapshot()
	if len(calls) != 1 || calls[0].op != "send" || calls[0].text != "XY" {
		t.Fatalf("calls = %+v, want one send carrying the latest text", calls)
	}
}
