package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/tgate/internal/bus"
	"github.com/haasonsaas/tgate/internal/config"
	"github.com/haasonsaas/tgate/internal/draftstream"
	tgatemodels "github.com/haasonsaas/tgate/pkg/models"
)

// apiError builds an error the way go-telegram/bot reports an API failure.
func apiError(kind error, description string) error {
	return fmt.Errorf("%w, %s", kind, description)
}

// fakeBot is a hand-written BotClient.
type fakeBot struct {
	mu sync.Mutex

	me    *models.User
	meErr error

	opts    ClientOptions
	started chan struct{}
	stopped chan struct{}

	nextID   int
	sent     []bot.SendMessageParams
	sendErrs []error
	edits    []bot.EditMessageTextParams
	editErr  error
	deletes  []int
	actions  []bot.SendChatActionParams
	photos   []bot.SendPhotoParams
	docs     []bot.SendDocumentParams
	files    map[string]*models.File
	lookups  int
}

func newFakeBot(username string, id int64) *fakeBot {
	return &fakeBot{
		me:      &models.User{ID: id, Username: username, IsBot: true},
		started: make(chan struct{}),
		stopped: make(chan struct{}),
		nextID:  100,
		files:   map[string]*models.File{},
	}
}

func (f *fakeBot) newMessage() *models.Message {
	f.nextID++
	return &models.Message{ID: f.nextID}
}

func (f *fakeBot) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, *p)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.newMessage(), nil
}

func (f *fakeBot) EditMessageText(_ context.Context, p *bot.EditMessageTextParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, *p)
	if f.editErr != nil {
		return nil, f.editErr
	}
	return &models.Message{ID: p.MessageID}, nil
}

func (f *fakeBot) DeleteMessage(_ context.Context, p *bot.DeleteMessageParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, p.MessageID)
	return true, nil
}

func (f *fakeBot) SendChatAction(_ context.Context, p *bot.SendChatActionParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, *p)
	return true, nil
}

func (f *fakeBot) SendPhoto(_ context.Context, p *bot.SendPhotoParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, *p)
	return f.newMessage(), nil
}

func (f *fakeBot) SendDocument(_ context.Context, p *bot.SendDocumentParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, *p)
	return f.newMessage(), nil
}

func (f *fakeBot) SendVideo(context.Context, *bot.SendVideoParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newMessage(), nil
}

func (f *fakeBot) SendAudio(context.Context, *bot.SendAudioParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newMessage(), nil
}

func (f *fakeBot) GetFile(_ context.Context, p *bot.GetFileParams) (*models.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	file, ok := f.files[p.FileID]
	if !ok {
		return nil, apiError(bot.ErrorBadRequest, "invalid file_id")
	}
	return file, nil
}

func (f *fakeBot) GetMe(context.Context) (*models.User, error) {
	if f.meErr != nil {
		return nil, f.meErr
	}
	return f.me, nil
}

func (f *fakeBot) Start(ctx context.Context) {
	close(f.started)
	<-ctx.Done()
	close(f.stopped)
}

// deliver pushes an update through the polling handler.
func (f *fakeBot) deliver(t *testing.T, u *models.Update) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("bot never started polling")
	}
	f.opts.Handler(context.Background(), u)
}

func (f *fakeBot) fileLookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func (f *fakeBot) sentMessages() []bot.SendMessageParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bot.SendMessageParams(nil), f.sent...)
}

type memOffsets struct {
	mu     sync.Mutex
	values map[string]int64
}

func newMemOffsets() *memOffsets {
	return &memOffsets{values: map[string]int64{}}
}

func (m *memOffsets) Read(_ context.Context, id string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[id]
	return v, ok, nil
}

func (m *memOffsets) Write(_ context.Context, id string, v int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v > m.values[id] {
		m.values[id] = v
	}
	return nil
}

func (m *memOffsets) get(id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[id]
}

// stillClock never fires timers on its own; Flush drives delivery.
type stillClock struct{ now time.Time }

func (c stillClock) Now() time.Time { return c.now }

func (c stillClock) AfterFunc(time.Duration, func()) draftstream.Timer { return stillTimer{} }

type stillTimer struct{}

func (stillTimer) Stop() bool { return true }

type harness struct {
	reg     *Registry
	bots    map[string]*fakeBot
	offsets *memOffsets
	bus     *bus.Memory
	events  <-chan tgatemodels.InboundEvent
}

func newHarness(t *testing.T, accounts map[string]config.AccountConfig, bots map[string]*fakeBot, httpClient *http.Client) *harness {
	t.Helper()
	h := &harness{bots: bots, offsets: newMemOffsets(), bus: bus.NewMemory(16)}
	var cancel func()
	h.events, cancel = h.bus.Subscribe()
	t.Cleanup(cancel)

	reg, err := NewRegistry(Options{
		Accounts: accounts,
		Offsets:  h.offsets,
		Bus:      h.bus,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		ClientFactory: func(token string, opts ClientOptions) (BotClient, error) {
			b, ok := bots[token]
			if !ok {
				return nil, errors.New("unknown token")
			}
			b.opts = opts
			return b, nil
		},
		HTTPClient: httpClient,
		Clock:      stillClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = reg.Close(ctx)
	})
	h.reg = reg
	return h
}

func (h *harness) nextEvent(t *testing.T) tgatemodels.InboundEvent {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound event")
		return tgatemodels.InboundEvent{}
	}
}

func privateMessage(updateID int64, senderID int64, text string) *models.Update {
	return &models.Update{
		ID: updateID,
		Message: &models.Message{
			ID:   int(updateID),
			From: &models.User{ID: senderID, FirstName: "Ada", Username: "ada"},
			Chat: models.Chat{ID: senderID, Type: models.ChatType("private")},
			Text: text,
		},
	}
}

func groupMessage(updateID int64, chatID, senderID int64, text string, entities ...models.MessageEntity) *models.Update {
	return &models.Update{
		ID: updateID,
		Message: &models.Message{
			ID:       int(updateID),
			From:     &models.User{ID: senderID, FirstName: "Ada", Username: "ada"},
			Chat:     models.Chat{ID: chatID, Type: models.ChatType("supergroup")},
			Text:     text,
			Entities: entities,
		},
	}
}
