package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/tgate/internal/access"
	"github.com/haasonsaas/tgate/internal/bus"
	"github.com/haasonsaas/tgate/internal/channels"
	"github.com/haasonsaas/tgate/internal/chatqueue"
	"github.com/haasonsaas/tgate/internal/config"
	"github.com/haasonsaas/tgate/internal/draftstream"
	"github.com/haasonsaas/tgate/internal/observability"
)

const (
	updateBuffer   = 100
	queueWarnAfter = 10 * time.Second
	sendAttempts   = 3
)

// OffsetStore persists the last consumed update id per account.
type OffsetStore interface {
	Read(ctx context.Context, accountID string) (int64, bool, error)
	Write(ctx context.Context, accountID string, updateID int64) error
}

// Options configures a Registry.
type Options struct {
	Accounts map[string]config.AccountConfig
	Offsets  OffsetStore
	Bus      bus.Publisher
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
	Logger   *slog.Logger

	// ClientFactory defaults to NewBotClient.
	ClientFactory ClientFactory
	// HTTPClient is used for media downloads.
	HTTPClient *http.Client
	// Clock drives draft stream throttling.
	Clock draftstream.Clock
}

// Registry owns every account runtime: polling, per-chat inbound queues,
// outbound sends and draft streams.
type Registry struct {
	offsets OffsetStore
	bus     bus.Publisher
	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *slog.Logger
	factory ClientFactory
	http    *http.Client
	clock   draftstream.Clock

	accounts map[string]*account

	// baseCtx outlives account stops so in-flight queue items finish.
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewRegistry builds runtimes for every enabled account. Nothing is started.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Bus == nil {
		return nil, channels.ErrConfig("message bus is required", nil)
	}
	if opts.Offsets == nil {
		return nil, channels.ErrConfig("offset store is required", nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ClientFactory == nil {
		opts.ClientFactory = NewBotClient
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if opts.Clock == nil {
		opts.Clock = draftstream.RealClock{}
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		offsets:    opts.Offsets,
		bus:        opts.Bus,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		logger:     opts.Logger.With("adapter", "telegram"),
		factory:    opts.ClientFactory,
		http:       opts.HTTPClient,
		clock:      opts.Clock,
		accounts:   make(map[string]*account),
		baseCtx:    baseCtx,
		baseCancel: cancel,
	}

	for id, cfg := range opts.Accounts {
		if !cfg.IsEnabled() {
			continue
		}
		if cfg.BotToken == "" {
			cancel()
			return nil, channels.ErrConfig(fmt.Sprintf("account %s: bot token is required", id), nil)
		}
		a := newAccount(id, cfg, r.logger, r.clock)
		a.queue = chatqueue.New(r.process, chatqueue.Options{
			MaxDepth:  a.cfg.QueueDepth,
			WarnAfter: queueWarnAfter,
			OnWait: func(key string, waited time.Duration, queued int) {
				a.logger.Warn("chat queue wait exceeded",
					"chat_key", key,
					"waited", waited,
					"queued", queued)
			},
			OnDepth: func(delta int) { r.metrics.QueueDelta(a.id, float64(delta)) },
		})
		r.accounts[id] = a
	}
	return r, nil
}

// AccountIDs returns the configured account ids in sorted order.
func (r *Registry) AccountIDs() []string {
	ids := make([]string, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) lookup(accountID string) (*account, error) {
	if accountID == "" {
		if len(r.accounts) == 1 {
			for _, a := range r.accounts {
				return a, nil
			}
		}
		accountID = "default"
	}
	a, ok := r.accounts[accountID]
	if !ok {
		return nil, channels.ErrNotFound("unknown account "+accountID, nil)
	}
	return a, nil
}

// Start starts one account, or every account when accountID is empty. A
// failing account does not prevent the others from starting; the joined
// errors are returned.
func (r *Registry) Start(ctx context.Context, accountID string) error {
	if accountID != "" {
		a, err := r.lookup(accountID)
		if err != nil {
			return err
		}
		return r.startAccount(ctx, a)
	}

	var errs []error
	for _, id := range r.AccountIDs() {
		if err := r.startAccount(ctx, r.accounts[id]); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) startAccount(ctx context.Context, a *account) error {
	a.mu.Lock()
	if a.status.Running {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	offset, _, err := r.offsets.Read(ctx, a.id)
	if err != nil {
		a.logger.Warn("failed to read stored offset, polling from the latest update", "error", err)
		offset = 0
	}

	pollCtx, cancel := context.WithCancel(r.baseCtx)
	updates := make(chan *models.Update, updateBuffer)

	client, err := r.factory(a.cfg.BotToken, ClientOptions{
		APIRoot:       a.cfg.APIRoot,
		InitialOffset: offset,
		PollTimeout:   a.cfg.PollTimeout,
		Handler: func(ctx context.Context, u *models.Update) {
			select {
			case updates <- u:
			case <-ctx.Done():
			case <-pollCtx.Done():
			}
		},
		ErrorsHandler: func(err error) {
			a.logger.Warn("polling error", "error", err)
		},
	})
	if err != nil {
		cancel()
		a.recordFailure(err)
		return channels.ErrAuthentication("failed to create bot", err)
	}

	me, err := client.GetMe(ctx)
	if err != nil {
		cancel()
		a.recordFailure(err)
		r.metrics.SetAccountRunning(a.id, false)
		a.logger.Error("telegram account failed to start", "error", err)
		return channels.ErrAuthentication("failed to fetch bot identity", classifyError("getMe", err))
	}

	done := make(chan struct{})
	a.mu.Lock()
	a.client = client
	a.bot = access.BotIdentity{ID: me.ID, Username: me.Username}
	a.ingestor = a.newIngestor(client, r.http, r)
	a.cancel = cancel
	a.done = done
	a.status.Running = true
	a.status.BotID = me.ID
	a.status.BotUsername = me.Username
	a.status.LastStartAt = time.Now()
	a.status.LastError = ""
	a.mu.Unlock()
	r.metrics.SetAccountRunning(a.id, true)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		client.Start(pollCtx)
	}()
	go func() {
		defer wg.Done()
		r.dispatch(pollCtx, a, updates)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	a.logger.Info("telegram account started",
		"bot_username", me.Username,
		"offset", offset,
		"mode", ModePolling)
	return nil
}

// dispatch records offsets and routes updates to their chat queue.
func (r *Registry) dispatch(ctx context.Context, a *account, updates <-chan *models.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			r.consume(a, u)
		}
	}
}

func (r *Registry) consume(a *account, u *models.Update) {
	if u == nil {
		return
	}
	r.metrics.UpdateReceived(a.id)
	if err := r.offsets.Write(r.baseCtx, a.id, u.ID); err != nil {
		a.logger.Warn("failed to record update offset", "update_id", u.ID, "error", err)
	}

	msg := u.Message
	if msg == nil {
		return
	}
	key := a.id + ":" + strconv.FormatInt(msg.Chat.ID, 10)
	item := inboundItem{account: a, message: msg, receivedAt: time.Now()}
	if _, err := a.queue.Enqueue(r.baseCtx, key, item); err != nil {
		a.logger.Warn("dropping update", "update_id", u.ID, "chat_key", key, "error", err)
		r.metrics.EventPublished(a.id, "dropped")
	}
}

// Stop cancels polling for one account, or all accounts when accountID is
// empty. Items already queued keep processing.
func (r *Registry) Stop(ctx context.Context, accountID string) error {
	if accountID != "" {
		a, err := r.lookup(accountID)
		if err != nil {
			return err
		}
		return r.stopAccount(ctx, a)
	}
	var errs []error
	for _, id := range r.AccountIDs() {
		if err := r.stopAccount(ctx, r.accounts[id]); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) stopAccount(ctx context.Context, a *account) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	wasRunning := a.status.Running
	a.status.Running = false
	if wasRunning {
		a.status.LastStopAt = time.Now()
	}
	a.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	r.metrics.SetAccountRunning(a.id, false)

	select {
	case <-done:
		a.logger.Info("telegram account stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the runtime status of one account.
func (r *Registry) Status(accountID string) (Status, bool) {
	a, ok := r.accounts[accountID]
	if !ok {
		return Status{}, false
	}
	return a.snapshot(), true
}

// Statuses returns every account's status sorted by id.
func (r *Registry) Statuses() []Status {
	out := make([]Status, 0, len(r.accounts))
	for _, id := range r.AccountIDs() {
		out = append(out, r.accounts[id].snapshot())
	}
	return out
}

// Close stops every account, drains the chat queues and ends live streams.
func (r *Registry) Close(ctx context.Context) error {
	errs := []error{r.Stop(ctx, "")}
	for _, id := range r.AccountIDs() {
		a := r.accounts[id]
		a.streams.StopAll()
		if err := a.queue.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", id, err))
		}
	}
	r.baseCancel()
	return errors.Join(errs...)
}
