package telegram

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/haasonsaas/tgate/internal/access"
	"github.com/haasonsaas/tgate/internal/backoff"
	"github.com/haasonsaas/tgate/internal/channels"
	"github.com/haasonsaas/tgate/internal/chatqueue"
	"github.com/haasonsaas/tgate/internal/config"
	"github.com/haasonsaas/tgate/internal/draftstream"
	"github.com/haasonsaas/tgate/internal/markdown"
)

// ModePolling is the only update delivery mode the gateway runs.
const ModePolling = "polling"

// Status is the runtime state of one account.
type Status struct {
	AccountID   string    `json:"accountId"`
	Running     bool      `json:"running"`
	Mode        string    `json:"mode"`
	BotID       int64     `json:"botId,omitempty"`
	BotUsername string    `json:"botUsername,omitempty"`
	LastStartAt time.Time `json:"lastStartAt,omitempty"`
	LastStopAt  time.Time `json:"lastStopAt,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
}

// account is the runtime for one configured bot.
type account struct {
	id     string
	cfg    config.AccountConfig
	logger *slog.Logger
	tables markdown.TableMode

	limiter     *channels.RateLimiter
	chatLimiter *channels.KeyedRateLimiter
	queue       *chatqueue.Queue[inboundItem]
	streams     *draftstream.Manager

	mu       sync.RWMutex
	status   Status
	client   BotClient
	bot      access.BotIdentity
	ingestor *Ingestor
	cancel   context.CancelFunc
	done     chan struct{}
}

func newAccount(id string, cfg config.AccountConfig, logger *slog.Logger, clock draftstream.Clock) *account {
	config.ApplyAccountDefaults(&cfg)
	return &account{
		id:          id,
		cfg:         cfg,
		logger:      logger.With("account", id),
		tables:      markdown.ParseTableMode(cfg.Markdown.Tables, markdown.TableModeCode),
		limiter:     channels.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		chatLimiter: channels.NewKeyedRateLimiter(cfg.ChatRateLimit, cfg.ChatRateBurst),
		streams:     draftstream.NewManager(cfg.Stream.Grace, clock),
		status:      Status{AccountID: id, Mode: ModePolling},
	}
}

// runtime returns the live client and bot identity, or an error if the
// account is not running.
func (a *account) runtime() (BotClient, access.BotIdentity, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil || !a.status.Running {
		return nil, access.BotIdentity{}, channels.ErrUnavailable("account "+a.id+" is not running", nil)
	}
	return a.client, a.bot, nil
}

// identity returns the cached bot identity. It survives Stop so queued
// items can still be evaluated.
func (a *account) identity() access.BotIdentity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bot
}

func (a *account) currentIngestor() *Ingestor {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ingestor
}

func (a *account) snapshot() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func (a *account) recordFailure(err error) {
	a.mu.Lock()
	a.status.Running = false
	a.status.LastError = err.Error()
	a.status.LastStopAt = time.Now()
	a.mu.Unlock()
}

// call runs one Bot API request under the account and per-chat rate limits,
// retrying transient failures.
func (a *account) call(ctx context.Context, op, chatKey string, fn func() error) error {
	return backoff.Retry(ctx, backoff.DefaultPolicy(), sendAttempts, func(int) error {
		if err := a.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		if chatKey != "" {
			if err := a.chatLimiter.Wait(ctx, chatKey); err != nil {
				return backoff.Permanent(err)
			}
		}
		return retryable(classifyError(op, fn()))
	})
}

// newIngestor builds the media ingestor for a freshly started client.
func (a *account) newIngestor(client BotClient, httpClient *http.Client, r *Registry) *Ingestor {
	return &Ingestor{
		accountID: a.id,
		client:    client,
		token:     a.cfg.BotToken,
		apiRoot:   a.cfg.APIRoot,
		http:      httpClient,
		maxBytes:  a.cfg.MediaMaxBytes,
		policy:    backoff.DownloadPolicy(),
		logger:    a.logger,
		metrics:   r.metrics,
	}
}
