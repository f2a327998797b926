package telegram

import (
	"context"
	"net/http"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/tgate/internal/config"
)

// BotClient defines the Telegram Bot API calls the gateway makes.
// It wraps *bot.Bot so tests can inject a fake.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)

	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error)
	SendVideo(ctx context.Context, params *bot.SendVideoParams) (*models.Message, error)
	SendAudio(ctx context.Context, params *bot.SendAudioParams) (*models.Message, error)

	// GetFile resolves a file id to a downloadable path.
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)

	// GetMe returns the bot's own identity.
	GetMe(ctx context.Context) (*models.User, error)

	// Start long-polls for updates until ctx is cancelled.
	Start(ctx context.Context)
}

// ClientOptions configures a BotClient built by a ClientFactory.
type ClientOptions struct {
	APIRoot       string
	InitialOffset int64
	PollTimeout   time.Duration
	HTTPClient    *http.Client

	// Handler receives every polled update, one at a time.
	Handler func(ctx context.Context, update *models.Update)

	// ErrorsHandler receives polling errors.
	ErrorsHandler func(err error)
}

// ClientFactory builds a BotClient for one account token.
type ClientFactory func(token string, opts ClientOptions) (BotClient, error)

// NewBotClient is the production ClientFactory backed by go-telegram/bot.
func NewBotClient(token string, opts ClientOptions) (BotClient, error) {
	options := []bot.Option{
		bot.WithSkipGetMe(),
		bot.WithNotAsyncHandlers(),
	}
	if opts.APIRoot != "" {
		options = append(options, bot.WithServerURL(opts.APIRoot))
	}
	if opts.InitialOffset > 0 {
		options = append(options, bot.WithInitialOffset(opts.InitialOffset))
	}
	if opts.Handler != nil {
		handler := opts.Handler
		options = append(options, bot.WithDefaultHandler(func(ctx context.Context, _ *bot.Bot, update *models.Update) {
			handler(ctx, update)
		}))
	}
	if opts.ErrorsHandler != nil {
		options = append(options, bot.WithErrorsHandler(opts.ErrorsHandler))
	}
	pollTimeout, httpClient := pollClient(opts)
	options = append(options, bot.WithHTTPClient(pollTimeout, httpClient))

	b, err := bot.New(token, options...)
	if err != nil {
		return nil, err
	}
	return newRealBotClient(b), nil
}

// pollTimeoutGrace is how much longer an HTTP request may take than the
// long-poll window it carries.
const pollTimeoutGrace = 10 * time.Second

// pollClient returns the long-poll timeout and the HTTP client used for Bot
// API calls. A zero timeout falls back to config.DefaultPollTimeout.
func pollClient(opts ClientOptions) (time.Duration, *http.Client) {
	timeout := opts.PollTimeout
	if timeout <= 0 {
		timeout = config.DefaultPollTimeout
	}
	if opts.HTTPClient != nil {
		return timeout, opts.HTTPClient
	}
	return timeout, &http.Client{Timeout: timeout + pollTimeoutGrace}
}

// realBotClient wraps a *bot.Bot to implement BotClient.
type realBotClient struct {
	bot *bot.Bot
}

func newRealBotClient(b *bot.Bot) BotClient {
	return &realBotClient{bot: b}
}

func (r *realBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	return r.bot.SendMessage(ctx, params)
}

func (r *realBotClient) EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	return r.bot.EditMessageText(ctx, params)
}

func (r *realBotClient) DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error) {
	return r.bot.DeleteMessage(ctx, params)
}

func (r *realBotClient) SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error) {
	return r.bot.SendChatAction(ctx, params)
}

func (r *realBotClient) SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error) {
	return r.bot.SendPhoto(ctx, params)
}

func (r *realBotClient) SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error) {
	return r.bot.SendDocument(ctx, params)
}

func (r *realBotClient) SendVideo(ctx context.Context, params *bot.SendVideoParams) (*models.Message, error) {
	return r.bot.SendVideo(ctx, params)
}

func (r *realBotClient) SendAudio(ctx context.Context, params *bot.SendAudioParams) (*models.Message, error) {
	return r.bot.SendAudio(ctx, params)
}

func (r *realBotClient) GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error) {
	return r.bot.GetFile(ctx, params)
}

func (r *realBotClient) GetMe(ctx context.Context) (*models.User, error) {
	return r.bot.GetMe(ctx)
}

func (r *realBotClient) Start(ctx context.Context) {
	r.bot.Start(ctx)
}
