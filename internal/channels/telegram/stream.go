package telegram

import (
	"context"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/tgate/internal/draftstream"
	"github.com/haasonsaas/tgate/internal/markdown"
	tgatemodels "github.com/haasonsaas/tgate/pkg/models"
)

// StreamTarget addresses a draft reply.
type StreamTarget struct {
	AccountID        string
	ChatID           string
	ThreadID         int
	ReplyToMessageID int
}

// StreamHandle is one draft reply turn: updates edit a single message in
// place and End settles the final text.
type StreamHandle struct {
	reg    *Registry
	acct   *account
	target StreamTarget
	stream *draftstream.Stream

	mu     sync.Mutex
	latest string
}

// StartStream opens a draft stream for the target chat. A live stream for the
// same chat and thread is reused.
func (r *Registry) StartStream(ctx context.Context, target StreamTarget) (*StreamHandle, error) {
	a, err := r.lookup(target.AccountID)
	if err != nil {
		return nil, err
	}
	client, _, err := a.runtime()
	if err != nil {
		return nil, err
	}
	target.AccountID = a.id

	sc := &streamClient{acct: a, client: client, target: target}
	key := draftstream.Key(a.id, target.ChatID, target.ThreadID)
	s := a.streams.Open(r.baseCtx, key, sc, draftstream.Options{
		Throttle: a.cfg.Stream.Throttle,
		MaxChars: a.cfg.Stream.MaxChars,
		Logger:   a.logger.With("stream", key),
		OnFinish: func(state draftstream.State) {
			r.metrics.DraftStreamFinished(a.id, string(state))
		},
	})
	return &StreamHandle{reg: r, acct: a, target: target, stream: s}, nil
}

// Update replaces the draft text. Calls after the stream has stopped are
// ignored.
func (h *StreamHandle) Update(text string) {
	h.mu.Lock()
	h.latest = text
	h.mu.Unlock()
	h.stream.Update(text)
}

// MessageID returns the draft message id, or 0 before the first send.
func (h *StreamHandle) MessageID() int {
	return h.stream.MessageID()
}

// State returns the underlying stream state.
func (h *StreamHandle) State() draftstream.State {
	return h.stream.State()
}

// End flushes finalText (or the last update when empty) and stops the
// stream. If the draft cannot carry the final text, because it overflowed
// or the platform rejected an edit, the draft is deleted and the text is
// sent as regular messages.
func (h *StreamHandle) End(ctx context.Context, finalText string) (tgatemodels.SendResult, error) {
	if finalText != "" {
		h.Update(finalText)
	}
	h.mu.Lock()
	text := h.latest
	h.mu.Unlock()

	flushErr := h.stream.Flush()
	if flushErr == nil && !h.stream.Overflowed() && h.stream.State() != draftstream.StateFailed {
		h.stream.Stop()
		return tgatemodels.SendResult{
			MessageID: h.stream.MessageID(),
			ChatID:    h.target.ChatID,
			Success:   true,
		}, nil
	}

	h.stream.Stop()
	if err := h.stream.Clear(); err != nil {
		h.acct.logger.Warn("failed to delete partial draft", "chat_id", h.target.ChatID, "error", err)
	}
	if strings.TrimSpace(text) == "" {
		return tgatemodels.SendResult{ChatID: h.target.ChatID, Success: true}, nil
	}
	return h.reg.Send(ctx, tgatemodels.OutboundRequest{
		AccountID:        h.target.AccountID,
		ChatID:           h.target.ChatID,
		Content:          text,
		ThreadID:         h.target.ThreadID,
		ReplyToMessageID: h.target.ReplyToMessageID,
	})
}

// Abort stops the stream and deletes the partial draft.
func (h *StreamHandle) Abort() error {
	return h.stream.Abort()
}

// ForceNewMessage makes the next update start a new message.
func (h *StreamHandle) ForceNewMessage() {
	h.stream.ForceNewMessage()
}

// streamClient performs draft stream calls for one chat.
type streamClient struct {
	acct   *account
	client BotClient
	target StreamTarget
}

func (c *streamClient) Send(ctx context.Context, text string) (int, error) {
	params := &bot.SendMessageParams{
		ChatID:          chatTarget(c.target.ChatID),
		MessageThreadID: c.target.ThreadID,
	}
	if c.target.ReplyToMessageID != 0 {
		params.ReplyParameters = &models.ReplyParameters{MessageID: c.target.ReplyToMessageID}
	}
	return c.acct.sendFormatted(ctx, c.client, params, text, c.target.ChatID)
}

func (c *streamClient) Edit(ctx context.Context, messageID int, text string) error {
	params := &bot.EditMessageTextParams{
		ChatID:    chatTarget(c.target.ChatID),
		MessageID: messageID,
	}
	edit := func() error {
		_, err := c.client.EditMessageText(ctx, params)
		if isNotModified(err) {
			return nil
		}
		return err
	}
	key := c.acct.chatKey(c.target.ChatID)

	if html := markdown.ToTelegramHTML(text, c.acct.tables); html != "" {
		params.Text = html
		params.ParseMode = models.ParseModeHTML
		err := c.acct.call(ctx, "editMessageText", key, edit)
		if err == nil || !isFormattingError(err) {
			return err
		}
	}
	params.Text = text
	params.ParseMode = ""
	return c.acct.call(ctx, "editMessageText", key, edit)
}

func (c *streamClient) Delete(ctx context.Context, messageID int) error {
	return c.acct.call(ctx, "deleteMessage", c.acct.chatKey(c.target.ChatID), func() error {
		_, err := c.client.DeleteMessage(ctx, &bot.DeleteMessageParams{
			ChatID:    chatTarget(c.target.ChatID),
			MessageID: messageID,
		})
		return err
	})
}
