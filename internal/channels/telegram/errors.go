package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"

	"github.com/haasonsaas/tgate/internal/backoff"
	"github.com/haasonsaas/tgate/internal/channels"
)

// classifyError maps a Bot API failure onto the channel error taxonomy.
// go-telegram/bot wraps API failures in sentinel errors by status code; the
// description is consulted only to split 400 responses further.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return channels.ErrTimeout(op+" timed out", err)
	}

	var tooMany *bot.TooManyRequestsError
	var migrated *bot.MigrateError
	switch {
	case errors.As(err, &tooMany):
		e := channels.ErrRateLimit(op+": rate limited", err)
		e.RetryAfter = time.Duration(tooMany.RetryAfter) * time.Second
		return e
	case errors.Is(err, bot.ErrorTooManyRequests):
		return channels.ErrRateLimit(op+": rate limited", err)
	case errors.Is(err, bot.ErrorUnauthorized):
		return channels.ErrAuthentication(op+": unauthorized", err)
	case errors.As(err, &migrated):
		return channels.ErrInvalidInput(op+": chat migrated to "+strconv.Itoa(migrated.MigrateToChatID), err)
	case errors.Is(err, bot.ErrorBadRequest):
		desc := strings.ToLower(err.Error())
		switch {
		case strings.Contains(desc, "can't parse entities"), strings.Contains(desc, "can't find end of"):
			return channels.ErrFormatting(op+": entity parse failed", err)
		case strings.Contains(desc, "message to edit not found"),
			strings.Contains(desc, "message to delete not found"),
			strings.Contains(desc, "chat not found"):
			return channels.ErrNotFound(op+": not found", err)
		}
		return channels.ErrInvalidInput(op+": rejected", err)
	case errors.Is(err, bot.ErrorNotFound):
		return channels.ErrNotFound(op+": not found", err)
	case errors.Is(err, bot.ErrorForbidden):
		return channels.ErrInvalidInput(op+": forbidden", err)
	default:
		return channels.ErrConnection(op+" failed", err)
	}
}

// isNotModified reports an edit that would leave the message unchanged.
func isNotModified(err error) bool {
	return errors.Is(err, bot.ErrorBadRequest) &&
		strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

func isFormattingError(err error) bool {
	return channels.GetErrorCode(err) == channels.ErrCodeFormatting
}

// retryable converts a classified error into the form backoff.Retry expects.
func retryable(err error) error {
	if err == nil {
		return nil
	}
	var chErr *channels.Error
	if !errors.As(err, &chErr) || !chErr.IsRetryable() {
		return backoff.Permanent(err)
	}
	if chErr.RetryAfter > 0 {
		return &backoff.RetryAfterError{Err: err, After: chErr.RetryAfter}
	}
	return err
}
