package telegram

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"github.com/haasonsaas/tgate/internal/access"
	tgatemodels "github.com/haasonsaas/tgate/pkg/models"
)

// inboundItem is one queued message awaiting processing.
type inboundItem struct {
	account    *account
	message    *models.Message
	receivedAt time.Time
}

// process runs the inbound pipeline for one message: access control,
// mention handling, media ingestion and publication. Denied messages are
// dropped without any reply.
func (r *Registry) process(ctx context.Context, key string, item inboundItem) (err error) {
	a, msg := item.account, item.message
	start := time.Now()
	ctx, span := r.tracer.TraceUpdate(ctx, a.id, strconv.FormatInt(msg.Chat.ID, 10))
	defer func() {
		r.tracer.RecordError(span, err)
		span.End()
		r.metrics.ObserveProcessing(a.id, time.Since(start).Seconds())
	}()

	if msg.From == nil {
		return nil
	}
	me := a.identity()
	if me.ID != 0 && msg.From.ID == me.ID {
		return nil
	}

	kind := chatKind(msg)
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	senderID := strconv.FormatInt(msg.From.ID, 10)
	threadID := 0
	if kind == tgatemodels.ChatTopic {
		threadID = msg.MessageThreadID
	}

	text, entities := msg.Text, msg.Entities
	if text == "" {
		text, entities = msg.Caption, msg.CaptionEntities
	}

	decision := access.Evaluate(access.Input{
		Account:        &a.cfg,
		Kind:           kind,
		ChatID:         chatID,
		ThreadID:       threadID,
		SenderID:       senderID,
		SenderUsername: msg.From.Username,
		Text:           text,
		Entities:       convertEntities(entities),
		ReplyToBot:     msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && me.ID != 0 && msg.ReplyToMessage.From.ID == me.ID,
		Bot:            me,
	})
	r.tracer.SetAttributes(span, "telegram.access", string(decision.Reason))
	if !decision.Allowed {
		a.logger.Debug("inbound message denied",
			"chat_key", key,
			"sender_id", senderID,
			"reason", decision.Reason)
		r.metrics.AccessDenied(a.id, string(decision.Reason))
		return nil
	}
	if !decision.ShouldProcess() {
		a.logger.Debug("group message without mention ignored", "chat_key", key, "sender_id", senderID)
		r.metrics.AccessDenied(a.id, "mention-required")
		return nil
	}

	content := strings.TrimSpace(text)
	if kind.IsGroup() {
		content = access.StripMention(content, me.Username)
	}
	refs := extractMedia(msg)
	if content == "" && len(refs) == 0 {
		return nil
	}

	var attachments []tgatemodels.Attachment
	if len(refs) > 0 {
		if in := a.currentIngestor(); in != nil {
			attachments = in.Ingest(ctx, refs)
		}
	}

	event := tgatemodels.InboundEvent{
		ID:        uuid.NewString(),
		Channel:   tgatemodels.ChannelTelegram,
		AccountID: a.id,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Metadata: tgatemodels.InboundMetadata{
			SessionKey:     tgatemodels.SessionKey(tgatemodels.ChannelTelegram, kind, senderID, chatID, threadID),
			MessageID:      msg.ID,
			IsGroup:        kind.IsGroup(),
			ThreadID:       threadID,
			Media:          refs,
			SenderName:     displayName(msg.From),
			SenderUsername: msg.From.Username,
		},
		Attachments: attachments,
		ReceivedAt:  item.receivedAt,
	}
	if msg.ReplyToMessage != nil {
		event.Metadata.ReplyToMessageID = msg.ReplyToMessage.ID
	}

	if err = r.bus.Publish(ctx, event); err != nil {
		a.logger.Error("failed to publish inbound event", "chat_key", key, "error", err)
		r.metrics.EventPublished(a.id, "failed")
		return err
	}
	r.metrics.EventPublished(a.id, "ok")
	a.logger.Debug("inbound event published",
		"chat_key", key,
		"session_key", event.Metadata.SessionKey,
		"attachments", len(attachments))
	return nil
}

func chatKind(msg *models.Message) tgatemodels.ChatKind {
	if string(msg.Chat.Type) == "private" {
		return tgatemodels.ChatDirect
	}
	if msg.Chat.IsForum && msg.MessageThreadID != 0 {
		return tgatemodels.ChatTopic
	}
	return tgatemodels.ChatGroup
}

func convertEntities(in []models.MessageEntity) []access.Entity {
	if len(in) == 0 {
		return nil
	}
	out := make([]access.Entity, 0, len(in))
	for _, e := range in {
		ent := access.Entity{Type: string(e.Type), Offset: e.Offset, Length: e.Length}
		if e.User != nil {
			ent.UserID = e.User.ID
		}
		out = append(out, ent)
	}
	return out
}

func displayName(u *models.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}
