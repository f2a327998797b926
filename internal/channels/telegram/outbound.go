package telegram

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/tgate/internal/channels"
	"github.com/haasonsaas/tgate/internal/channels/chunk"
	"github.com/haasonsaas/tgate/internal/markdown"
	"github.com/haasonsaas/tgate/internal/media"
	tgatemodels "github.com/haasonsaas/tgate/pkg/models"
)

// Send delivers an outbound request through the owning account. Failures
// are reported in the result as well as the returned error.
func (r *Registry) Send(ctx context.Context, req tgatemodels.OutboundRequest) (tgatemodels.SendResult, error) {
	result := tgatemodels.SendResult{ChatID: req.ChatID}
	a, err := r.lookup(req.AccountID)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	client, _, err := a.runtime()
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	if strings.TrimSpace(req.ChatID) == "" {
		err := channels.ErrInvalidInput("chat id is required", nil)
		result.Error = err.Error()
		return result, err
	}

	kind := string(req.Type)
	if kind == "" {
		kind = string(tgatemodels.OutboundMessage)
	}

	ctx, span := r.tracer.TraceSend(ctx, a.id, req.ChatID, kind)
	defer span.End()

	var id int
	switch req.Type {
	case tgatemodels.OutboundTypingOn:
		a.sendTyping(ctx, client, req)
	case tgatemodels.OutboundTypingOff:
		// Telegram clears the indicator on the next message.
	case tgatemodels.OutboundMessage, "":
		if req.MediaURL != "" || req.MediaData != "" {
			kind = "media"
			id, err = a.sendMedia(ctx, client, req)
		} else {
			kind = "text"
			id, err = a.sendText(ctx, client, req)
		}
	default:
		err = channels.ErrInvalidInput("unknown outbound type "+string(req.Type), nil)
	}

	if err != nil {
		a.logger.Warn("outbound send failed",
			"chat_id", req.ChatID,
			"kind", kind,
			"error", err)
		r.metrics.RecordSend(a.id, kind, "failed")
		r.tracer.RecordError(span, err)
		result.Error = err.Error()
		return result, err
	}
	r.metrics.RecordSend(a.id, kind, "ok")
	r.tracer.SetAttributes(span, "telegram.message_id", id)
	result.MessageID = id
	result.Success = true
	return result, nil
}

// chatTarget converts a chat id string into what the Bot API accepts:
// a numeric id or an @channel username.
func chatTarget(chatID string) any {
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return id
	}
	return chatID
}

func (a *account) chatKey(chatID string) string {
	return a.id + ":" + chatID
}

// sendTyping is best effort; errors are only logged.
func (a *account) sendTyping(ctx context.Context, client BotClient, req tgatemodels.OutboundRequest) {
	_, err := client.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID:          chatTarget(req.ChatID),
		Action:          models.ChatActionTyping,
		MessageThreadID: req.ThreadID,
	})
	if err != nil {
		a.logger.Debug("typing indicator failed", "chat_id", req.ChatID, "error", err)
	}
}

// sendText renders markdown to Telegram HTML and sends it in chunks. A chunk
// that fails to parse or keeps failing transiently is resent once as plain
// text. The id of the first message is returned.
func (a *account) sendText(ctx context.Context, client BotClient, req tgatemodels.OutboundRequest) (int, error) {
	chunks := chunk.Markdown(req.Content, chunk.TelegramLimit)
	if len(chunks) == 0 || strings.TrimSpace(req.Content) == "" {
		return 0, channels.ErrInvalidInput("message content is empty", nil)
	}

	first := 0
	for i, c := range chunks {
		params := &bot.SendMessageParams{
			ChatID:              chatTarget(req.ChatID),
			MessageThreadID:     req.ThreadID,
			DisableNotification: req.Silent,
		}
		if i == 0 && req.ReplyToMessageID != 0 {
			params.ReplyParameters = &models.ReplyParameters{MessageID: req.ReplyToMessageID}
		}
		id, err := a.sendFormatted(ctx, client, params, c, req.ChatID)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = id
		}
	}
	return first, nil
}

func (a *account) sendFormatted(ctx context.Context, client BotClient, params *bot.SendMessageParams, text, chatID string) (int, error) {
	var msg *models.Message
	send := func() error {
		m, err := client.SendMessage(ctx, params)
		msg = m
		return err
	}

	if html := markdown.ToTelegramHTML(text, a.tables); html != "" {
		params.Text = html
		params.ParseMode = models.ParseModeHTML
		err := a.call(ctx, "sendMessage", a.chatKey(chatID), send)
		if err == nil {
			return messageID(msg), nil
		}
		if !isFormattingError(err) && !channels.IsRetryable(err) {
			return 0, err
		}
		a.logger.Warn("formatted send failed, resending as plain text", "chat_id", chatID, "error", err)
	}

	params.Text = text
	params.ParseMode = ""
	if err := a.call(ctx, "sendMessage", a.chatKey(chatID), send); err != nil {
		return 0, err
	}
	return messageID(msg), nil
}

// sendMedia sends a photo, video, audio or document by URL or base64 data,
// with the content as caption.
func (a *account) sendMedia(ctx context.Context, client BotClient, req tgatemodels.OutboundRequest) (int, error) {
	var file models.InputFile
	if req.MediaURL != "" {
		file = &models.InputFileString{Data: req.MediaURL}
	} else {
		data, err := base64.StdEncoding.DecodeString(req.MediaData)
		if err != nil {
			return 0, channels.ErrInvalidInput("media data is not valid base64", err)
		}
		name := req.MediaName
		if name == "" {
			name = "file" + media.ExtensionFor(mediaMIME(req))
		}
		file = &models.InputFileUpload{Filename: name, Data: bytes.NewReader(data)}
	}

	caption := ""
	parseMode := models.ParseMode("")
	if strings.TrimSpace(req.Content) != "" {
		caption = markdown.ToTelegramHTML(req.Content, a.tables)
		parseMode = models.ParseModeHTML
	}
	var reply *models.ReplyParameters
	if req.ReplyToMessageID != 0 {
		reply = &models.ReplyParameters{MessageID: req.ReplyToMessageID}
	}
	chatID := chatTarget(req.ChatID)

	var msg *models.Message
	send := func() error {
		var err error
		if upload, ok := file.(*models.InputFileUpload); ok {
			// The reader is consumed by a failed attempt.
			if r, ok := upload.Data.(*bytes.Reader); ok {
				_, _ = r.Seek(0, io.SeekStart)
			}
		}
		switch mediaKind(req) {
		case media.KindImage:
			msg, err = client.SendPhoto(ctx, &bot.SendPhotoParams{
				ChatID: chatID, Photo: file, Caption: caption, ParseMode: parseMode,
				MessageThreadID: req.ThreadID, ReplyParameters: reply, DisableNotification: req.Silent,
			})
		case media.KindVideo, media.KindAnimation:
			msg, err = client.SendVideo(ctx, &bot.SendVideoParams{
				ChatID: chatID, Video: file, Caption: caption, ParseMode: parseMode,
				MessageThreadID: req.ThreadID, ReplyParameters: reply, DisableNotification: req.Silent,
			})
		case media.KindAudio, media.KindVoice:
			msg, err = client.SendAudio(ctx, &bot.SendAudioParams{
				ChatID: chatID, Audio: file, Caption: caption, ParseMode: parseMode,
				MessageThreadID: req.ThreadID, ReplyParameters: reply, DisableNotification: req.Silent,
			})
		default:
			msg, err = client.SendDocument(ctx, &bot.SendDocumentParams{
				ChatID: chatID, Document: file, Caption: caption, ParseMode: parseMode,
				MessageThreadID: req.ThreadID, ReplyParameters: reply, DisableNotification: req.Silent,
			})
		}
		return err
	}

	err := a.call(ctx, "sendMedia", a.chatKey(req.ChatID), send)
	if err != nil && isFormattingError(err) && caption != "" {
		caption, parseMode = req.Content, ""
		err = a.call(ctx, "sendMedia", a.chatKey(req.ChatID), send)
	}
	if err != nil {
		return 0, err
	}
	return messageID(msg), nil
}

// mediaKind picks the send method from the declared media type, falling
// back to the MIME type implied by the URL or file name.
func mediaKind(req tgatemodels.OutboundRequest) media.Kind {
	switch t := strings.ToLower(req.MediaType); {
	case t == "image" || t == "photo" || strings.HasPrefix(t, "image/"):
		return media.KindImage
	case t == "video" || t == "animation" || strings.HasPrefix(t, "video/"):
		return media.KindVideo
	case t == "audio" || t == "voice" || strings.HasPrefix(t, "audio/"):
		return media.KindAudio
	case t == "document":
		return media.KindDocument
	}
	switch m := mediaMIME(req); {
	case strings.HasPrefix(m, "image/"):
		return media.KindImage
	case strings.HasPrefix(m, "video/"):
		return media.KindVideo
	case strings.HasPrefix(m, "audio/"):
		return media.KindAudio
	default:
		return media.KindDocument
	}
}

func mediaMIME(req tgatemodels.OutboundRequest) string {
	if strings.Contains(req.MediaType, "/") {
		return strings.ToLower(req.MediaType)
	}
	if m := media.MIMEFromPath(req.MediaName); m != "" {
		return m
	}
	return media.MIMEFromPath(req.MediaURL)
}

func messageID(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	return msg.ID
}
