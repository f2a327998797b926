package models

import (
	"fmt"
	"strings"
	"time"
)

// ChannelType represents a messaging platform.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
)

// ChatKind classifies the conversation an update arrived in.
type ChatKind string

const (
	ChatDirect ChatKind = "direct"
	ChatGroup  ChatKind = "group"
	ChatTopic  ChatKind = "topic"
)

// IsGroup reports whether the chat kind is a group or a forum topic.
func (k ChatKind) IsGroup() bool {
	return k == ChatGroup || k == ChatTopic
}

// InboundEvent is the normalized message published to the bus for the agent.
type InboundEvent struct {
	ID          string          `json:"id"`
	Channel     ChannelType     `json:"channel"`
	AccountID   string          `json:"accountId"`
	SenderID    string          `json:"senderId"`
	ChatID      string          `json:"chatId"`
	Content     string          `json:"content"`
	Metadata    InboundMetadata `json:"metadata"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	ReceivedAt  time.Time       `json:"receivedAt"`
}

// InboundMetadata carries routing details for an inbound event.
type InboundMetadata struct {
	SessionKey       string     `json:"sessionKey"`
	MessageID        int        `json:"messageId"`
	IsGroup          bool       `json:"isGroup"`
	ThreadID         int        `json:"threadId,omitempty"`
	Media            []MediaRef `json:"media,omitempty"`
	SenderName       string     `json:"senderName,omitempty"`
	SenderUsername   string     `json:"senderUsername,omitempty"`
	ReplyToMessageID int        `json:"replyToMessageId,omitempty"`
}

// MediaRef references a file hosted by the platform.
type MediaRef struct {
	Type     string `json:"type"` // image, document, video, audio, voice, animation
	FileID   string `json:"fileId"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Attachment is a downloaded media item, inlined as base64.
type Attachment struct {
	Type     string `json:"type"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size"`
}

// OutboundType selects what an outbound request does.
type OutboundType string

const (
	OutboundMessage   OutboundType = "message"
	OutboundTypingOn  OutboundType = "typing_on"
	OutboundTypingOff OutboundType = "typing_off"

	// Draft reply requests. Updates carry the whole draft so far.
	OutboundStreamUpdate OutboundType = "stream_update"
	OutboundStreamEnd    OutboundType = "stream_end"
	OutboundStreamAbort  OutboundType = "stream_abort"
)

// OutboundRequest is a reply produced by the agent layer.
type OutboundRequest struct {
	AccountID        string       `json:"accountId,omitempty"`
	ChatID           string       `json:"chatId"`
	Content          string       `json:"content"`
	Type             OutboundType `json:"type,omitempty"`
	ThreadID         int          `json:"threadId,omitempty"`
	ReplyToMessageID int          `json:"replyToMessageId,omitempty"`
	MediaURL         string       `json:"mediaUrl,omitempty"`
	MediaData        string       `json:"mediaData,omitempty"` // base64
	MediaName        string       `json:"mediaName,omitempty"`
	MediaType        string       `json:"mediaType,omitempty"`
	Silent           bool         `json:"silent,omitempty"`
}

// SendResult reports the outcome of an outbound request.
type SendResult struct {
	MessageID int    `json:"messageId"`
	ChatID    string `json:"chatId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// SessionKey derives the conversation key shared with session storage.
// Direct chats key by sender; groups key by chat and, for forum topics, thread.
func SessionKey(channel ChannelType, kind ChatKind, senderID, chatID string, threadID int) string {
	ch := strings.ToLower(string(channel))
	if !kind.IsGroup() {
		return fmt.Sprintf("%s:dm:%s", ch, senderID)
	}
	key := fmt.Sprintf("%s:group:%s", ch, chatID)
	if kind == ChatTopic && threadID != 0 {
		key = fmt.Sprintf("%s:topic:%d", key, threadID)
	}
	return key
}
