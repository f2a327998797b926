// Package access decides whether an inbound message may reach the agent.
//
// Evaluate is pure: it reads only its Input and the account configuration
// passed in, and never touches the network.
package access

import (
	"strconv"

	"github.com/haasonsaas/tgate/internal/config"
	"github.com/haasonsaas/tgate/pkg/models"
)

// Reason explains why a message was rejected.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonGroupDisabled Reason = "group-disabled"
	ReasonTopicDisabled Reason = "topic-disabled"
	ReasonUnauthorized  Reason = "unauthorized"
	ReasonPolicyBlocked Reason = "policy-blocked"
)

// Entity is a message entity with UTF-16 offsets, as delivered by the platform.
type Entity struct {
	Type   string
	Offset int
	Length int
	// UserID is set for text_mention entities.
	UserID int64
}

// BotIdentity is the cached identity of the account's bot.
type BotIdentity struct {
	ID       int64
	Username string
}

// Input carries everything needed to decide on one message.
type Input struct {
	Account        *config.AccountConfig
	Kind           models.ChatKind
	ChatID         string
	ThreadID       int
	SenderID       string
	SenderUsername string
	Text           string
	Entities       []Entity
	// ReplyToBot is true when the message replies to one of the bot's messages.
	ReplyToBot bool
	Bot        BotIdentity
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed bool
	Reason  Reason
	// RequireMention is the resolved mention requirement (groups only).
	RequireMention bool
	// Mentioned reports whether the bot was addressed.
	Mentioned bool
}

// ShouldProcess reports whether the message passes access control and the
// mention requirement.
func (d Decision) ShouldProcess() bool {
	return d.Allowed && (!d.RequireMention || d.Mentioned)
}

func deny(reason Reason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Evaluate applies base access, policy access and the mention requirement.
func Evaluate(in Input) Decision {
	acct := in.Account
	if acct == nil {
		acct = &config.AccountConfig{}
	}

	if !in.Kind.IsGroup() {
		switch acct.DMPolicy {
		case config.PolicyDisabled:
			return deny(ReasonPolicyBlocked)
		case config.PolicyAllowlist:
			if len(acct.AllowFrom) == 0 {
				return deny(ReasonPolicyBlocked)
			}
			if !senderMatches(acct.AllowFrom, in.SenderID, in.SenderUsername) {
				return deny(ReasonUnauthorized)
			}
		}
		return Decision{Allowed: true}
	}

	scope := ResolveScope(acct, in.ChatID, in.ThreadID)
	if !scope.GroupEnabled || scope.Policy == config.PolicyDisabled {
		return deny(ReasonGroupDisabled)
	}
	if !scope.TopicEnabled {
		return deny(ReasonTopicDisabled)
	}

	if len(scope.AllowFrom) > 0 {
		if !senderMatches(scope.AllowFrom, in.SenderID, in.SenderUsername) {
			return deny(ReasonUnauthorized)
		}
	} else if scope.Policy == config.PolicyAllowlist {
		allow := acct.GroupAllowFrom
		if len(allow) == 0 {
			allow = acct.AllowFrom
		}
		if len(allow) == 0 {
			return deny(ReasonPolicyBlocked)
		}
		if !senderMatches(allow, in.SenderID, in.SenderUsername) {
			return deny(ReasonUnauthorized)
		}
	}

	return Decision{
		Allowed:        true,
		RequireMention: scope.RequireMention,
		Mentioned:      Mentioned(in),
	}
}

// Scope is the effective configuration for one group chat or topic.
type Scope struct {
	GroupEnabled   bool
	TopicEnabled   bool
	Policy         config.Policy
	AllowFrom      []string
	RequireMention bool
}

// ResolveScope merges topic, group, wildcard group and account settings.
// A topic without an explicit entry inherits the group's settings.
func ResolveScope(acct *config.AccountConfig, chatID string, threadID int) Scope {
	group, hasGroup := acct.Groups[chatID]
	wildcard, hasWildcard := acct.Groups["*"]

	var topic config.TopicConfig
	hasTopic := false
	if threadID != 0 {
		key := strconv.Itoa(threadID)
		if hasGroup {
			topic, hasTopic = group.Topics[key]
		}
		if !hasTopic && hasWildcard {
			topic, hasTopic = wildcard.Topics[key]
		}
	}

	scope := Scope{
		GroupEnabled: true,
		TopicEnabled: true,
		Policy:       acct.GroupPolicy,
	}
	if scope.Policy == "" {
		scope.Policy = config.PolicyOpen
	}

	switch {
	case hasGroup && group.Enabled != nil:
		scope.GroupEnabled = *group.Enabled
	case hasWildcard && wildcard.Enabled != nil:
		scope.GroupEnabled = *wildcard.Enabled
	}
	if hasTopic && topic.Enabled != nil {
		scope.TopicEnabled = *topic.Enabled
	}

	switch {
	case hasTopic && topic.GroupPolicy != "":
		scope.Policy = topic.GroupPolicy
	case hasGroup && group.GroupPolicy != "":
		scope.Policy = group.GroupPolicy
	case hasWildcard && wildcard.GroupPolicy != "":
		scope.Policy = wildcard.GroupPolicy
	}

	switch {
	case hasTopic && len(topic.AllowFrom) > 0:
		scope.AllowFrom = topic.AllowFrom
	case hasGroup && len(group.AllowFrom) > 0:
		scope.AllowFrom = group.AllowFrom
	case hasWildcard && len(wildcard.AllowFrom) > 0:
		scope.AllowFrom = wildcard.AllowFrom
	}

	scope.RequireMention = true
	switch {
	case hasTopic && topic.RequireMention != nil:
		scope.RequireMention = *topic.RequireMention
	case hasGroup && group.RequireMention != nil:
		scope.RequireMention = *group.RequireMention
	case hasWildcard && wildcard.RequireMention != nil:
		scope.RequireMention = *wildcard.RequireMention
	case acct.RequireMention != nil:
		scope.RequireMention = *acct.RequireMention
	}
	return scope
}
