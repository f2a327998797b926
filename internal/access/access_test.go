package access

import (
	"testing"

	"github.com/haasonsaas/tgate/internal/config"
	"github.com/haasonsaas/tgate/pkg/models"
)

func boolPtr(v bool) *bool { return &v }

func account(mutate func(*config.AccountConfig)) *config.AccountConfig {
	acct := &config.AccountConfig{BotToken: "1:x"}
	if mutate != nil {
		mutate(acct)
	}
	config.ApplyAccountDefaults(acct)
	return acct
}

var bot = BotIdentity{ID: 777, Username: "tgate_bot"}

func TestEvaluateDirect(t *testing.T) {
	tests := []struct {
		name    string
		acct    *config.AccountConfig
		sender  string
		user    string
		allowed bool
		reason  Reason
	}{
		{
			name:    "open allows unknown sender",
			acct:    account(nil),
			sender:  "99",
			allowed: true,
		},
		{
			name:   "disabled blocks",
			acct:   account(func(a *config.AccountConfig) { a.DMPolicy = config.PolicyDisabled }),
			sender: "42",
			reason: ReasonPolicyBlocked,
		},
		{
			name: "allowlist by id",
			acct: account(func(a *config.AccountConfig) {
				a.DMPolicy = config.PolicyAllowlist
				a.AllowFrom = []string{"42"}
			}),
			sender:  "42",
			allowed: true,
		},
		{
			name: "allowlist by username with prefix",
			acct: account(func(a *config.AccountConfig) {
				a.DMPolicy = config.PolicyAllowlist
				a.AllowFrom = []string{"telegram:@Alice"}
			}),
			sender:  "5",
			user:    "alice",
			allowed: true,
		},
		{
			name: "allowlist mismatch",
			acct: account(func(a *config.AccountConfig) {
				a.DMPolicy = config.PolicyAllowlist
				a.AllowFrom = []string{"42"}
			}),
			sender: "99",
			reason: ReasonUnauthorized,
		},
		{
			name:   "allowlist without entries",
			acct:   account(func(a *config.AccountConfig) { a.DMPolicy = config.PolicyAllowlist }),
			sender: "42",
			reason: ReasonPolicyBlocked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(Input{
				Account:        tt.acct,
				Kind:           models.ChatDirect,
				ChatID:         tt.sender,
				SenderID:       tt.sender,
				SenderUsername: tt.user,
				Text:           "hello",
				Bot:            bot,
			})
			if got.Allowed != tt.allowed || got.Reason != tt.reason {
				t.Errorf("Evaluate() = %+v, want allowed=%v reason=%q", got, tt.allowed, tt.reason)
			}
			if got.RequireMention {
				t.Error("direct chats never require a mention")
			}
		})
	}
}

func TestEvaluateGroup(t *testing.T) {
	tests := []struct {
		name     string
		acct     *config.AccountConfig
		chatID   string
		threadID int
		sender   string
		allowed  bool
		reason   Reason
	}{
		{
			name: "group allowlist admits listed sender",
			acct: account(func(a *config.AccountConfig) {
				a.GroupPolicy = config.PolicyAllowlist
				a.GroupAllowFrom = []string{"42"}
			}),
			chatID:  "-100",
			sender:  "42",
			allowed: true,
		},
		{
			name: "group allowlist rejects other sender",
			acct: account(func(a *config.AccountConfig) {
				a.GroupPolicy = config.PolicyAllowlist
				a.GroupAllowFrom = []string{"42"}
			}),
			chatID: "-100",
			sender: "99",
			reason: ReasonUnauthorized,
		},
		{
			name: "group allowlist falls back to allow_from",
			acct: account(func(a *config.AccountConfig) {
				a.GroupPolicy = config.PolicyAllowlist
				a.AllowFrom = []string{"42"}
			}),
			chatID:  "-100",
			sender:  "42",
			allowed: true,
		},
		{
			name:   "group allowlist with no entries",
			acct:   account(func(a *config.AccountConfig) { a.GroupPolicy = config.PolicyAllowlist }),
			chatID: "-100",
			sender: "42",
			reason: ReasonPolicyBlocked,
		},
		{
			name:   "account group policy disabled",
			acct:   account(func(a *config.AccountConfig) { a.GroupPolicy = config.PolicyDisabled }),
			chatID: "-100",
			sender: "42",
			reason: ReasonGroupDisabled,
		},
		{
			name: "group entry disabled",
			acct: account(func(a *config.AccountConfig) {
				a.Groups = map[string]config.GroupConfig{"-100": {Enabled: boolPtr(false)}}
			}),
			chatID: "-100",
			sender: "42",
			reason: ReasonGroupDisabled,
		},
		{
			name: "wildcard group disabled applies to unlisted chats",
			acct: account(func(a *config.AccountConfig) {
				a.Groups = map[string]config.GroupConfig{
					"*":    {Enabled: boolPtr(false)},
					"-200": {Enabled: boolPtr(true)},
				}
			}),
			chatID: "-100",
			sender: "42",
			reason: ReasonGroupDisabled,
		},
		{
			name: "explicit group wins over wildcard",
			acct: account(func(a *config.AccountConfig) {
				a.Groups = map[string]config.GroupConfig{
					"*":    {Enabled: boolPtr(false)},
					"-100": {Enabled: boolPtr(true)},
				}
			}),
			chatID:  "-100",
			sender:  "42",
			allowed: true,
		},
		{
			name: "group-level policy override disabled",
			acct: account(func(a *config.AccountConfig) {
				a.Groups = map[string]config.GroupConfig{"-100": {GroupPolicy: config.PolicyDisabled}}
			}),
			chatID: "-100",
			sender: "42",
			reason: ReasonGroupDisabled,
		},
		{
			name: "topic disabled",
			acct: account(func(a *config.AccountConfig) {
				a.Groups = map[string]config.GroupConfig{"-100": {
					Topics: map[string]config.TopicConfig{"7": {Enabled: boolPtr(false)}},
				}}
			}),
			chatID:   "-100",
			threadID: 7,
			sender:   "42",
			reason:   ReasonTopicDisabled,
		},
		{
			name: "topic without entry falls back to group",
			acct: account(func(a *config.AccountConfig) {
				a.Groups = map[string]config.GroupConfig{"-100": {
					AllowFrom: []string{"42"},
					Topics:    map[string]config.TopicConfig{"7": {Enabled: boolPtr(false)}},
				}}
			}),
			chatID:   "-100",
			threadID: 8,
			sender:   "42",
			allowed:  true,
		},
		{
			name: "group allow_from override rejects",
			acct: account(func(a *config.AccountConfig) {
				a.Groups = map[string]config.GroupConfig{"-100": {AllowFrom: []string{"42"}}}
			}),
			chatID: "-100",
			sender: "99",
			reason: ReasonUnauthorized,
		},
		{
			name: "override skips policy",
			acct: account(func(a *config.AccountConfig) {
				a.GroupPolicy = config.PolicyAllowlist
				a.Groups = map[string]config.GroupConfig{"-100": {AllowFrom: []string{"*"}}}
			}),
			chatID:  "-100",
			sender:  "99",
			allowed: true,
		},
		{
			name: "topic allow_from beats group allow_from",
			acct: account(func(a *config.AccountConfig) {
				a.Groups = map[string]config.GroupConfig{"-100": {
					AllowFrom: []string{"42"},
					Topics:    map[string]config.TopicConfig{"7": {AllowFrom: []string{"99"}}},
				}}
			}),
			chatID:   "-100",
			threadID: 7,
			sender:   "99",
			allowed:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind := models.ChatGroup
			if tt.threadID != 0 {
				kind = models.ChatTopic
			}
			got := Evaluate(Input{
				Account:  tt.acct,
				Kind:     kind,
				ChatID:   tt.chatID,
				ThreadID: tt.threadID,
				SenderID: tt.sender,
				Text:     "@tgate_bot hi",
				Bot:      bot,
			})
			if got.Allowed != tt.allowed || got.Reason != tt.reason {
				t.Errorf("Evaluate() = %+v, want allowed=%v reason=%q", got, tt.allowed, tt.reason)
			}
		})
	}
}

func TestGroupPolicyDisabledRejectsEverySender(t *testing.T) {
	acct := account(func(a *config.AccountConfig) {
		a.GroupPolicy = config.PolicyDisabled
		a.GroupAllowFrom = []string{"*"}
	})
	for _, sender := range []string{"1", "42", "99", "alice"} {
		got := Evaluate(Input{Account: acct, Kind: models.ChatGroup, ChatID: "-100", SenderID: sender, Bot: bot})
		if got.Allowed || got.Reason != ReasonGroupDisabled {
			t.Errorf("sender %s: Evaluate() = %+v, want group-disabled", sender, got)
		}
	}
}

func TestEvaluateMentionRequirement(t *testing.T) {
	tests := []struct {
		name          string
		acct          *config.AccountConfig
		in            Input
		requireMntn   bool
		mentioned     bool
		shouldProcess bool
	}{
		{
			name:          "missing mention is allowed but not processed",
			acct:          account(nil),
			in:            Input{Text: "hello everyone"},
			requireMntn:   true,
			shouldProcess: false,
		},
		{
			name:          "literal mention",
			acct:          account(nil),
			in:            Input{Text: "hey @TGate_Bot what's up"},
			requireMntn:   true,
			mentioned:     true,
			shouldProcess: true,
		},
		{
			name:          "longer username is not a mention",
			acct:          account(nil),
			in:            Input{Text: "ping @tgate_bot2"},
			requireMntn:   true,
			shouldProcess: false,
		},
		{
			name:          "username inside a longer word is not a mention",
			acct:          account(nil),
			in:            Input{Text: "write to me@tgate_bot"},
			requireMntn:   true,
			shouldProcess: false,
		},
		{
			name: "mention entity with utf16 offsets",
			acct: account(nil),
			in: Input{
				Text:     "😀 @tgate_bot",
				Entities: []Entity{{Type: "mention", Offset: 3, Length: 10}},
			},
			requireMntn:   true,
			mentioned:     true,
			shouldProcess: true,
		},
		{
			name: "text mention of bot user",
			acct: account(nil),
			in: Input{
				Text:     "Bot please",
				Entities: []Entity{{Type: "text_mention", Offset: 0, Length: 3, UserID: 777}},
			},
			requireMntn:   true,
			mentioned:     true,
			shouldProcess: true,
		},
		{
			name:          "reply to bot counts",
			acct:          account(nil),
			in:            Input{Text: "sure", ReplyToBot: true},
			requireMntn:   true,
			mentioned:     true,
			shouldProcess: true,
		},
		{
			name: "group override turns mention off",
			acct: account(func(a *config.AccountConfig) {
				a.Groups = map[string]config.GroupConfig{"-100": {RequireMention: boolPtr(false)}}
			}),
			in:            Input{Text: "hello"},
			shouldProcess: true,
		},
		{
			name: "wildcard mention setting applies under explicit group",
			acct: account(func(a *config.AccountConfig) {
				a.Groups = map[string]config.GroupConfig{
					"*":    {RequireMention: boolPtr(false)},
					"-100": {AllowFrom: []string{"*"}},
				}
			}),
			in:            Input{Text: "hello"},
			shouldProcess: true,
		},
		{
			name: "topic override turns mention back on",
			acct: account(func(a *config.AccountConfig) {
				a.RequireMention = boolPtr(false)
				a.Groups = map[string]config.GroupConfig{"-100": {
					Topics: map[string]config.TopicConfig{"7": {RequireMention: boolPtr(true)}},
				}}
			}),
			in:            Input{Text: "hello", ThreadID: 7, Kind: models.ChatTopic},
			requireMntn:   true,
			shouldProcess: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			in.Account = tt.acct
			if in.Kind == "" {
				in.Kind = models.ChatGroup
			}
			in.ChatID = "-100"
			in.SenderID = "42"
			in.Bot = bot

			got := Evaluate(in)
			if !got.Allowed {
				t.Fatalf("Evaluate() = %+v, want allowed at the policy layer", got)
			}
			if got.RequireMention != tt.requireMntn {
				t.Errorf("RequireMention = %v, want %v", got.RequireMention, tt.requireMntn)
			}
			if got.Mentioned != tt.mentioned {
				t.Errorf("Mentioned = %v, want %v", got.Mentioned, tt.mentioned)
			}
			if got.ShouldProcess() != tt.shouldProcess {
				t.Errorf("ShouldProcess() = %v, want %v", got.ShouldProcess(), tt.shouldProcess)
			}
		})
	}
}

func TestStripMention(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"@tgate_bot hello", "hello"},
		{"hello  @TGATE_BOT  there", "hello there"},
		{"@tgate_bot2 stays", "@tgate_bot2 stays"},
		{"no mention", "no mention"},
		{"@tgate_bot", ""},
		{"mail me@tgate_bot", "mail me@tgate_bot"},
		{"me@tgate_bot and @tgate_bot", "me@tgate_bot and"},
	}
	for _, tt := range tests {
		if got := StripMention(tt.text, "@tgate_bot"); got != tt.want {
			t.Errorf("StripMention(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestNormalizeAllowToken(t *testing.T) {
	tests := map[string]string{
		"  42 ":         "42",
		"@Alice":        "alice",
		"tg:@Bob":       "bob",
		"Telegram:123":  "123",
		"*":             "*",
		"":              "",
	}
	for in, want := range tests {
		if got := normalizeAllowToken(in); got != want {
			t.Errorf("normalizeAllowToken(%q) = %q, want %q", in, got, want)
		}
	}
}
