package access

import (
	"strings"
	"unicode/utf16"
)

// Mentioned reports whether the message addresses the bot: a reply to a bot
// message, a text_mention of the bot user, a mention entity or a literal
// @username in the text.
func Mentioned(in Input) bool {
	if in.ReplyToBot {
		return true
	}
	username := strings.TrimPrefix(strings.TrimSpace(in.Bot.Username), "@")
	for _, e := range in.Entities {
		switch e.Type {
		case "text_mention":
			if in.Bot.ID != 0 && e.UserID == in.Bot.ID {
				return true
			}
		case "mention":
			if username == "" {
				continue
			}
			if strings.EqualFold(entityText(in.Text, e), "@"+username) {
				return true
			}
		}
	}
	if username == "" {
		return false
	}
	_, ok := findMention(in.Text, username)
	return ok
}

// StripMention removes every @username mention of the bot and tidies
// the surrounding whitespace.
func StripMention(text, username string) string {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return strings.TrimSpace(text)
	}
	for {
		idx, ok := findMention(text, username)
		if !ok {
			break
		}
		text = text[:idx] + text[idx+len(username)+1:]
	}
	return strings.Join(strings.Fields(text), " ")
}

// entityText slices text by UTF-16 offsets.
func entityText(text string, e Entity) string {
	units := utf16.Encode([]rune(text))
	if e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
}

// findMention returns the byte index of "@username" in text where the match
// is neither preceded nor followed by another username character. Usernames
// are ASCII.
func findMention(text, username string) (int, bool) {
	n := len(username)
	for i := 0; i+n < len(text); i++ {
		if text[i] != '@' || !strings.EqualFold(text[i+1:i+1+n], username) {
			continue
		}
		if i > 0 && isUsernameByte(text[i-1]) {
			continue
		}
		end := i + 1 + n
		if end < len(text) && isUsernameByte(text[end]) {
			continue
		}
		return i, true
	}
	return 0, false
}

func isUsernameByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
