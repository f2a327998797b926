package access

import "strings"

// senderMatches reports whether the sender id or username appears in allow.
// A "*" entry matches everyone.
func senderMatches(allow []string, senderID, username string) bool {
	id := normalizeAllowToken(senderID)
	user := normalizeAllowToken(username)
	for _, entry := range allow {
		token := normalizeAllowToken(entry)
		if token == "" {
			continue
		}
		if token == "*" {
			return true
		}
		if id != "" && token == id {
			return true
		}
		if user != "" && token == user {
			return true
		}
	}
	return false
}

// normalizeAllowToken trims whitespace, a leading @ and a telegram:/tg:
// prefix, then lowercases.
func normalizeAllowToken(value string) string {
	token := strings.TrimSpace(value)
	if token == "" {
		return ""
	}
	lower := strings.ToLower(token)
	for _, prefix := range []string{"telegram:", "tg:"} {
		if strings.HasPrefix(lower, prefix) {
			lower = lower[len(prefix):]
			break
		}
	}
	lower = strings.TrimPrefix(strings.TrimSpace(lower), "@")
	return strings.TrimSpace(lower)
}
