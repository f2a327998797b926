package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationError collects every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	var issues []string
	if err := ValidateVersion(c.Version); err != nil {
		issues = append(issues, err.Error())
	}

	switch c.Offsets.Backend {
	case "file":
		if strings.TrimSpace(c.Offsets.Path) == "" {
			issues = append(issues, "offsets.path is required for the file backend")
		}
	case "sql":
		switch c.Offsets.Driver {
		case "sqlite", "sqlite3", "postgres":
		default:
			issues = append(issues, fmt.Sprintf("offsets.driver %q must be sqlite, sqlite3 or postgres", c.Offsets.Driver))
		}
		if strings.TrimSpace(c.Offsets.DSN) == "" {
			issues = append(issues, "offsets.dsn is required for the sql backend")
		}
	default:
		issues = append(issues, fmt.Sprintf("offsets.backend %q must be file or sql", c.Offsets.Backend))
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		issues = append(issues, "tracing.sampling_rate must be between 0 and 1")
	}
	if c.Offsets.FlushInterval < 0 {
		issues = append(issues, "offsets.flush_interval must not be negative")
	}

	for id, acct := range c.Telegram.Accounts {
		issues = append(issues, validateAccount(id, acct)...)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validateAccount(id string, acct AccountConfig) []string {
	var issues []string
	prefix := "telegram.accounts." + id
	if strings.TrimSpace(id) == "" || strings.Contains(id, ":") {
		issues = append(issues, fmt.Sprintf("account id %q must be non-empty and must not contain ':'", id))
	}
	if acct.IsEnabled() && strings.TrimSpace(acct.BotToken) == "" {
		issues = append(issues, prefix+".bot_token is required")
	}
	if !acct.DMPolicy.Valid() {
		issues = append(issues, fmt.Sprintf("%s.dm_policy %q is invalid", prefix, acct.DMPolicy))
	}
	if !acct.GroupPolicy.Valid() {
		issues = append(issues, fmt.Sprintf("%s.group_policy %q is invalid", prefix, acct.GroupPolicy))
	}
	if acct.QueueDepth < 0 {
		issues = append(issues, prefix+".queue_depth must not be negative")
	}
	switch acct.Markdown.Tables {
	case "", "off", "bullets", "code":
	default:
		issues = append(issues, fmt.Sprintf("%s.markdown.tables %q is invalid", prefix, acct.Markdown.Tables))
	}
	for groupID, group := range acct.Groups {
		gp := prefix + ".groups." + groupID
		if groupID != "*" {
			if _, err := strconv.ParseInt(groupID, 10, 64); err != nil {
				issues = append(issues, gp+": group key must be a chat id or *")
			}
		}
		if !group.GroupPolicy.Valid() {
			issues = append(issues, fmt.Sprintf("%s.group_policy %q is invalid", gp, group.GroupPolicy))
		}
		for topicID, topic := range group.Topics {
			if _, err := strconv.Atoi(topicID); err != nil {
				issues = append(issues, gp+".topics."+topicID+": topic key must be a thread id")
			}
			if !topic.GroupPolicy.Valid() {
				issues = append(issues, fmt.Sprintf("%s.topics.%s.group_policy %q is invalid", gp, topicID, topic.GroupPolicy))
			}
		}
	}
	return issues
}
