package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "tgate.yaml", `
telegram:
  accounts:
    main:
      bot_token: "123:abc"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	acct := cfg.Telegram.Accounts["main"]
	if acct.APIRoot != DefaultAPIRoot {
		t.Errorf("APIRoot = %q, want %q", acct.APIRoot, DefaultAPIRoot)
	}
	if acct.DMPolicy != PolicyOpen || acct.GroupPolicy != PolicyOpen {
		t.Errorf("policies = %q/%q, want open/open", acct.DMPolicy, acct.GroupPolicy)
	}
	if acct.RequireMention == nil || !*acct.RequireMention {
		t.Error("RequireMention should default to true")
	}
	if acct.Stream.Throttle != time.Second {
		t.Errorf("Stream.Throttle = %v, want 1s", acct.Stream.Throttle)
	}
	if cfg.Offsets.Backend != "file" || cfg.Offsets.Path == "" {
		t.Errorf("offsets = %+v, want file backend with a path", cfg.Offsets)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "tgate.yaml", `
telegram:
  accounts:
    main:
      bot_token: "123:abc"
      extra: true
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadValidatesPolicies(t *testing.T) {
	path := writeConfig(t, "tgate.yaml", `
telegram:
  accounts:
    main:
      bot_token: "123:abc"
      group_policy: sometimes
      groups:
        "-100":
          topics:
            general: {}
`)

	_, err := Load(path)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "group_policy") {
		t.Errorf("expected group_policy issue, got %v", msg)
	}
	if !strings.Contains(msg, "topic key") {
		t.Errorf("expected topic key issue, got %v", msg)
	}
}

func TestLoadRequiresTokenForEnabledAccounts(t *testing.T) {
	path := writeConfig(t, "tgate.yaml", `
telegram:
  accounts:
    main: {}
    spare:
      enabled: false
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "main.bot_token") {
		t.Errorf("expected main.bot_token issue, got %v", err)
	}
	if strings.Contains(err.Error(), "spare.bot_token") {
		t.Errorf("disabled account should not require a token: %v", err)
	}
}

func TestLoadResolvesIncludesAndEnv(t *testing.T) {
	t.Setenv("TGATE_TEST_TOKEN", "999:xyz")
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte(`
logging:
  level: debug
telegram:
  accounts:
    main:
      bot_token: placeholder
      dm_policy: allowlist
`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	main := filepath.Join(dir, "tgate.json5")
	if err := os.WriteFile(main, []byte(`{
  // comments are allowed in json5
  "$include": "base.yaml",
  telegram: { accounts: { main: { bot_token: "${TGATE_TEST_TOKEN}", allow_from: ["42"] } } },
}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	acct := cfg.Telegram.Accounts["main"]
	if acct.BotToken != "999:xyz" {
		t.Errorf("BotToken = %q, want env expansion", acct.BotToken)
	}
	if acct.DMPolicy != PolicyAllowlist {
		t.Errorf("DMPolicy = %q, want allowlist from include", acct.DMPolicy)
	}
	if len(acct.AllowFrom) != 1 || acct.AllowFrom[0] != "42" {
		t.Errorf("AllowFrom = %v, want [42]", acct.AllowFrom)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte(`$include: b.yaml`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte(`$include: a.yaml`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(a)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestValidateSQLBackend(t *testing.T) {
	cfg := &Config{Offsets: OffsetsConfig{Backend: "sql", Driver: "mysql"}}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for unsupported driver and missing dsn")
	}
	if !strings.Contains(err.Error(), "offsets.driver") || !strings.Contains(err.Error(), "offsets.dsn") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	if !strings.Contains(string(data), "bot_token") {
		t.Error("schema should use yaml field names")
	}
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
