package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mockKeychain is a test double for the Keychain interface.
type mockKeychain struct {
	values map[string]string
	err    error
}

func newMockKeychain() *mockKeychain {
	return &mockKeychain{values: make(map[string]string)}
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.values[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	m.values[service+"/"+account] = value
	return nil
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{}`)

	cfg, err := loadFromPath(path, newMockKeychain())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Research.BaseURL != "http://localhost:3000" {
		t.Errorf("Research.BaseURL = %q", cfg.Research.BaseURL)
	}
	if cfg.History.MaxItems != 50 {
		t.Errorf("History.MaxItems = %d, want 50", cfg.History.MaxItems)
	}
	if cfg.Polling.AuthFailureLimit != 0 {
		t.Errorf("Polling.AuthFailureLimit = %d, want 0", cfg.Polling.AuthFailureLimit)
	}
	if !cfg.Notify.Bell {
		t.Error("Notify.Bell = false, want true")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Metrics.Namespace != "deepdesk" {
		t.Errorf("Metrics.Namespace = %q", cfg.Metrics.Namespace)
	}
	if cfg.Research.AccessToken != "" {
		t.Errorf("Research.AccessToken = %q, want empty", cfg.Research.AccessToken)
	}
}

// TestFileParsing verifies that fields are read from the JSON backend.
func TestFileParsing(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{
  "server.port": 5000,
  "research.base_url": "https://research.internal",
  "research.app_url": "https://app.internal",
  "research.alert_email": "analyst@example.com",
  "storage.data_dir": "/tmp/deepdesk-test",
  "history.max_items": 10,
  "polling.auth_failure_limit": "3",
  "notify.bell": "false",
  "log.level": "debug"
}`)

	cfg, err := loadFromPath(path, newMockKeychain())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Research.BaseURL != "https://research.internal" {
		t.Errorf("Research.BaseURL = %q", cfg.Research.BaseURL)
	}
	if cfg.ShareBaseURL() != "https://app.internal" {
		t.Errorf("ShareBaseURL = %q", cfg.ShareBaseURL())
	}
	if cfg.Research.AlertEmail != "analyst@example.com" {
		t.Errorf("Research.AlertEmail = %q", cfg.Research.AlertEmail)
	}
	if cfg.Storage.DataDir != "/tmp/deepdesk-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.History.MaxItems != 10 {
		t.Errorf("History.MaxItems = %d", cfg.History.MaxItems)
	}
	if cfg.Polling.AuthFailureLimit != 3 {
		t.Errorf("Polling.AuthFailureLimit = %d", cfg.Polling.AuthFailureLimit)
	}
	if cfg.Notify.Bell {
		t.Error("Notify.Bell = true, want false")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"server.port": 5000, "research.base_url": "https://file"}`)

	t.Setenv("DEEPDESK_SERVER_PORT", "6000")
	t.Setenv("DEEPDESK_RESEARCH_BASE_URL", "https://env")
	t.Setenv("DEEPDESK_ACCESS_TOKEN", "env-token")

	kc := newMockKeychain()
	kc.values["deepdesk/access_token"] = "keychain-token"

	cfg, err := loadFromPath(path, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Research.BaseURL != "https://env" {
		t.Errorf("Research.BaseURL = %q", cfg.Research.BaseURL)
	}
	if cfg.Research.AccessToken != "env-token" {
		t.Errorf("AccessToken = %q, want env-token", cfg.Research.AccessToken)
	}
	if cfg.ShareBaseURL() != "https://env" {
		t.Errorf("ShareBaseURL = %q, want base url fallback", cfg.ShareBaseURL())
	}
}

// TestEnvOverride_InvalidIntKeepsValue verifies unparsable env values are ignored.
func TestEnvOverride_InvalidIntKeepsValue(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{}`)
	t.Setenv("DEEPDESK_SERVER_PORT", "not-a-port")

	cfg, err := loadFromPath(path, newMockKeychain())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want default 4100", cfg.Server.Port)
	}
}

// TestKeychainFallback verifies the secret store is consulted when no token is in env.
func TestKeychainFallback(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{}`)

	kc := newMockKeychain()
	if err := SetAccessToken(kc, "  keychain-secret\n"); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadFromPath(path, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Research.AccessToken != "keychain-secret" {
		t.Errorf("AccessToken = %q, want %q", cfg.Research.AccessToken, "keychain-secret")
	}
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"zero history", `{"history.max_items": 0}`, "history.max_items"},
		{"negative auth limit", `{"polling.auth_failure_limit": -1}`, "polling.auth_failure_limit"},
		{"empty base url", `{"research.base_url": ""}`, "research.base_url"},
		{"non-integer port", `{"server.port": 1.5}`, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := loadFromPath(writeTempConfig(t, tt.content), newMockKeychain())
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestGetAPIToken_GeneratesOnce(t *testing.T) {
	kc := newMockKeychain()
	first, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(first) != 32 {
		t.Errorf("token length = %d, want 32", len(first))
	}
	second, err := GetAPIToken(kc)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("token changed between calls: %q vs %q", first, second)
	}
}

func TestSetKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	b := newFileBackend(path)

	if err := setKey(b, "history.max_items", "25"); err != nil {
		t.Fatalf("setKey int: %v", err)
	}
	if err := setKey(b, "notify.bell", "0"); err != nil {
		t.Fatalf("setKey bool: %v", err)
	}
	if err := setKey(b, "research.alert_email", "a@b.co"); err != nil {
		t.Fatalf("setKey string: %v", err)
	}

	clearEnv(t)
	cfg, err := loadFromPath(path, newMockKeychain())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.History.MaxItems != 25 || cfg.Notify.Bell || cfg.Research.AlertEmail != "a@b.co" {
		t.Errorf("round trip mismatch: %+v", cfg)
	}

	if err := setKey(b, "history.max_items", "many"); err == nil {
		t.Error("expected error for non-integer value")
	}
	if err := setKey(b, "research.access_token", "x"); err == nil {
		t.Error("expected error for secret key")
	}
	if err := setKey(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Research.AccessToken = "hidden"
	for _, k := range ShowAll(cfg) {
		if k.Key == "research.access_token" || k.Value == "hidden" {
			t.Errorf("secret leaked: %+v", k)
		}
	}
	if got, want := len(ValidKeys()), len(specs)-1; got != want {
		t.Errorf("ValidKeys = %d, want %d", got, want)
	}
}
