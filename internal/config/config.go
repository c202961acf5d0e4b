package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	secretService      = "deepdesk"
	accessTokenAccount = "access_token"
	apiTokenAccount    = "api_token"
)

type Config struct {
	Server   ServerConfig
	Research ResearchConfig
	Storage  StorageConfig
	History  HistoryConfig
	Polling  PollingConfig
	Notify   NotifyConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	Port int
}

// ResearchConfig points at the research service. AccessToken is the
// credential used for authenticated status polls and writes; without it only
// public reports can be followed.
type ResearchConfig struct {
	BaseURL     string
	AppURL      string
	AccessToken string
	AlertEmail  string
}

type StorageConfig struct {
	DataDir string
}

type HistoryConfig struct {
	MaxItems int
}

// PollingConfig.AuthFailureLimit of 0 keeps polling through auth failures.
type PollingConfig struct {
	AuthFailureLimit int
}

type NotifyConfig struct {
	Bell bool
}

type LogConfig struct {
	Level string
}

type MetricsConfig struct {
	Namespace string
}

// ShareBaseURL is the web app root used for share links.
func (c Config) ShareBaseURL() string {
	if c.Research.AppURL != "" {
		return c.Research.AppURL
	}
	return c.Research.BaseURL
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Research: ResearchConfig{
			BaseURL: "http://localhost:3000",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		History: HistoryConfig{
			MaxItems: 50,
		},
		Notify: NotifyConfig{
			Bell: true,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Namespace: "deepdesk",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.deepdesk.app) and the
// access token falls back to the macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/deepdesk/config.json
// and secrets live in $XDG_DATA_HOME/deepdesk/secrets.json.
//
// Environment variables (DEEPDESK_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// keychain abstracts secret lookups for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

// Keychain reads and writes secrets in the platform secret store.
type Keychain interface {
	keychain
	Set(service, account, value string) error
}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return keychainStore{}
}

func loadFromPath(path string, kc keychain) (Config, error) {
	return loadWith(newFileBackend(path), kc)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Research.AccessToken == "" {
		if tok, err := kc.Get(secretService, accessTokenAccount); err == nil && tok != "" {
			cfg.Research.AccessToken = tok
		}
	}

	if cfg.Research.BaseURL == "" {
		return Config{}, fmt.Errorf("missing required config: research.base_url")
	}
	if cfg.History.MaxItems <= 0 {
		return Config{}, fmt.Errorf("invalid config: history.max_items must be positive, got %d", cfg.History.MaxItems)
	}
	if cfg.Polling.AuthFailureLimit < 0 {
		return Config{}, fmt.Errorf("invalid config: polling.auth_failure_limit must not be negative, got %d", cfg.Polling.AuthFailureLimit)
	}

	return cfg, nil
}

// SetAccessToken stores the research access token in the secret store.
func SetAccessToken(kc Keychain, token string) error {
	return kc.Set(secretService, accessTokenAccount, strings.TrimSpace(token))
}

// ReadAccessToken returns the research access token from the secret store.
func ReadAccessToken(kc Keychain) (string, error) {
	tok, err := kc.Get(secretService, accessTokenAccount)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(tok), nil
}

// GetAPIToken returns the bearer token protecting the local daemon API,
// generating and storing one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok, err := kc.Get(secretService, apiTokenAccount); err == nil && tok != "" {
		return tok, nil
	}
	tok := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := kc.Set(secretService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}

// keychainStore reads from and writes to the platform secret store.
type keychainStore struct{}

func (keychainStore) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (keychainStore) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}
