package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTempConfig writes content to a config file in a temp dir and returns
// its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, `service:
  name: "TestApp"
subscriptions:
  symbols: ["BTC_USDT_PERP"]
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Service.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Service.Name)
	}
	if cfg.Connection.MaxReconnectAttempts != 5 {
		t.Errorf("max reconnect attempts = %d, want 5", cfg.Connection.MaxReconnectAttempts)
	}
	if cfg.Connection.BaseReconnectDelay != 5*time.Second {
		t.Errorf("base delay = %v, want 5s", cfg.Connection.BaseReconnectDelay)
	}
	if cfg.Connection.KeepAliveInterval != 30*time.Second {
		t.Errorf("keep-alive = %v, want 30s", cfg.Connection.KeepAliveInterval)
	}
	if cfg.Venue.AuthTopic != "wallet" {
		t.Errorf("auth topic = %q", cfg.Venue.AuthTopic)
	}
	if len(cfg.Subscriptions.MarketChannels) != 3 {
		t.Errorf("market channels = %v", cfg.Subscriptions.MarketChannels)
	}
}

func TestLoadConfigOverridesDurations(t *testing.T) {
	path := writeTempConfig(t, `connection:
  base_reconnect_delay: 250ms
  max_reconnect_attempts: 2
sink:
  workers: 1
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Connection.BaseReconnectDelay != 250*time.Millisecond {
		t.Errorf("base delay = %v", cfg.Connection.BaseReconnectDelay)
	}
	if cfg.Connection.MaxReconnectAttempts != 2 {
		t.Errorf("attempts = %d", cfg.Connection.MaxReconnectAttempts)
	}
	// Keys left out of the file keep their defaults.
	if cfg.Sink.QueueSize != 1024 {
		t.Errorf("queue size = %d", cfg.Sink.QueueSize)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_DSN", " postgres://u:p@db/feed ")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("LOG_LEVEL", "debug")
	path := writeTempConfig(t, "kafka:\n  enabled: true\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Storage.Postgres.DSN != "postgres://u:p@db/feed" {
		t.Errorf("dsn = %q", cfg.Storage.Postgres.DSN)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"max_reconnect_attempts": "connection:\n  max_reconnect_attempts: 0\n",
		"sink.workers":           "sink:\n  workers: -1\n",
		"storage.s3.bucket":      "storage:\n  s3:\n    enabled: true\n    region: us-east-1\n",
		"kafka.brokers":          "kafka:\n  enabled: true\n",
	}
	for want, content := range cases {
		t.Run(want, func(t *testing.T) {
			_, err := LoadConfig(writeTempConfig(t, content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), want) {
				t.Fatalf("error %q does not mention %q", err, want)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}

func TestLoadCredentials(t *testing.T) {
	for _, name := range append(append(apiKeyVars, apiSecretVars...), passphraseVars...) {
		t.Setenv(name, "")
	}
	if cred := LoadCredentials(); cred != nil {
		t.Fatalf("expected nil credential, got %v", cred)
	}

	t.Setenv("POLO_API_KEY", "alias-key")
	t.Setenv("POLONIEX_API_SECRET", "secret")
	t.Setenv("POLONIEX_API_PASSPHRASE", "phrase")
	cred := LoadCredentials()
	if cred == nil {
		t.Fatal("expected credential")
	}
	if cred.APIKey != "alias-key" || cred.APISecret != "secret" || cred.Passphrase != "phrase" {
		t.Fatalf("unexpected credential fields")
	}

	t.Setenv("POLONIEX_API_KEY", "primary-key")
	if got := LoadCredentials().APIKey; got != "primary-key" {
		t.Fatalf("primary variable should win, got %q", got)
	}
}

func TestAppEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "")
	if got := AppEnvironment(); got != EnvironmentDevelopment {
		t.Fatalf("default env = %q", got)
	}
	t.Setenv("APP_ENV", " PROD ")
	if got := AppEnvironment(); got != EnvironmentProduction {
		t.Fatalf("alias env = %q", got)
	}
	if !IsProductionLike(AppEnvironment()) || IsProductionLike(EnvironmentDevelopment) {
		t.Fatal("IsProductionLike mismatch")
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	if got := ResolveConfigPath("custom.yml"); got != "custom.yml" {
		t.Fatalf("explicit path rewritten to %q", got)
	}

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config", "config.staging.yml"), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	if got := ResolveConfigPath(""); got != "config/config.staging.yml" {
		t.Fatalf("ResolveConfigPath = %q", got)
	}
}
