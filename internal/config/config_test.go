package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	smtptransport "github.com/shineum/smtp-mail-lite/internal/transport/smtp"
)

var envVars = []string{
	"TRANSPORT",
	"SMTP_FROM", "SMTP_TO",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "SMTP_SECURITY", "SMTP_HELO",
	"SMTP_TIMEOUT", "SMTP_MAX_MESSAGE_SIZE", "SMTP_CA_FILE", "SMTP_INSECURE_SKIP_VERIFY",
	"SES_REGION", "SES_ACCESS_KEY_ID", "SES_SECRET_ACCESS_KEY", "SES_CONFIGURATION_SET",
	"OAUTH_TENANT_ID", "OAUTH_CLIENT_ID", "OAUTH_CLIENT_SECRET", "OAUTH_SCOPE",
	"LOG_LEVEL", "METRICS_ENABLED", "METRICS_ENDPOINT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envVars {
		t.Setenv(env, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TransportSMTP, cfg.Transport)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, "starttls", cfg.SMTP.Security)
	assert.Equal(t, 30*time.Second, cfg.SMTP.Timeout)
	assert.Equal(t, ByteSize(26214400), cfg.SMTP.MaxMessageSize)
	assert.Empty(t, cfg.SMTP.Host)
	assert.Empty(t, cfg.Mail.To)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRANSPORT", "SES")
	t.Setenv("SMTP_FROM", "sender@example.com")
	t.Setenv("SMTP_TO", "a@example.com, b@example.com,,")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("SMTP_USER", "admin")
	t.Setenv("SMTP_PASS", "secret123")
	t.Setenv("SMTP_SECURITY", "tls")
	t.Setenv("SMTP_HELO", "client.example.com")
	t.Setenv("SMTP_TIMEOUT", "45s")
	t.Setenv("SMTP_MAX_MESSAGE_SIZE", "10MB")
	t.Setenv("SMTP_INSECURE_SKIP_VERIFY", "true")
	t.Setenv("SES_REGION", "eu-west-1")
	t.Setenv("SES_CONFIGURATION_SET", "transactional")
	t.Setenv("OAUTH_TENANT_ID", "tid")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("METRICS_ENABLED", "true")
	t.Setenv("METRICS_ENDPOINT", "collector:4318")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ses", cfg.Transport)
	assert.Equal(t, "sender@example.com", cfg.Mail.From)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Mail.To)
	assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	assert.Equal(t, 465, cfg.SMTP.Port)
	assert.Equal(t, "admin", cfg.SMTP.Username)
	assert.Equal(t, "secret123", cfg.SMTP.Password)
	assert.Equal(t, "tls", cfg.SMTP.Security)
	assert.Equal(t, "client.example.com", cfg.SMTP.HelloName)
	assert.Equal(t, 45*time.Second, cfg.SMTP.Timeout)
	assert.Equal(t, ByteSize(10*1024*1024), cfg.SMTP.MaxMessageSize)
	assert.True(t, cfg.SMTP.InsecureSkipVerify)
	assert.Equal(t, "eu-west-1", cfg.SES.Region)
	assert.Equal(t, "transactional", cfg.SES.ConfigurationSet)
	assert.Equal(t, "tid", cfg.OAuth.TenantID)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "collector:4318", cfg.Metrics.Endpoint)
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMTP_PORT", "abc")
	t.Setenv("SMTP_TIMEOUT", "soon")
	t.Setenv("SMTP_MAX_MESSAGE_SIZE", "huge")
	t.Setenv("METRICS_ENABLED", "maybe")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "SMTP_PORT")
	assert.ErrorContains(t, err, "SMTP_TIMEOUT")
	assert.ErrorContains(t, err, "SMTP_MAX_MESSAGE_SIZE")
	assert.ErrorContains(t, err, "METRICS_ENABLED")
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	yamlContent := `
transport: smtp
mail:
  from: sender@example.com
  to:
    - one@example.com
    - two@example.com
smtp:
  host: smtp.office365.com
  port: 587
  username: mailer@example.com
  security: starttls-if-available
  timeout: 1m
  max_message_size: 5MB
ses:
  region: us-east-1
logging:
  level: warn
metrics:
  enabled: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "sender@example.com", cfg.Mail.From)
	assert.Equal(t, []string{"one@example.com", "two@example.com"}, cfg.Mail.To)
	assert.Equal(t, "smtp.office365.com", cfg.SMTP.Host)
	assert.Equal(t, "mailer@example.com", cfg.SMTP.Username)
	assert.Equal(t, "starttls-if-available", cfg.SMTP.Security)
	assert.Equal(t, time.Minute, cfg.SMTP.Timeout)
	assert.Equal(t, ByteSize(5*1024*1024), cfg.SMTP.MaxMessageSize)
	assert.Equal(t, "us-east-1", cfg.SES.Region)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMTP_HOST", "env.example.com")
	t.Setenv("SMTP_TO", "env@example.com")

	yamlContent := `
mail:
  to: [yaml@example.com]
smtp:
  host: yaml.example.com
  port: 2525
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "env.example.com", cfg.SMTP.Host)
	assert.Equal(t, 2525, cfg.SMTP.Port)
	assert.Equal(t, []string{"env@example.com"}, cfg.Mail.To)
}

func TestLoadFromFile_Errors(t *testing.T) {
	clearEnv(t)

	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("smtp: [unclosed"), 0o600))
	_, err = LoadFromFile(path)
	require.Error(t, err)

	sizePath := filepath.Join(t.TempDir(), "size.yaml")
	require.NoError(t, os.WriteFile(sizePath, []byte("smtp:\n  max_message_size: lots\n"), 0o600))
	_, err = LoadFromFile(sizePath)
	require.Error(t, err)
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Mail.From = "sender@example.com"
	cfg.Mail.To = []string{"to@example.com"}
	cfg.SMTP.Host = "smtp.example.com"
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid smtp", mutate: func(*Config) {}},
		{name: "valid stdout", mutate: func(c *Config) { c.Transport = TransportStdout; c.SMTP.Host = "" }},
		{name: "valid ses", mutate: func(c *Config) { c.Transport = TransportSES; c.SES.Region = "us-east-1" }},
		{name: "missing from", mutate: func(c *Config) { c.Mail.From = "" }, wantErr: "SMTP_FROM"},
		{name: "missing to", mutate: func(c *Config) { c.Mail.To = nil }, wantErr: "SMTP_TO"},
		{name: "missing host", mutate: func(c *Config) { c.SMTP.Host = "" }, wantErr: "SMTP_HOST"},
		{name: "bad port", mutate: func(c *Config) { c.SMTP.Port = 0 }, wantErr: "SMTP_PORT"},
		{name: "bad security", mutate: func(c *Config) { c.SMTP.Security = "rot13" }, wantErr: "security"},
		{name: "password without user", mutate: func(c *Config) { c.SMTP.Password = "p" }, wantErr: "SMTP_USER"},
		{name: "oauth without tenant", mutate: func(c *Config) {
			c.SMTP.Username = "u"
			c.OAuth.ClientID = "id"
			c.OAuth.ClientSecret = "secret"
		}, wantErr: "OAUTH_TENANT_ID"},
		{name: "ses without region", mutate: func(c *Config) { c.Transport = TransportSES }, wantErr: "SES_REGION"},
		{name: "unknown transport", mutate: func(c *Config) { c.Transport = "pigeon" }, wantErr: "unknown transport"},
		{name: "unknown log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSMTPTransportConfig(t *testing.T) {
	t.Parallel()

	t.Run("anonymous", func(t *testing.T) {
		cfg := validConfig()
		out, err := cfg.SMTPTransportConfig()
		require.NoError(t, err)
		assert.Equal(t, "smtp.example.com", out.Hostname)
		assert.Equal(t, 587, out.Port)
		assert.Equal(t, smtptransport.StartTLS, out.Security)
		assert.Equal(t, int64(26214400), out.MaxMessageSize)
		assert.True(t, out.SignIn.IsAnonymous())
		assert.Nil(t, out.TLSConfig)
	})

	t.Run("credentials", func(t *testing.T) {
		cfg := validConfig()
		cfg.SMTP.Username = "user"
		cfg.SMTP.Password = "pass"
		cfg.SMTP.Security = "plaintext"
		out, err := cfg.SMTPTransportConfig()
		require.NoError(t, err)
		assert.Equal(t, "credentials", out.SignIn.String())
		assert.Equal(t, smtptransport.Plaintext, out.Security)
	})

	t.Run("oauth2", func(t *testing.T) {
		cfg := validConfig()
		cfg.SMTP.Username = "user@example.com"
		cfg.OAuth = OAuthConfig{TenantID: "tid", ClientID: "id", ClientSecret: "secret"}
		out, err := cfg.SMTPTransportConfig()
		require.NoError(t, err)
		assert.Equal(t, "oauth2", out.SignIn.String())
	})

	t.Run("insecure tls", func(t *testing.T) {
		cfg := validConfig()
		cfg.SMTP.InsecureSkipVerify = true
		out, err := cfg.SMTPTransportConfig()
		require.NoError(t, err)
		require.NotNil(t, out.TLSConfig)
		assert.True(t, out.TLSConfig.InsecureSkipVerify)
		assert.Equal(t, "smtp.example.com", out.TLSConfig.ServerName)
	})

	t.Run("missing ca file", func(t *testing.T) {
		cfg := validConfig()
		cfg.SMTP.CAFile = "/nonexistent/ca.pem"
		_, err := cfg.SMTPTransportConfig()
		require.Error(t, err)
	})
}

func TestParseByteSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want ByteSize
	}{
		{"1024", 1024},
		{"512k", 512 * 1024},
		{"25MB", 25 * 1024 * 1024},
		{" 1GiB ", 1024 * 1024 * 1024},
	}
	for _, tt := range tests {
		got, err := ParseByteSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseByteSize("lots")
	require.Error(t, err)

	assert.Equal(t, "25MiB", ByteSize(25*1024*1024).String())
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	levels := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"other": slog.LevelInfo,
	}
	for name, want := range levels {
		cfg := &Config{Logging: LoggingConfig{Level: name}}
		assert.Equal(t, want, cfg.SlogLevel(), name)
	}
}
