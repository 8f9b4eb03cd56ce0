// Package config provides environment-variable-first configuration loading
// with an optional YAML file base layer for the mail client.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/shineum/smtp-mail-lite/internal/oauth"
	mailtls "github.com/shineum/smtp-mail-lite/internal/tls"
	smtptransport "github.com/shineum/smtp-mail-lite/internal/transport/smtp"
)

// Transport names.
const (
	TransportSMTP   = "smtp"
	TransportSES    = "ses"
	TransportStdout = "stdout"
)

// defaultMaxMessageSize is 25 MiB.
const defaultMaxMessageSize = 25 * units.MiB

// Config holds the complete application configuration.
type Config struct {
	Transport string        `yaml:"transport"`
	Mail      MailConfig    `yaml:"mail"`
	SMTP      SMTPConfig    `yaml:"smtp"`
	SES       SESConfig     `yaml:"ses"`
	OAuth     OAuthConfig   `yaml:"oauth"`
	Logging   LoggingConfig `yaml:"logging"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// MailConfig holds the addresses used by the command-line sender.
type MailConfig struct {
	From string   `yaml:"from"`
	To   []string `yaml:"to"`
}

// SMTPConfig holds the relay connection settings.
type SMTPConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	Security           string        `yaml:"security"`
	HelloName          string        `yaml:"hello_name"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxMessageSize     ByteSize      `yaml:"max_message_size"`
	CAFile             string        `yaml:"ca_file"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// SESConfig holds AWS SES settings.
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// OAuthConfig holds client credentials for XOAUTH2 sign-in.
type OAuthConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Scope        string `yaml:"scope"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig holds OpenTelemetry settings.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// ByteSize is a byte count written in human form ("25MB", "512KiB").
// Units are binary.
type ByteSize int64

// UnmarshalYAML accepts a plain integer or a human-readable size.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	size, err := ParseByteSize(value.Value)
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// ParseByteSize parses s with docker/go-units.
func ParseByteSize(s string) (ByteSize, error) {
	size, err := units.RAMInBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if size < 0 {
		return 0, fmt.Errorf("invalid size %q: negative", s)
	}
	return ByteSize(size), nil
}

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads a YAML file as the base layer, then applies environment
// overrides. The file must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Transport = TransportSMTP
	c.SMTP.Port = smtptransport.DefaultPort
	c.SMTP.Security = smtptransport.StartTLS.String()
	c.SMTP.Timeout = smtptransport.DefaultTimeout
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.Logging.Level = "info"
}

// applyEnvVars overrides fields with non-empty environment variables.
func (c *Config) applyEnvVars() error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("TRANSPORT"); v != "" {
		c.Transport = strings.ToLower(v)
	}

	setString("SMTP_FROM", &c.Mail.From)
	if v := os.Getenv("SMTP_TO"); v != "" {
		c.Mail.To = splitList(v)
	}

	setString("SMTP_HOST", &c.SMTP.Host)
	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid SMTP_PORT %q: %w", v, err))
		} else {
			c.SMTP.Port = port
		}
	}
	setString("SMTP_USER", &c.SMTP.Username)
	setString("SMTP_PASS", &c.SMTP.Password)
	setString("SMTP_SECURITY", &c.SMTP.Security)
	setString("SMTP_HELO", &c.SMTP.HelloName)
	if v := os.Getenv("SMTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid SMTP_TIMEOUT %q: %w", v, err))
		} else {
			c.SMTP.Timeout = d
		}
	}
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		size, err := ParseByteSize(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid SMTP_MAX_MESSAGE_SIZE: %w", err))
		} else {
			c.SMTP.MaxMessageSize = size
		}
	}
	setString("SMTP_CA_FILE", &c.SMTP.CAFile)
	if v := os.Getenv("SMTP_INSECURE_SKIP_VERIFY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid SMTP_INSECURE_SKIP_VERIFY %q: %w", v, err))
		} else {
			c.SMTP.InsecureSkipVerify = b
		}
	}

	setString("SES_REGION", &c.SES.Region)
	setString("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	setString("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)
	setString("SES_CONFIGURATION_SET", &c.SES.ConfigurationSet)

	setString("OAUTH_TENANT_ID", &c.OAuth.TenantID)
	setString("OAUTH_CLIENT_ID", &c.OAuth.ClientID)
	setString("OAUTH_CLIENT_SECRET", &c.OAuth.ClientSecret)
	setString("OAUTH_SCOPE", &c.OAuth.Scope)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid METRICS_ENABLED %q: %w", v, err))
		} else {
			c.Metrics.Enabled = b
		}
	}
	setString("METRICS_ENDPOINT", &c.Metrics.Endpoint)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// OAuthConfigured reports whether client credentials are set.
func (c *Config) OAuthConfigured() bool {
	return c.OAuth.ClientID != "" && c.OAuth.ClientSecret != ""
}

// Validate reports every missing or invalid field for the selected transport.
func (c *Config) Validate() error {
	var errs []error

	if c.Mail.From == "" {
		errs = append(errs, errors.New("SMTP_FROM is required"))
	}
	if len(c.Mail.To) == 0 {
		errs = append(errs, errors.New("SMTP_TO is required"))
	}

	switch c.Transport {
	case TransportSMTP:
		if c.SMTP.Host == "" {
			errs = append(errs, errors.New("SMTP_HOST is required for the smtp transport"))
		}
		if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("SMTP_PORT %d out of range", c.SMTP.Port))
		}
		if _, err := smtptransport.ParseSecurity(c.SMTP.Security); err != nil {
			errs = append(errs, err)
		}
		if c.OAuthConfigured() {
			if c.SMTP.Username == "" {
				errs = append(errs, errors.New("SMTP_USER is required for oauth2 sign-in"))
			}
			if c.OAuth.TenantID == "" {
				errs = append(errs, errors.New("OAUTH_TENANT_ID is required for oauth2 sign-in"))
			}
		} else if c.SMTP.Password != "" && c.SMTP.Username == "" {
			errs = append(errs, errors.New("SMTP_USER is required when SMTP_PASS is set"))
		}
	case TransportSES:
		if c.SES.Region == "" {
			errs = append(errs, errors.New("SES_REGION is required for the ses transport"))
		}
	case TransportStdout:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// SMTPTransportConfig builds the SMTP transport configuration. OAuth client
// credentials take precedence over a password; with neither the transport
// signs in anonymously.
func (c *Config) SMTPTransportConfig() (smtptransport.Config, error) {
	security, err := smtptransport.ParseSecurity(c.SMTP.Security)
	if err != nil {
		return smtptransport.Config{}, err
	}

	out := smtptransport.Config{
		Hostname:       c.SMTP.Host,
		Port:           c.SMTP.Port,
		Security:       security,
		HelloName:      c.SMTP.HelloName,
		Timeout:        c.SMTP.Timeout,
		MaxMessageSize: int64(c.SMTP.MaxMessageSize),
	}

	if c.SMTP.CAFile != "" || c.SMTP.InsecureSkipVerify {
		tlsCfg, err := mailtls.ClientConfig(mailtls.ClientOptions{
			ServerName:         c.SMTP.Host,
			RootCAFile:         c.SMTP.CAFile,
			InsecureSkipVerify: c.SMTP.InsecureSkipVerify,
		})
		if err != nil {
			return smtptransport.Config{}, err
		}
		out.TLSConfig = tlsCfg
	}

	switch {
	case c.OAuthConfigured():
		tokens, err := oauth.NewClientCredentials(oauth.Config{
			TenantID:     c.OAuth.TenantID,
			ClientID:     c.OAuth.ClientID,
			ClientSecret: c.OAuth.ClientSecret,
			Scope:        c.OAuth.Scope,
		})
		if err != nil {
			return smtptransport.Config{}, err
		}
		out.SignIn = smtptransport.OAuth2(c.SMTP.Username, tokens)
	case c.SMTP.Username != "":
		out.SignIn = smtptransport.Credentials(c.SMTP.Username, c.SMTP.Password)
	default:
		out.SignIn = smtptransport.Anonymous()
	}

	return out, nil
}

// SlogLevel maps Logging.Level to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
