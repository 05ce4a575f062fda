// Package config loads the application configuration from defaults, an
// optional YAML file, an optional .env file, and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names accepted by the provider key.
const (
	ProviderRelay  = "relay"
	ProviderSES    = "ses"
	ProviderGraph  = "graph"
	ProviderStdout = "stdout"
)

// DotEnvFile is the optional dotenv file read before environment lookups.
const DotEnvFile = ".env"

// Config holds the complete application configuration.
type Config struct {
	Account        AccountConfig `yaml:"account"`
	Provider       string        `yaml:"provider"`
	SMTP           SMTPConfig    `yaml:"smtp"`
	IMAP           IMAPConfig    `yaml:"imap"`
	SES            SESConfig     `yaml:"ses"`
	Graph          GraphConfig   `yaml:"graph"`
	Ledger         LedgerConfig  `yaml:"ledger"`
	TLS            TLSConfig     `yaml:"tls"`
	NetworkTimeout time.Duration `yaml:"network_timeout"`
	Logging        LoggingConfig `yaml:"logging"`
}

// AccountConfig identifies the user. Address is the From of every message.
type AccountConfig struct {
	Address string `yaml:"address"`
}

// SMTPConfig holds the outgoing relay settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Security string `yaml:"security"`
}

// IMAPConfig holds the inbox server settings.
type IMAPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Mailbox  string `yaml:"mailbox"`
	Range    string `yaml:"range"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// LedgerConfig holds the sent-mail ledger location.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// TLSConfig holds client TLS settings shared by SMTP and IMAP.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from defaults, .env, and environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with .env and environment variables. Returns an error if
// the specified file path does not exist.
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

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the selected provider cannot run without.
func (c *Config) Validate() error {
	var errs []error

	if c.Account.Address == "" {
		errs = append(errs, errors.New("account address is required (MAIL_ADDRESS)"))
	}

	switch c.Provider {
	case ProviderRelay:
		if c.SMTP.Host == "" {
			errs = append(errs, errors.New("smtp host is required (SMTP_HOST)"))
		}
		switch c.SMTP.Security {
		case "starttls", "tls", "none":
		default:
			errs = append(errs, fmt.Errorf("unknown smtp security %q (want starttls, tls or none)", c.SMTP.Security))
		}
	case ProviderSES:
		if c.SES.Region == "" {
			errs = append(errs, errors.New("ses region is required (SES_REGION)"))
		}
	case ProviderGraph:
		if !c.GraphConfigured() {
			errs = append(errs, errors.New("graph tenant_id, client_id, client_secret and sender are required"))
		}
	case ProviderStdout:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}

	if c.Ledger.Path == "" {
		errs = append(errs, errors.New("ledger path is required (LEDGER_PATH)"))
	}
	if c.NetworkTimeout < 0 {
		errs = append(errs, fmt.Errorf("network timeout must not be negative, got %s", c.NetworkTimeout))
	}

	return errors.Join(errs...)
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SecretLookup returns the stored secret for key.
type SecretLookup func(key string) (string, error)

// ResolveSecrets fills empty passwords and secrets from lookup, keyed as
// "smtp:<user>", "imap:<user>", "ses:<key id>" and "graph:<client id>".
// A failed lookup leaves the field empty.
func (c *Config) ResolveSecrets(lookup SecretLookup) {
	resolve := func(field *string, service, account string) {
		if *field != "" || account == "" {
			return
		}
		if v, err := lookup(service + ":" + account); err == nil {
			*field = v
		}
	}

	resolve(&c.SMTP.Password, "smtp", c.SMTP.Username)
	resolve(&c.IMAP.Password, "imap", c.IMAP.Username)
	resolve(&c.SES.SecretAccessKey, "ses", c.SES.AccessKeyID)
	resolve(&c.Graph.ClientSecret, "graph", c.Graph.ClientID)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Provider = ProviderRelay
	c.SMTP.Host = "smtp-relay.sendinblue.com"
	c.SMTP.Port = 587
	c.SMTP.Security = "starttls"
	c.IMAP.Host = "imap.gmail.com"
	c.IMAP.Port = 993
	c.IMAP.Mailbox = "INBOX"
	c.IMAP.Range = "5:1"
	c.Ledger.Path = "emails.json"
	c.NetworkTimeout = 30 * time.Second
	c.Logging.Level = "warn"
}

// applyEnv loads the optional .env file and then applies environment
// overrides. Variables already set in the environment win over .env.
func (c *Config) applyEnv() error {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", DotEnvFile, err)
	}
	if err := c.applyEnvVars(); err != nil {
		return err
	}

	// Usernames default to the account address.
	if c.SMTP.Username == "" {
		c.SMTP.Username = c.Account.Address
	}
	if c.IMAP.Username == "" {
		c.IMAP.Username = c.Account.Address
	}
	return nil
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	vars := []struct {
		key   string
		field *string
	}{
		{"MAIL_ADDRESS", &c.Account.Address},
		{"SMTP_HOST", &c.SMTP.Host},
		{"SMTP_USERNAME", &c.SMTP.Username},
		{"SMTP_PASSWORD", &c.SMTP.Password},
		{"IMAP_HOST", &c.IMAP.Host},
		{"IMAP_USERNAME", &c.IMAP.Username},
		{"IMAP_PASSWORD", &c.IMAP.Password},
		{"IMAP_MAILBOX", &c.IMAP.Mailbox},
		{"IMAP_RANGE", &c.IMAP.Range},
		{"SES_REGION", &c.SES.Region},
		{"SES_ACCESS_KEY_ID", &c.SES.AccessKeyID},
		{"SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey},
		{"SES_SENDER", &c.SES.Sender},
		{"GRAPH_TENANT_ID", &c.Graph.TenantID},
		{"GRAPH_CLIENT_ID", &c.Graph.ClientID},
		{"GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret},
		{"GRAPH_SENDER", &c.Graph.Sender},
		{"LEDGER_PATH", &c.Ledger.Path},
		{"TLS_CA_FILE", &c.TLS.CAFile},
	}
	for _, s := range vars {
		if v := os.Getenv(s.key); v != "" {
			*s.field = v
		}
	}

	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = toLower(v)
	}
	if v := os.Getenv("SMTP_SECURITY"); v != "" {
		c.SMTP.Security = toLower(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = toLower(v)
	}

	ports := []struct {
		key   string
		field *int
	}{
		{"SMTP_PORT", &c.SMTP.Port},
		{"IMAP_PORT", &c.IMAP.Port},
	}
	for _, p := range ports {
		if v := os.Getenv(p.key); v != "" {
			port, err := strconv.Atoi(v)
			if err != nil || port <= 0 || port > 65535 {
				return fmt.Errorf("invalid %s %q", p.key, v)
			}
			*p.field = port
		}
	}

	if v := os.Getenv("TLS_INSECURE_SKIP_VERIFY"); v != "" {
		skip, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TLS_INSECURE_SKIP_VERIFY %q: %w", v, err)
		}
		c.TLS.InsecureSkipVerify = skip
	}

	if v := os.Getenv("NETWORK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid NETWORK_TIMEOUT %q: %w", v, err)
		}
		c.NetworkTimeout = d
	}

	return nil
}

func toLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
