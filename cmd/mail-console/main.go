// Package main is the entry point for the interactive mail console.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/shineum/mail-console/internal/config"
	"github.com/shineum/mail-console/internal/console"
	"github.com/shineum/mail-console/internal/credential"
	"github.com/shineum/mail-console/internal/email"
	"github.com/shineum/mail-console/internal/inbox"
	"github.com/shineum/mail-console/internal/ledger"
	"github.com/shineum/mail-console/internal/provider"
	"github.com/shineum/mail-console/internal/provider/graph"
	"github.com/shineum/mail-console/internal/provider/relay"
	"github.com/shineum/mail-console/internal/provider/ses"
	"github.com/shineum/mail-console/internal/provider/stdout"
	smtptls "github.com/shineum/mail-console/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	storeSecret := flag.String("store-secret", "", "prompt for a secret and save it in the OS keyring: smtp, imap, ses or graph")
	exportPath := flag.String("export-mbox", "", "write the sent-mail ledger to this mbox file and exit")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	if *storeSecret != "" {
		if err := runStoreSecret(cfg, *storeSecret); err != nil {
			slog.Error("failed to store secret", "error", err)
			os.Exit(1)
		}
		return
	}

	if *exportPath != "" {
		if err := runExport(cfg, *exportPath); err != nil {
			slog.Error("failed to export ledger", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	resolveSecrets(cfg)

	ctx := context.Background()

	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		slog.Error("failed to create provider", "error", err)
		os.Exit(1)
	}

	reader, err := newInboxReader(cfg)
	if err != nil {
		slog.Error("failed to create inbox reader", "error", err)
		os.Exit(1)
	}

	sent, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		// Open still returns a usable empty ledger.
		slog.Warn("starting with an empty ledger", "path", cfg.Ledger.Path, "error", err)
	}

	slog.Info("starting mail-console",
		"provider", prov.Name(),
		"ledger", cfg.Ledger.Path,
		"sent", sent.Len(),
	)

	c := &console.Controller{
		In:       os.Stdin,
		Out:      os.Stdout,
		Err:      os.Stderr,
		From:     cfg.Account.Address,
		Provider: prov,
		Inbox:    reader,
		Ledger:   sent,
		Mailbox:  reader.Mailbox(),
		Timeout:  cfg.NetworkTimeout,
	}
	if err := c.Run(ctx); err != nil {
		slog.Warn("console stopped", "error", err)
	}
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output on stderr,
// keeping stdout for the console.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelWarn
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// resolveSecrets fills empty secrets from the OS keyring. The keyring is
// only opened when something is missing.
func resolveSecrets(cfg *config.Config) {
	if !missingSecrets(cfg) {
		return
	}
	store, err := credential.Open()
	if err != nil {
		slog.Warn("keyring unavailable", "error", err)
		return
	}
	cfg.ResolveSecrets(store.Get)
}

func missingSecrets(cfg *config.Config) bool {
	switch {
	case cfg.IMAP.Password == "":
		return true
	case cfg.Provider == config.ProviderRelay && cfg.SMTP.Password == "":
		return true
	case cfg.Provider == config.ProviderSES && cfg.SES.AccessKeyID != "" && cfg.SES.SecretAccessKey == "":
		return true
	case cfg.Provider == config.ProviderGraph && cfg.Graph.ClientSecret == "":
		return true
	}
	return false
}

// selectProvider builds the transport named by cfg.Provider.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderRelay:
		tlsConfig, err := smtptls.ClientConfig(cfg.SMTP.Host, cfg.TLS.CAFile, cfg.TLS.InsecureSkipVerify)
		if err != nil {
			return nil, err
		}
		slog.Info("using SMTP relay provider",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
			"security", cfg.SMTP.Security,
		)
		return relay.New(relay.Config{
			Host:      cfg.SMTP.Host,
			Port:      cfg.SMTP.Port,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
			Security:  cfg.SMTP.Security,
			TLSConfig: tlsConfig,
			Timeout:   cfg.NetworkTimeout,
		}), nil

	case config.ProviderSES:
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
			Timeout:         cfg.NetworkTimeout,
		})
		if err != nil {
			return nil, err
		}
		return p, nil

	case config.ProviderGraph:
		slog.Info("using Microsoft Graph provider",
			"sender", cfg.Graph.Sender,
		)
		return graph.New(graph.GraphProviderConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
			Timeout:      cfg.NetworkTimeout,
		}), nil

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newInboxReader(cfg *config.Config) (*inbox.Reader, error) {
	tlsConfig, err := smtptls.ClientConfig(cfg.IMAP.Host, cfg.TLS.CAFile, cfg.TLS.InsecureSkipVerify)
	if err != nil {
		return nil, err
	}
	return inbox.New(inbox.Config{
		Host:      cfg.IMAP.Host,
		Port:      cfg.IMAP.Port,
		Username:  cfg.IMAP.Username,
		Password:  cfg.IMAP.Password,
		Mailbox:   cfg.IMAP.Mailbox,
		Range:     cfg.IMAP.Range,
		TLSConfig: tlsConfig,
		Timeout:   cfg.NetworkTimeout,
	}), nil
}

// secretKey returns the keyring key a service's secret is stored under.
func secretKey(cfg *config.Config, service string) (string, error) {
	var account string
	switch service {
	case "smtp":
		account = cfg.SMTP.Username
	case "imap":
		account = cfg.IMAP.Username
	case "ses":
		account = cfg.SES.AccessKeyID
	case "graph":
		account = cfg.Graph.ClientID
	default:
		return "", fmt.Errorf("unknown secret %q (want smtp, imap, ses or graph)", service)
	}
	if account == "" {
		return "", fmt.Errorf("no %s account configured", service)
	}
	return credential.Key(service, account), nil
}

func runStoreSecret(cfg *config.Config, service string) error {
	key, err := secretKey(cfg, strings.ToLower(service))
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Secret for %s: ", key)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read secret: %w", err)
	}
	if len(secret) == 0 {
		return errors.New("empty secret")
	}

	store, err := credential.Open()
	if err != nil {
		return err
	}
	if err := store.Set(key, string(secret)); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Stored %s.\n", key)
	return nil
}

func runExport(cfg *config.Config, path string) error {
	sent, err := ledger.Open(cfg.Ledger.Path)
	if err != nil && !email.IsKind(err, email.KindDeserialize) {
		return err
	}
	if err != nil {
		slog.Warn("exporting an empty ledger", "path", cfg.Ledger.Path, "error", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := sent.ExportMbox(f, cfg.Account.Address); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "Exported %d messages to %s.\n", sent.Len(), path)
	return nil
}
