// Package relay implements a Provider that submits mail to an authenticated
// SMTP relay.
package relay

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/shineum/mail-console/internal/email"
	smtptls "github.com/shineum/mail-console/internal/tls"
)

// Connection security modes.
const (
	SecurityStartTLS = "starttls"
	SecurityTLS      = "tls"
	SecurityNone     = "none"
)

// Config holds the relay endpoint and account.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// Security is one of SecurityStartTLS (default), SecurityTLS or SecurityNone.
	Security string

	// TLSConfig is used for STARTTLS and implicit TLS. ServerName defaults to Host.
	TLSConfig *tls.Config

	// Timeout bounds the whole submission. Zero means no limit.
	Timeout time.Duration
}

// Provider delivers messages through one SMTP relay.
type Provider struct {
	cfg Config
}

// New creates a relay Provider.
func New(cfg Config) *Provider {
	if cfg.Security == "" {
		cfg.Security = SecurityStartTLS
	}
	return &Provider{cfg: cfg}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp-relay"
}

// Send submits msg in a single session: connect, negotiate TLS, AUTH PLAIN,
// MAIL/RCPT/DATA, QUIT.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	raw, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("failed to render message: %w", err)
	}

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	client, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	if p.cfg.Username != "" {
		auth := sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)
		if err := client.Auth(auth); err != nil {
			kind := email.KindConnection
			var smtpErr *smtp.SMTPError
			if errors.As(err, &smtpErr) {
				kind = email.KindAuth
			}
			return &email.Error{Kind: kind, Op: "authenticate to " + p.addr(), Err: err}
		}
		slog.Debug("authenticated to relay", "addr", p.addr(), "username", p.cfg.Username)
	}

	err = client.SendMail(msg.From.Address, []string{msg.To.Address}, bytes.NewReader(raw))
	if err != nil {
		kind := email.KindConnection
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) {
			kind = email.KindProtocol
		}
		return &email.Error{Kind: kind, Op: "deliver via " + p.addr(), Err: err}
	}

	if err := client.Quit(); err != nil {
		// The relay already accepted the message.
		slog.Debug("relay QUIT failed", "addr", p.addr(), "error", err)
	}

	slog.Debug("message submitted", "addr", p.addr(), "message_id", msg.MessageID)
	return nil
}

// dial opens the connection and performs the TLS negotiation the config asks
// for. The context deadline, if any, applies to the raw connection.
func (p *Provider) dial(ctx context.Context) (*smtp.Client, error) {
	addr := p.addr()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &email.Error{Kind: email.KindConnection, Op: "connect to " + addr, Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	tlsConfig := smtptls.WithServerName(p.cfg.TLSConfig, p.cfg.Host)

	switch p.cfg.Security {
	case SecurityTLS:
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, &email.Error{Kind: email.KindConnection, Op: "TLS handshake with " + addr, Err: err}
		}
		return smtp.NewClient(tlsConn), nil

	case SecurityNone:
		return smtp.NewClient(conn), nil

	case SecurityStartTLS:
		client, err := smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			conn.Close()
			return nil, &email.Error{Kind: email.KindConnection, Op: "STARTTLS with " + addr, Err: err}
		}
		return client, nil

	default:
		conn.Close()
		return nil, fmt.Errorf("unknown SMTP security mode %q", p.cfg.Security)
	}
}

func (p *Provider) addr() string {
	return net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
}
