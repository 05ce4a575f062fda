// Package smtptest runs an in-process SMTP relay for tests and records
// every message it accepts.
package smtptest

import (
	"crypto/tls"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/shineum/mail-console/internal/email"
)

// idleTimeout bounds each read and write on a relay connection.
const idleTimeout = 10 * time.Second

// maxMessageSize is the largest DATA payload the relay accepts.
const maxMessageSize = 10 * 1024 * 1024

// Options configures a test relay.
type Options struct {
	// Hostname is used in the greeting and EHLO responses.
	Hostname string

	// TLSConfig enables STARTTLS when set.
	TLSConfig *tls.Config

	// Username and Password require AUTH when both are set.
	Username string
	Password string

	// RejectRecipients lists addresses refused at RCPT TO.
	RejectRecipients []string
}

// Delivery is one message accepted by the relay.
type Delivery struct {
	From    string
	To      []string
	Raw     []byte
	Message *email.Message
}

// Server is an SMTP relay bound to a loopback port.
type Server struct {
	opts     Options
	auth     *Authenticator
	smtp     *smtp.Server
	listener net.Listener
	done     chan struct{}

	mu         sync.Mutex
	deliveries []Delivery
}

// NewServer starts a relay on 127.0.0.1 and stops it when the test ends.
func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()

	s, err := Start(opts)
	if err != nil {
		t.Fatalf("failed to start test relay: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// Start starts a relay on an ephemeral loopback port.
func Start(opts Options) (*Server, error) {
	if opts.Hostname == "" {
		opts.Hostname = "localhost"
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:     opts,
		auth:     NewAuthenticator(opts.Username, opts.Password),
		listener: ln,
		done:     make(chan struct{}),
	}

	srv := smtp.NewServer(s)
	srv.Domain = opts.Hostname
	srv.TLSConfig = opts.TLSConfig
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = idleTimeout
	srv.WriteTimeout = idleTimeout
	srv.MaxMessageBytes = maxMessageSize
	s.smtp = srv

	go func() {
		defer close(s.done)
		if err := srv.Serve(ln); err != nil {
			slog.Debug("test relay stopped", "error", err)
		}
	}()
	return s, nil
}

// NewSession implements smtp.Backend.
func (s *Server) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &session{server: s}, nil
}

// Close stops the relay and waits for the serve loop to exit.
func (s *Server) Close() {
	if err := s.smtp.Close(); err != nil {
		slog.Debug("test relay close", "error", err)
	}
	select {
	case <-s.done:
	case <-time.After(idleTimeout):
		slog.Warn("test relay shutdown timeout reached")
	}
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listener IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listener port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Deliveries returns a copy of every accepted message in arrival order.
func (s *Server) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}

func (s *Server) record(d Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
}

func (s *Server) rejects(rcpt string) bool {
	for _, r := range s.opts.RejectRecipients {
		if r == rcpt {
			return true
		}
	}
	return false
}
