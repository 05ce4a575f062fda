// Package inbox reads envelope summaries from an IMAP mailbox.
package inbox

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/textproto"

	"github.com/shineum/mail-console/internal/email"
	smtptls "github.com/shineum/mail-console/internal/tls"
)

const (
	// DefaultPort is the IMAP-over-TLS port.
	DefaultPort = 993
	// DefaultMailbox is the mailbox read when none is configured.
	DefaultMailbox = "INBOX"
	// DefaultRange is the sequence range fetched when none is configured.
	DefaultRange = "5:1"
)

// dateLayout is the RFC 5322 date format used for summaries.
const dateLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

// dateSection fetches the raw Date header, shown when the envelope date
// does not parse.
var dateSection = &imap.FetchItemBodySection{
	Specifier:    imap.PartSpecifierHeader,
	HeaderFields: []string{"Date"},
	Peek:         true,
}

// Config holds the settings for a Reader.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
	// Range is an IMAP sequence set such as "5:1" or "1:*". It is sent
	// as-is, without clamping to the mailbox size.
	Range     string
	TLSConfig *tls.Config
	Timeout   time.Duration
}

// session is the subset of an IMAP client the Reader drives.
type session interface {
	Select(mailbox string) (uint32, error)
	Fetch(set imap.NumSet) ([]*imapclient.FetchMessageBuffer, error)
	Logout() error
}

// dialFunc opens and authenticates a session.
type dialFunc func(ctx context.Context, cfg Config) (session, error)

// Reader fetches envelope summaries with one connection per call.
type Reader struct {
	cfg  Config
	dial dialFunc
}

// New creates a Reader, filling in default port, mailbox and range.
func New(cfg Config) *Reader {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = DefaultMailbox
	}
	if cfg.Range == "" {
		cfg.Range = DefaultRange
	}
	return &Reader{cfg: cfg, dial: dialIMAP}
}

// Mailbox returns the mailbox the reader selects.
func (r *Reader) Mailbox() string {
	return r.cfg.Mailbox
}

// FetchRecent connects, selects the mailbox read-only, and returns the
// envelopes in the configured range in server order. An empty mailbox
// yields an empty result without issuing FETCH.
func (r *Reader) FetchRecent(ctx context.Context) ([]email.Summary, error) {
	set, err := parseSeqSet(r.cfg.Range)
	if err != nil {
		return nil, &email.Error{Kind: email.KindProtocol, Op: "parse fetch range", Err: err}
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	s, err := r.dial(ctx, r.cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.Logout(); err != nil {
			slog.Warn("IMAP logout failed", "host", r.cfg.Host, "error", err)
		}
	}()

	numMessages, err := s.Select(r.cfg.Mailbox)
	if err != nil {
		return nil, &email.Error{Kind: email.KindProtocol, Op: "select " + r.cfg.Mailbox, Err: err}
	}
	slog.Debug("mailbox selected", "mailbox", r.cfg.Mailbox, "messages", numMessages)
	if numMessages == 0 {
		return []email.Summary{}, nil
	}

	msgs, err := s.Fetch(set)
	if err != nil {
		return nil, &email.Error{Kind: email.KindProtocol, Op: "fetch envelopes", Err: err}
	}

	summaries := make([]email.Summary, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Envelope == nil {
			continue
		}
		rawDate := headerDate(msg.FindBodySection(dateSection))
		summaries = append(summaries, summarize(msg.SeqNum, msg.Envelope, rawDate))
	}
	return summaries, nil
}

// summarize builds the summary for one envelope. rawDate is used verbatim
// when the envelope date is missing or unparseable.
func summarize(seqNum uint32, env *imap.Envelope, rawDate string) email.Summary {
	var from string
	if len(env.From) > 0 {
		from = env.From[0].Mailbox
	}
	date := rawDate
	if !env.Date.IsZero() {
		date = env.Date.Format(dateLayout)
	}
	return email.NewSummary(seqNum, from, env.Subject, date)
}

// headerDate returns the Date field of a fetched header section, or "".
func headerDate(section []byte) string {
	if len(section) == 0 {
		return ""
	}
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(section)))
	if err != nil {
		slog.Debug("unreadable Date header section", "error", err)
		return ""
	}
	return strings.TrimSpace(h.Get("Date"))
}

// parseSeqSet parses a comma-separated list of sequence numbers and
// ranges, where "*" is the last message.
func parseSeqSet(s string) (imap.SeqSet, error) {
	var set imap.SeqSet
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		start, stop, isRange := strings.Cut(part, ":")
		first, err := parseSeqNum(start)
		if err != nil {
			return nil, fmt.Errorf("invalid sequence set %q: %w", s, err)
		}
		if !isRange {
			set.AddRange(first, first)
			continue
		}
		last, err := parseSeqNum(stop)
		if err != nil {
			return nil, fmt.Errorf("invalid sequence set %q: %w", s, err)
		}
		set.AddRange(first, last)
	}
	return set, nil
}

// parseSeqNum parses a single sequence number; "*" maps to 0.
func parseSeqNum(s string) (uint32, error) {
	if s == "*" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("bad sequence number %q", s)
	}
	return uint32(n), nil
}

// clientSession adapts an imapclient.Client to session.
type clientSession struct {
	client *imapclient.Client
	stop   func() bool
}

func (c *clientSession) Select(mailbox string) (uint32, error) {
	data, err := c.client.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return 0, err
	}
	return data.NumMessages, nil
}

func (c *clientSession) Fetch(set imap.NumSet) ([]*imapclient.FetchMessageBuffer, error) {
	return c.client.Fetch(set, &imap.FetchOptions{
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{dateSection},
	}).Collect()
}

func (c *clientSession) Logout() error {
	defer c.stop()
	err := c.client.Logout().Wait()
	if closeErr := c.client.Close(); err == nil {
		err = closeErr
	}
	return err
}

// dialIMAP opens a TLS connection and logs in. The connection is closed
// when ctx ends.
func dialIMAP(ctx context.Context, cfg Config) (session, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	dialer := &tls.Dialer{Config: smtptls.WithServerName(cfg.TLSConfig, cfg.Host)}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &email.Error{Kind: email.KindConnection, Op: "dial " + addr, Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client := imapclient.New(conn, &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	})
	stop := context.AfterFunc(ctx, func() { client.Close() })

	slog.Debug("IMAP connected", "addr", addr)

	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		stop()
		client.Close()
		return nil, &email.Error{Kind: email.KindAuth, Op: "login as " + cfg.Username, Err: err}
	}

	return &clientSession{client: client, stop: stop}, nil
}
