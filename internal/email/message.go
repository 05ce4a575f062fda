// Package email defines the core mail data model shared by the providers,
// the inbox reader, and the sent-mail ledger.
package email

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Message is a single outbound plain-text message with one sender and
// one recipient.
type Message struct {
	From      *mail.Address
	To        *mail.Address
	Subject   string
	Body      string
	MessageID string
	Date      time.Time
}

// SentMessage is the ledger record of a message that was delivered.
// Field order matches the persisted JSON layout.
type SentMessage struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// ParseAddress parses a single RFC 5322 address. Failures are reported as
// KindAddress errors so callers can tell bad input from delivery failures.
func ParseAddress(op, raw string) (*mail.Address, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return nil, &Error{Kind: KindAddress, Op: op, Err: fmt.Errorf("%q: %w", raw, err)}
	}
	return addr, nil
}

// NewMessage validates both addresses and builds a Message stamped with the
// current time and a fresh Message-ID. No network activity happens here.
func NewMessage(from, to, subject, body string) (*Message, error) {
	fromAddr, err := ParseAddress("parse sender address", from)
	if err != nil {
		return nil, err
	}
	toAddr, err := ParseAddress("parse recipient address", to)
	if err != nil {
		return nil, err
	}

	return &Message{
		From:      fromAddr,
		To:        toAddr,
		Subject:   subject,
		Body:      body,
		MessageID: newMessageID(fromAddr.Address),
		Date:      time.Now(),
	}, nil
}

// Record returns the ledger entry for this message.
func (m *Message) Record() SentMessage {
	return SentMessage{
		Recipient: m.To.Address,
		Subject:   m.Subject,
		Body:      m.Body,
	}
}

// Bytes renders the message as a single-part text/plain RFC 5322 message
// with quoted-printable transfer encoding.
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.writeTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Message) writeTo(out io.Writer) error {
	var h mail.Header
	h.SetDate(m.Date)
	h.SetAddressList("From", []*mail.Address{m.From})
	h.SetAddressList("To", []*mail.Address{m.To})
	h.SetSubject(m.Subject)
	if m.MessageID != "" {
		h.SetMessageID(m.MessageID)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	w, err := mail.CreateSingleInlineWriter(out, h)
	if err != nil {
		return fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, m.Body); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}
	return nil
}

// newMessageID builds a Message-ID (without angle brackets) on the
// sender's domain.
func newMessageID(sender string) string {
	domain := "localhost"
	if at := strings.LastIndex(sender, "@"); at >= 0 && at < len(sender)-1 {
		domain = sender[at+1:]
	}
	return uuid.NewString() + "@" + domain
}
