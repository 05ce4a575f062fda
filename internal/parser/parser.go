// Package parser reads RFC 5322 messages back into email.Message values.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/mail-console/internal/email"
)

// Parse parses a raw message into an email.Message. Only the first
// text/plain inline part is kept as the body; other parts are skipped with
// a warning.
func Parse(raw []byte) (*email.Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && mr == nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if err != nil {
		// Unknown charset or encoding; the header is still usable.
		slog.Warn("message header partially decoded", "error", err)
	}
	defer mr.Close()

	result := &email.Message{}

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		result.From = from[0]
	}
	if to, err := mr.Header.AddressList("To"); err == nil && len(to) > 0 {
		result.To = to[0]
	}
	if subject, err := mr.Header.Subject(); err == nil {
		result.Subject = subject
	}
	if id, err := mr.Header.MessageID(); err == nil {
		result.MessageID = id
	}
	if date, err := mr.Header.Date(); err == nil {
		result.Date = date
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read message part: %w", err)
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			slog.Warn("skipping attachment part")
			continue
		}

		mediaType, _, err := h.ContentType()
		if err != nil {
			mediaType = "text/plain"
		}
		if mediaType != "text/plain" {
			slog.Warn("skipping non-text part", "content_type", mediaType)
			continue
		}
		if result.Body != "" {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read message body: %w", err)
		}
		result.Body = strings.TrimRight(string(body), "\r\n")
	}

	return result, nil
}
