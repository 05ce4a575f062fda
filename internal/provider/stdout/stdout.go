// Package stdout implements a Provider that prints messages instead of sending them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/mail-console/internal/email"
)

const separator = "========================================\n"

// Provider prints messages in a human-readable format. It is the dry-run
// transport: nothing leaves the machine.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints msg between separator lines.
func (p *Provider) Send(_ context.Context, msg *email.Message) error {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "From: %s\n", msg.From.String())
	fmt.Fprintf(&b, "To: %s\n", msg.To.String())
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Message-ID: <%s>\n", msg.MessageID)
	b.WriteString("Body:\n")
	b.WriteString(msg.Body + "\n")
	b.WriteString(separator)

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return &email.Error{Kind: email.KindConnection, Op: "print message", Err: err}
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}
