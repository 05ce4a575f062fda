package stdout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shineum/mail-console/internal/email"
	"github.com/shineum/mail-console/internal/provider"
)

var _ provider.Provider = (*Provider)(nil)

func TestSend(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	msg, err := email.NewMessage("sender@example.com", "alice@example.com", "Monthly Report", "Numbers are up.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	for _, want := range []string{
		"From: <sender@example.com>",
		"To: <alice@example.com>",
		"Subject: Monthly Report",
		"Message-ID: <" + msg.MessageID + ">",
		"Numbers are up.\n",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
	if !strings.HasPrefix(output, separator) {
		t.Error("output should start with separator line")
	}
	if !strings.HasSuffix(output, separator) {
		t.Error("output should end with separator line")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestSend_WriteError(t *testing.T) {
	t.Parallel()

	p := NewWithWriter(failingWriter{})
	msg, err := email.NewMessage("sender@example.com", "alice@example.com", "s", "b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = p.Send(context.Background(), msg)
	if !email.IsKind(err, email.KindConnection) {
		t.Errorf("kind: got %v, want %v", email.KindOf(err), email.KindConnection)
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	if got := New().Name(); got != "stdout" {
		t.Errorf("Name(): got %q, want %q", got, "stdout")
	}
}
