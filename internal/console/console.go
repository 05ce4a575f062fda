// Package console runs the interactive menu: send a message, list sent
// messages, list inbox envelopes, quit.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shineum/mail-console/internal/email"
	"github.com/shineum/mail-console/internal/provider"
)

const separator = "----------------------------"

// Inbox lists envelope summaries from the remote mailbox.
type Inbox interface {
	FetchRecent(ctx context.Context) ([]email.Summary, error)
}

// Ledger is the record of sent messages.
type Ledger interface {
	Entries() []email.SentMessage
	Append(msg email.SentMessage) error
}

// Controller reads menu choices and send-flow answers line by line from In
// and writes prompts and results to Out. Failures go to Err, or Out when
// Err is nil.
type Controller struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	// From is the sender address of every message.
	From     string
	Provider provider.Provider
	Inbox    Inbox
	Ledger   Ledger

	// Mailbox names the inbox in the empty-mailbox message.
	Mailbox string

	// Timeout bounds each network operation. Zero means no limit.
	Timeout time.Duration

	lines *bufio.Reader
}

// errQuit ends the loop on end of input.
var errQuit = errors.New("quit")

// Run prints the welcome line and serves the menu until the user picks 4
// or input ends. It returns a non-nil error only when reading input fails.
func (c *Controller) Run(ctx context.Context) error {
	c.lines = bufio.NewReader(c.In)

	c.println("Welcome to the Email Application!")

	for {
		c.printMenu()

		choice, err := c.readLine()
		if err != nil {
			return c.finish(err)
		}

		switch choice {
		case "1":
			if err := c.sendFlow(ctx); err != nil {
				return c.finish(err)
			}
		case "2":
			c.displaySent()
		case "3":
			c.displayInbox(ctx)
		case "4":
			return nil
		default:
			c.println("Invalid option. Please select 1, 2, 3, or 4.")
		}
	}
}

func (c *Controller) printMenu() {
	c.println("Choose an option:")
	c.println("1. Send an email")
	c.println("2. Display sent emails")
	c.println("3. Display inbox emails")
	c.println("4. Quit")
}

// sendFlow walks the recipient, subject and body prompts and delivers the
// message. Only input errors are returned; delivery failures are reported.
func (c *Controller) sendFlow(ctx context.Context) error {
	c.println("Enter recipient email:")
	recipient, err := c.readLine()
	if err != nil {
		return err
	}

	c.println("Enter subject:")
	subject, err := c.readLine()
	if err != nil {
		return err
	}

	c.println("Enter body:")
	body, err := c.readLine()
	if err != nil {
		return err
	}

	msg, err := email.NewMessage(c.From, recipient, subject, body)
	if err != nil {
		c.reportError("send email", err)
		return nil
	}

	opCtx, cancel := c.opContext(ctx)
	err = c.Provider.Send(opCtx, msg)
	cancel()
	if err != nil {
		c.reportError("send email", err)
		return nil
	}
	slog.Debug("message delivered", "provider", c.Provider.Name(), "message_id", msg.MessageID)

	c.printf("Email sent to %s.\n", recipient)

	if err := c.Ledger.Append(msg.Record()); err != nil {
		c.reportError("save sent email", err)
	}
	return nil
}

func (c *Controller) displaySent() {
	entries := c.Ledger.Entries()
	if len(entries) == 0 {
		c.println("No sent emails yet.")
		return
	}
	for i, entry := range entries {
		c.printf("Email #%d\n", i+1)
		c.printf("Recipient: %s\n", entry.Recipient)
		c.printf("Subject: %s\n", entry.Subject)
		c.printf("Body: %s\n", entry.Body)
		c.println(separator)
	}
}

func (c *Controller) displayInbox(ctx context.Context) {
	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	summaries, err := c.Inbox.FetchRecent(opCtx)
	if err != nil {
		c.reportError("fetch inbox", err)
		return
	}
	if len(summaries) == 0 {
		c.printf("No emails found in the %s.\n", c.mailbox())
		return
	}

	lines := make([]string, len(summaries))
	for i, s := range summaries {
		lines[i] = s.String()
	}
	c.printf("List of emails:\n%s\n", strings.Join(lines, "\n"))
}

// readLine returns the next trimmed input line of any length, or errQuit at
// end of input. A final line without a newline is still returned.
func (c *Controller) readLine() (string, error) {
	line, err := c.lines.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", err
		}
		if line == "" {
			return "", errQuit
		}
	}
	return strings.TrimSpace(line), nil
}

// finish maps end of input to a clean exit and reports any other read error.
func (c *Controller) finish(err error) error {
	if errors.Is(err, errQuit) {
		return nil
	}
	c.reportError("read input", err)
	return fmt.Errorf("failed to read input: %w", err)
}

func (c *Controller) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout > 0 {
		return context.WithTimeout(ctx, c.Timeout)
	}
	return context.WithCancel(ctx)
}

func (c *Controller) mailbox() string {
	if c.Mailbox == "" {
		return "INBOX"
	}
	return c.Mailbox
}

// reportError prints the single "Error: <what>: <cause>" line for a failure.
func (c *Controller) reportError(what string, err error) {
	slog.Debug("operation failed", "op", what, "kind", email.KindOf(err).String(), "error", err)

	w := c.Err
	if w == nil {
		w = c.Out
	}
	fmt.Fprintf(w, "Error: %s: %v\n", what, err)
}

func (c *Controller) println(s string) {
	fmt.Fprintln(c.Out, s)
}

func (c *Controller) printf(format string, args ...any) {
	fmt.Fprintf(c.Out, format, args...)
}
