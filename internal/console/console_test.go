package console

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shineum/mail-console/internal/email"
	"github.com/shineum/mail-console/internal/ledger"
	"github.com/shineum/mail-console/internal/provider/relay"
	"github.com/shineum/mail-console/internal/smtptest"
)

type fakeProvider struct {
	sent []*email.Message
	err  error
}

func (f *fakeProvider) Send(_ context.Context, msg *email.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeProvider) Name() string { return "fake" }

type fakeInbox struct {
	summaries []email.Summary
	err       error
	calls     int
}

func (f *fakeInbox) FetchRecent(context.Context) ([]email.Summary, error) {
	f.calls++
	return f.summaries, f.err
}

type fixture struct {
	out      bytes.Buffer
	provider *fakeProvider
	inbox    *fakeInbox
	ledger   *ledger.Ledger
	path     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "emails.json")
	l, err := ledger.Open(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &fixture{provider: &fakeProvider{}, inbox: &fakeInbox{}, ledger: l, path: path}
}

func (f *fixture) run(t *testing.T, input string) {
	t.Helper()
	c := &Controller{
		In:       strings.NewReader(input),
		Out:      &f.out,
		From:     "me@example.com",
		Provider: f.provider,
		Inbox:    f.inbox,
		Ledger:   f.ledger,
		Mailbox:  "INBOX",
		Timeout:  5 * time.Second,
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run(): unexpected error: %v", err)
	}
}

func TestRun_WelcomeAndQuit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.run(t, "4\n")

	want := "Welcome to the Email Application!\n" +
		"Choose an option:\n" +
		"1. Send an email\n" +
		"2. Display sent emails\n" +
		"3. Display inbox emails\n" +
		"4. Quit\n"
	if got := f.out.String(); got != want {
		t.Errorf("output:\ngot  %q\nwant %q", got, want)
	}
}

func TestRun_EndOfInputQuits(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.run(t, "1\na@x.com\n")

	if len(f.provider.sent) != 0 {
		t.Errorf("sent: got %d, want 0", len(f.provider.sent))
	}
}

func TestRun_LongBodyLine(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	body := strings.Repeat("x", 70*1024)
	f.run(t, "1\na@x.com\nHi\n"+body+"\n2\n4\n")

	if len(f.provider.sent) != 1 {
		t.Fatalf("sent: got %d, want 1", len(f.provider.sent))
	}
	if got := len(f.provider.sent[0].Body); got != len(body) {
		t.Errorf("body length: got %d, want %d", got, len(body))
	}
	entries := f.ledger.Entries()
	if len(entries) != 1 || entries[0].Body != body {
		t.Fatalf("ledger: got %d entries, want 1 with the full body", len(entries))
	}
	if !strings.Contains(f.out.String(), "Email #1\nRecipient: a@x.com\n") {
		t.Errorf("menu choices after the long line were not processed:\n%.200s", f.out.String())
	}
}

func TestRun_FinalLineWithoutNewline(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.run(t, "1\na@x.com\nHi\nTest")

	if len(f.provider.sent) != 1 {
		t.Fatalf("sent: got %d, want 1", len(f.provider.sent))
	}
	if got := f.provider.sent[0].Body; got != "Test" {
		t.Errorf("Body: got %q, want %q", got, "Test")
	}
}

func TestRun_SendWritesLedger(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.run(t, "1\n a@x.com \nHi\nTest\n4\n")

	if !strings.Contains(f.out.String(), "Enter recipient email:\nEnter subject:\nEnter body:\nEmail sent to a@x.com.\n") {
		t.Errorf("output missing send flow:\n%s", f.out.String())
	}
	if len(f.provider.sent) != 1 {
		t.Fatalf("sent: got %d, want 1", len(f.provider.sent))
	}
	if got := f.provider.sent[0].From.Address; got != "me@example.com" {
		t.Errorf("From: got %q, want %q", got, "me@example.com")
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		t.Fatalf("failed to read ledger: %v", err)
	}
	want := `[{"recipient":"a@x.com","subject":"Hi","body":"Test"}]`
	if got := string(data); got != want {
		t.Errorf("ledger file: got %q, want %q", got, want)
	}
}

func TestRun_InvalidRecipient(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.run(t, "1\nnot-an-email\nHi\nTest\n4\n")

	if len(f.provider.sent) != 0 {
		t.Errorf("sent: got %d, want 0", len(f.provider.sent))
	}
	if f.ledger.Len() != 0 {
		t.Errorf("ledger: got %d entries, want 0", f.ledger.Len())
	}
	if _, err := os.Stat(f.path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ledger file should not exist, stat: %v", err)
	}

	out := f.out.String()
	if !strings.Contains(out, "Error: send email: parse recipient address: invalid address") {
		t.Errorf("output missing address error:\n%s", out)
	}
	if strings.Contains(out, "Email sent to") {
		t.Errorf("output should not report success:\n%s", out)
	}
	if !strings.HasSuffix(out, "4. Quit\n") {
		t.Errorf("menu should be shown again after the error:\n%s", out)
	}
}

func TestRun_SendFailureLeavesLedger(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.err = &email.Error{Kind: email.KindAuth, Op: "authenticate", Err: errors.New("535 bad credentials")}
	f.run(t, "1\na@x.com\nHi\nTest\n4\n")

	if f.ledger.Len() != 0 {
		t.Errorf("ledger: got %d entries, want 0", f.ledger.Len())
	}
	if !strings.Contains(f.out.String(), "Error: send email: authenticate: authentication failed: 535 bad credentials\n") {
		t.Errorf("output missing auth error:\n%s", f.out.String())
	}
}

func TestRun_TwoSendsThenReopen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.run(t, "1\nfirst@x.com\nOne\nBody one\n1\nsecond@x.com\nTwo\nBody two\n4\n")

	reopened, err := ledger.Open(f.path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []email.SentMessage{
		{Recipient: "first@x.com", Subject: "One", Body: "Body one"},
		{Recipient: "second@x.com", Subject: "Two", Body: "Body two"},
	}
	got := reopened.Entries()
	if len(got) != len(want) {
		t.Fatalf("entries: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRun_DisplaySent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.ledger.Append(email.SentMessage{Recipient: "a@x.com", Subject: "Hi", Body: "Test"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.run(t, "2\n4\n")

	want := "Email #1\nRecipient: a@x.com\nSubject: Hi\nBody: Test\n----------------------------\n"
	if !strings.Contains(f.out.String(), want) {
		t.Errorf("output missing entry %q:\n%s", want, f.out.String())
	}
}

func TestRun_DisplaySentEmpty(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.run(t, "2\n4\n")

	if !strings.Contains(f.out.String(), "No sent emails yet.\n") {
		t.Errorf("output missing empty notice:\n%s", f.out.String())
	}
}

func TestRun_DisplayInbox(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.inbox.summaries = []email.Summary{
		{SeqNum: 1, From: "alice", Subject: "Welcome", Date: "Fri, 01 Mar 2024 09:30:00 +0100"},
		{SeqNum: 2, From: "bob", Subject: "Lunch?"},
	}
	f.run(t, "3\n4\n")

	want := "List of emails:\n" +
		"\nFrom: alice\nSubject: Welcome\nDate: Fri, 01 Mar 2024 09:30:00 +0100\n" +
		"\nFrom: bob\nSubject: Lunch?\nDate: \n"
	if !strings.Contains(f.out.String(), want) {
		t.Errorf("output missing inbox listing %q:\n%s", want, f.out.String())
	}
}

func TestRun_DisplayInboxEmpty(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.run(t, "3\n4\n")

	if !strings.Contains(f.out.String(), "No emails found in the INBOX.\n") {
		t.Errorf("output missing empty notice:\n%s", f.out.String())
	}
}

func TestRun_InboxErrorContinues(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.inbox.err = &email.Error{Kind: email.KindConnection, Op: "dial imap.example.com:993", Err: errors.New("no route to host")}
	f.run(t, "3\n3\n4\n")

	if f.inbox.calls != 2 {
		t.Errorf("inbox calls: got %d, want 2", f.inbox.calls)
	}
	if got := strings.Count(f.out.String(), "Error: fetch inbox: "); got != 2 {
		t.Errorf("error lines: got %d, want 2", got)
	}
}

func TestRun_InvalidOption(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.run(t, "7\n\n4\n")

	if got := strings.Count(f.out.String(), "Invalid option. Please select 1, 2, 3, or 4.\n"); got != 2 {
		t.Errorf("invalid option lines: got %d, want 2", got)
	}
}

func TestRun_ErrorsToErrWriter(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var errOut bytes.Buffer
	f.inbox.err = errors.New("boom")
	c := &Controller{
		In:       strings.NewReader("3\n4\n"),
		Out:      &f.out,
		Err:      &errOut,
		From:     "me@example.com",
		Provider: f.provider,
		Inbox:    f.inbox,
		Ledger:   f.ledger,
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := errOut.String(); got != "Error: fetch inbox: boom\n" {
		t.Errorf("stderr: got %q, want %q", got, "Error: fetch inbox: boom\n")
	}
	if strings.Contains(f.out.String(), "Error:") {
		t.Errorf("stdout should not contain errors:\n%s", f.out.String())
	}
}

func TestRun_SendThroughRelay(t *testing.T) {
	t.Parallel()

	s := smtptest.NewServer(t, smtptest.Options{Username: "me@example.com", Password: "api-key"})
	f := newFixture(t)

	c := &Controller{
		In:   strings.NewReader("1\na@x.com\nHi\nTest\n4\n"),
		Out:  &f.out,
		From: "me@example.com",
		Provider: relay.New(relay.Config{
			Host:     s.Host(),
			Port:     s.Port(),
			Username: "me@example.com",
			Password: "api-key",
			Security: relay.SecurityNone,
		}),
		Inbox:   f.inbox,
		Ledger:  f.ledger,
		Timeout: 5 * time.Second,
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deliveries := s.Deliveries()
	if len(deliveries) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(deliveries))
	}
	if got := deliveries[0].Message.Subject; got != "Hi" {
		t.Errorf("Subject: got %q, want %q", got, "Hi")
	}
	if f.ledger.Len() != 1 {
		t.Errorf("ledger: got %d entries, want 1", f.ledger.Len())
	}
}
