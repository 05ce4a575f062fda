// Package ledger keeps the ordered record of sent messages in a JSON file.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/mail-console/internal/email"
)

// Ledger is the in-memory list of sent messages mirrored to a file. The
// file always holds the full list as of the last successful Append.
type Ledger struct {
	path    string
	entries []email.SentMessage

	// readErr is set when an existing file could not be read. The file is
	// then never written, so Append only records in memory.
	readErr error
}

// Open loads the ledger stored at path. A missing file yields an empty
// ledger. A file that does not decode yields an empty ledger together with
// a KindDeserialize error; it is renamed to path+".corrupt" so later appends
// do not overwrite it. A file that exists but cannot be read also yields an
// empty ledger and a KindDeserialize error, and is left untouched: every
// later Append fails with KindPersist.
func Open(path string) (*Ledger, error) {
	return open(path, os.ReadFile)
}

func open(path string, readFile func(string) ([]byte, error)) (*Ledger, error) {
	l := &Ledger{path: path}

	data, err := readFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		l.readErr = err
		slog.Warn("ledger unreadable, sent mail will not be saved", "path", path, "error", err)
		return l, &email.Error{Kind: email.KindDeserialize, Op: "read ledger", Err: err}
	}

	var entries []email.SentMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		decodeErr := &email.Error{Kind: email.KindDeserialize, Op: "decode ledger", Err: err}
		quarantine := path + ".corrupt"
		if renameErr := os.Rename(path, quarantine); renameErr != nil {
			slog.Warn("failed to move corrupt ledger aside", "path", path, "error", renameErr)
		} else {
			slog.Warn("corrupt ledger moved aside", "path", path, "moved_to", quarantine)
		}
		return l, decodeErr
	}

	l.entries = entries
	slog.Debug("ledger loaded", "path", path, "entries", len(entries))
	return l, nil
}

// Path returns the file backing the ledger.
func (l *Ledger) Path() string {
	return l.path
}

// Len returns the number of recorded messages.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the recorded messages in send order.
func (l *Ledger) Entries() []email.SentMessage {
	out := make([]email.SentMessage, len(l.entries))
	copy(out, l.entries)
	return out
}

// Append records msg and rewrites the file. On a write failure the entry
// stays in memory and a KindPersist error is returned.
func (l *Ledger) Append(msg email.SentMessage) error {
	l.entries = append(l.entries, msg)

	if l.readErr != nil {
		return &email.Error{
			Kind: email.KindPersist,
			Op:   "save ledger",
			Err:  fmt.Errorf("existing file %s could not be read: %w", l.path, l.readErr),
		}
	}

	if err := l.save(); err != nil {
		return &email.Error{Kind: email.KindPersist, Op: "save ledger", Err: err}
	}
	return nil
}

// save writes the full list to a temp file in the ledger directory and
// renames it over the ledger.
func (l *Ledger) save() error {
	entries := l.entries
	if entries == nil {
		entries = []email.SentMessage{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}

// ExportMbox writes every entry to w as an mbox message sent by from.
func (l *Ledger) ExportMbox(w io.Writer, from string) error {
	sender, err := email.ParseAddress("parse sender address", from)
	if err != nil {
		return err
	}

	now := time.Now()
	mw := mbox.NewWriter(w)
	for i, entry := range l.entries {
		to, err := mail.ParseAddress(entry.Recipient)
		if err != nil {
			to = &mail.Address{Address: entry.Recipient}
		}
		msg := &email.Message{
			From:    sender,
			To:      to,
			Subject: entry.Subject,
			Body:    entry.Body,
			Date:    now,
		}
		raw, err := msg.Bytes()
		if err != nil {
			return fmt.Errorf("failed to render entry %d: %w", i+1, err)
		}

		msgWriter, err := mw.CreateMessage(sender.Address, now)
		if err != nil {
			return fmt.Errorf("failed to start mbox message %d: %w", i+1, err)
		}
		if _, err := msgWriter.Write(raw); err != nil {
			return fmt.Errorf("failed to write mbox message %d: %w", i+1, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish mbox: %w", err)
	}
	return nil
}
