// Package provider defines the interface for mail delivery backends.
package provider

import (
	"context"

	"github.com/shineum/mail-console/internal/email"
)

// Provider delivers one composed message. Implementations open and close
// their own connection per call and never retry; failures are returned as
// classified *email.Error values.
type Provider interface {
	// Send delivers msg. It returns an error if delivery fails.
	Send(ctx context.Context, msg *email.Message) error

	// Name returns the human-readable name of this provider.
	Name() string
}
