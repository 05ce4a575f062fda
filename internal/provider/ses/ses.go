// Package ses implements a Provider that sends mail via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/mail-console/internal/email"
)

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// Sender overrides the message From address when set. It must be a
	// verified SES identity.
	Sender string

	// Timeout bounds each SendEmail call. Zero means no limit.
	Timeout time.Duration
}

// SESProvider sends mail via the AWS SES v2 API.
type SESProvider struct {
	sender  string
	timeout time.Duration
	client  SendEmailAPI
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// authErrorCodes are SES API error codes that mean the credentials were refused.
var authErrorCodes = map[string]bool{
	"UnrecognizedClientException": true,
	"InvalidClientTokenId":        true,
	"SignatureDoesNotMatch":       true,
	"AccessDeniedException":       true,
	"ExpiredTokenException":       true,
}

// New creates a new SESProvider with the given configuration.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	// Retries are disabled: one send attempt per menu action.
	opts = append(opts, awsconfig.WithRetryMaxAttempts(1))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESProvider{
		sender:  cfg.Sender,
		timeout: cfg.Timeout,
		client:  sesv2.NewFromConfig(awsCfg),
	}, nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI) *SESProvider {
	return &SESProvider{
		sender: sender,
		client: client,
	}
}

// Send delivers msg as a raw MIME message in a single SendEmail call.
func (s *SESProvider) Send(ctx context.Context, msg *email.Message) error {
	input, err := s.buildInput(msg)
	if err != nil {
		return err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return &email.Error{Kind: classifyError(err), Op: "SES SendEmail", Err: err}
	}

	slog.Debug("message sent via SES", "ses_message_id", aws.ToString(out.MessageId))
	return nil
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

// buildInput creates the SendEmail request. The rendered message carries
// the headers; the envelope sender and destination are set explicitly.
func (s *SESProvider) buildInput(msg *email.Message) (*sesv2.SendEmailInput, error) {
	from := msg.From.Address
	if s.sender != "" {
		from = s.sender
	}

	raw, err := msg.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To.Address},
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}, nil
}

// classifyError maps an SES SDK error onto the shared failure kinds.
func classifyError(err error) email.Kind {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return email.KindConnection
	}
	if authErrorCodes[apiErr.ErrorCode()] {
		return email.KindAuth
	}
	return email.KindProtocol
}
