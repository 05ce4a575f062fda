// Package graph implements a Provider that sends mail via the Microsoft Graph API.
package graph

import (
	"github.com/shineum/mail-console/internal/email"
)

type sendMailRequest struct {
	Message sendMailMessage `json:"message"`
	// SaveToSentItems keeps the Outlook Sent folder in step with the local ledger.
	SaveToSentItems bool `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject      string      `json:"subject"`
	Body         messageBody `json:"body"`
	ToRecipients []recipient `json:"toRecipients"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts msg into a plain-text sendMail request body.
func buildSendMailRequest(msg *email.Message) *sendMailRequest {
	return &sendMailRequest{
		Message: sendMailMessage{
			Subject: msg.Subject,
			Body: messageBody{
				ContentType: "text",
				Content:     msg.Body,
			},
			ToRecipients: []recipient{{
				EmailAddress: emailAddress{Address: msg.To.Address, Name: msg.To.Name},
			}},
		},
		SaveToSentItems: true,
	}
}
