package notify

import (
	"context"
	"fmt"
	"html"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridClient sends email through SendGrid.
type SendGridClient struct {
	apiKey   string
	from     string
	fromName string
}

// NewSendGridClient constructs an email sender.
func NewSendGridClient(apiKey, from, fromName string) *SendGridClient {
	return &SendGridClient{apiKey: apiKey, from: from, fromName: fromName}
}

// Send delivers msg as a plain text email with a minimal HTML alternative.
func (c *SendGridClient) Send(ctx context.Context, msg Message) error {
	message := mail.NewSingleEmail(
		mail.NewEmail(c.fromName, c.from),
		msg.Subject,
		mail.NewEmail("", msg.To),
		msg.Body,
		fmt.Sprintf("<pre>%s</pre>", html.EscapeString(msg.Body)),
	)

	response, err := sendgrid.NewSendClient(c.apiKey).SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send error: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send failed: status=%d, body=%s", response.StatusCode, response.Body)
	}
	return nil
}
