package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"
)

// WATIClient sends WhatsApp session messages through the WATI API.
type WATIClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewWATIClient constructs a client for the WATI tenant at baseURL.
func NewWATIClient(baseURL, token string, timeout time.Duration) *WATIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WATIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimPrefix(token, "Bearer "),
		client:  &http.Client{Timeout: timeout},
	}
}

// Send posts msg.Body to the WhatsApp number in msg.To.
func (c *WATIClient) Send(ctx context.Context, msg Message) error {
	number := NormalizePhone(msg.To)
	if number == "" {
		return fmt.Errorf("invalid whatsapp number %q", msg.To)
	}

	endpoint := fmt.Sprintf("%s/api/v1/sendSessionMessage/%s?messageText=%s",
		c.baseURL, url.PathEscape(number), url.QueryEscape(msg.Body))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("wati request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("wati returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// NormalizePhone strips formatting from a phone number, keeping digits only.
// Ten-digit North American numbers get the leading country code.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 {
		return "1" + digits
	}
	return digits
}
