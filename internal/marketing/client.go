package marketing

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/noah-isme/payrelay/internal/resilience"
)

// Subscriber is pushed to a marketing list together with the event that
// triggered it, so automations can branch on the payment outcome.
type Subscriber struct {
	Email  string            `json:"email"`
	Name   string            `json:"name,omitempty"`
	Phone  string            `json:"phone,omitempty"`
	Tags   []string          `json:"tags,omitempty"`
	Event  string            `json:"event"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Client talks to the marketing-automation API.
type Client struct {
	BaseURL string
	APIKey  string
	ListID  string
	HTTP    resilience.HTTPClient
}

// TrackEvent upserts the subscriber on the configured list.
func (c *Client) TrackEvent(ctx context.Context, sub Subscriber) error {
	sub.Email = strings.ToLower(strings.TrimSpace(sub.Email))
	if sub.Email == "" {
		return errors.New("marketing: subscriber email is required")
	}
	if strings.TrimSpace(c.ListID) == "" {
		return errors.New("marketing: list id is not configured")
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/lists/" + url.PathEscape(c.ListID) + "/subscribers"
	h := http.Header{}
	if c.APIKey != "" {
		h.Set("X-API-Key", c.APIKey)
	}
	return c.HTTP.DoJSON(ctx, http.MethodPost, endpoint, h, sub, nil)
}
