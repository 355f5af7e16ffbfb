package crm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/payrelay/internal/resilience"
)

// ErrMissingEmail is returned when a contact cannot be keyed.
var ErrMissingEmail = errors.New("crm: contact email is required")

// Contact is upserted by email.
type Contact struct {
	Email  string   `json:"email"`
	Name   string   `json:"name,omitempty"`
	Phone  string   `json:"phone,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	Source string   `json:"source,omitempty"`
}

// Invoice mirrors one payment intent in the invoicing system. Amounts are
// two-digit decimal strings and TotalMinorUnits is what the processor charged.
// Base and tax are omitted when the originating event carried no breakdown.
type Invoice struct {
	ExternalID      string    `json:"externalId"`
	ContactID       string    `json:"contactId"`
	Status          string    `json:"status"`
	Currency        string    `json:"currency"`
	ProductID       string    `json:"productId,omitempty"`
	BaseAmount      string    `json:"baseAmount,omitempty"`
	TaxAmount       string    `json:"taxAmount,omitempty"`
	TotalAmount     string    `json:"totalAmount"`
	TaxRate         string    `json:"taxRate,omitempty"`
	TotalMinorUnits int64     `json:"totalMinorUnits"`
	EventID         string    `json:"eventId"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// Client talks to the CRM REST API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    resilience.HTTPClient
}

// UpsertContact creates or updates a contact and returns its CRM id.
func (c *Client) UpsertContact(ctx context.Context, contact Contact) (string, error) {
	contact.Email = strings.ToLower(strings.TrimSpace(contact.Email))
	if contact.Email == "" {
		return "", ErrMissingEmail
	}
	var resp struct {
		ID   string `json:"id"`
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.HTTP.DoJSON(ctx, http.MethodPost, c.url("/contacts/upsert"), c.header(""), contact, &resp); err != nil {
		return "", err
	}
	if resp.ID != "" {
		return resp.ID, nil
	}
	if resp.Data.ID != "" {
		return resp.Data.ID, nil
	}
	return "", errors.New("crm: contact upsert returned no id")
}

// UpsertInvoice records the invoice keyed by ExternalID. The event id doubles
// as idempotency key so a retried delivery does not duplicate line items.
func (c *Client) UpsertInvoice(ctx context.Context, invoice Invoice) error {
	if strings.TrimSpace(invoice.ExternalID) == "" {
		return errors.New("crm: invoice external id is required")
	}
	return c.HTTP.DoJSON(ctx, http.MethodPost, c.url("/invoices/upsert"), c.header(invoice.EventID), invoice, nil)
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

func (c *Client) header(idempotencyKey string) http.Header {
	h := http.Header{}
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	if idempotencyKey != "" {
		h.Set("Idempotency-Key", idempotencyKey)
	}
	return h
}
