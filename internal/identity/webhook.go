package identity

import (
	"encoding/json"
	"net/http"

	svix "github.com/svix/svix-webhooks/go"
)

// Lifecycle event types emitted by the provider.
const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

// Event is the provider's webhook payload. Emails carry per-address
// verification status; only the primary one matters for directory sync.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	ID                    string         `json:"id"`
	EmailAddresses        []EmailAddress `json:"email_addresses"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	FirstName             string         `json:"first_name"`
	LastName              string         `json:"last_name"`
}

type EmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
	Verification struct {
		Status string `json:"status"`
	} `json:"verification"`
}

// PrimaryEmail returns the primary address and whether it is verified.
func (d EventData) PrimaryEmail() (string, bool) {
	for _, e := range d.EmailAddresses {
		if e.ID == d.PrimaryEmailAddressID {
			return e.EmailAddress, e.Verification.Status == "verified"
		}
	}
	return "", false
}

// WebhookVerifier checks svix signatures on inbound provider webhooks.
type WebhookVerifier struct {
	wh *svix.Webhook
}

func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, err
	}
	return &WebhookVerifier{wh: wh}, nil
}

// Parse verifies the signature headers against the raw body and decodes the
// event.
func (v *WebhookVerifier) Parse(body []byte, headers http.Header) (Event, error) {
	var ev Event
	if err := v.wh.Verify(body, headers); err != nil {
		return ev, err
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, err
	}
	return ev, nil
}
