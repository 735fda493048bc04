package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// WebhookEvent is the normalized payload of a provider webhook delivery.
type WebhookEvent struct {
	EventID    string
	EventType  string
	OrderID    string
	CustomerID string
	ProfileID  uint
	Credits    int
}

// EventTypeOrderPaid is the only event that grants credits.
const EventTypeOrderPaid = "order.paid"

// VerifyWebhookSignature checks the HMAC-SHA256 hex signature the provider
// sends alongside each delivery.
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	decodedSig, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decodedSig)
}

// ParseWebhookEvent extracts the fields the ledger needs from a raw webhook
// body.
func ParseWebhookEvent(raw []byte) (*WebhookEvent, error) {
	var body struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Object struct {
			ID       string `json:"id"`
			Customer string `json:"customer_id"`
			Units    int    `json:"units"`
			Metadata struct {
				ProfileID uint `json:"profile_id"`
			} `json:"metadata"`
		} `json:"object"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}

	return &WebhookEvent{
		EventID:    strings.TrimSpace(body.ID),
		EventType:  strings.TrimSpace(body.Type),
		OrderID:    strings.TrimSpace(body.Object.ID),
		CustomerID: strings.TrimSpace(body.Object.Customer),
		ProfileID:  body.Object.Metadata.ProfileID,
		Credits:    body.Object.Units,
	}, nil
}
