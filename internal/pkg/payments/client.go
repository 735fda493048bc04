package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/visionboardai/visionboard/internal/pkg/env"
)

// Client talks to the hosted-checkout payments provider. The provider owns
// the checkout UI; we create checkout sessions, receive webhooks and can
// re-fetch an order for the verification poll.
type Client struct {
	APIBaseURL    string
	APIKey        string
	ProductID     string
	SuccessURL    string
	WebhookSecret string

	HTTPClient *http.Client
}

// Checkout is a created checkout session.
type Checkout struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

// Order is the provider-side view of a purchase. The metadata carries back
// the profile id the checkout was opened for, which is the only link between
// an order and a profile.
type Order struct {
	ID         string        `json:"id"`
	CustomerID string        `json:"customer_id"`
	Status     string        `json:"status"`
	Credits    int           `json:"units"`
	Metadata   OrderMetadata `json:"metadata"`
}

// OrderMetadata mirrors the metadata attached at checkout creation.
type OrderMetadata struct {
	ProfileID uint `json:"profile_id"`
}

// OrderStatusPaid marks a settled order.
const OrderStatusPaid = "paid"

// NewClientFromEnv builds a payments client from environment configuration.
func NewClientFromEnv() *Client {
	base := strings.TrimRight(env.GetEnv("PAYMENT_API_URL", ""), "/")
	publicBase := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	successURL := strings.TrimSpace(env.GetEnv("PAYMENT_SUCCESS_URL", ""))
	if successURL == "" && publicBase != "" {
		successURL = publicBase + "/credits/success"
	}

	return &Client{
		APIBaseURL:    base,
		APIKey:        strings.TrimSpace(env.GetEnv("PAYMENT_API_KEY", "")),
		ProductID:     strings.TrimSpace(env.GetEnv("PAYMENT_PRODUCT_ID", "")),
		SuccessURL:    successURL,
		WebhookSecret: strings.TrimSpace(env.GetEnv("PAYMENT_WEBHOOK_SECRET", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateCheckout opens a checkout session for the profile and returns the
// redirect URL. The profile id travels as metadata so the webhook can route
// the credits back.
func (c *Client) CreateCheckout(ctx context.Context, profileID uint) (*Checkout, error) {
	if strings.TrimSpace(c.APIBaseURL) == "" || strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("PAYMENT_API_URL/PAYMENT_API_KEY are not configured")
	}
	if strings.TrimSpace(c.ProductID) == "" {
		return nil, errors.New("PAYMENT_PRODUCT_ID is not configured")
	}
	if profileID == 0 {
		return nil, errors.New("profile_id is required")
	}

	payload := map[string]interface{}{
		"product_id":  c.ProductID,
		"success_url": c.SuccessURL,
		"metadata": map[string]interface{}{
			"profile_id": profileID,
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/v1/checkouts", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("checkout creation failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out Checkout
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.CheckoutURL) == "" {
		return nil, errors.New("checkout creation returned empty checkout_url")
	}
	return &out, nil
}

// GetOrder fetches an order by id; verification fallback when a webhook is
// late or lost.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if strings.TrimSpace(c.APIBaseURL) == "" || strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("PAYMENT_API_URL/PAYMENT_API_KEY are not configured")
	}
	oid := strings.TrimSpace(orderID)
	if oid == "" {
		return nil, errors.New("order id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+"/v1/orders/"+oid, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("order fetch failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out Order
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
