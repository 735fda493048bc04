package controllers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/visionboardai/visionboard/app/models"
	"github.com/visionboardai/visionboard/internal/pkg/credits"
	"github.com/visionboardai/visionboard/internal/pkg/payments"
	"github.com/visionboardai/visionboard/internal/pkg/usercontext"
)

// HandleGetCredits returns the profile's balance and remaining free rounds.
func (a *API) HandleGetCredits(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	balance, err := a.Credits.Balance(c.UserContext(), ident.ProfileID)
	if err != nil {
		return internalError(c, "failed to load credit balance")
	}
	profile, err := a.Repos.Profile.GetByID(ident.ProfileID)
	if err != nil {
		return internalError(c, "failed to load profile")
	}

	freeRemaining := credits.FreeImageQuota - profile.FreeImagesUsed
	if freeRemaining < 0 {
		freeRemaining = 0
	}
	return c.JSON(fiber.Map{
		"balance":              balance,
		"free_images_remaining": freeRemaining,
	})
}

// HandleCreateCheckout opens a hosted checkout session and returns the
// redirect URL. The actual payment UI is owned by the provider.
func (a *API) HandleCreateCheckout(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	checkout, err := a.Payments.CreateCheckout(c.UserContext(), ident.ProfileID)
	if err != nil {
		log.Errorf("checkout creation failed for profile %d: %v", ident.ProfileID, err)
		return jsonError(c, fiber.StatusBadGateway, "checkout_failed", "failed to create checkout session")
	}
	return c.JSON(fiber.Map{"checkout_url": checkout.CheckoutURL})
}

// HandleVerifyPurchase is the client-side completion poll after checkout.
// With ?order_id it asks the provider directly and credits a paid order
// (idempotent against the webhook); otherwise ?since checks the ledger for a
// purchase newer than the given RFC3339 timestamp.
func (a *API) HandleVerifyPurchase(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	if orderID := strings.TrimSpace(c.Query("order_id")); orderID != "" {
		order, err := a.Payments.GetOrder(c.UserContext(), orderID)
		if err != nil {
			log.Errorf("order verification failed for %q: %v", orderID, err)
			return jsonError(c, fiber.StatusBadGateway, "verification_failed", "failed to verify order")
		}
		// An order is only visible to the profile its checkout was opened
		// for; anyone else gets the same 404 as a nonexistent order.
		if order.Metadata.ProfileID == 0 || order.Metadata.ProfileID != ident.ProfileID {
			return notFound(c, "order not found")
		}
		if order.Status != payments.OrderStatusPaid {
			return c.JSON(fiber.Map{"paid": false, "status": order.Status})
		}

		balance, _, err := a.Credits.AddCredits(c.UserContext(), ident.ProfileID, order.Credits,
			a.PaymentProviderName, order.ID, order.CustomerID)
		if err != nil {
			log.Errorf("crediting verified order %q failed: %v", order.ID, err)
			return internalError(c, "failed to credit order")
		}
		return c.JSON(fiber.Map{"paid": true, "balance": balance})
	}

	since := time.Now().Add(-time.Hour)
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return jsonError(c, fiber.StatusBadRequest, "bad_request", "since must be an RFC3339 timestamp")
		}
		since = parsed
	}

	has, balance, err := a.Credits.HasPurchaseSince(c.UserContext(), ident.ProfileID, since)
	if err != nil {
		return internalError(c, "failed to check purchases")
	}
	return c.JSON(fiber.Map{"paid": has, "balance": balance})
}

// HandlePaymentWebhook receives provider deliveries. The event is recorded
// before processing; once recorded the handler answers 200 even on a
// processing error (stored on the event row) so the provider stops
// redelivering. Duplicate order ids never double-credit.
func (a *API) HandlePaymentWebhook(c *fiber.Ctx) error {
	raw := c.Body()

	if !payments.VerifyWebhookSignature(raw, c.Get("X-Signature"), a.WebhookSecret) {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_signature", "webhook signature verification failed")
	}

	event, err := payments.ParseWebhookEvent(raw)
	if err != nil || event.EventID == "" {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "unparseable webhook payload")
	}

	record := &models.PaymentWebhookEvent{
		Provider:        a.PaymentProviderName,
		ProviderEventID: event.EventID,
		EventType:       event.EventType,
		PayloadJSON:     string(raw),
		SignatureValid:  true,
	}
	first, err := a.Credits.RecordWebhookEvent(c.UserContext(), record)
	if err != nil {
		log.Errorf("webhook event record failed for %q: %v", event.EventID, err)
		return internalError(c, "failed to record webhook event")
	}
	if !first && record.ProcessedAt != nil {
		return c.JSON(fiber.Map{"status": "duplicate"})
	}

	if event.EventType != payments.EventTypeOrderPaid {
		if err := a.Credits.MarkWebhookProcessed(c.UserContext(), record.ID, ""); err != nil {
			log.Warnf("webhook processed stamp failed for %q: %v", event.EventID, err)
		}
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	_, alreadyProcessed, err := a.Credits.AddCredits(c.UserContext(), event.ProfileID, event.Credits,
		a.PaymentProviderName, event.OrderID, event.CustomerID)
	if err != nil {
		log.Errorf("webhook crediting failed for order %q: %v", event.OrderID, err)
		if markErr := a.Credits.MarkWebhookProcessed(c.UserContext(), record.ID, err.Error()); markErr != nil {
			log.Warnf("webhook error stamp failed for %q: %v", event.EventID, markErr)
		}
		// Recorded with its error; a 200 stops pointless provider retries.
		return c.JSON(fiber.Map{"status": "error_recorded"})
	}

	if err := a.Credits.MarkWebhookProcessed(c.UserContext(), record.ID, ""); err != nil {
		log.Warnf("webhook processed stamp failed for %q: %v", event.EventID, err)
	}
	if alreadyProcessed {
		return c.JSON(fiber.Map{"status": "duplicate_order"})
	}
	return c.JSON(fiber.Map{"status": "credited"})
}
