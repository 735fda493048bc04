package credits

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/visionboardai/visionboard/app/models"
)

// FreeImageQuota is the number of image generations a profile may run before
// credits are required.
const FreeImageQuota = 3

// Service is the credit ledger: it tracks purchased and consumed
// image-generation credits per profile and stays idempotent against
// duplicate payment notifications.
type Service struct {
	repo Repository
}

// NewService creates a credit service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a credit service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// Balance returns the current credit balance for a profile, creating the
// credit record on first access.
func (s *Service) Balance(ctx context.Context, profileID uint) (int, error) {
	_ = ctx
	if profileID == 0 {
		return 0, errors.New("profile_id is required")
	}
	record, err := s.repo.GetOrCreateCreditRecord(profileID)
	if err != nil {
		return 0, err
	}
	return record.Balance, nil
}

// AddCredits grants purchased credits keyed by the external payment order id.
// Duplicate notifications for the same order id return the current balance
// with alreadyProcessed = true and perform no mutation.
func (s *Service) AddCredits(ctx context.Context, profileID uint, amount int, provider, orderID, customerID string) (int, bool, error) {
	_ = ctx
	p := strings.ToLower(strings.TrimSpace(provider))
	oid := strings.TrimSpace(orderID)
	if profileID == 0 || p == "" || oid == "" {
		return 0, false, errors.New("profile_id, provider and order_id are required")
	}
	if amount <= 0 {
		return 0, false, errors.New("credit amount must be positive")
	}

	// Credit record must exist before the balance increment can match a row.
	if _, err := s.repo.GetOrCreateCreditRecord(profileID); err != nil {
		return 0, false, err
	}

	purchase := &models.PurchaseRecord{
		ProfileID:  profileID,
		Provider:   p,
		OrderID:    oid,
		CustomerID: strings.TrimSpace(customerID),
		Credits:    amount,
	}
	created, err := s.repo.AddCreditsIfNewOrder(purchase)
	if err != nil {
		return 0, false, err
	}

	record, err := s.repo.GetOrCreateCreditRecord(profileID)
	if err != nil {
		return 0, false, err
	}
	return record.Balance, !created, nil
}

// DeductCredit consumes one credit. Returns false without mutation when the
// balance is already zero; this is the only debit path.
func (s *Service) DeductCredit(ctx context.Context, profileID uint) (bool, error) {
	_ = ctx
	if profileID == 0 {
		return false, errors.New("profile_id is required")
	}
	if _, err := s.repo.GetOrCreateCreditRecord(profileID); err != nil {
		return false, err
	}
	return s.repo.DeductBalance(profileID)
}

// RefundCredit restores a single credit, used by the release path.
func (s *Service) RefundCredit(ctx context.Context, profileID uint) error {
	_ = ctx
	if profileID == 0 {
		return errors.New("profile_id is required")
	}
	if _, err := s.repo.GetOrCreateCreditRecord(profileID); err != nil {
		return err
	}
	return s.repo.AddBalance(profileID, 1)
}

// HasPurchaseSince lets a client poll for asynchronous webhook completion
// without re-querying the payment provider.
func (s *Service) HasPurchaseSince(ctx context.Context, profileID uint, since time.Time) (bool, int, error) {
	_ = ctx
	if profileID == 0 {
		return false, 0, errors.New("profile_id is required")
	}
	has, err := s.repo.HasPurchaseSince(profileID, since)
	if err != nil {
		return false, 0, err
	}
	record, err := s.repo.GetOrCreateCreditRecord(profileID)
	if err != nil {
		return false, 0, err
	}
	return has, record.Balance, nil
}

// IsPaid reports whether the profile currently holds purchased credits; this
// decides the rate limiter tier.
func (s *Service) IsPaid(ctx context.Context, profileID uint) (bool, error) {
	balance, err := s.Balance(ctx, profileID)
	if err != nil {
		return false, err
	}
	return balance > 0, nil
}

// ReserveForGoal deducts a credit and marks the goal as holding the
// reservation. Returns false without mutation when no credit is available.
// Generation optimistically reserves at dispatch; completion commits the
// reservation, failure or timeout releases it.
func (s *Service) ReserveForGoal(ctx context.Context, profileID, goalID uint) (bool, error) {
	ok, err := s.DeductCredit(ctx, profileID)
	if err != nil || !ok {
		return false, err
	}
	marked, err := s.repo.MarkGoalReserved(goalID)
	if err != nil {
		// Deduct succeeded but the marker could not be written; restore
		// the credit so no balance leaks.
		_ = s.repo.AddBalance(profileID, 1)
		return false, err
	}
	if !marked {
		// Goal already carried a reservation; do not hold two.
		_ = s.repo.AddBalance(profileID, 1)
		return false, nil
	}
	return true, nil
}

// CommitReservation finalizes a reservation after a successful generation.
// The credit stays consumed.
func (s *Service) CommitReservation(ctx context.Context, goalID uint) error {
	_ = ctx
	_, err := s.repo.ClearGoalReservation(goalID)
	return err
}

// ReleaseReservation refunds the credit held by a goal, if any. Safe to call
// repeatedly: only the call that clears the marker refunds.
func (s *Service) ReleaseReservation(ctx context.Context, profileID, goalID uint) error {
	_ = ctx
	cleared, err := s.repo.ClearGoalReservation(goalID)
	if err != nil {
		return err
	}
	if !cleared {
		return nil
	}
	return s.repo.AddBalance(profileID, 1)
}

// RecordWebhookEvent stores a provider webhook delivery before any
// processing. Returns firstDelivery = false when the provider redelivered an
// event that is already on file.
func (s *Service) RecordWebhookEvent(ctx context.Context, event *models.PaymentWebhookEvent) (bool, error) {
	_ = ctx
	if event == nil || strings.TrimSpace(event.Provider) == "" {
		return false, errors.New("webhook event provider is required")
	}
	return s.repo.RecordWebhookEvent(event)
}

// MarkWebhookProcessed stamps the event with its processing outcome.
func (s *Service) MarkWebhookProcessed(ctx context.Context, eventID uint, processingError string) error {
	_ = ctx
	return s.repo.MarkWebhookProcessed(eventID, processingError)
}
