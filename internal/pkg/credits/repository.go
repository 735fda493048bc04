package credits

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/visionboardai/visionboard/app/models"
)

// Repository provides DB operations used by the credit ledger service.
type Repository interface {
	GetOrCreateCreditRecord(profileID uint) (*models.CreditRecord, error)
	AddCreditsIfNewOrder(purchase *models.PurchaseRecord) (bool, error)
	DeductBalance(profileID uint) (bool, error)
	AddBalance(profileID uint, amount int) error
	HasPurchaseSince(profileID uint, since time.Time) (bool, error)
	MarkGoalReserved(goalID uint) (bool, error)
	ClearGoalReservation(goalID uint) (bool, error)
	RecordWebhookEvent(event *models.PaymentWebhookEvent) (bool, error)
	MarkWebhookProcessed(eventID uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a credit ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOrCreateCreditRecord(profileID uint) (*models.CreditRecord, error) {
	var record models.CreditRecord
	err := r.db.Where("profile_id = ?", profileID).First(&record).Error
	if err == nil {
		return &record, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := &models.CreditRecord{ProfileID: profileID}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile_id"}},
		DoNothing: true,
	}).Create(fresh).Error; err != nil {
		return nil, err
	}
	err = r.db.Where("profile_id = ?", profileID).First(&record).Error
	return &record, err
}

// AddCreditsIfNewOrder inserts the purchase record and increments the balance
// in one transaction. The unique index on (provider, order_id) makes the
// insert a no-op for duplicate payment notifications; the balance is only
// touched when the insert actually created a row.
func (r *gormRepository) AddCreditsIfNewOrder(purchase *models.PurchaseRecord) (bool, error) {
	created := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "provider"},
				{Name: "order_id"},
			},
			DoNothing: true,
		}).Create(purchase)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true

		return tx.Model(&models.CreditRecord{}).
			Where("profile_id = ?", purchase.ProfileID).
			Updates(map[string]interface{}{
				"balance":         gorm.Expr("balance + ?", purchase.Credits),
				"total_purchased": gorm.Expr("total_purchased + ?", purchase.Credits),
			}).Error
	})
	return created, err
}

// DeductBalance decrements the balance by one, guarded at zero by the WHERE
// clause. Returns false without mutation when no credit was available.
func (r *gormRepository) DeductBalance(profileID uint) (bool, error) {
	tx := r.db.Model(&models.CreditRecord{}).
		Where("profile_id = ? AND balance > 0", profileID).
		UpdateColumn("balance", gorm.Expr("balance - 1"))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) AddBalance(profileID uint, amount int) error {
	return r.db.Model(&models.CreditRecord{}).
		Where("profile_id = ?", profileID).
		UpdateColumn("balance", gorm.Expr("balance + ?", amount)).Error
}

func (r *gormRepository) HasPurchaseSince(profileID uint, since time.Time) (bool, error) {
	var count int64
	err := r.db.Model(&models.PurchaseRecord{}).
		Where("profile_id = ? AND created_at > ?", profileID, since).
		Count(&count).Error
	return count > 0, err
}

// MarkGoalReserved flips the reservation marker on a goal that does not
// already carry one.
func (r *gormRepository) MarkGoalReserved(goalID uint) (bool, error) {
	tx := r.db.Model(&models.Goal{}).
		Where("id = ? AND credit_reserved = ?", goalID, false).
		UpdateColumn("credit_reserved", true)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// ClearGoalReservation clears the marker; returns whether a reservation was
// actually open, which decides whether a release must refund.
func (r *gormRepository) ClearGoalReservation(goalID uint) (bool, error) {
	tx := r.db.Model(&models.Goal{}).
		Where("id = ? AND credit_reserved = ?", goalID, true).
		UpdateColumn("credit_reserved", false)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// RecordWebhookEvent stores a raw provider delivery. The unique index on
// (provider, provider_event_id) turns redelivered events into a no-op insert;
// the return value reports whether this was the first delivery. After a
// duplicate, the stored row is loaded into event so callers see its state.
func (r *gormRepository) RecordWebhookEvent(event *models.PaymentWebhookEvent) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(event).Error
	return false, err
}

func (r *gormRepository) MarkWebhookProcessed(eventID uint, processingError string) error {
	now := time.Now()
	return r.db.Model(&models.PaymentWebhookEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"processed_at":     &now,
			"processing_error": processingError,
		}).Error
}
