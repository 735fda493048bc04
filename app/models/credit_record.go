package models

import "time"

// CreditRecord tracks the image-generation credit balance for one profile.
// Balance is only mutated through single-row conditional updates; it is
// guarded at zero by the deduct path. A profile is considered "paid" while
// its balance is positive.
type CreditRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ProfileID      uint      `gorm:"not null;uniqueIndex" json:"profile_id"`
	Balance        int       `gorm:"not null;default:0" json:"balance"`
	TotalPurchased int       `gorm:"not null;default:0" json:"total_purchased"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPaid reports whether the profile currently holds purchased credits.
func (c *CreditRecord) IsPaid() bool {
	return c.Balance > 0
}
