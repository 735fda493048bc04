package models

import "time"

// PurchaseRecord is an append-only ledger entry per external payment order.
//
// The unique index on (provider, order_id) is the idempotency key for credit
// grants: at-least-once webhook delivery must never double-credit, and the
// database constraint closes the read-then-write race an application-level
// check would leave open.
type PurchaseRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ProfileID  uint      `gorm:"not null;index" json:"profile_id"`
	Provider   string    `gorm:"type:varchar(20);not null;index:ux_purchase_records_provider_order,unique,priority:1" json:"provider"`
	OrderID    string    `gorm:"type:varchar(191);not null;index:ux_purchase_records_provider_order,unique,priority:2" json:"order_id"`
	CustomerID string    `gorm:"type:varchar(191);default:null" json:"customer_id,omitempty"`
	Credits    int       `gorm:"not null" json:"credits"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
