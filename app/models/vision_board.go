package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/visionboardai/visionboard/internal/pkg/shortener"
)

// VisionBoard is a named collection of goals owned by one profile.
//
// VisitorID and UserID are denormalized identity columns used by the
// anonymous-to-authenticated migration: only boards with a visitor
// fingerprint and no claiming user may be re-assigned. Deleting a board
// cascades deletion of its goals.
type VisionBoard struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UUID      string         `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	ProfileID uint           `gorm:"index;not null" json:"profile_id"`
	Profile   Profile        `gorm:"foreignKey:ProfileID" json:"-"`
	VisitorID string         `gorm:"type:varchar(191);index" json:"visitor_id,omitempty"`
	UserID    *string        `gorm:"type:varchar(191);index" json:"user_id,omitempty"`
	Name      string         `gorm:"type:varchar(255);not null" json:"name" validate:"required,min=1,max=255"`
	ShareLink string         `gorm:"type:varchar(32);uniqueIndex" json:"share_link"`
	ViewCount int            `gorm:"default:0" json:"view_count"`
	Goals     []Goal         `gorm:"foreignKey:BoardID;constraint:OnDelete:CASCADE" json:"goals,omitempty"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate assigns the UUID and a unique share link.
func (b *VisionBoard) BeforeCreate(tx *gorm.DB) error {
	if b.UUID == "" {
		b.UUID = uuid.New().String()
	}
	if b.ShareLink == "" {
		slug, err := shortener.GenerateSecureSlug(10)
		if err != nil {
			return err
		}
		b.ShareLink = slug
	}
	return nil
}

// FindBoardByUUID loads a board by its public UUID.
func FindBoardByUUID(db *gorm.DB, boardUUID string) (*VisionBoard, error) {
	var board VisionBoard
	if err := db.Where("uuid = ?", boardUUID).First(&board).Error; err != nil {
		return nil, err
	}
	return &board, nil
}
