package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Profile is the identity anchor for boards, credits and purchases. It is
// created on the first visitor interaction (fingerprint) or the first
// authenticated request (external auth provider user id). Profiles are never
// deleted by normal flows.
type Profile struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	AuthUserID     *string        `gorm:"type:varchar(191);uniqueIndex" json:"auth_user_id,omitempty"`
	VisitorID      *string        `gorm:"type:varchar(191);uniqueIndex" json:"visitor_id,omitempty"`
	AvatarURL      string         `gorm:"type:varchar(500);default:null" json:"avatar_url" validate:"max=500"`
	PhotoURL       string         `gorm:"type:varchar(500);default:null" json:"photo_url" validate:"max=500"`
	CutoutURL      string         `gorm:"type:varchar(500);default:null" json:"cutout_url" validate:"max=500"`
	FreeImagesUsed int            `gorm:"default:0" json:"free_images_used"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (p *Profile) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

// IsAuthenticated reports whether the profile is linked to an external auth user.
func (p *Profile) IsAuthenticated() bool {
	return p.AuthUserID != nil && *p.AuthUserID != ""
}

// FindProfileByAuthUserID looks up a profile by its external auth user id.
func FindProfileByAuthUserID(db *gorm.DB, authUserID string) (*Profile, error) {
	var profile Profile
	if err := db.Where("auth_user_id = ?", authUserID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// FindProfileByVisitorID looks up a profile by its anonymous fingerprint.
func FindProfileByVisitorID(db *gorm.DB, visitorID string) (*Profile, error) {
	var profile Profile
	if err := db.Where("visitor_id = ?", visitorID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}
