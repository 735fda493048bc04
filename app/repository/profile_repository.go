package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/visionboardai/visionboard/app/models"
)

type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new profile repository instance
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) Create(profile *models.Profile) error {
	return r.db.Create(profile).Error
}

func (r *profileRepository) GetByID(id uint) (*models.Profile, error) {
	var profile models.Profile
	if err := r.db.First(&profile, id).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *profileRepository) GetByAuthUserID(authUserID string) (*models.Profile, error) {
	return models.FindProfileByAuthUserID(r.db, authUserID)
}

func (r *profileRepository) GetByVisitorID(visitorID string) (*models.Profile, error) {
	return models.FindProfileByVisitorID(r.db, visitorID)
}

// GetOrCreateByVisitorID resolves a fingerprint to a profile, creating one on
// first contact. The unique index on visitor_id absorbs concurrent creates;
// on conflict the existing row is re-read.
func (r *profileRepository) GetOrCreateByVisitorID(visitorID string) (*models.Profile, error) {
	profile, err := r.GetByVisitorID(visitorID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := &models.Profile{VisitorID: &visitorID}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "visitor_id"}},
		DoNothing: true,
	}).Create(fresh).Error; err != nil {
		return nil, err
	}
	return r.GetByVisitorID(visitorID)
}

// GetOrCreateByAuthUserID resolves an external auth user id to a profile,
// creating one on the first authenticated request.
func (r *profileRepository) GetOrCreateByAuthUserID(authUserID string) (*models.Profile, error) {
	profile, err := r.GetByAuthUserID(authUserID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := &models.Profile{AuthUserID: &authUserID}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "auth_user_id"}},
		DoNothing: true,
	}).Create(fresh).Error; err != nil {
		return nil, err
	}
	return r.GetByAuthUserID(authUserID)
}

func (r *profileRepository) Update(profile *models.Profile) error {
	return r.db.Save(profile).Error
}

func (r *profileRepository) IncrementFreeImagesUsed(id uint) error {
	return r.db.Model(&models.Profile{}).
		Where("id = ?", id).
		UpdateColumn("free_images_used", gorm.Expr("free_images_used + 1")).Error
}
