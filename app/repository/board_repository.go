package repository

import (
	"gorm.io/gorm"

	"github.com/visionboardai/visionboard/app/models"
)

type boardRepository struct {
	db *gorm.DB
}

// NewBoardRepository creates a new board repository instance
func NewBoardRepository(db *gorm.DB) BoardRepository {
	return &boardRepository{db: db}
}

func (r *boardRepository) Create(board *models.VisionBoard) error {
	return r.db.Create(board).Error
}

func (r *boardRepository) GetByID(id uint) (*models.VisionBoard, error) {
	var board models.VisionBoard
	if err := r.db.First(&board, id).Error; err != nil {
		return nil, err
	}
	return &board, nil
}

func (r *boardRepository) GetByUUID(uuid string) (*models.VisionBoard, error) {
	return models.FindBoardByUUID(r.db, uuid)
}

func (r *boardRepository) GetByShareLink(shareLink string) (*models.VisionBoard, error) {
	var board models.VisionBoard
	if err := r.db.Where("share_link = ?", shareLink).First(&board).Error; err != nil {
		return nil, err
	}
	return &board, nil
}

func (r *boardRepository) GetByProfileID(profileID uint) ([]models.VisionBoard, error) {
	var boards []models.VisionBoard
	err := r.db.Where("profile_id = ?", profileID).
		Order("created_at DESC").
		Find(&boards).Error
	return boards, err
}

// Delete removes a board and all of its goals.
func (r *boardRepository) Delete(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("board_id = ?", id).Delete(&models.Goal{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.VisionBoard{}, id).Error
	})
}

// MigrateVisitorBoards re-assigns all boards created under a visitor
// fingerprint that have not been claimed by any user yet. Boards that already
// carry a user id are untouched, so a repeated migration (or a stale
// fingerprint shared between devices) can never steal claimed boards.
func (r *boardRepository) MigrateVisitorBoards(visitorID, authUserID string, profileID uint) (int64, error) {
	tx := r.db.Model(&models.VisionBoard{}).
		Where("visitor_id = ? AND user_id IS NULL", visitorID).
		Updates(map[string]interface{}{
			"user_id":    authUserID,
			"profile_id": profileID,
		})
	return tx.RowsAffected, tx.Error
}
