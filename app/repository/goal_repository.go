package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/visionboardai/visionboard/app/models"
)

type goalRepository struct {
	db *gorm.DB
}

// NewGoalRepository creates a new goal repository instance
func NewGoalRepository(db *gorm.DB) GoalRepository {
	return &goalRepository{db: db}
}

func (r *goalRepository) Create(goal *models.Goal) error {
	return r.db.Create(goal).Error
}

func (r *goalRepository) GetByUUID(uuid string) (*models.Goal, error) {
	return models.FindGoalByUUID(r.db, uuid)
}

// GetActiveByBoardID lists goals excluding failed ones, which stay in storage
// but disappear from boards.
func (r *goalRepository) GetActiveByBoardID(boardID uint) ([]models.Goal, error) {
	var goals []models.Goal
	err := r.db.Where("board_id = ? AND status <> ?", boardID, models.GoalStatusFailed).
		Order("created_at ASC").
		Find(&goals).Error
	return goals, err
}

func (r *goalRepository) Update(goal *models.Goal) error {
	return r.db.Save(goal).Error
}

// UpdateStatusIfActive applies updates to a goal only while it still sits in
// pending or generating. Returns false when no row matched, meaning another
// writer already moved the goal on; the caller must treat the stored state as
// authoritative.
func (r *goalRepository) UpdateStatusIfActive(id uint, updates map[string]interface{}) (bool, error) {
	res := r.db.Model(&models.Goal{}).
		Where("id = ? AND status IN ?", id,
			[]string{models.GoalStatusPending, models.GoalStatusGenerating}).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *goalRepository) UpdatePosition(id uint, x, y, width, height float64) error {
	return r.db.Model(&models.Goal{}).Where("id = ?", id).Updates(map[string]interface{}{
		"pos_x":  x,
		"pos_y":  y,
		"width":  width,
		"height": height,
	}).Error
}

func (r *goalRepository) Delete(id uint) error {
	return r.db.Delete(&models.Goal{}, id).Error
}

// CountActiveByBoardID counts non-failed goals; this is the quota denominator
// for the per-board goal limit.
func (r *goalRepository) CountActiveByBoardID(boardID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Goal{}).
		Where("board_id = ? AND status <> ?", boardID, models.GoalStatusFailed).
		Count(&count).Error
	return count, err
}

// FindStuckForBoard keys staleness on updated_at, not created_at: dispatching
// generation touches the row, so the stuck window counts from the last
// transition rather than from goal creation.
func (r *goalRepository) FindStuckForBoard(boardID uint, olderThan time.Time) ([]models.Goal, error) {
	var goals []models.Goal
	err := r.db.Where("board_id = ? AND status IN ? AND updated_at < ?",
		boardID, []string{models.GoalStatusPending, models.GoalStatusGenerating}, olderThan).
		Find(&goals).Error
	return goals, err
}
