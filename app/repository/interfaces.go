package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/visionboardai/visionboard/app/models"
)

// ProfileRepository defines the interface for profile-related database operations
type ProfileRepository interface {
	Create(profile *models.Profile) error
	GetByID(id uint) (*models.Profile, error)
	GetByAuthUserID(authUserID string) (*models.Profile, error)
	GetByVisitorID(visitorID string) (*models.Profile, error)
	GetOrCreateByVisitorID(visitorID string) (*models.Profile, error)
	GetOrCreateByAuthUserID(authUserID string) (*models.Profile, error)
	Update(profile *models.Profile) error
	IncrementFreeImagesUsed(id uint) error
}

// BoardRepository defines the interface for vision-board database operations
type BoardRepository interface {
	Create(board *models.VisionBoard) error
	GetByID(id uint) (*models.VisionBoard, error)
	GetByUUID(uuid string) (*models.VisionBoard, error)
	GetByShareLink(shareLink string) (*models.VisionBoard, error)
	GetByProfileID(profileID uint) ([]models.VisionBoard, error)
	Delete(id uint) error
	MigrateVisitorBoards(visitorID, authUserID string, profileID uint) (int64, error)
}

// GoalRepository defines the interface for goal-related database operations
type GoalRepository interface {
	Create(goal *models.Goal) error
	GetByUUID(uuid string) (*models.Goal, error)
	GetActiveByBoardID(boardID uint) ([]models.Goal, error)
	Update(goal *models.Goal) error
	UpdateStatusIfActive(id uint, updates map[string]interface{}) (bool, error)
	UpdatePosition(id uint, x, y, width, height float64) error
	Delete(id uint) error
	CountActiveByBoardID(boardID uint) (int64, error)
	FindStuckForBoard(boardID uint, olderThan time.Time) ([]models.Goal, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Profile ProfileRepository
	Board   BoardRepository
	Goal    GoalRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Profile: NewProfileRepository(db),
		Board:   NewBoardRepository(db),
		Goal:    NewGoalRepository(db),
	}
}
