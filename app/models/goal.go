package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Goal status constants. A goal moves pending -> generating -> completed or
// failed; terminal states never transition again.
const (
	GoalStatusPending    = "pending"    // row created, no work dispatched yet
	GoalStatusGenerating = "generating" // dispatched to the generation service
	GoalStatusCompleted  = "completed"  // image URL (and usually phrase) present
	GoalStatusFailed     = "failed"     // terminal, excluded from active counts
)

// GoalTitleMaxLen caps goal titles; enforced before a row is created.
const GoalTitleMaxLen = 200

// Goal is a single image-generation task placed on a board.
//
// CreditReserved marks an open credit reservation: a credit was deducted when
// the goal was created and has not been committed or released yet. The
// stuck-goal reclaimer refunds reserved credits when it forces a timeout.
type Goal struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	UUID           string         `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	BoardID        uint           `gorm:"index;not null" json:"board_id"`
	Board          VisionBoard    `gorm:"foreignKey:BoardID" json:"-"`
	Title          string         `gorm:"type:varchar(200);not null" json:"title" validate:"required,min=1,max=200"`
	ImageURL       string         `gorm:"type:varchar(500);default:null" json:"image_url,omitempty"`
	Phrase         string         `gorm:"type:varchar(500);default:null" json:"phrase,omitempty"`
	Status         string         `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	PosX           float64        `gorm:"default:0" json:"pos_x"`
	PosY           float64        `gorm:"default:0" json:"pos_y"`
	Width          float64        `gorm:"default:0" json:"width"`
	Height         float64        `gorm:"default:0" json:"height"`
	CreditReserved bool           `gorm:"default:false;index" json:"-"`
	FailReason     string         `gorm:"type:varchar(255);default:null" json:"fail_reason,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (g *Goal) Validate() error {
	v := validator.New()

	return v.Struct(g)
}

// IsTerminal reports whether the goal reached a final state.
func (g *Goal) IsTerminal() bool {
	return g.Status == GoalStatusCompleted || g.Status == GoalStatusFailed
}

// IsActive reports whether the goal counts toward board quota. Failed goals
// stay in storage but are excluded from all active counts and listings.
func (g *Goal) IsActive() bool {
	return g.Status != GoalStatusFailed
}

// BeforeCreate assigns the public UUID.
func (g *Goal) BeforeCreate(tx *gorm.DB) error {
	if g.UUID == "" {
		g.UUID = uuid.New().String()
	}
	return nil
}

// FindGoalByUUID loads a goal by its public UUID.
func FindGoalByUUID(db *gorm.DB, goalUUID string) (*Goal, error) {
	var goal Goal
	if err := db.Where("uuid = ?", goalUUID).First(&goal).Error; err != nil {
		return nil, err
	}
	return &goal, nil
}
