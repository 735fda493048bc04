package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/visionboardai/visionboard/app/models"
	"github.com/visionboardai/visionboard/app/repository"
	"github.com/visionboardai/visionboard/internal/pkg/credits"
)

// StuckGoalTimeout is how long a goal may sit in pending/generating before the
// reclaimer forces it to failed. The generation service has no guaranteed
// completion callback, so aging out is the only failure signal.
const StuckGoalTimeout = 3 * time.Minute

// DefaultMaxGoalsPerBoard bounds the non-failed goal count of one board.
const DefaultMaxGoalsPerBoard = 9

var (
	ErrTitleRequired = errors.New("goal title is required")
	ErrTitleTooLong  = fmt.Errorf("goal title exceeds %d characters", models.GoalTitleMaxLen)
	ErrBoardFull     = errors.New("board goal limit reached")
	ErrNoCredits     = errors.New("no image credits available")
	ErrTerminalState = errors.New("goal already reached a terminal state")
)

// Service drives the goal state machine:
// pending -> generating -> completed | failed.
type Service struct {
	goals   repository.GoalRepository
	credits *credits.Service

	maxGoalsPerBoard int
	stuckAfter       time.Duration
}

// NewService creates a lifecycle service with explicit dependencies.
func NewService(goals repository.GoalRepository, creditSvc *credits.Service, maxGoalsPerBoard int) *Service {
	if maxGoalsPerBoard <= 0 {
		maxGoalsPerBoard = DefaultMaxGoalsPerBoard
	}
	return &Service{
		goals:            goals,
		credits:          creditSvc,
		maxGoalsPerBoard: maxGoalsPerBoard,
		stuckAfter:       StuckGoalTimeout,
	}
}

// MaxGoalsPerBoard returns the configured per-board goal bound.
func (s *Service) MaxGoalsPerBoard() int {
	return s.maxGoalsPerBoard
}

// CreateGoal validates the title and board quota and creates a goal in
// pending. When useCredit is set, a credit is reserved against the goal;
// the reservation is committed on completion and released on failure or
// timeout.
func (s *Service) CreateGoal(ctx context.Context, board *models.VisionBoard, title string, useCredit bool) (*models.Goal, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	if len([]rune(title)) > models.GoalTitleMaxLen {
		return nil, ErrTitleTooLong
	}

	// Non-failed goals are the quota denominator.
	count, err := s.goals.CountActiveByBoardID(board.ID)
	if err != nil {
		return nil, err
	}
	if count >= int64(s.maxGoalsPerBoard) {
		return nil, ErrBoardFull
	}

	goal := &models.Goal{
		BoardID: board.ID,
		Title:   title,
		Status:  models.GoalStatusPending,
	}
	if err := s.goals.Create(goal); err != nil {
		return nil, err
	}

	if useCredit {
		ok, err := s.credits.ReserveForGoal(ctx, board.ProfileID, goal.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			// No credit to reserve; the freshly created row must not
			// linger as an unfunded pending goal.
			_ = s.goals.Delete(goal.ID)
			return nil, ErrNoCredits
		}
		goal.CreditReserved = true
	}

	return goal, nil
}

// refresh reloads the stored row into the caller's struct so a transition
// that lost the race reports the state that actually won.
func (s *Service) refresh(goal *models.Goal) {
	if fresh, err := s.goals.GetByUUID(goal.UUID); err == nil {
		*goal = *fresh
	}
}

// MarkGenerating records that work was dispatched to the generation service.
// The transition also resets the updated_at stuck clock, so the timeout
// window counts from dispatch rather than from goal creation.
func (s *Service) MarkGenerating(ctx context.Context, goal *models.Goal) error {
	_ = ctx
	if goal.IsTerminal() {
		return ErrTerminalState
	}
	won, err := s.goals.UpdateStatusIfActive(goal.ID, map[string]interface{}{
		"status": models.GoalStatusGenerating,
	})
	if err != nil {
		return err
	}
	if !won {
		s.refresh(goal)
		return ErrTerminalState
	}
	goal.Status = models.GoalStatusGenerating
	return nil
}

// Complete moves a goal to completed. The image URL is mandatory; the phrase
// is best-effort and may arrive later via AttachPhrase without blocking
// completion. The credit reservation is committed.
//
// The transition is a single conditional update: exactly one of Complete and
// Fail can ever win on a goal. A vendor call can outlive the stuck timeout,
// in which case the reclaimer fails the goal and refunds while the call is
// still in flight; the late completion then matches zero rows and must not
// touch the reservation the release already refunded.
func (s *Service) Complete(ctx context.Context, goal *models.Goal, imageURL, phrase string) error {
	if goal.IsTerminal() {
		return ErrTerminalState
	}
	if strings.TrimSpace(imageURL) == "" {
		return errors.New("image url is required to complete a goal")
	}

	updates := map[string]interface{}{
		"status":          models.GoalStatusCompleted,
		"image_url":       imageURL,
		"credit_reserved": false,
	}
	if phrase != "" {
		updates["phrase"] = phrase
	}
	won, err := s.goals.UpdateStatusIfActive(goal.ID, updates)
	if err != nil {
		return err
	}
	if !won {
		s.refresh(goal)
		return ErrTerminalState
	}

	goal.Status = models.GoalStatusCompleted
	goal.ImageURL = imageURL
	if phrase != "" {
		goal.Phrase = phrase
	}
	goal.CreditReserved = false
	return s.credits.CommitReservation(ctx, goal.ID)
}

// AttachPhrase stores a late-arriving phrase on an already completed goal.
func (s *Service) AttachPhrase(ctx context.Context, goal *models.Goal, phrase string) error {
	_ = ctx
	if goal.Status != models.GoalStatusCompleted {
		return fmt.Errorf("cannot attach phrase to goal in status %q", goal.Status)
	}
	goal.Phrase = phrase
	return s.goals.Update(goal)
}

// Fail moves a goal to failed and releases any open credit reservation.
// Failed is terminal; repeated or racing calls return ErrTerminalState and
// leave the winning transition untouched.
func (s *Service) Fail(ctx context.Context, goal *models.Goal, profileID uint, reason string) error {
	if goal.IsTerminal() {
		return ErrTerminalState
	}

	won, err := s.goals.UpdateStatusIfActive(goal.ID, map[string]interface{}{
		"status":      models.GoalStatusFailed,
		"fail_reason": reason,
	})
	if err != nil {
		return err
	}
	if !won {
		s.refresh(goal)
		return ErrTerminalState
	}

	goal.Status = models.GoalStatusFailed
	goal.FailReason = reason
	return s.credits.ReleaseReservation(ctx, profileID, goal.ID)
}

// FindStuckGoalsForBoard lists a board's pending/generating goals whose last
// transition is older than the stuck timeout.
func (s *Service) FindStuckGoalsForBoard(ctx context.Context, boardID uint) ([]models.Goal, error) {
	_ = ctx
	return s.goals.FindStuckForBoard(boardID, time.Now().Add(-s.stuckAfter))
}

// ReclaimStuckForBoard forces stuck goals on one board to failed and refunds
// reserved credits. Runs on board access because generation completion is
// observed only through client polling; there is no background worker.
// Returns the number of reclaimed goals.
func (s *Service) ReclaimStuckForBoard(ctx context.Context, board *models.VisionBoard) (int, error) {
	stuck, err := s.FindStuckGoalsForBoard(ctx, board.ID)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for i := range stuck {
		goal := &stuck[i]
		if err := s.Fail(ctx, goal, board.ProfileID, "generation timed out"); err != nil {
			log.Warnf("reclaim: failed to fail stuck goal %d: %v", goal.ID, err)
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}
