package lifecycle

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/visionboardai/visionboard/app/models"
	"github.com/visionboardai/visionboard/app/repository"
	"github.com/visionboardai/visionboard/internal/pkg/credits"
)

type testEnv struct {
	db      *gorm.DB
	svc     *Service
	credits *credits.Service
	profile *models.Profile
	board   *models.VisionBoard
}

func newTestEnv(t *testing.T, maxGoals int) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	require.NoError(t, db.AutoMigrate(
		&models.Profile{},
		&models.VisionBoard{},
		&models.Goal{},
		&models.CreditRecord{},
		&models.PurchaseRecord{},
	))

	visitor := "fp-lifecycle"
	profile := &models.Profile{VisitorID: &visitor}
	require.NoError(t, db.Create(profile).Error)

	board := &models.VisionBoard{ProfileID: profile.ID, Name: "dream big", VisitorID: visitor}
	require.NoError(t, db.Create(board).Error)

	repos := repository.NewRepositories(db)
	creditSvc := credits.NewServiceFromDB(db)

	return &testEnv{
		db:      db,
		svc:     NewService(repos.Goal, creditSvc, maxGoals),
		credits: creditSvc,
		profile: profile,
		board:   board,
	}
}

func (e *testEnv) grantCredits(t *testing.T, n int) {
	t.Helper()
	_, _, err := e.credits.AddCredits(context.Background(), e.profile.ID, n, "creem", "order-seed", "")
	require.NoError(t, err)
}

func (e *testEnv) backdateGoal(t *testing.T, goalID uint, age time.Duration) {
	t.Helper()
	stamp := time.Now().Add(-age)
	require.NoError(t, e.db.Model(&models.Goal{}).
		Where("id = ?", goalID).
		UpdateColumns(map[string]interface{}{
			"created_at": stamp,
			"updated_at": stamp,
		}).Error)
}

func TestCreateGoal_TitleValidation(t *testing.T) {
	env := newTestEnv(t, 4)
	ctx := context.Background()

	_, err := env.svc.CreateGoal(ctx, env.board, "  ", false)
	assert.ErrorIs(t, err, ErrTitleRequired)

	_, err = env.svc.CreateGoal(ctx, env.board, strings.Repeat("x", 201), false)
	assert.ErrorIs(t, err, ErrTitleTooLong)

	goal, err := env.svc.CreateGoal(ctx, env.board, strings.Repeat("x", 200), false)
	require.NoError(t, err)
	assert.Equal(t, models.GoalStatusPending, goal.Status)
}

func TestCreateGoal_BoardQuotaUsesNonFailedCount(t *testing.T) {
	env := newTestEnv(t, 4)
	ctx := context.Background()

	var last *models.Goal
	for i := 0; i < 4; i++ {
		goal, err := env.svc.CreateGoal(ctx, env.board, "goal", false)
		require.NoError(t, err)
		last = goal
	}

	// Fifth creation is rejected without creating a row.
	_, err := env.svc.CreateGoal(ctx, env.board, "one too many", false)
	assert.ErrorIs(t, err, ErrBoardFull)

	var count int64
	require.NoError(t, env.db.Model(&models.Goal{}).Count(&count).Error)
	assert.EqualValues(t, 4, count)

	// Failing one goal frees a slot: failed goals do not count.
	require.NoError(t, env.svc.Fail(ctx, last, env.profile.ID, "vendor error"))
	_, err = env.svc.CreateGoal(ctx, env.board, "fits again", false)
	assert.NoError(t, err)
}

func TestCreateGoal_CreditReservation(t *testing.T) {
	env := newTestEnv(t, 4)
	ctx := context.Background()

	// Without credits the paid path is rejected and no row survives.
	_, err := env.svc.CreateGoal(ctx, env.board, "paid goal", true)
	assert.ErrorIs(t, err, ErrNoCredits)

	var count int64
	require.NoError(t, env.db.Model(&models.Goal{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)

	env.grantCredits(t, 1)
	goal, err := env.svc.CreateGoal(ctx, env.board, "paid goal", true)
	require.NoError(t, err)
	assert.True(t, goal.CreditReserved)

	balance, err := env.credits.Balance(ctx, env.profile.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestComplete_RequiresImageAndCommits(t *testing.T) {
	env := newTestEnv(t, 4)
	ctx := context.Background()
	env.grantCredits(t, 1)

	goal, err := env.svc.CreateGoal(ctx, env.board, "visit japan", true)
	require.NoError(t, err)
	require.NoError(t, env.svc.MarkGenerating(ctx, goal))

	assert.Error(t, env.svc.Complete(ctx, goal, "", "phrase"))

	require.NoError(t, env.svc.Complete(ctx, goal, "https://cdn.example.com/img.png", ""))
	assert.Equal(t, models.GoalStatusCompleted, goal.Status)

	// Phrase may arrive after completion.
	require.NoError(t, env.svc.AttachPhrase(ctx, goal, "you will get there"))

	// Terminal: no further transitions, and the consumed credit stays spent.
	assert.ErrorIs(t, env.svc.Fail(ctx, goal, env.profile.ID, "nope"), ErrTerminalState)
	balance, err := env.credits.Balance(ctx, env.profile.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestFail_ReleasesReservation(t *testing.T) {
	env := newTestEnv(t, 4)
	ctx := context.Background()
	env.grantCredits(t, 1)

	goal, err := env.svc.CreateGoal(ctx, env.board, "learn piano", true)
	require.NoError(t, err)

	require.NoError(t, env.svc.Fail(ctx, goal, env.profile.ID, "vendor 500"))
	assert.Equal(t, models.GoalStatusFailed, goal.Status)

	balance, err := env.credits.Balance(ctx, env.profile.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, balance)

	assert.ErrorIs(t, env.svc.Complete(ctx, goal, "https://x/y.png", ""), ErrTerminalState)
}

func TestFindStuckGoals_ThresholdAndStatusFilter(t *testing.T) {
	env := newTestEnv(t, 9)
	ctx := context.Background()

	fresh, err := env.svc.CreateGoal(ctx, env.board, "fresh", false)
	require.NoError(t, err)

	oldPending, err := env.svc.CreateGoal(ctx, env.board, "old pending", false)
	require.NoError(t, err)
	env.backdateGoal(t, oldPending.ID, 4*time.Minute)

	oldGenerating, err := env.svc.CreateGoal(ctx, env.board, "old generating", false)
	require.NoError(t, err)
	require.NoError(t, env.svc.MarkGenerating(ctx, oldGenerating))
	env.backdateGoal(t, oldGenerating.ID, 4*time.Minute)

	oldCompleted, err := env.svc.CreateGoal(ctx, env.board, "old completed", false)
	require.NoError(t, err)
	require.NoError(t, env.svc.Complete(ctx, oldCompleted, "https://x/img.png", ""))
	env.backdateGoal(t, oldCompleted.ID, 4*time.Minute)

	stuck, err := env.svc.FindStuckGoalsForBoard(ctx, env.board.ID)
	require.NoError(t, err)

	ids := make(map[uint]bool, len(stuck))
	for _, g := range stuck {
		ids[g.ID] = true
	}
	assert.True(t, ids[oldPending.ID])
	assert.True(t, ids[oldGenerating.ID])
	assert.False(t, ids[fresh.ID])
	assert.False(t, ids[oldCompleted.ID])
}

func TestReclaimStuckForBoard_FailsAndRefunds(t *testing.T) {
	env := newTestEnv(t, 9)
	ctx := context.Background()
	env.grantCredits(t, 1)

	goal, err := env.svc.CreateGoal(ctx, env.board, "stuck one", true)
	require.NoError(t, err)
	require.NoError(t, env.svc.MarkGenerating(ctx, goal))
	env.backdateGoal(t, goal.ID, 4*time.Minute)

	reclaimed, err := env.svc.ReclaimStuckForBoard(ctx, env.board)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	var stored models.Goal
	require.NoError(t, env.db.First(&stored, goal.ID).Error)
	assert.Equal(t, models.GoalStatusFailed, stored.Status)
	assert.False(t, stored.CreditReserved)

	balance, err := env.credits.Balance(ctx, env.profile.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, balance)

	// A second pass finds nothing.
	reclaimed, err = env.svc.ReclaimStuckForBoard(ctx, env.board)
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)
}

func TestStuckWindowCountsFromDispatch(t *testing.T) {
	env := newTestEnv(t, 9)
	ctx := context.Background()

	goal, err := env.svc.CreateGoal(ctx, env.board, "created long ago", false)
	require.NoError(t, err)
	env.backdateGoal(t, goal.ID, 10*time.Minute)

	// Dispatch touches the row, restarting the stuck clock: a goal that sat
	// pending for a while must not be reclaimed right after dispatch.
	require.NoError(t, env.svc.MarkGenerating(ctx, goal))

	stuck, err := env.svc.FindStuckGoalsForBoard(ctx, env.board.ID)
	require.NoError(t, err)
	assert.Empty(t, stuck)
}

func TestLateCompletionLosesToReclaim(t *testing.T) {
	env := newTestEnv(t, 9)
	ctx := context.Background()
	env.grantCredits(t, 1)

	goal, err := env.svc.CreateGoal(ctx, env.board, "slow vendor", true)
	require.NoError(t, err)
	require.NoError(t, env.svc.MarkGenerating(ctx, goal))
	env.backdateGoal(t, goal.ID, 4*time.Minute)

	// A status poll reclaims the goal and refunds the reservation while the
	// vendor call is still running against a stale copy.
	reclaimed, err := env.svc.ReclaimStuckForBoard(ctx, env.board)
	require.NoError(t, err)
	require.Equal(t, 1, reclaimed)

	// The vendor then succeeds. Only one terminal transition may ever win:
	// the late completion must lose and report the stored state.
	err = env.svc.Complete(ctx, goal, "https://cdn.example.com/late.png", "made it")
	assert.ErrorIs(t, err, ErrTerminalState)
	assert.Equal(t, models.GoalStatusFailed, goal.Status)

	var stored models.Goal
	require.NoError(t, env.db.First(&stored, goal.ID).Error)
	assert.Equal(t, models.GoalStatusFailed, stored.Status)
	assert.Empty(t, stored.ImageURL)
	assert.False(t, stored.CreditReserved)

	// The reclaim's refund stands; losing the race must not consume or
	// double-refund the credit.
	balance, err := env.credits.Balance(ctx, env.profile.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, balance)

	// The reverse race loses the same way.
	err = env.svc.Fail(ctx, &models.Goal{
		ID:     stored.ID,
		UUID:   stored.UUID,
		Status: models.GoalStatusGenerating,
	}, env.profile.ID, "late failure")
	assert.ErrorIs(t, err, ErrTerminalState)
	balance, err = env.credits.Balance(ctx, env.profile.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, balance)
}
