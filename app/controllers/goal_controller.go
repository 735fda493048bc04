package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/visionboardai/visionboard/app/models"
	"github.com/visionboardai/visionboard/internal/pkg/credits"
	"github.com/visionboardai/visionboard/internal/pkg/lifecycle"
	"github.com/visionboardai/visionboard/internal/pkg/ratelimit"
	"github.com/visionboardai/visionboard/internal/pkg/usercontext"
)

type createGoalRequest struct {
	Title string `json:"title"`
}

type updatePositionRequest struct {
	PosX   float64 `json:"pos_x"`
	PosY   float64 `json:"pos_y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// HandleCreateGoal adds a pending goal to a board. Credits are not touched
// here; funding happens when generation is dispatched.
func (a *API) HandleCreateGoal(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	board, err := a.loadOwnedBoard(c, ident)
	if err != nil {
		return err
	}

	var req createGoalRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid request body")
	}

	goal, err := a.Lifecycle.CreateGoal(c.UserContext(), board, req.Title, false)
	switch {
	case errors.Is(err, lifecycle.ErrTitleRequired), errors.Is(err, lifecycle.ErrTitleTooLong):
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, lifecycle.ErrBoardFull):
		return jsonError(c, fiber.StatusConflict, "board_full", "board goal limit reached")
	case err != nil:
		log.Errorf("goal create failed on board %d: %v", board.ID, err)
		return internalError(c, "failed to create goal")
	}

	return c.Status(fiber.StatusCreated).JSON(goalJSON(goal))
}

// HandleListGoals lists the active goals of a board.
func (a *API) HandleListGoals(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	board, err := a.loadOwnedBoard(c, ident)
	if err != nil {
		return err
	}

	goals, err := a.Repos.Goal.GetActiveByBoardID(board.ID)
	if err != nil {
		return internalError(c, "failed to load goals")
	}

	out := make([]fiber.Map, 0, len(goals))
	for i := range goals {
		out = append(out, goalJSON(&goals[i]))
	}
	return c.JSON(fiber.Map{"goals": out})
}

// HandleDeleteGoal removes a goal unconditionally, refunding an open credit
// reservation first.
func (a *API) HandleDeleteGoal(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	goal, board, err := a.loadOwnedGoal(c, ident)
	if err != nil {
		return err
	}

	if err := a.Credits.ReleaseReservation(c.UserContext(), board.ProfileID, goal.ID); err != nil {
		log.Warnf("reservation release on delete failed for goal %d: %v", goal.ID, err)
	}
	if err := a.Repos.Goal.Delete(goal.ID); err != nil {
		log.Errorf("goal delete failed for %d: %v", goal.ID, err)
		return internalError(c, "failed to delete goal")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleUpdateGoalPosition persists the canvas placement of a goal tile.
func (a *API) HandleUpdateGoalPosition(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	goal, _, err := a.loadOwnedGoal(c, ident)
	if err != nil {
		return err
	}

	var req updatePositionRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid request body")
	}
	if req.Width < 0 || req.Height < 0 {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", "width and height must not be negative")
	}

	if err := a.Repos.Goal.UpdatePosition(goal.ID, req.PosX, req.PosY, req.Width, req.Height); err != nil {
		return internalError(c, "failed to update goal position")
	}

	goal.PosX, goal.PosY, goal.Width, goal.Height = req.PosX, req.PosY, req.Width, req.Height
	return c.JSON(goalJSON(goal))
}

// HandleGenerateGoal runs the full generation round for a goal: rate limit,
// funding (free quota first, then a credit reservation), concurrent
// image+phrase dispatch, then completion or failure. There is no server-side
// retry; a vendor failure lands the goal in failed with its reservation
// released.
func (a *API) HandleGenerateGoal(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	goal, board, err := a.loadOwnedGoal(c, ident)
	if err != nil {
		return err
	}
	if goal.IsTerminal() {
		return jsonError(c, fiber.StatusConflict, "terminal_state", "goal already reached a terminal state")
	}

	if ok, err := a.checkRateLimit(c, ident, ratelimit.ClassImageGeneration); !ok {
		return err
	}

	profile, err := a.Repos.Profile.GetByID(board.ProfileID)
	if err != nil {
		return internalError(c, "failed to load profile")
	}

	// Free rounds first; after the quota every round holds a credit
	// reservation that is committed on success and released on failure.
	usedFreeRound := profile.FreeImagesUsed < credits.FreeImageQuota
	if !usedFreeRound {
		reserved, err := a.Credits.ReserveForGoal(c.UserContext(), board.ProfileID, goal.ID)
		if err != nil {
			return internalError(c, "failed to reserve credit")
		}
		if !reserved {
			return jsonError(c, fiber.StatusPaymentRequired, "no_credits",
				"free image quota exhausted and no credits available, purchase credits to continue")
		}
		goal.CreditReserved = true
	}

	if err := a.Lifecycle.MarkGenerating(c.UserContext(), goal); err != nil {
		if relErr := a.Credits.ReleaseReservation(c.UserContext(), board.ProfileID, goal.ID); relErr != nil {
			log.Warnf("reservation release failed for goal %d: %v", goal.ID, relErr)
		}
		if errors.Is(err, lifecycle.ErrTerminalState) {
			return jsonError(c, fiber.StatusConflict, "terminal_state", "goal already reached a terminal state")
		}
		return internalError(c, "failed to dispatch generation")
	}

	assets, err := a.Generator.GenerateAssets(c.UserContext(), goal.Title, profile.CutoutURL)
	if err != nil {
		log.Errorf("generation failed for goal %d: %v", goal.ID, err)
		if failErr := a.Lifecycle.Fail(c.UserContext(), goal, board.ProfileID, "generation service failed"); failErr != nil {
			log.Errorf("failed to mark goal %d failed: %v", goal.ID, failErr)
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   "generation_failed",
			"message": "image generation failed",
			"goal":    goalJSON(goal),
		})
	}

	if err := a.Lifecycle.Complete(c.UserContext(), goal, assets.ImageURL, assets.Phrase); err != nil {
		if errors.Is(err, lifecycle.ErrTerminalState) {
			// The stuck reclaimer failed the goal while the vendor call was
			// in flight; its transition and refund stand.
			log.Warnf("late completion lost for goal %d, stored state wins", goal.ID)
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":   "terminal_state",
				"message": "goal was reclaimed while generating",
				"goal":    goalJSON(goal),
			})
		}
		log.Errorf("goal completion failed for %d: %v", goal.ID, err)
		return internalError(c, "failed to complete goal")
	}
	if usedFreeRound {
		if err := a.Repos.Profile.IncrementFreeImagesUsed(board.ProfileID); err != nil {
			log.Warnf("free image counter increment failed for profile %d: %v", board.ProfileID, err)
		}
	}

	resp := goalJSON(goal)
	if assets.PhraseErr != nil {
		log.Warnf("phrase generation failed for goal %d: %v", goal.ID, assets.PhraseErr)
		resp["phrase_pending"] = true
	}
	return c.JSON(resp)
}

// HandleRegeneratePhrase requests a fresh phrase for a completed goal.
func (a *API) HandleRegeneratePhrase(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	goal, _, err := a.loadOwnedGoal(c, ident)
	if err != nil {
		return err
	}
	if goal.Status != models.GoalStatusCompleted {
		return jsonError(c, fiber.StatusConflict, "not_completed", "phrase can only be generated for completed goals")
	}

	if ok, err := a.checkRateLimit(c, ident, ratelimit.ClassPhraseGeneration); !ok {
		return err
	}

	result, err := a.Generator.GeneratePhrase(c.UserContext(), goal.Title)
	if err != nil {
		log.Errorf("phrase generation failed for goal %d: %v", goal.ID, err)
		return jsonError(c, fiber.StatusBadGateway, "generation_failed", "phrase generation failed")
	}
	if err := a.Lifecycle.AttachPhrase(c.UserContext(), goal, result.Phrase); err != nil {
		return internalError(c, "failed to store phrase")
	}
	return c.JSON(goalJSON(goal))
}

// HandleGoalStatus is the generation poll endpoint. It reclaims stuck goals
// on the goal's board before answering so a dead round surfaces as failed
// instead of a forever-generating state.
func (a *API) HandleGoalStatus(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	goal, board, err := a.loadOwnedGoal(c, ident)
	if err != nil {
		return err
	}

	if !goal.IsTerminal() {
		if _, err := a.Lifecycle.ReclaimStuckForBoard(c.UserContext(), board); err != nil {
			log.Warnf("stuck-goal reclaim failed for board %d: %v", board.ID, err)
		}
		fresh, err := a.Repos.Goal.GetByUUID(goal.UUID)
		if err == nil {
			goal = fresh
		}
	}

	return c.JSON(goalJSON(goal))
}
