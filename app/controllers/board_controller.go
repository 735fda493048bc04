package controllers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/visionboardai/visionboard/app/models"
	"github.com/visionboardai/visionboard/internal/pkg/exporter"
	"github.com/visionboardai/visionboard/internal/pkg/metrics/counter"
	"github.com/visionboardai/visionboard/internal/pkg/ratelimit"
	"github.com/visionboardai/visionboard/internal/pkg/usercontext"
)

type createBoardRequest struct {
	Name string `json:"name"`
}

// HandleCreateBoard creates a board for the requesting profile. The share
// link is assigned on create.
func (a *API) HandleCreateBoard(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	var req createBoardRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid request body")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", "board name is required")
	}
	if len(name) > 255 {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", "board name exceeds 255 characters")
	}

	board := &models.VisionBoard{
		ProfileID: ident.ProfileID,
		VisitorID: ident.VisitorID,
		Name:      name,
	}
	if ident.IsAuthenticated {
		authUserID := ident.AuthUserID
		board.UserID = &authUserID
	}
	if err := a.Repos.Board.Create(board); err != nil {
		log.Errorf("board create failed for profile %d: %v", ident.ProfileID, err)
		return internalError(c, "failed to create board")
	}

	return c.Status(fiber.StatusCreated).JSON(boardJSON(board, nil))
}

// HandleListBoards lists the requesting profile's boards.
func (a *API) HandleListBoards(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	boards, err := a.Repos.Board.GetByProfileID(ident.ProfileID)
	if err != nil {
		return internalError(c, "failed to list boards")
	}

	out := make([]fiber.Map, 0, len(boards))
	for i := range boards {
		out = append(out, boardJSON(&boards[i], nil))
	}
	return c.JSON(fiber.Map{"boards": out})
}

// HandleGetBoard returns one board with its active goals. Accessing a board
// reclaims its stuck goals first, so the client never polls a dead
// "generating" state forever.
func (a *API) HandleGetBoard(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	board, err := a.loadOwnedBoard(c, ident)
	if err != nil {
		return err
	}

	// Buffered share views land in the row on owner access.
	if err := counter.FlushBoardViews(); err != nil {
		log.Warnf("board view flush failed: %v", err)
	}

	if reclaimed, err := a.Lifecycle.ReclaimStuckForBoard(c.UserContext(), board); err != nil {
		log.Warnf("stuck-goal reclaim failed for board %d: %v", board.ID, err)
	} else if reclaimed > 0 {
		log.Infof("reclaimed %d stuck goal(s) on board %d", reclaimed, board.ID)
	}

	goals, err := a.Repos.Goal.GetActiveByBoardID(board.ID)
	if err != nil {
		return internalError(c, "failed to load goals")
	}
	return c.JSON(boardJSON(board, goals))
}

// HandleGetSharedBoard serves a board by its share link. Public: no identity
// required, read-only view.
func (a *API) HandleGetSharedBoard(c *fiber.Ctx) error {
	board, err := a.Repos.Board.GetByShareLink(c.Params("link"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound(c, "board not found")
		}
		return internalError(c, "failed to load board")
	}

	goals, err := a.Repos.Goal.GetActiveByBoardID(board.ID)
	if err != nil {
		return internalError(c, "failed to load goals")
	}

	if err := counter.AddBoardView(board.ID); err != nil {
		log.Warnf("board view count failed for %d: %v", board.ID, err)
	}

	view := boardJSON(board, goals)
	delete(view, "share_link")
	return c.JSON(view)
}

// HandleDeleteBoard deletes a board and, via cascade, its goals.
func (a *API) HandleDeleteBoard(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	board, err := a.loadOwnedBoard(c, ident)
	if err != nil {
		return err
	}
	if err := a.Repos.Board.Delete(board.ID); err != nil {
		log.Errorf("board delete failed for %d: %v", board.ID, err)
		return internalError(c, "failed to delete board")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleExportBoard renders the board to PDF via the external render service
// and stores the document in object storage.
func (a *API) HandleExportBoard(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	board, err := a.loadOwnedBoard(c, ident)
	if err != nil {
		return err
	}

	if ok, err := a.checkRateLimit(c, ident, ratelimit.ClassExport); !ok {
		return err
	}

	goals, err := a.Repos.Goal.GetActiveByBoardID(board.ID)
	if err != nil {
		return internalError(c, "failed to load goals")
	}

	layout := &exporter.BoardLayout{BoardName: board.Name}
	for i := range goals {
		g := &goals[i]
		if g.Status != models.GoalStatusCompleted {
			continue
		}
		layout.Goals = append(layout.Goals, exporter.GoalLayout{
			Title:    g.Title,
			Phrase:   g.Phrase,
			ImageURL: g.ImageURL,
			PosX:     g.PosX,
			PosY:     g.PosY,
			Width:    g.Width,
			Height:   g.Height,
		})
	}
	if len(layout.Goals) == 0 {
		return jsonError(c, fiber.StatusConflict, "board_empty", "board has no completed goals to export")
	}

	pdf, err := a.Exporter.RenderPDF(c.UserContext(), layout)
	if err != nil {
		log.Errorf("pdf render failed for board %d: %v", board.ID, err)
		return jsonError(c, fiber.StatusBadGateway, "export_failed", "pdf rendering failed")
	}

	key := fmt.Sprintf("exports/%s/%s.pdf", board.UUID, uuid.New().String())
	url, err := a.Storage.UploadBytes(c.UserContext(), key, "application/pdf", pdf)
	if err != nil {
		log.Errorf("pdf upload failed for board %d: %v", board.ID, err)
		return internalError(c, "failed to store exported pdf")
	}

	return c.JSON(fiber.Map{"pdf_url": url})
}
