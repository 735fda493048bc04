package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/visionboardai/visionboard/app/models"
	"github.com/visionboardai/visionboard/app/repository"
	"github.com/visionboardai/visionboard/internal/pkg/credits"
	"github.com/visionboardai/visionboard/internal/pkg/exporter"
	"github.com/visionboardai/visionboard/internal/pkg/generation"
	"github.com/visionboardai/visionboard/internal/pkg/identity"
	"github.com/visionboardai/visionboard/internal/pkg/lifecycle"
	"github.com/visionboardai/visionboard/internal/pkg/payments"
	"github.com/visionboardai/visionboard/internal/pkg/ratelimit"
	"github.com/visionboardai/visionboard/internal/pkg/usercontext"
)

// ObjectStorage is the slice of the storage client the handlers use.
type ObjectStorage interface {
	UploadBytes(ctx context.Context, objectKey, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, objectKey string) error
}

// BackgroundRemover produces a transparent cutout from a photo.
type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, filename string, image []byte) ([]byte, error)
}

// AssetGenerator produces goal images and motivational phrases.
type AssetGenerator interface {
	GenerateAssets(ctx context.Context, goalTitle, cutoutURL string) (*generation.Assets, error)
	GeneratePhrase(ctx context.Context, goalTitle string) (*generation.PhraseResult, error)
}

// PDFRenderer renders a board layout into PDF bytes.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, layout *exporter.BoardLayout) ([]byte, error)
}

// PaymentProvider is the hosted-checkout side of the payments vendor.
type PaymentProvider interface {
	CreateCheckout(ctx context.Context, profileID uint) (*payments.Checkout, error)
	GetOrder(ctx context.Context, orderID string) (*payments.Order, error)
}

// API bundles the handler dependencies. Constructed once in main and handed
// to the router; handlers carry no package-level state.
type API struct {
	Repos     *repository.Repositories
	Lifecycle *lifecycle.Service
	Credits   *credits.Service
	Identity  *identity.Service
	Limits    *ratelimit.Registry

	Generator AssetGenerator
	Remover   BackgroundRemover
	Storage   ObjectStorage
	Exporter  PDFRenderer
	Payments  PaymentProvider

	// PaymentProvider name recorded on ledger rows, e.g. "creem".
	PaymentProviderName string
	WebhookSecret       string
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

func notFound(c *fiber.Ctx, message string) error {
	return jsonError(c, fiber.StatusNotFound, "not_found", message)
}

func internalError(c *fiber.Ctx, message string) error {
	return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", message)
}

// loadOwnedBoard fetches the board behind :uuid and checks it belongs to the
// requesting profile. 404 for both missing and foreign boards so ownership is
// not probeable.
func (a *API) loadOwnedBoard(c *fiber.Ctx, ident usercontext.Identity) (*models.VisionBoard, error) {
	board, err := a.Repos.Board.GetByUUID(c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(c, "board not found")
		}
		return nil, internalError(c, "failed to load board")
	}
	if board.ProfileID != ident.ProfileID {
		return nil, notFound(c, "board not found")
	}
	return board, nil
}

// loadOwnedGoal fetches the goal behind :uuid along with its board and checks
// ownership the same way as loadOwnedBoard.
func (a *API) loadOwnedGoal(c *fiber.Ctx, ident usercontext.Identity) (*models.Goal, *models.VisionBoard, error) {
	goal, err := a.Repos.Goal.GetByUUID(c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, notFound(c, "goal not found")
		}
		return nil, nil, internalError(c, "failed to load goal")
	}

	board, err := a.Repos.Board.GetByID(goal.BoardID)
	if err != nil {
		return nil, nil, internalError(c, "failed to load board")
	}
	if board.ProfileID != ident.ProfileID {
		return nil, nil, notFound(c, "goal not found")
	}
	return goal, board, nil
}

// checkRateLimit applies the sliding-window budget for the identity. Returns
// false after writing the 429 response; no mutation may happen before this.
func (a *API) checkRateLimit(c *fiber.Ctx, ident usercontext.Identity, class ratelimit.Class) (bool, error) {
	isPaid, err := a.Credits.IsPaid(c.UserContext(), ident.ProfileID)
	if err != nil {
		return false, internalError(c, "failed to determine account tier")
	}

	result, err := a.Limits.Check(c.UserContext(), ident.RateLimitKey(), class, isPaid)
	if err != nil {
		return false, internalError(c, "rate limit check failed")
	}
	if !result.Allowed {
		return false, c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":     "rate_limited",
			"message":   "too many requests, slow down",
			"remaining": result.Remaining,
		})
	}
	return true, nil
}

func goalJSON(goal *models.Goal) fiber.Map {
	m := fiber.Map{
		"uuid":       goal.UUID,
		"title":      goal.Title,
		"status":     goal.Status,
		"pos_x":      goal.PosX,
		"pos_y":      goal.PosY,
		"width":      goal.Width,
		"height":     goal.Height,
		"created_at": goal.CreatedAt,
	}
	if goal.ImageURL != "" {
		m["image_url"] = goal.ImageURL
	}
	if goal.Phrase != "" {
		m["phrase"] = goal.Phrase
	}
	if goal.FailReason != "" {
		m["fail_reason"] = goal.FailReason
	}
	return m
}

func boardJSON(board *models.VisionBoard, goals []models.Goal) fiber.Map {
	m := fiber.Map{
		"uuid":       board.UUID,
		"name":       board.Name,
		"share_link": board.ShareLink,
		"view_count": board.ViewCount,
		"created_at": board.CreatedAt,
	}
	if goals != nil {
		out := make([]fiber.Map, 0, len(goals))
		for i := range goals {
			out = append(out, goalJSON(&goals[i]))
		}
		m["goals"] = out
	}
	return m
}
