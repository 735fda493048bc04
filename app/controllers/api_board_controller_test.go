package controllers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/visionboardai/visionboard/app/models"
	"github.com/visionboardai/visionboard/app/repository"
	"github.com/visionboardai/visionboard/internal/pkg/cache"
	"github.com/visionboardai/visionboard/internal/pkg/credits"
	"github.com/visionboardai/visionboard/internal/pkg/database"
	"github.com/visionboardai/visionboard/internal/pkg/exporter"
	"github.com/visionboardai/visionboard/internal/pkg/generation"
	"github.com/visionboardai/visionboard/internal/pkg/identity"
	"github.com/visionboardai/visionboard/internal/pkg/lifecycle"
	"github.com/visionboardai/visionboard/internal/pkg/payments"
	"github.com/visionboardai/visionboard/internal/pkg/ratelimit"
	"github.com/visionboardai/visionboard/internal/pkg/usercontext"
)

type fakeGenerator struct {
	failImage  bool
	failPhrase bool
}

func (f *fakeGenerator) GenerateAssets(ctx context.Context, goalTitle, cutoutURL string) (*generation.Assets, error) {
	if f.failImage {
		return nil, errors.New("vendor down")
	}
	assets := &generation.Assets{ImageURL: "https://cdn.test/generated/" + goalTitle + ".png"}
	if f.failPhrase {
		assets.PhraseErr = errors.New("phrase vendor down")
	} else {
		assets.Phrase = "you got this"
	}
	return assets, nil
}

func (f *fakeGenerator) GeneratePhrase(ctx context.Context, goalTitle string) (*generation.PhraseResult, error) {
	if f.failPhrase {
		return nil, errors.New("phrase vendor down")
	}
	return &generation.PhraseResult{Phrase: "fresh phrase"}, nil
}

type fakeStorage struct {
	objects map[string][]byte
}

func (f *fakeStorage) UploadBytes(ctx context.Context, objectKey, contentType string, data []byte) (string, error) {
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[objectKey] = data
	return "https://cdn.test/" + objectKey, nil
}

func (f *fakeStorage) Delete(ctx context.Context, objectKey string) error {
	delete(f.objects, objectKey)
	return nil
}

type fakeRemover struct{}

func (f *fakeRemover) RemoveBackground(ctx context.Context, filename string, image []byte) ([]byte, error) {
	return []byte("cutout-bytes"), nil
}

type fakeExporter struct{}

func (f *fakeExporter) RenderPDF(ctx context.Context, layout *exporter.BoardLayout) ([]byte, error) {
	return []byte("%PDF-1.7 fake"), nil
}

type fakePayments struct {
	orders map[string]payments.Order
}

func (f *fakePayments) CreateCheckout(ctx context.Context, profileID uint) (*payments.Checkout, error) {
	return &payments.Checkout{ID: "chk_1", CheckoutURL: "https://pay.test/chk_1"}, nil
}

func (f *fakePayments) GetOrder(ctx context.Context, orderID string) (*payments.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, errors.New("order not found")
	}
	order.ID = orderID
	return &order, nil
}

type apiTestEnv struct {
	app         *API
	fiber       *fiber.App
	db          *gorm.DB
	repos       *repository.Repositories
	identitySvc *identity.Service
	storage     *fakeStorage
	generator   *fakeGenerator
	payments    *fakePayments
}

const testWebhookSecret = "whsec-test"

func newAPITestEnv(t *testing.T) *apiTestEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Profile{}, &models.VisionBoard{}, &models.Goal{},
		&models.CreditRecord{}, &models.PurchaseRecord{}, &models.PaymentWebhookEvent{},
	))
	database.SetDB(db)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache.SetClient(redisClient)

	repos := repository.NewRepositories(db)
	creditSvc := credits.NewServiceFromDB(db)
	identitySvc := identity.NewService(repos.Profile, repos.Board)
	lifecycleSvc := lifecycle.NewService(repos.Goal, creditSvc, 4)

	store := &fakeStorage{}
	gen := &fakeGenerator{}
	pay := &fakePayments{orders: map[string]payments.Order{}}
	api := &API{
		Repos:               repos,
		Lifecycle:           lifecycleSvc,
		Credits:             creditSvc,
		Identity:            identitySvc,
		Limits:              ratelimit.NewRegistry(redisClient),
		Generator:           gen,
		Remover:             &fakeRemover{},
		Storage:             store,
		Exporter:            &fakeExporter{},
		Payments:            pay,
		PaymentProviderName: models.PaymentProviderCreem,
		WebhookSecret:       testWebhookSecret,
	}

	app := fiber.New()
	// Session-free identity resolution, same contract as the middleware.
	app.Use(func(c *fiber.Ctx) error {
		if visitorID := strings.TrimSpace(c.Get(usercontext.VisitorIDHeader)); visitorID != "" {
			profile, err := identitySvc.ResolveVisitor(c.UserContext(), visitorID)
			if err != nil {
				return err
			}
			c.Locals(usercontext.KeyIdentity, usercontext.Identity{
				ProfileID: profile.ID,
				VisitorID: visitorID,
			})
		}
		return c.Next()
	})

	v1 := app.Group("/api/v1")
	v1.Post("/webhooks/payments", api.HandlePaymentWebhook)
	v1.Get("/shared/:link", api.HandleGetSharedBoard)

	authed := v1.Group("", func(c *fiber.Ctx) error {
		if !usercontext.GetIdentity(c).IsResolved() {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		return c.Next()
	})
	authed.Post("/boards", api.HandleCreateBoard)
	authed.Get("/boards", api.HandleListBoards)
	authed.Get("/boards/:uuid", api.HandleGetBoard)
	authed.Delete("/boards/:uuid", api.HandleDeleteBoard)
	authed.Post("/boards/:uuid/export", api.HandleExportBoard)
	authed.Post("/boards/:uuid/goals", api.HandleCreateGoal)
	authed.Get("/boards/:uuid/goals", api.HandleListGoals)
	authed.Delete("/goals/:uuid", api.HandleDeleteGoal)
	authed.Patch("/goals/:uuid/position", api.HandleUpdateGoalPosition)
	authed.Post("/goals/:uuid/generate", api.HandleGenerateGoal)
	authed.Post("/goals/:uuid/phrase", api.HandleRegeneratePhrase)
	authed.Get("/goals/:uuid/status", api.HandleGoalStatus)
	authed.Get("/credits", api.HandleGetCredits)
	authed.Get("/credits/verify", api.HandleVerifyPurchase)

	return &apiTestEnv{
		app:         api,
		fiber:       app,
		db:          db,
		repos:       repos,
		identitySvc: identitySvc,
		storage:     store,
		generator:   gen,
		payments:    pay,
	}
}

func (e *apiTestEnv) request(t *testing.T, method, path, visitorID string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if visitorID != "" {
		req.Header.Set(usercontext.VisitorIDHeader, visitorID)
	}

	resp, err := e.fiber.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func TestBoardLifecycleOverHTTP(t *testing.T) {
	env := newAPITestEnv(t)

	resp, body := env.request(t, http.MethodPost, "/api/v1/boards", "fp-1", fiber.Map{"name": "Dream Big"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	boardUUID := body["uuid"].(string)
	shareLink := body["share_link"].(string)
	assert.NotEmpty(t, shareLink)

	resp, body = env.request(t, http.MethodGet, "/api/v1/boards", "fp-1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, body["boards"], 1)

	// A different visitor cannot see or delete the board.
	resp, _ = env.request(t, http.MethodGet, "/api/v1/boards/"+boardUUID, "fp-other", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp, _ = env.request(t, http.MethodDelete, "/api/v1/boards/"+boardUUID, "fp-other", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	// The share link is public and hides itself.
	resp, body = env.request(t, http.MethodGet, "/api/v1/shared/"+shareLink, "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Dream Big", body["name"])
	assert.NotContains(t, body, "share_link")

	resp, _ = env.request(t, http.MethodDelete, "/api/v1/boards/"+boardUUID, "fp-1", nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	resp, _ = env.request(t, http.MethodGet, "/api/v1/boards/"+boardUUID, "fp-1", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestIdentityRequired(t *testing.T) {
	env := newAPITestEnv(t)

	resp, _ := env.request(t, http.MethodGet, "/api/v1/boards", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestGoalGenerationFlow(t *testing.T) {
	env := newAPITestEnv(t)

	_, board := env.request(t, http.MethodPost, "/api/v1/boards", "fp-2", fiber.Map{"name": "2026"})
	boardUUID := board["uuid"].(string)

	resp, goal := env.request(t, http.MethodPost, "/api/v1/boards/"+boardUUID+"/goals", "fp-2", fiber.Map{"title": "run a marathon"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, models.GoalStatusPending, goal["status"])
	goalUUID := goal["uuid"].(string)

	resp, goal = env.request(t, http.MethodPost, "/api/v1/goals/"+goalUUID+"/generate", "fp-2", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, models.GoalStatusCompleted, goal["status"])
	assert.NotEmpty(t, goal["image_url"])
	assert.Equal(t, "you got this", goal["phrase"])

	// A completed goal cannot be generated again.
	resp, _ = env.request(t, http.MethodPost, "/api/v1/goals/"+goalUUID+"/generate", "fp-2", nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	// The free round was consumed.
	profile, err := env.identitySvc.ResolveVisitor(context.Background(), "fp-2")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.FreeImagesUsed)

	resp, goal = env.request(t, http.MethodPatch, "/api/v1/goals/"+goalUUID+"/position", "fp-2", fiber.Map{
		"pos_x": 10.0, "pos_y": 20.0, "width": 200.0, "height": 150.0,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 200.0, goal["width"])
}

func TestGenerationFailureMarksGoalFailed(t *testing.T) {
	env := newAPITestEnv(t)
	env.generator.failImage = true

	_, board := env.request(t, http.MethodPost, "/api/v1/boards", "fp-3", fiber.Map{"name": "b"})
	boardUUID := board["uuid"].(string)
	_, goal := env.request(t, http.MethodPost, "/api/v1/boards/"+boardUUID+"/goals", "fp-3", fiber.Map{"title": "learn piano"})
	goalUUID := goal["uuid"].(string)

	resp, body := env.request(t, http.MethodPost, "/api/v1/goals/"+goalUUID+"/generate", "fp-3", nil)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	failed := body["goal"].(map[string]interface{})
	assert.Equal(t, models.GoalStatusFailed, failed["status"])

	// Failed goals free their board slot and drop out of listings.
	resp, body = env.request(t, http.MethodGet, "/api/v1/boards/"+boardUUID+"/goals", "fp-3", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, body["goals"], 0)
}

func TestGenerateRequiresCreditsAfterFreeQuota(t *testing.T) {
	env := newAPITestEnv(t)

	profile, err := env.identitySvc.ResolveVisitor(context.Background(), "fp-4")
	require.NoError(t, err)
	profile.FreeImagesUsed = credits.FreeImageQuota
	require.NoError(t, env.repos.Profile.Update(profile))

	_, board := env.request(t, http.MethodPost, "/api/v1/boards", "fp-4", fiber.Map{"name": "b"})
	boardUUID := board["uuid"].(string)
	_, goal := env.request(t, http.MethodPost, "/api/v1/boards/"+boardUUID+"/goals", "fp-4", fiber.Map{"title": "write a book"})
	goalUUID := goal["uuid"].(string)

	resp, _ := env.request(t, http.MethodPost, "/api/v1/goals/"+goalUUID+"/generate", "fp-4", nil)
	assert.Equal(t, fiber.StatusPaymentRequired, resp.StatusCode)

	// Buying credits unblocks generation.
	_, _, err = env.app.Credits.AddCredits(context.Background(), profile.ID, 10, "creem", "order-x", "cus")
	require.NoError(t, err)

	resp, body := env.request(t, http.MethodPost, "/api/v1/goals/"+goalUUID+"/generate", "fp-4", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, models.GoalStatusCompleted, body["status"])

	balance, err := env.app.Credits.Balance(context.Background(), profile.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, balance)
}

func TestBoardExport(t *testing.T) {
	env := newAPITestEnv(t)

	_, board := env.request(t, http.MethodPost, "/api/v1/boards", "fp-5", fiber.Map{"name": "b"})
	boardUUID := board["uuid"].(string)

	// Empty board: nothing to export.
	resp, _ := env.request(t, http.MethodPost, "/api/v1/boards/"+boardUUID+"/export", "fp-5", nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	_, goal := env.request(t, http.MethodPost, "/api/v1/boards/"+boardUUID+"/goals", "fp-5", fiber.Map{"title": "travel"})
	goalUUID := goal["uuid"].(string)
	resp, _ = env.request(t, http.MethodPost, "/api/v1/goals/"+goalUUID+"/generate", "fp-5", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body := env.request(t, http.MethodPost, "/api/v1/boards/"+boardUUID+"/export", "fp-5", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body["pdf_url"], "exports/"+boardUUID+"/")
}

func signWebhook(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaymentWebhook(t *testing.T) {
	env := newAPITestEnv(t)

	profile, err := env.identitySvc.ResolveVisitor(context.Background(), "fp-6")
	require.NoError(t, err)

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "order.paid",
		"object": {"id": "ord_1", "customer_id": "cus_6", "units": 50, "metadata": {"profile_id": %d}}
	}`, profile.ID))

	send := func(body []byte, sig string) (*http.Response, map[string]interface{}) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Signature", sig)
		resp, err := env.fiber.Test(req, -1)
		require.NoError(t, err)
		raw, _ := io.ReadAll(resp.Body)
		var decoded map[string]interface{}
		_ = json.Unmarshal(raw, &decoded)
		return resp, decoded
	}

	// Bad signature is rejected before anything is recorded.
	resp, _ := send(payload, "deadbeef")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, body := send(payload, signWebhook(payload))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "credited", body["status"])

	balance, err := env.app.Credits.Balance(context.Background(), profile.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, balance)

	// Redelivery of the same event never double-credits.
	resp, body = send(payload, signWebhook(payload))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", body["status"])

	balance, err = env.app.Credits.Balance(context.Background(), profile.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, balance)
}

func TestVerifyPurchaseByOrderID(t *testing.T) {
	env := newAPITestEnv(t)

	profile, err := env.identitySvc.ResolveVisitor(context.Background(), "fp-7")
	require.NoError(t, err)
	env.payments.orders["ord_77"] = payments.Order{
		Status:     payments.OrderStatusPaid,
		Credits:    25,
		CustomerID: "cus_1",
		Metadata:   payments.OrderMetadata{ProfileID: profile.ID},
	}

	resp, body := env.request(t, http.MethodGet, "/api/v1/credits/verify?order_id=ord_77", "fp-7", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["paid"])
	assert.Equal(t, 25.0, body["balance"])

	// Polling again stays idempotent against the same order id.
	resp, body = env.request(t, http.MethodGet, "/api/v1/credits/verify?order_id=ord_77", "fp-7", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 25.0, body["balance"])
}

func TestVerifyPurchaseRejectsForeignOrder(t *testing.T) {
	env := newAPITestEnv(t)

	buyer, err := env.identitySvc.ResolveVisitor(context.Background(), "fp-buyer")
	require.NoError(t, err)
	env.payments.orders["ord_88"] = payments.Order{
		Status:   payments.OrderStatusPaid,
		Credits:  25,
		Metadata: payments.OrderMetadata{ProfileID: buyer.ID},
	}

	// Someone else's order id answers 404 and credits nothing.
	resp, _ := env.request(t, http.MethodGet, "/api/v1/credits/verify?order_id=ord_88", "fp-thief", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	thief, err := env.identitySvc.ResolveVisitor(context.Background(), "fp-thief")
	require.NoError(t, err)
	balance, err := env.app.Credits.Balance(context.Background(), thief.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)

	// The buyer's own verification still lands the credits, unpoisoned by
	// the foreign attempt.
	resp, body := env.request(t, http.MethodGet, "/api/v1/credits/verify?order_id=ord_88", "fp-buyer", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["paid"])
	assert.Equal(t, 25.0, body["balance"])
}
