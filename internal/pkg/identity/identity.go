package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/visionboardai/visionboard/app/models"
	"github.com/visionboardai/visionboard/app/repository"
)

var (
	ErrNoIdentity       = errors.New("request carries no identity")
	ErrNotAuthenticated = errors.New("profile is not authenticated")
)

// Service resolves incoming requests to profiles and owns the one-time
// anonymous-to-authenticated board migration.
type Service struct {
	profiles repository.ProfileRepository
	boards   repository.BoardRepository
}

// NewService creates an identity service with explicit dependencies.
func NewService(profiles repository.ProfileRepository, boards repository.BoardRepository) *Service {
	return &Service{profiles: profiles, boards: boards}
}

// ResolveAuthenticated maps an external auth user id to a profile, creating
// one on the first authenticated request.
func (s *Service) ResolveAuthenticated(ctx context.Context, authUserID string) (*models.Profile, error) {
	_ = ctx
	authUserID = strings.TrimSpace(authUserID)
	if authUserID == "" {
		return nil, ErrNoIdentity
	}
	return s.profiles.GetOrCreateByAuthUserID(authUserID)
}

// ResolveVisitor maps an anonymous fingerprint to a profile, creating one on
// first contact.
func (s *Service) ResolveVisitor(ctx context.Context, visitorID string) (*models.Profile, error) {
	_ = ctx
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return nil, ErrNoIdentity
	}
	return s.profiles.GetOrCreateByVisitorID(visitorID)
}

// MigrateVisitorBoards moves all boards created under the visitor fingerprint
// that have no claiming user yet onto the authenticated profile. Boards that
// already belong to a user are untouched. Returns the number of boards moved.
func (s *Service) MigrateVisitorBoards(ctx context.Context, visitorID string, profile *models.Profile) (int64, error) {
	_ = ctx
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return 0, ErrNoIdentity
	}
	if profile == nil || !profile.IsAuthenticated() {
		return 0, ErrNotAuthenticated
	}
	return s.boards.MigrateVisitorBoards(visitorID, *profile.AuthUserID, profile.ID)
}
