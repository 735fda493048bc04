package usercontext

import "github.com/gofiber/fiber/v2"

// Identity is the resolved request identity: either an authenticated profile
// (external auth provider user id) or an anonymous visitor fingerprint.
type Identity struct {
	ProfileID       uint   `json:"profile_id"`
	AuthUserID      string `json:"auth_user_id,omitempty"`
	VisitorID       string `json:"visitor_id,omitempty"`
	IsAuthenticated bool   `json:"is_authenticated"`
}

// IsResolved reports whether the request maps to a profile at all.
func (i Identity) IsResolved() bool {
	return i.ProfileID != 0
}

// RateLimitKey returns the stable string keying this identity's sliding
// windows.
func (i Identity) RateLimitKey() string {
	if i.IsAuthenticated {
		return "user:" + i.AuthUserID
	}
	return "visitor:" + i.VisitorID
}

// GetIdentity retrieves the resolved identity from the fiber context.
// Returns an unresolved identity if the middleware did not run.
func GetIdentity(c *fiber.Ctx) Identity {
	if v := c.Locals(KeyIdentity); v != nil {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{}
}
