package usercontext

// Shared Locals/session keys used across controllers and middlewares
const (
	KeyIdentity   = "IDENTITY_CONTEXT"
	KeyAuthUserID = "auth_user_id"
)

// VisitorIDHeader carries the client-derived anonymous fingerprint.
const VisitorIDHeader = "X-Visitor-Id"
