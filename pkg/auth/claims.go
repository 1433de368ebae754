package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/auctionhouse-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.UserRole
	JTI    string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// AuthenticatedUser is the single identity shape handed to handlers and services.
// Whether the user acts as buyer or seller is decided per order, not here.
type AuthenticatedUser struct {
	ID   uuid.UUID
	Role enums.UserRole
}

// User converts verified claims into the canonical authenticated identity.
func (c *AccessTokenClaims) User() AuthenticatedUser {
	role := c.Role
	if !role.IsValid() {
		role = enums.UserRoleUser
	}
	return AuthenticatedUser{ID: c.UserID, Role: role}
}

// IsAdmin reports whether the user carries the platform admin role.
func (u AuthenticatedUser) IsAdmin() bool {
	return u.Role == enums.UserRoleAdmin
}
