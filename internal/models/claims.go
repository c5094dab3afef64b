package models

import "github.com/golang-jwt/jwt/v5"

// Application permissions
const (
	PermissionAccountRead      = "account:read"
	PermissionTransactionRead  = "transaction:read"
	PermissionTransactionWrite = "transaction:write"
	PermissionLimitsWrite      = "limits:write"
	PermissionCardWrite        = "card:write"
)

// UserClaims is what the auth middleware trusts: the bearer is user UserID.
type UserClaims struct {
	jwt.RegisteredClaims
	UserID       uint     `json:"user_id"`
	Email        string   `json:"email"`
	Role         string   `json:"role"`
	Permissions  []string `json:"permissions"`
	TokenVersion int      `json:"token_version"`
}

// HasPermission checks if the claims include a specific permission.
// Tokens issued without a permission list are treated as full user tokens.
func (c *UserClaims) HasPermission(permission string) bool {
	if len(c.Permissions) == 0 {
		return true
	}
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// GetDefaultPermissions returns default permissions based on role
func GetDefaultPermissions(role string) []string {
	switch role {
	case "user", "admin":
		return []string{
			PermissionAccountRead,
			PermissionTransactionRead,
			PermissionTransactionWrite,
			PermissionLimitsWrite,
			PermissionCardWrite,
		}
	default:
		return []string{}
	}
}
