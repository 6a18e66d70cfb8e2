package middleware

import "github.com/labstack/echo/v4"

// Roles carried in the JWT role claim.
const (
	RolePassenger = "PASSENGER"
	RoleConductor = "CONDUCTOR"
	RoleAdmin     = "ADMIN"
)

// Context keys set by JWTAuth.
const (
	userIDKey = "user_id"
	roleKey   = "role"
)

// UserID returns the authenticated user's ID stored by JWTAuth.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(userIDKey).(uint64)
	return id, ok && id > 0
}

// Role returns the authenticated user's role, or "" for anonymous requests.
func Role(c echo.Context) string {
	r, _ := c.Get(roleKey).(string)
	return r
}

// subject identifies the caller in rate limit keys and logs.
func subject(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return uitoa(id)
	}
	return "anon"
}
