package usercontext

import "github.com/gofiber/fiber/v2"

// ContextKey is the fiber Locals key the auth middleware writes to.
const ContextKey = "USER_CONTEXT"

// UserContext carries the externally authenticated caller for a request.
// AuthUserID is the stable subject id issued by the auth provider.
type UserContext struct {
	AuthUserID      string `json:"auth_user_id"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	IsAuthenticated bool   `json:"is_authenticated"`
}

// GetUserContext retrieves the user context from fiber context.
// Returns a default anonymous context if none is set.
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx := c.Locals(ContextKey); ctx != nil {
		return ctx.(UserContext)
	}
	return UserContext{IsAuthenticated: false}
}

// SetUserContext stores the user context on the fiber context.
func SetUserContext(c *fiber.Ctx, ctx UserContext) {
	c.Locals(ContextKey, ctx)
}

// IsAuthenticated checks if the current request carries an auth subject.
func IsAuthenticated(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAuthenticated
}
