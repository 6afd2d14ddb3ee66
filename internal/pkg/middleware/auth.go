package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/flowkitio/flowkit/internal/pkg/usercontext"
)

// Header names populated by the auth gateway in front of this service. The
// auth provider itself is an external collaborator; by the time a request
// reaches us the subject has already been verified upstream.
const (
	HeaderAuthUserID = "X-Auth-User-Id"
	HeaderAuthEmail  = "X-Auth-User-Email"
	HeaderAuthName   = "X-Auth-User-Name"
)

// UserContextMiddleware populates the request user context from the auth
// gateway headers. It never rejects; routes that require a caller use
// AuthRequired on top.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authUserID := strings.TrimSpace(c.Get(HeaderAuthUserID))
		if authUserID != "" {
			usercontext.SetUserContext(c, usercontext.UserContext{
				AuthUserID:      authUserID,
				Email:           strings.TrimSpace(c.Get(HeaderAuthEmail)),
				Name:            strings.TrimSpace(c.Get(HeaderAuthName)),
				IsAuthenticated: true,
			})
		}
		return c.Next()
	}
}

// AuthRequired rejects requests without an authenticated subject.
func AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !usercontext.IsAuthenticated(c) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Unauthorized",
			})
		}
		return c.Next()
	}
}
