package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/flowkitio/flowkit/app/models"
	"github.com/flowkitio/flowkit/app/repository"
	"github.com/flowkitio/flowkit/internal/pkg/usercontext"
)

// UserController serves user provisioning for externally authenticated
// subjects.
type UserController struct {
	users repository.UserRepository
}

func NewUserController(users repository.UserRepository) *UserController {
	return &UserController{users: users}
}

type createUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// HandleCreateUser ensures a local user document exists for the caller.
// Idempotent: repeated calls return the same document.
func (uc *UserController) HandleCreateUser(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req createUserRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if req.Email == "" {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Email is required")
	}
	candidate := models.User{AuthUserID: userCtx.AuthUserID, Email: req.Email, Name: req.Name}
	if err := candidate.Validate(); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid email address")
	}

	user, err := uc.users.EnsureExists(c.Context(), userCtx.AuthUserID, req.Email, req.Name)
	if err != nil {
		log.Errorf("failed to ensure user %s: %v", userCtx.AuthUserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create user")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"user": fiber.Map{
			"id":                 user.ID.Hex(),
			"authUserId":         user.AuthUserID,
			"email":              user.Email,
			"name":               user.Name,
			"stripeCustomerId":   user.StripeCustomerID,
			"createdAt":          user.CreatedAt.UTC().Format(timeFormat),
			"updatedAt":          user.UpdatedAt.UTC().Format(timeFormat),
		},
	})
}
