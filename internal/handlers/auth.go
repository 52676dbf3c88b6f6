package handlers

import (
	"log"

	"redline/pkg/auth"

	"github.com/gofiber/fiber/v2"
)

// AuthHandler issues tokens for the single local operator account. The
// password hash comes from configuration; there is no user database.
type AuthHandler struct {
	jwtAuth      *auth.LocalJWTAuth
	passwordHash string
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(jwtAuth *auth.LocalJWTAuth, passwordHash string) *AuthHandler {
	return &AuthHandler{jwtAuth: jwtAuth, passwordHash: passwordHash}
}

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	if h.jwtAuth == nil || h.passwordHash == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Authentication is not configured",
		})
	}

	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	ok, err := auth.VerifyPassword(h.passwordHash, req.Password)
	if err != nil {
		log.Printf("❌ Password verification error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Authentication failed"})
	}
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid credentials"})
	}

	name := req.Name
	if name == "" {
		name = "operator"
	}
	token, err := h.jwtAuth.GenerateToken("operator", name, "admin")
	if err != nil {
		log.Printf("❌ Token generation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Authentication failed"})
	}

	return c.JSON(fiber.Map{
		"token":      token,
		"expires_in": int(h.jwtAuth.TokenExpiry.Seconds()),
	})
}
