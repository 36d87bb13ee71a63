package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/ChambaBack/internal/models"
	"github.com/saeid-a/ChambaBack/pkg/utils"
)

func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization header",
			})
		}

		tokenString, ok := BearerToken(authHeader)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}

		claims, err := utils.ValidateToken(tokenString, secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		if bound, err := BindActor(c, claims); !bound {
			return err
		}
		return c.Next()
	}
}

func BearerToken(authHeader string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(authHeader), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// BindActor stores user_id, actor_id and role in c.Locals. Only company and
// worker tokens with a numeric user id pass; otherwise the rejection is
// written and bound is false.
func BindActor(c *fiber.Ctx, claims *utils.Claims) (bound bool, err error) {
	if !models.ValidRole(claims.Role) {
		return false, c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	actorID, parseErr := strconv.ParseInt(claims.UserID, 10, 64)
	if parseErr != nil || actorID <= 0 {
		return false, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("actor_id", actorID)
	c.Locals("role", claims.Role)
	return true, nil
}
