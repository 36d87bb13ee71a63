package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// currentActor reads the caller bound by the auth middleware and writes a 401
// when it is missing.
func currentActor(c *fiber.Ctx) (actorID int64, role string, ok bool, err error) {
	actorID, _ = c.Locals("actor_id").(int64)
	role, _ = c.Locals("role").(string)
	if actorID <= 0 || role == "" {
		return 0, "", false, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}
	return actorID, role, true, nil
}

func parseIDParam(c *fiber.Ctx, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseIDQuery(c *fiber.Ctx, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
