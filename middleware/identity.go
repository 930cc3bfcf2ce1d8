package middleware

import (
	"messenger-core/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const userIDKey = "user_id"

// Identity resolves the caller's user id from the verified token claims.
func Identity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, ok := c.Locals("user").(*jwt.Token)
		if !ok {
			return unauthorized(c)
		}
		claims, ok := user.Claims.(jwt.MapClaims)
		if !ok {
			return unauthorized(c)
		}
		meta, err := utils.MetadataFromClaims(claims)
		if err != nil {
			return unauthorized(c)
		}
		id, err := meta.UserID()
		if err != nil {
			return unauthorized(c)
		}
		c.Locals(userIDKey, id)
		return c.Next()
	}
}

// UserID is the caller set by Identity, zero when absent.
func UserID(c *fiber.Ctx) uint {
	id, _ := c.Locals(userIDKey).(uint)
	return id
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).
		JSON(fiber.Map{
			"status":  "error",
			"message": "Invalid or expired JWT",
			"data":    nil,
		})
}
