package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// OTP rejects tokens issued before the second factor was validated.
func OTP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, ok := c.Locals("user").(*jwt.Token)
		if !ok {
			return unauthorized(c)
		}
		claims, _ := user.Claims.(jwt.MapClaims)

		if otp, _ := claims["otp"].(bool); otp {
			return c.Status(fiber.StatusBadRequest).
				JSON(fiber.Map{
					"status":  "error",
					"message": "2FA required",
					"data":    nil,
				})
		}

		return c.Next()
	}
}
