package middleware

import (
	"strings"

	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
)

const missingJWT = "missing or malformed JWT"

// JWT verifies the HS512 bearer token signed with key and stores it under Locals("user").
func JWT(key string) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{
			JWTAlg: "HS512",
			Key:    []byte(key),
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if strings.EqualFold(err.Error(), missingJWT) {
				return c.Status(fiber.StatusBadRequest).
					JSON(fiber.Map{
						"status":  "error",
						"message": "Missing or malformed JWT",
						"data":    nil,
					})
			}
			return unauthorized(c)
		},
	})
}
