package controller

import (
	"errors"
	"fmt"

	"messenger-core/messenger"
	"messenger-core/middleware"

	"github.com/gofiber/fiber/v2"
)

// UserProfile returns the caller's public profile as other participants see it.
func (m *Messenger) UserProfile(c *fiber.Ctx) error {
	users, err := m.service.Directory.Users(c.UserContext(), []uint{middleware.UserID(c)})
	if errors.Is(err, messenger.ErrValidation) {
		// the token is valid but the user directory has no such user
		return fail(c, m.log, fmt.Errorf("%w: user %d", messenger.ErrNotFound, middleware.UserID(c)))
	}
	if err != nil {
		return fail(c, m.log, err)
	}
	return success(c, fiber.StatusOK, messenger.NewPublicUser(users[0]))
}
