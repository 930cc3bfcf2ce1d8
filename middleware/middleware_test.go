package middleware

import (
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"messenger-core/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func app() *fiber.App {
	app := fiber.New()
	app.Get("/me", JWT("access-secret"), OTP(), Identity(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"id": UserID(c)})
	})
	return app
}

func token(t *testing.T, id string, otp bool) string {
	t.Helper()
	tok, err := utils.GenerateToken(id, otp, 15*time.Minute, "access-secret")
	require.NoError(t, err)
	return tok
}

func call(t *testing.T, a *fiber.App, bearer string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("GET", "/me", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := a.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestIdentity(t *testing.T) {
	a := app()

	t.Run("valid token", func(t *testing.T) {
		req := require.New(t)
		status, body := call(t, a, token(t, "7", false))
		req.Equal(fiber.StatusOK, status)
		req.Equal(strconv.Itoa(7), strconv.Itoa(int(body["id"].(float64))))
	})

	t.Run("missing token", func(t *testing.T) {
		status, body := call(t, a, "")
		require.Equal(t, fiber.StatusBadRequest, status)
		require.Equal(t, "error", body["status"])
	})

	t.Run("second factor pending", func(t *testing.T) {
		status, body := call(t, a, token(t, "7", true))
		require.Equal(t, fiber.StatusBadRequest, status)
		require.Equal(t, "2FA required", body["message"])
	})

	t.Run("subject is not a user id", func(t *testing.T) {
		status, _ := call(t, a, token(t, "alice", false))
		require.Equal(t, fiber.StatusUnauthorized, status)
	})
}
