package socketio

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"messenger-core/config"
	"messenger-core/messenger"
	"messenger-core/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"github.com/zishang520/socket.io/v2/socket"
)

func TestUserRoom(t *testing.T) {
	require.Equal(t, socket.Room("42"), UserRoom(42))
}

func TestServer_Deliver(t *testing.T) {
	req := require.New(t)
	server := Init(fiber.New(), nil, "access-secret", logs.GetLoggerFromLevel(slog.LevelInfo))
	t.Cleanup(func() { server.Close(nil) })
	delivery := messenger.Delivery{Channel: messenger.Channel(1), RecipientID: 2, Event: messenger.EventMessageSent}

	// An empty room is not a failure
	req.NoError(server.Deliver(context.Background(), delivery))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req.ErrorIs(server.Deliver(ctx, delivery), context.Canceled)
}

func TestAuthenticate_ConfiguredSecret(t *testing.T) {
	req := require.New(t)

	// Given the access secret loaded the way main loads it
	t.Setenv("JWT_ACCESS_KEY", "socket-test-secret")
	settings, err := config.Load()
	req.NoError(err)
	token, err := utils.GenerateToken("7", false, 15*time.Minute, settings.JWTAccessKey)
	req.NoError(err)

	// When the handshake token is checked with that secret
	claims, id, ok := Authenticate(token, settings.JWTAccessKey)

	// Then the socket belongs to user 7
	req.True(ok)
	req.EqualValues(7, id)
	req.Equal("7", claims.Id)
}

func TestAuthenticate_Refused(t *testing.T) {
	signed := func(id string, otp bool, key string) string {
		token, err := utils.GenerateToken(id, otp, 15*time.Minute, key)
		require.NoError(t, err)
		return token
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "no token", token: ""},
		{name: "other secret", token: signed("7", false, "rotated")},
		{name: "second factor pending", token: signed("7", true, "access-secret")},
		{name: "subject is not a user id", token: signed("alice", false, "access-secret")},
		{name: "expired", token: func() string {
			token, err := utils.GenerateToken("7", false, -time.Minute, "access-secret")
			require.NoError(t, err)
			return token
		}()},
		{name: "garbage", token: "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, id, ok := Authenticate(tt.token, "access-secret")
			require.False(t, ok)
			require.Zero(t, id)
			require.Nil(t, claims)
		})
	}
}
