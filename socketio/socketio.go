package socketio

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"messenger-core/messenger"
	"messenger-core/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"github.com/zishang520/engine.io/v2/log"
	"github.com/zishang520/socket.io-go-redis/adapter"
	r_type "github.com/zishang520/socket.io-go-redis/types"
	"github.com/zishang520/socket.io/v2/socket"
)

// Server is the socket.io endpoint. Every authenticated socket joins the room of its user,
// which is where deliveries for that user are emitted.
type Server struct {
	*socket.Server
	log *slog.Logger
}

// UserRoom is the room every socket of a user joins.
func UserRoom(userID uint) socket.Room {
	return socket.Room(strconv.FormatUint(uint64(userID), 10))
}

// Init mounts socket.io on app. With a redis client, rooms span every instance of the service.
func Init(app *fiber.App, rdb *redis.Client, accessKey string, logger *slog.Logger) *Server {
	log.DEBUG = logger.Enabled(context.Background(), slog.LevelDebug)

	options := socket.DefaultServerOptions()
	options.SetServeClient(true)
	options.SetAllowEIO3(true)
	options.SetPingInterval(25 * time.Second)
	options.SetPingTimeout(20 * time.Second)
	options.SetMaxHttpBufferSize(1000000)
	options.SetConnectTimeout(5 * time.Second)
	if rdb != nil {
		options.SetAdapter(&adapter.RedisAdapterBuilder{
			Redis: r_type.NewRedisClient(context.Background(), rdb),
			Opts:  &adapter.RedisAdapterOptions{},
		})
	}

	server := socket.NewServer(nil, options)

	server.Use(func(client *socket.Socket, next func(*socket.ExtendedError)) {
		token, _ := client.Conn().Request().Query().Get("token")

		if claims, id, ok := Authenticate(token, accessKey); ok {
			client.Join(UserRoom(id))
			client.SetData(claims)
		}

		next(nil)
	})

	app.Get("/socket.io/", adaptor.HTTPHandler(server.ServeHandler(options)))
	app.Post("/socket.io/", adaptor.HTTPHandler(server.ServeHandler(options)))

	return &Server{Server: server, log: logger}
}

// Authenticate checks a handshake token against the access secret. Tokens still waiting
// on a second factor are refused.
func Authenticate(token string, accessKey string) (*utils.TokenMetadata, uint, bool) {
	if token == "" {
		return nil, 0, false
	}
	claims, err := utils.CheckAndExtractTokenMetadata(token, accessKey)
	if err != nil || claims.Otp {
		return nil, 0, false
	}
	id, err := claims.UserID()
	if err != nil {
		return nil, 0, false
	}
	return claims, id, true
}

// Deliver emits the delivery to the recipient's room under its event name.
// Users with no open socket simply miss the push; the message stays listable.
func (s *Server) Deliver(ctx context.Context, delivery messenger.Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.To(UserRoom(delivery.RecipientID)).Emit(delivery.Event, delivery)
	return nil
}

// Identity returns the authenticated user of a socket.
func Identity(client *socket.Socket) (uint, bool) {
	claims, ok := client.Data().(*utils.TokenMetadata)
	if !ok || claims == nil {
		return 0, false
	}
	id, err := claims.UserID()
	return id, err == nil
}
