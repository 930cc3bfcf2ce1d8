package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"messenger-core/config"
	"messenger-core/controller"
	"messenger-core/database"
	"messenger-core/event"
	"messenger-core/messenger"
	"messenger-core/router"
	"messenger-core/socketio"
	"messenger-core/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/mama165/sdk-go/logs"
)

const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2

	// redis database backing the socket.io adapter
	socketRedisDB = 1
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintln(os.Stderr, "messenger-core:", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	settings, err := config.Load()
	if err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(settings.LogLevel)
	ctx := context.Background()

	db, err := database.Connect(settings.DBDriver, log)
	if err != nil {
		return exitError, err
	}
	enforcer, err := database.Casbin(db)
	if err != nil {
		return exitError, err
	}

	if err := database.RedisConnect(ctx, log); err != nil {
		return exitError, err
	}
	defer database.RedisClose()

	conn, channel, err := event.RabbitMQConnect([]string{event.DeliveryQueue}, log)
	if err != nil {
		return exitError, err
	}
	defer conn.Close()
	defer channel.Close()

	publisher, outLog, err := newPublisher(ctx, channel, settings.EventMode, log)
	if err != nil {
		return exitError, err
	}
	if outLog != nil {
		defer outLog.Close()
	}

	rest := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         true,
		AppName:               "messenger-core",
		BodyLimit:             int(settings.MaxUploadSize) + 1<<20,
	})
	rest.Use(cors.New())

	socket := socketio.Init(rest, database.Redis[socketRedisDB], settings.JWTAccessKey, log)
	defer socket.Close(nil)

	service, err := messenger.New(db, messenger.Options{
		Log:              log,
		Enforcer:         enforcer,
		Broadcaster:      messenger.Broadcasters{socket, publisher},
		StoreTimeout:     settings.StoreTimeout,
		DeliveryTimeout:  settings.DeliveryTimeout,
		PageSize:         settings.PageSize,
		MaxPageSize:      settings.MaxPageSize,
		MaxContentLength: settings.MaxContentLength,
		MediaBaseURL:     settings.MediaBaseURL,
	})
	if err != nil {
		return exitError, err
	}
	uploader, err := storage.NewLocal(settings.UploadDir, settings.MaxUploadSize, log)
	if err != nil {
		return exitError, err
	}

	router.Rest(rest, controller.NewMessenger(service, uploader, settings.MediaBaseURL, log), settings.JWTAccessKey, uploader.Dir())
	router.Socket(socket, service, settings.MediaBaseURL, log)

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- rest.Listen(fmt.Sprintf(":%s", settings.ServerPort))
	}()
	log.Info("Messenger core started", "port", settings.ServerPort, "driver", settings.DBDriver, "event_mode", settings.EventMode)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(signals)

	select {
	case s := <-signals:
		log.Info("Shutting down", "signal", s.String())
	case err := <-listenErr:
		if err != nil {
			return exitError, fmt.Errorf("http server stopped: %w", err)
		}
	}
	if err := rest.ShutdownWithContext(ctx); err != nil {
		return exitError, err
	}
	return exitOK, nil
}

// newPublisher builds the RabbitMQ broadcaster. Unless events are disabled, published
// deliveries are appended to the out log; in OUT mode that log is first replayed.
func newPublisher(ctx context.Context, channel event.Channel, mode string, log *slog.Logger) (*event.Publisher, *os.File, error) {
	if mode == event.ModeDisable {
		return event.NewPublisher(channel, event.DeliveryQueue, nil, log), nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(event.RabbitMQOutLogFile), 0o750); err != nil {
		return nil, nil, err
	}

	if mode == event.ModeOut {
		if err := replay(ctx, event.NewPublisher(channel, event.DeliveryQueue, nil, log)); err != nil {
			return nil, nil, err
		}
	}

	outLog, err := os.OpenFile(event.RabbitMQOutLogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, nil, err
	}
	return event.NewPublisher(channel, event.DeliveryQueue, outLog, log), outLog, nil
}

func replay(ctx context.Context, publisher *event.Publisher) error {
	file, err := os.Open(event.RabbitMQOutLogFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = publisher.Replay(ctx, file)
	return err
}
