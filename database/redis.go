package database

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"messenger-core/config"

	"github.com/redis/go-redis/v9"
)

var Redis = make(map[int]*redis.Client)

// RedisConnect opens one client per database listed in REDIS_DB.
func RedisConnect(ctx context.Context, log *slog.Logger) error {
	for _, db := range strings.Split(config.Config("REDIS_DB"), ",") {
		dbNumber, err := strconv.Atoi(strings.TrimSpace(db))
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB entry %q: %w", db, err)
		}

		options := &redis.Options{
			Addr: fmt.Sprintf(
				"%s:%s",
				config.Config("REDIS_HOST"),
				config.Config("REDIS_PORT"),
			),
			Password: config.Config("REDIS_PASSWORD"),
			DB:       dbNumber,
		}

		client := redis.NewClient(options)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis db %d: %w", dbNumber, err)
		}
		Redis[dbNumber] = client
	}

	log.Info("Connections opened to Redis", "databases", len(Redis))
	return nil
}

// RedisClose closes every client opened by RedisConnect.
func RedisClose() {
	for _, client := range Redis {
		_ = client.Close()
	}
}
