package config

import (
	"fmt"
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Config func to get an env value
func Config(key string) string {
	// load .env file, the process environment wins when the file is absent
	_ = godotenv.Load(".env")
	return os.Getenv(key)
}

// Settings is the typed view of the environment used to wire the messenger core.
type Settings struct {
	ServerPort       string        `env:"SERVER_PORT,default=8080"`
	StoreTimeout     time.Duration `env:"STORE_TIMEOUT,default=5s"`
	DeliveryTimeout  time.Duration `env:"DELIVERY_TIMEOUT,default=5s"`
	PageSize         int           `env:"PAGE_SIZE,default=50"`
	MaxPageSize      int           `env:"MAX_PAGE_SIZE,default=100"`
	MaxContentLength int           `env:"MAX_CONTENT_LENGTH,default=2000"`
	UploadDir        string        `env:"UPLOAD_DIR,default=storage/messages"`
	MediaBaseURL     string        `env:"MEDIA_BASE_URL,default=/storage"`
	MaxUploadSize    int64         `env:"MAX_UPLOAD_SIZE,default=10485760"`
	JWTAccessKey     string        `env:"JWT_ACCESS_KEY"`
	DBDriver         string        `env:"DB_DRIVER,default=postgres"`
	LogLevel         string        `env:"LOG_LEVEL,default=INFO"`
	EventMode        string        `env:"EVENT_MODE,default=DISABLE"`
}

// Load reads .env (if any) and unmarshals Settings from the environment.
func Load() (Settings, error) {
	_ = godotenv.Load(".env")

	var s Settings
	if _, err := env.UnmarshalFromEnviron(&s); err != nil {
		return Settings{}, fmt.Errorf("config error: %w", err)
	}
	if s.PageSize <= 0 || s.MaxPageSize < s.PageSize {
		return Settings{}, fmt.Errorf("config error: PAGE_SIZE=%d must be positive and not above MAX_PAGE_SIZE=%d", s.PageSize, s.MaxPageSize)
	}
	return s, nil
}
