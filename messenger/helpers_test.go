package messenger_test

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"messenger-core/database"
	"messenger-core/messenger"
	"messenger-core/model"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// stepClock hands out strictly increasing timestamps, one second apart.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// recorder is a broadcaster keeping every delivery it accepted.
type recorder struct {
	mu         sync.Mutex
	deliveries []messenger.Delivery
}

func (r *recorder) Deliver(_ context.Context, d messenger.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
	return nil
}

func (r *recorder) All() []messenger.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]messenger.Delivery(nil), r.deliveries...)
}

type fixture struct {
	db      *gorm.DB
	service *messenger.Service
	clock   *stepClock
	users   map[string]uint
}

func newFixture(t *testing.T, broadcaster messenger.Broadcaster) *fixture {
	t.Helper()
	req := require.New(t)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "messenger.db"))
	req.NoError(err)
	req.NoError(database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	clock := newStepClock()
	service, err := messenger.New(db, messenger.Options{
		Log:          logs.GetLoggerFromLevel(slog.LevelDebug),
		Clock:        clock.Now,
		Broadcaster:  broadcaster,
		StoreTimeout: 5 * time.Second,
		PageSize:     50,
		MediaBaseURL: "https://cdn.example.com/storage",
	})
	req.NoError(err)

	f := &fixture{db: db, service: service, clock: clock, users: map[string]uint{}}
	for _, name := range []string{"u1", "u2", "u3", "u4"} {
		user := model.User{Username: name, DisplayName: "User " + name, Avatar: "avatars/" + name + ".png"}
		req.NoError(db.Create(&user).Error)
		f.users[name] = user.ID
	}
	return f
}

func (f *fixture) id(name string) uint {
	return f.users[name]
}

// team creates the group "Team" of u1 (admin), u2 and u3.
func (f *fixture) team(t *testing.T) model.Conversation {
	t.Helper()
	conv, err := f.service.CreateGroup(context.Background(), f.id("u1"), "Team", "", []uint{f.id("u2"), f.id("u3")})
	require.NoError(t, err)
	return conv
}

func (f *fixture) send(t *testing.T, conversationID uint, sender string, content string) model.Message {
	t.Helper()
	m, err := f.service.Append(context.Background(), conversationID, f.id(sender), messenger.SendInput{Content: content})
	require.NoError(t, err)
	return m
}

func roleOf(conv model.Conversation, userID uint) model.Role {
	for _, p := range conv.Participations {
		if p.UserID == userID {
			return p.Role
		}
	}
	return ""
}
