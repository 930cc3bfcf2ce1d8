package database

import (
	"path/filepath"
	"testing"

	"messenger-core/model"

	"github.com/stretchr/testify/require"
)

func TestOpenSQLite_MigratesSchema(t *testing.T) {
	req := require.New(t)

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "messenger.db"))
	req.NoError(err)
	req.NoError(Migrate(db))

	for _, table := range []any{&model.User{}, &model.Conversation{}, &model.Participation{}, &model.Message{}} {
		req.True(db.Migrator().HasTable(table))
	}
	req.True(db.Migrator().HasIndex(&model.Conversation{}, "DirectKey"))
}

func TestMigrate_ParticipationIsUniquePerConversationAndUser(t *testing.T) {
	req := require.New(t)
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "messenger.db"))
	req.NoError(err)
	req.NoError(Migrate(db))

	// Given a user and a conversation
	user := model.User{Username: "alice"}
	req.NoError(db.Create(&user).Error)
	conv := model.Conversation{Kind: model.KindGroup, Name: "Team", CreatorID: user.ID}
	req.NoError(db.Omit("Participations").Create(&conv).Error)
	req.NoError(db.Omit("User").Create(&model.Participation{ConversationID: conv.ID, UserID: user.ID, Role: model.RoleAdmin}).Error)

	// When the same pair is inserted twice
	err = db.Omit("User").Create(&model.Participation{ConversationID: conv.ID, UserID: user.ID, Role: model.RoleMember}).Error

	// Then the store rejects it
	req.Error(err)
}

func TestCasbin_PersistsDefaultPolicy(t *testing.T) {
	req := require.New(t)
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "messenger.db"))
	req.NoError(err)

	e, err := Casbin(db)
	req.NoError(err)

	ok, err := e.Enforce("admin", "message", "moderate")
	req.NoError(err)
	req.True(ok)

	ok, err = e.Enforce("member", "message", "moderate")
	req.NoError(err)
	req.False(ok)

	// Reopening keeps the rules without duplicating them
	again, err := Casbin(db)
	req.NoError(err)
	ok, err = again.Enforce("admin", "participant", "add")
	req.NoError(err)
	req.True(ok)
}
