package database

import (
	"fmt"

	"messenger-core/messenger"

	"github.com/casbin/casbin/v2"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"
)

// Casbin builds the conversation role enforcer with its rules persisted next to the messenger schema.
func Casbin(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	// Initialize casbin adapter
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize casbin adapter: %w", err)
	}

	e, err := messenger.NewPolicy(adapter)
	if err != nil {
		return nil, err
	}
	if err := e.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("failed to load casbin policy: %w", err)
	}
	return e, nil
}
