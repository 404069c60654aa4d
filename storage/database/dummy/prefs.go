package dummydb

import (
	"context"

	"github.com/darasahq/darasa/core"
)

type prefsRepository struct {
	db *prefTable
}

var _ core.NotificationPreferences = (*prefsRepository)(nil) // interface compliance check

func NewNotificationPreferences(db *DB) *prefsRepository {
	return &prefsRepository{db: db.pref}
}

func (repo *prefsRepository) Enabled(ctx context.Context, userID, category string) bool {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if enabled, ok := repo.db.table[[2]string{userID, category}]; ok {
		return enabled
	}
	return true
}

// SetEnabled records an explicit opt-in/opt-out; tests use it to exercise
// suppressed notifications.
func (repo *prefsRepository) SetEnabled(userID, category string, enabled bool) {
	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.table[[2]string{userID, category}] = enabled
}
