package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/darasahq/darasa/core"
)

type prefsRepository struct {
	db *sqlx.DB
}

var _ core.NotificationPreferences = (*prefsRepository)(nil) // interface compliance check

func NewNotificationPreferences(db *sqlx.DB) *prefsRepository {
	return &prefsRepository{db: db}
}

// Enabled defaults to true: a missing row or a failing lookup must never
// suppress a notification the user did not explicitly opt out of.
func (repo prefsRepository) Enabled(ctx context.Context, userID, category string) bool {
	var enabled bool
	err := repo.db.QueryRowContext(ctx,
		`SELECT enabled FROM notification_preference WHERE user_id = $1 AND category = $2`,
		userID, category,
	).Scan(&enabled)
	if err != nil {
		return true
	}
	return enabled
}
