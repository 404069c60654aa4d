package core

import "context"

// Notification categories users may opt out of.
const (
	NotifyCategoryMessage = "message"
)

// NotificationPreferences answers per-user, per-category opt-in checks.
// Unknown (user, category) pairs default to enabled.
type NotificationPreferences interface {
	Enabled(ctx context.Context, userID, category string) bool
}
