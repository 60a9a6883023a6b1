package deliverer

import (
	"context"

	"github.com/poddigest/poddigest/internal/models"
)

// Notification describes a delivered digest for outbound dispatch
type Notification struct {
	DigestID    string  `json:"digest_id"`
	UserID      string  `json:"user_id"`
	Title       string  `json:"title"`
	Method      string  `json:"method"`
	AudioURL    string  `json:"audio_url"`
	DurationSec float64 `json:"duration_sec"`
}

// Notifier dispatches a delivery notification. Dispatch is best effort:
// the deliver stage logs failures and moves on.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Service defines the business logic interface for digest delivery
type Service interface {
	// Deliver publishes a finished digest according to the config's
	// delivery method: regenerate the user's syndication feed, dispatch a
	// push/email notification, or nothing for in-app.
	Deliver(ctx context.Context, digestID string, config *models.DigestConfig) error
}
