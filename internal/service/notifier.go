// internal/service/notifier.go
package service

import (
	"context"

	"github.com/rs/zerolog"
)

// Notifier delivers the one-shot session-failure notice to a sender. The
// dispatch job guards calls with the config's failure_notification_sent flag
// so repeated cycle failures do not storm the owner.
type Notifier interface {
	NotifySessionFailure(ctx context.Context, senderID string) error
}

// LogNotifier is the default Notifier: it only logs. Real channels (email,
// in-app) plug in behind the same interface.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n *LogNotifier) NotifySessionFailure(ctx context.Context, senderID string) error {
	n.Log.Warn().Str("sender_id", senderID).Msg("messaging session could not be opened, follow-ups on hold")
	return nil
}
