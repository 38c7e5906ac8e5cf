package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/rms"
)

// RmsNotifier routes RMS breach alerts through the configured senders,
// honouring the user's notify_telegram / notify_email flags. There is no
// mailer; notify_email lands in the structured log.
type RmsNotifier struct {
	store    domain.RmsStore
	notifier *Notifier
	logger   *slog.Logger
}

// NewRmsNotifier wires an RmsNotifier. notifier carries the Telegram (and any
// other) senders; nil disables channel delivery entirely.
func NewRmsNotifier(store domain.RmsStore, notifier *Notifier, logger *slog.Logger) *RmsNotifier {
	return &RmsNotifier{
		store:    store,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "rms_notifier")),
	}
}

// Notify delivers one breach alert for the user.
func (n *RmsNotifier) Notify(ctx context.Context, userID, text string) error {
	cfg, err := n.store.GetConfig(ctx, userID)
	if err != nil {
		return fmt.Errorf("notify: load rms config: %w", err)
	}

	if cfg.NotifyEmail {
		n.logger.Info("rms email alert",
			slog.String("user_id", userID),
			slog.String("text", text))
	}
	if cfg.NotifyTelegram && n.notifier != nil {
		if err := n.notifier.Notify(ctx, "rms", "RMS Alert", text); err != nil {
			return fmt.Errorf("notify: deliver rms alert: %w", err)
		}
	}
	return nil
}

var _ rms.Notifier = (*RmsNotifier)(nil)
