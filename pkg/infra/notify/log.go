package notify

import (
	"context"
	"log/slog"

	"github.com/jpayne/fleetwatch/pkg/alerting"
	"github.com/jpayne/fleetwatch/pkg/infra/logger"
)

// LogNotifier writes notifications to the structured log instead of
// delivering them anywhere. Used in development and when no notifier is
// configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.Default().With("component", "notifier")}
}

func (l *LogNotifier) Send(ctx context.Context, recipient string, n alerting.Notification) error {
	l.log.Info("notification",
		"recipient", recipient,
		"rule", n.RuleKey,
		"severity", n.Severity,
		"escalation", n.Escalation,
		"message", n.Message(),
	)
	return nil
}

var _ alerting.Notifier = (*LogNotifier)(nil)
