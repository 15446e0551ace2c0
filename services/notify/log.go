package notify

import (
	"context"
	"time"

	"github.com/upb/coach-accounts/models"
	"go.uber.org/zap"
)

// LogNotifier writes email events to the log instead of delivering them.
// Used when no brokers are configured.
type LogNotifier struct {
	events eventBuilder
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(baseURL string, logger *zap.Logger) *LogNotifier {
	return &LogNotifier{
		events: eventBuilder{links: Links{BaseURL: baseURL}},
		logger: logger,
	}
}

func (n *LogNotifier) SendVerification(_ context.Context, account *models.Account, token string) error {
	n.log(n.events.verification(account, token))
	return nil
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, account *models.Account, token string, expiresAt time.Time) error {
	n.log(n.events.passwordReset(account, token, expiresAt))
	return nil
}

func (n *LogNotifier) SendPasswordChanged(_ context.Context, account *models.Account) error {
	n.log(n.events.passwordChanged(account))
	return nil
}

func (n *LogNotifier) SendWelcome(_ context.Context, account *models.Account) error {
	n.log(n.events.welcome(account))
	return nil
}

func (n *LogNotifier) log(event EmailEvent) {
	n.logger.Info("email not delivered, no transport configured",
		zap.String("type", string(event.Type)),
		zap.Int64("account_id", event.AccountID),
		zap.Bool("has_token", event.Token != ""))
}
