package identity

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/observability"
)

// ResetNotifier delivers password reset tokens to their owner
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, user *User, token string) error
}

// LogNotifier records that a reset was issued without delivering it. It is
// the default until a mail transport is configured.
type LogNotifier struct {
	Logger logrus.FieldLogger
}

func (n LogNotifier) NotifyPasswordReset(ctx context.Context, user *User, token string) error {
	logger := n.Logger
	if logger == nil {
		logger = logrus.New()
	}
	logger.WithFields(logrus.Fields{
		"principal_id": user.ID,
		"reset_token":  observability.TokenPrefix(token),
	}).Info("password reset issued")
	return nil
}
