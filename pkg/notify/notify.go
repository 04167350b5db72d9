// Package notify delivers run reports to operators.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/logger"
)

const deliverTimeout = 30 * time.Second

// Report is a short operator-facing message. Alert marks reports that need
// attention.
type Report struct {
	Subject string
	Body    string
	Alert   bool
}

type Notifier interface {
	Notify(ctx context.Context, r Report) error
}

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, r Report) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes reports to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, r Report) error {
	if r.Alert {
		logger.Warn("operator report", "subject", r.Subject, "body", r.Body)
		return nil
	}
	logger.Info("operator report", "subject", r.Subject, "body", r.Body)
	return nil
}

// Deliver sends r and only logs failures; a report never changes the
// outcome of the run that produced it.
func Deliver(ctx context.Context, n Notifier, r Report) {
	if n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliverTimeout)
	defer cancel()
	if err := n.Notify(ctx, r); err != nil {
		logger.Warn("failed to deliver operator report", "subject", r.Subject, "error", err)
	}
}
