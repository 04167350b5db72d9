// Package messaging renders word messages and hands them to a transport.
package messaging

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/smith3v/wa-word-reminder/pkg/logger"
)

// ErrPermanent marks provider rejections that will not succeed on retry.
var ErrPermanent = errors.New("permanent send failure")

// Message is one rendered delivery.
type Message struct {
	To           string
	Body         string
	TemplateName string
}

// Sender delivers a message and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// LogSender writes messages to the log instead of a provider.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "dry-run-" + uuid.NewString()
	logger.Info("dry run message", "to", msg.To, "template", msg.TemplateName, "provider_message_id", id, "body", msg.Body)
	return id, nil
}
