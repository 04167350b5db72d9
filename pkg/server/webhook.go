package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/smith3v/wa-word-reminder/pkg/db"
	"github.com/smith3v/wa-word-reminder/pkg/logger"
	"github.com/smith3v/wa-word-reminder/pkg/subscription"
)

const (
	EventActivated = "subscription.activated"
	EventRenewed   = "subscription.renewed"
	EventCanceled  = "subscription.canceled"

	webhookSecretHeader = "X-Webhook-Secret"
	maxWebhookBody      = 64 << 10
)

// Lifecycle is the subset of the subscription store payment events drive.
type Lifecycle interface {
	ActivatePro(ctx context.Context, phone string, periodEnd *time.Time) (*db.Subscription, error)
	Renew(ctx context.Context, phone string) (*db.Subscription, error)
	Cancel(ctx context.Context, phone string) (*db.Subscription, error)
}

type paymentEvent struct {
	Event     string     `json:"event" validate:"required,oneof=subscription.activated subscription.renewed subscription.canceled"`
	Phone     string     `json:"phone" validate:"required,e164"`
	PeriodEnd *time.Time `json:"period_end"`
}

type paymentResponse struct {
	Status          string     `json:"status"`
	Plan            string     `json:"plan"`
	ProEndsAt       *time.Time `json:"pro_ends_at"`
	RenewalCanceled bool       `json:"renewal_canceled"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WebhookSecret != "" {
		got := r.Header.Get(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
	}
	if s.deps.Subscriptions == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("subscriptions unavailable"))
		return
	}

	var evt paymentEvent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err := dec.Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	if err := validate.Struct(evt); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}

	var (
		sub *db.Subscription
		err error
	)
	switch evt.Event {
	case EventActivated:
		sub, err = s.deps.Subscriptions.ActivatePro(r.Context(), evt.Phone, evt.PeriodEnd)
	case EventRenewed:
		sub, err = s.deps.Subscriptions.Renew(r.Context(), evt.Phone)
	case EventCanceled:
		sub, err = s.deps.Subscriptions.Cancel(r.Context(), evt.Phone)
	}

	switch {
	case errors.Is(err, subscription.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, subscription.ErrInvalidPhone):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, subscription.ErrRenewalCanceled):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		logger.Error("payment event failed", "event", evt.Event, "phone", evt.Phone, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	logger.Info("payment event applied", "event", evt.Event, "phone", evt.Phone, "plan", sub.Plan)
	writeJSON(w, http.StatusOK, paymentResponse{
		Status:          "ok",
		Plan:            sub.Plan,
		ProEndsAt:       sub.ProEndsAt,
		RenewalCanceled: sub.RenewalCanceled,
	})
}
