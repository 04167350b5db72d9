package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smith3v/wa-word-reminder/pkg/metrics"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const providerWhatsApp = "whatsapp"

type WhatsAppConfig struct {
	APIURL        string
	PhoneNumberID string
	Token         string
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
}

type whatsAppRequest struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// WhatsAppSender posts text messages to the WhatsApp Cloud API. Calls are
// rate limited and guarded by a circuit breaker that ignores permanent
// rejections.
type WhatsAppSender struct {
	cfg     WhatsAppConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
}

func NewWhatsAppSender(cfg WhatsAppConfig, client *http.Client) (*WhatsAppSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("whatsapp token is required")
	}
	if strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, errors.New("whatsapp phone number id is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://graph.facebook.com/v19.0"
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WhatsAppSender{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: metrics.NewBreaker[string](metrics.BreakerSettings{
			Name:             providerWhatsApp,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		}, func(err error) bool {
			return !IsPermanent(err)
		}),
	}, nil
}

func (s *WhatsAppSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	start := time.Now()
	id, err := s.breaker.Execute(func() (string, error) {
		return s.post(ctx, msg)
	})
	metrics.RecordSend(providerWhatsApp, time.Since(start), err)
	return id, err
}

func (s *WhatsAppSender) post(ctx context.Context, msg Message) (string, error) {
	payload := whatsAppRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(strings.TrimSpace(msg.To), "+"),
		Type:             "text",
	}
	payload.Text.Body = msg.Body

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", strings.TrimRight(s.cfg.APIURL, "/"), s.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed whatsAppResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode >= 400 {
		reason := http.StatusText(resp.StatusCode)
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			reason = parsed.Error.Message
		}
		if isPermanentStatus(resp.StatusCode) {
			return "", fmt.Errorf("%w: whatsapp status %d: %s", ErrPermanent, resp.StatusCode, reason)
		}
		return "", fmt.Errorf("whatsapp status %d: %s", resp.StatusCode, reason)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode response: %w", decodeErr)
	}
	if len(parsed.Messages) == 0 || parsed.Messages[0].ID == "" {
		return "", errors.New("whatsapp response has no message id")
	}
	return parsed.Messages[0].ID, nil
}

// isPermanentStatus reports client errors other than throttling and timeouts.
func isPermanentStatus(code int) bool {
	return code >= 400 && code < 500 &&
		code != http.StatusTooManyRequests &&
		code != http.StatusRequestTimeout
}
