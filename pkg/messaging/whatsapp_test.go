package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestSender(t *testing.T, handler http.HandlerFunc) *WhatsAppSender {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sender, err := NewWhatsAppSender(WhatsAppConfig{
		APIURL:        server.URL,
		PhoneNumberID: "12345",
		Token:         "wa-token",
		RatePerSecond: 1000,
		Burst:         10,
	}, server.Client())
	if err != nil {
		t.Fatalf("NewWhatsAppSender failed: %v", err)
	}
	return sender
}

func TestWhatsAppSenderSend(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody whatsAppRequest
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.ABC"}]}`))
	})

	id, err := sender.Send(context.Background(), Message{To: "+15550001111", Body: "hello"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if id != "wamid.ABC" {
		t.Fatalf("unexpected provider id %q", id)
	}
	if gotPath != "/12345/messages" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer wa-token" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody.To != "15550001111" || gotBody.Text.Body != "hello" || gotBody.MessagingProduct != "whatsapp" {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
}

func TestWhatsAppSenderPermanentError(t *testing.T) {
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Recipient phone number not in allowed list","code":131030}}`))
	})

	_, err := sender.Send(context.Background(), Message{To: "15550001111", Body: "hello"})
	if err == nil || !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if !strings.Contains(err.Error(), "not in allowed list") {
		t.Fatalf("expected provider reason in error, got %v", err)
	}
}

func TestWhatsAppSenderTransientError(t *testing.T) {
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := sender.Send(context.Background(), Message{To: "15550001111", Body: "hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if IsPermanent(err) {
		t.Fatalf("429 must be retryable, got %v", err)
	}
}

func TestWhatsAppSenderMissingMessageID(t *testing.T) {
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[]}`))
	})
	if _, err := sender.Send(context.Background(), Message{To: "1", Body: "x"}); err == nil {
		t.Fatalf("expected error for empty messages list")
	}
}

func TestNewWhatsAppSenderRequiresCredentials(t *testing.T) {
	if _, err := NewWhatsAppSender(WhatsAppConfig{PhoneNumberID: "1"}, nil); err == nil {
		t.Fatalf("expected error without token")
	}
	if _, err := NewWhatsAppSender(WhatsAppConfig{Token: "t"}, nil); err == nil {
		t.Fatalf("expected error without phone number id")
	}
}

func TestLogSenderReturnsID(t *testing.T) {
	id, err := LogSender{}.Send(context.Background(), Message{To: "1", Body: "x"})
	if err != nil || !strings.HasPrefix(id, "dry-run-") {
		t.Fatalf("unexpected dry run result %q, %v", id, err)
	}
}
