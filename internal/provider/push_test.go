package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gigmarket/notify-pipeline/internal/domain"
)

const validToken = "dGVzdF90b2tlbl8wMDE6QVBB91bEtoken"

func pushMessage(tokens ...string) Message {
	return Message{
		QueueID:     "q-1",
		RecipientID: "user-1",
		Tokens:      tokens,
		Title:       "New message",
		Body:        "You have a new message.",
		Data:        map[string]string{"thread_id": "t-9"},
	}
}

func TestPushProvider_Send(t *testing.T) {
	var gotAuth string
	var gotReq multicastRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(multicastResponse{
			MulticastID: 12345,
			Success:     1,
			Results: []struct {
				MessageID string `json:"message_id"`
				Error     string `json:"error"`
			}{{MessageID: "msg-abc"}},
		})
	}))
	defer srv.Close()

	p := NewPushProvider(srv.URL, "server-key-1", 5*time.Second)

	result := p.Send(context.Background(), pushMessage(validToken))
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.ProviderMessageID != "msg-abc" {
		t.Fatalf("provider message id = %q, want msg-abc", result.ProviderMessageID)
	}
	if gotAuth != "key=server-key-1" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if len(gotReq.RegistrationIDs) != 1 || gotReq.RegistrationIDs[0] != validToken {
		t.Fatalf("wrong registration ids: %v", gotReq.RegistrationIDs)
	}
	if gotReq.Notification.Title != "New message" {
		t.Fatalf("notification title = %q", gotReq.Notification.Title)
	}
}

// Malformed tokens are filtered locally and never reach the network.
func TestPushProvider_FiltersMalformedTokens(t *testing.T) {
	var gotReq multicastRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(multicastResponse{Success: 1})
	}))
	defer srv.Close()

	p := NewPushProvider(srv.URL, "key", 5*time.Second)
	result := p.Send(context.Background(), pushMessage(validToken, "bad token!", "x"))

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(gotReq.RegistrationIDs) != 1 {
		t.Fatalf("malformed tokens leaked to the gateway: %v", gotReq.RegistrationIDs)
	}
	if result.Metadata["invalid_tokens"] != "2" || result.Metadata["valid_tokens"] != "1" {
		t.Fatalf("wrong token metadata: %v", result.Metadata)
	}
}

func TestPushProvider_AllTokensMalformed(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	p := NewPushProvider(srv.URL, "key", 5*time.Second)
	result := p.Send(context.Background(), pushMessage("x", "also bad!"))

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.ErrorCode != domain.ErrCodeNoValidTokens {
		t.Fatalf("error code = %q, want NO_VALID_TOKENS", result.ErrorCode)
	}
	if calls != 0 {
		t.Fatal("gateway must not be called when every token is malformed")
	}
}

func TestPushProvider_GatewayErrors(t *testing.T) {
	t.Run("http status failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		p := NewPushProvider(srv.URL, "key", 5*time.Second)
		result := p.Send(context.Background(), pushMessage(validToken))
		if result.ErrorCode != "HTTP_500" {
			t.Fatalf("error code = %q, want HTTP_500", result.ErrorCode)
		}
	})

	t.Run("native rejection code passes through", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(multicastResponse{
				Failure: 1,
				Results: []struct {
					MessageID string `json:"message_id"`
					Error     string `json:"error"`
				}{{Error: "NotRegistered"}},
			})
		}))
		defer srv.Close()

		p := NewPushProvider(srv.URL, "key", 5*time.Second)
		result := p.Send(context.Background(), pushMessage(validToken))
		if result.ErrorCode != "NotRegistered" {
			t.Fatalf("error code = %q, want NotRegistered", result.ErrorCode)
		}
	})
}

func TestPushProvider_Ready(t *testing.T) {
	if NewPushProvider("", "key", time.Second).Ready() {
		t.Fatal("missing endpoint must not be ready")
	}
	if NewPushProvider("http://push.local", "", time.Second).Ready() {
		t.Fatal("missing server key must not be ready")
	}
	if !NewPushProvider("http://push.local", "key", time.Second).Ready() {
		t.Fatal("configured provider must be ready")
	}
}
