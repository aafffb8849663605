package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/verifyhub/otp-delivery/internal/domain"
	"github.com/verifyhub/otp-delivery/internal/provider"
)

func sendReq() provider.SendRequest {
	return provider.SendRequest{
		Method:  domain.MethodSMS,
		Contact: "+15551234567",
		Message: "Your verification code is 123456.",
	}
}

func TestUnifiedAdapter_SuccessfulSend(t *testing.T) {
	var captured struct {
		apiKey string
		body   map[string]string
		path   string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.apiKey = r.Header.Get("X-Api-Key")
		captured.path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&captured.body)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messageId":           "msg-42",
			"estimatedDeliveryMs": 250,
		})
	}))
	defer srv.Close()

	a := provider.NewUnifiedAdapter("unified", "key-1", "secret-1", []string{srv.URL + "/v1/messages"}, 5*time.Second)
	out := a.Send(context.Background(), sendReq())

	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.MessageID != "msg-42" {
		t.Fatalf("expected msg-42, got %q", out.MessageID)
	}
	if out.EstimatedDeliveryMs != 250 {
		t.Fatalf("expected 250ms estimate, got %d", out.EstimatedDeliveryMs)
	}
	if captured.apiKey != "key-1" {
		t.Fatalf("expected api key header, got %q", captured.apiKey)
	}
	if captured.body["to"] != "+15551234567" || captured.body["channel"] != "sms" {
		t.Fatalf("unexpected wire body: %+v", captured.body)
	}
}

func TestUnifiedAdapter_StatusClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		category domain.ErrorCategory
	}{
		{"rate limited", http.StatusTooManyRequests, domain.CategoryRateLimit},
		{"unauthorized", http.StatusUnauthorized, domain.CategoryAuthError},
		{"forbidden", http.StatusForbidden, domain.CategoryAuthError},
		{"bad request", http.StatusBadRequest, domain.CategoryInvalidRecipient},
		{"unprocessable", http.StatusUnprocessableEntity, domain.CategoryInvalidRecipient},
		{"server error", http.StatusInternalServerError, domain.CategoryServiceDown},
		{"bad gateway", http.StatusBadGateway, domain.CategoryServiceDown},
		{"teapot", http.StatusTeapot, domain.CategoryUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			a := provider.NewUnifiedAdapter("unified", "k", "s", []string{srv.URL}, 5*time.Second)
			out := a.Send(context.Background(), sendReq())

			if out.Success {
				t.Fatal("expected failure")
			}
			if out.Category != tc.category {
				t.Fatalf("expected %s, got %s", tc.category, out.Category)
			}
		})
	}
}

func TestUnifiedAdapter_ErrorMessageCarriedAsDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"errorCode":    "THROTTLED",
			"errorMessage": "quota exceeded for today",
		})
	}))
	defer srv.Close()

	a := provider.NewUnifiedAdapter("unified", "k", "s", []string{srv.URL}, 5*time.Second)
	out := a.Send(context.Background(), sendReq())

	if out.Detail != "quota exceeded for today" {
		t.Fatalf("expected the provider's message, got %q", out.Detail)
	}
}

func TestUnifiedAdapter_UnreachableEndpointIsNetwork(t *testing.T) {
	// A closed server guarantees a transport-level error.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	a := provider.NewUnifiedAdapter("unified", "k", "s", []string{srv.URL}, time.Second)
	out := a.Send(context.Background(), sendReq())

	if out.Success {
		t.Fatal("expected failure")
	}
	if out.Category != domain.CategoryNetwork {
		t.Fatalf("expected NETWORK, got %s", out.Category)
	}
}

func TestUnifiedAdapter_EndpointRotation(t *testing.T) {
	var hits [2]int
	newServer := func(i int) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits[i]++
			_ = json.NewEncoder(w).Encode(map[string]string{"messageId": "m"})
		}))
	}
	srv0, srv1 := newServer(0), newServer(1)
	defer srv0.Close()
	defer srv1.Close()

	a := provider.NewUnifiedAdapter("unified", "k", "s", []string{srv0.URL, srv1.URL}, 5*time.Second)

	req := sendReq()
	a.Send(context.Background(), req)
	req.Route = provider.RouteHint{UseSecondaryPath: true, EndpointIndex: 1}
	a.Send(context.Background(), req)

	if hits[0] != 1 || hits[1] != 1 {
		t.Fatalf("expected one hit per endpoint, got %v", hits)
	}
}

func TestSMSGatewayAdapter_SenderAndBearer(t *testing.T) {
	var auth, sender string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		sender = body["sender"]
		_ = json.NewEncoder(w).Encode(map[string]string{"messageId": "m"})
	}))
	defer srv.Close()

	a := provider.NewSMSGatewayAdapter("smsgateway", "token-1", "VERIFY", []string{srv.URL}, 5*time.Second)
	out := a.Send(context.Background(), sendReq())

	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if auth != "Bearer token-1" {
		t.Fatalf("expected bearer auth, got %q", auth)
	}
	if sender != "VERIFY" {
		t.Fatalf("expected sender id in the body, got %q", sender)
	}
}

func TestAdapter_PingUsesHealthPath(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	}))
	defer srv.Close()

	a := provider.NewEmailGatewayAdapter("emailgateway", "k", "otp@example.com", []string{srv.URL + "/v1/send"}, 5*time.Second)
	if err := a.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/v1/send/health" {
		t.Fatalf("expected the health path, got %q", path)
	}
}

func TestAdapter_PingErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := provider.NewUnifiedAdapter("unified", "k", "s", []string{srv.URL}, 5*time.Second)
	if err := a.Ping(context.Background()); err == nil {
		t.Fatal("expected an error for a 401 health response")
	}
}

func TestNullAdapter(t *testing.T) {
	a := provider.NewNullAdapter("smsgateway", []domain.Method{domain.MethodSMS})

	out := a.Send(context.Background(), sendReq())
	if out.Success {
		t.Fatal("null adapter must never succeed")
	}
	if out.Category != domain.CategoryAuthError {
		t.Fatalf("expected AUTH_ERROR, got %s", out.Category)
	}
	if err := a.Ping(context.Background()); err == nil {
		t.Fatal("null adapter ping must fail")
	}
}
