package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/verifyhub/otp-delivery/internal/domain"
)

// wireRequest is the JSON body posted to every HTTP-based provider.
type wireRequest struct {
	To      string `json:"to"`
	Channel string `json:"channel"`
	Message string `json:"message"`
	Sender  string `json:"sender,omitempty"`
}

// wireResponse maps the provider's accepted-response body.
type wireResponse struct {
	MessageID           string `json:"messageId"`
	EstimatedDeliveryMs int64  `json:"estimatedDeliveryMs"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

// httpSender is the shared HTTP plumbing behind every real adapter.
// It owns two HTTP clients (primary and secondary network path) and a list
// of interchangeable endpoints; the RouteHint on each request picks between
// them.
type httpSender struct {
	endpoints []string
	primary   *http.Client
	secondary *http.Client
	authorize func(*http.Request)
}

func newHTTPSender(endpoints []string, timeout time.Duration, authorize func(*http.Request)) *httpSender {
	// The secondary client uses its own transport so connections do not
	// share a pool (and its sockets) with the primary path.
	secondaryTransport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:      10,
		IdleConnTimeout:   30 * time.Second,
		DisableKeepAlives: true,
	}

	return &httpSender{
		endpoints: endpoints,
		primary:   &http.Client{Timeout: timeout},
		secondary: &http.Client{Timeout: timeout, Transport: secondaryTransport},
		authorize: authorize,
	}
}

// post sends the wire request and classifies the result. All category
// mapping for HTTP providers happens here and nowhere else.
func (s *httpSender) post(ctx context.Context, hint RouteHint, body wireRequest) Outcome {
	payload, err := json.Marshal(body)
	if err != nil {
		return failure(domain.CategoryUnknown, fmt.Sprintf("marshal request: %v", err))
	}

	url := s.endpoints[hint.EndpointIndex%len(s.endpoints)]
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return failure(domain.CategoryUnknown, fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authorize != nil {
		s.authorize(req)
	}

	client := s.primary
	if hint.UseSecondaryPath {
		client = s.secondary
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return failure(domain.CategoryNetwork, "request timed out")
		}
		return failure(domain.CategoryNetwork, err.Error())
	}
	defer resp.Body.Close()

	var wire wireResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&wire)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		if decodeErr != nil {
			return failure(domain.CategoryUnknown, fmt.Sprintf("decode response: %v", decodeErr))
		}
		return Outcome{
			Success:             true,
			MessageID:           wire.MessageID,
			EstimatedDeliveryMs: wire.EstimatedDeliveryMs,
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return failure(domain.CategoryRateLimit, wireDetail(wire, "rate limited"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return failure(domain.CategoryAuthError, wireDetail(wire, "authentication rejected"))
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return failure(domain.CategoryInvalidRecipient, wireDetail(wire, "recipient rejected"))
	case resp.StatusCode >= 500:
		return failure(domain.CategoryServiceDown, wireDetail(wire, fmt.Sprintf("provider status %d", resp.StatusCode)))
	default:
		return failure(domain.CategoryUnknown, fmt.Sprintf("unexpected provider status: %d", resp.StatusCode))
	}
}

// ping issues a GET against the first endpoint's health path.
func (s *httpSender) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoints[0]+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if s.authorize != nil {
		s.authorize(req)
	}

	resp, err := s.primary.Do(req)
	if err != nil {
		return fmt.Errorf("connectivity check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("connectivity check: status %d", resp.StatusCode)
	}
	return nil
}

func wireDetail(wire wireResponse, fallback string) string {
	if wire.ErrorMessage != "" {
		return wire.ErrorMessage
	}
	return fallback
}
