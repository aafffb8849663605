package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/verifyhub/otp-delivery/internal/domain"
)

// UnifiedAdapter talks to the multi-capability provider that can deliver
// both SMS and email through a single API. It is normally the primary
// provider, tried first for every method it supports.
type UnifiedAdapter struct {
	name   string
	sender *httpSender
}

// NewUnifiedAdapter builds the adapter. endpoints must contain at least one
// base URL; extra entries are alternates used by endpoint rotation.
func NewUnifiedAdapter(name, apiKey, apiSecret string, endpoints []string, timeout time.Duration) *UnifiedAdapter {
	return &UnifiedAdapter{
		name: name,
		sender: newHTTPSender(endpoints, timeout, func(r *http.Request) {
			r.Header.Set("X-Api-Key", apiKey)
			r.Header.Set("X-Api-Secret", apiSecret)
		}),
	}
}

func (a *UnifiedAdapter) Name() string { return a.name }

func (a *UnifiedAdapter) Capabilities() []domain.Method {
	return []domain.Method{domain.MethodSMS, domain.MethodEmail}
}

func (a *UnifiedAdapter) Send(ctx context.Context, req SendRequest) Outcome {
	return a.sender.post(ctx, req.Route, wireRequest{
		To:      req.Contact,
		Channel: string(req.Method),
		Message: req.Message,
	})
}

func (a *UnifiedAdapter) Ping(ctx context.Context) error {
	return a.sender.ping(ctx)
}

var _ Adapter = (*UnifiedAdapter)(nil)
