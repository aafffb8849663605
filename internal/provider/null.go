package provider

import (
	"context"
	"fmt"

	"github.com/verifyhub/otp-delivery/internal/domain"
)

// NullAdapter stands in for a provider whose credentials are not configured.
// It is selected once at construction time, so no delivery-path code ever
// branches on "is this provider configured". Every send fails with
// AUTH_ERROR, which the executor treats as non-retryable.
type NullAdapter struct {
	name         string
	capabilities []domain.Method
}

func NewNullAdapter(name string, capabilities []domain.Method) *NullAdapter {
	return &NullAdapter{name: name, capabilities: capabilities}
}

func (a *NullAdapter) Name() string { return a.name }

func (a *NullAdapter) Capabilities() []domain.Method { return a.capabilities }

func (a *NullAdapter) Send(_ context.Context, _ SendRequest) Outcome {
	return failure(domain.CategoryAuthError, "provider "+a.name+" is not configured")
}

func (a *NullAdapter) Ping(_ context.Context) error {
	return fmt.Errorf("provider %s is not configured", a.name)
}

var _ Adapter = (*NullAdapter)(nil)
