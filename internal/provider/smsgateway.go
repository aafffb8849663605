package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/verifyhub/otp-delivery/internal/domain"
)

// SMSGatewayAdapter is the dedicated SMS-only gateway, used as the
// same-method fallback when the primary provider cannot deliver SMS.
type SMSGatewayAdapter struct {
	name     string
	senderID string
	sender   *httpSender
}

func NewSMSGatewayAdapter(name, apiKey, senderID string, endpoints []string, timeout time.Duration) *SMSGatewayAdapter {
	return &SMSGatewayAdapter{
		name:     name,
		senderID: senderID,
		sender: newHTTPSender(endpoints, timeout, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+apiKey)
		}),
	}
}

func (a *SMSGatewayAdapter) Name() string { return a.name }

func (a *SMSGatewayAdapter) Capabilities() []domain.Method {
	return []domain.Method{domain.MethodSMS}
}

func (a *SMSGatewayAdapter) Send(ctx context.Context, req SendRequest) Outcome {
	if req.Method != domain.MethodSMS {
		return failure(domain.CategoryUnknown, "sms gateway cannot deliver "+string(req.Method))
	}
	return a.sender.post(ctx, req.Route, wireRequest{
		To:      req.Contact,
		Channel: string(domain.MethodSMS),
		Message: req.Message,
		Sender:  a.senderID,
	})
}

func (a *SMSGatewayAdapter) Ping(ctx context.Context) error {
	return a.sender.ping(ctx)
}

var _ Adapter = (*SMSGatewayAdapter)(nil)
