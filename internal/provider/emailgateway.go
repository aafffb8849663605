package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/verifyhub/otp-delivery/internal/domain"
)

// EmailGatewayAdapter is the transactional email gateway, used as the
// same-method fallback for email and as the cross-method fallback target
// when an SMS delivery exhausts its SMS options.
type EmailGatewayAdapter struct {
	name   string
	from   string
	sender *httpSender
}

func NewEmailGatewayAdapter(name, apiKey, fromAddress string, endpoints []string, timeout time.Duration) *EmailGatewayAdapter {
	return &EmailGatewayAdapter{
		name: name,
		from: fromAddress,
		sender: newHTTPSender(endpoints, timeout, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+apiKey)
		}),
	}
}

func (a *EmailGatewayAdapter) Name() string { return a.name }

func (a *EmailGatewayAdapter) Capabilities() []domain.Method {
	return []domain.Method{domain.MethodEmail}
}

func (a *EmailGatewayAdapter) Send(ctx context.Context, req SendRequest) Outcome {
	if req.Method != domain.MethodEmail {
		return failure(domain.CategoryUnknown, "email gateway cannot deliver "+string(req.Method))
	}
	return a.sender.post(ctx, req.Route, wireRequest{
		To:      req.Contact,
		Channel: string(domain.MethodEmail),
		Message: req.Message,
		Sender:  a.from,
	})
}

func (a *EmailGatewayAdapter) Ping(ctx context.Context) error {
	return a.sender.ping(ctx)
}

var _ Adapter = (*EmailGatewayAdapter)(nil)
