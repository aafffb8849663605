package registry_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/verifyhub/otp-delivery/internal/breaker"
	"github.com/verifyhub/otp-delivery/internal/domain"
	"github.com/verifyhub/otp-delivery/internal/provider"
	"github.com/verifyhub/otp-delivery/internal/registry"
)

type fakeAdapter struct {
	name    string
	caps    []domain.Method
	pingErr error
	pings   int
}

func (a *fakeAdapter) Name() string                  { return a.name }
func (a *fakeAdapter) Capabilities() []domain.Method { return a.caps }

func (a *fakeAdapter) Ping(context.Context) error {
	a.pings++
	return a.pingErr
}

func (a *fakeAdapter) Send(context.Context, provider.SendRequest) provider.Outcome {
	return provider.Outcome{Success: true}
}

type captureHealth struct {
	mu      sync.Mutex
	updates map[string][]domain.HealthStatus
}

func (s *captureHealth) UpdateServiceHealth(name string, h domain.HealthStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updates == nil {
		s.updates = make(map[string][]domain.HealthStatus)
	}
	s.updates[name] = append(s.updates[name], h)
}

func (s *captureHealth) last(name string) (domain.HealthStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := s.updates[name]
	if len(hs) == 0 {
		return domain.HealthStatus{}, false
	}
	return hs[len(hs)-1], true
}

type fixture struct {
	reg      *registry.ServiceRegistry
	breakers *breaker.Registry
	adapters map[string]*fakeAdapter
	creds    map[string]map[string]string
	sink     *captureHealth
}

func newFixture() *fixture {
	descs := []*domain.ServiceDescriptor{
		{
			Name:                "unified",
			Capabilities:        []domain.Method{domain.MethodSMS, domain.MethodEmail},
			Priority:            1,
			IsPrimary:           true,
			Enabled:             true,
			RequiredCredentials: []string{"api_key", "api_secret"},
		},
		{
			Name:                "smsgateway",
			Capabilities:        []domain.Method{domain.MethodSMS},
			Priority:            2,
			Enabled:             true,
			RequiredCredentials: []string{"api_key", "sender_id"},
		},
		{
			Name:                "emailgateway",
			Capabilities:        []domain.Method{domain.MethodEmail},
			Priority:            3,
			Enabled:             true,
			RequiredCredentials: []string{"api_key", "from_address"},
		},
	}

	f := &fixture{
		adapters: map[string]*fakeAdapter{
			"unified":      {name: "unified", caps: descs[0].Capabilities},
			"smsgateway":   {name: "smsgateway", caps: descs[1].Capabilities},
			"emailgateway": {name: "emailgateway", caps: descs[2].Capabilities},
		},
		creds: map[string]map[string]string{
			"unified":      {"api_key": "k", "api_secret": "s"},
			"smsgateway":   {"api_key": "k", "sender_id": "id"},
			"emailgateway": {"api_key": "k", "from_address": "otp@example.com"},
		},
		sink: &captureHealth{},
	}

	adapters := make(map[string]provider.Adapter, len(f.adapters))
	names := make([]string, 0, len(f.adapters))
	for name, a := range f.adapters {
		adapters[name] = a
		names = append(names, name)
	}
	f.breakers = breaker.NewRegistry(breaker.DefaultConfig(), names, zap.NewNop())
	f.reg = registry.New(descs, adapters, f.breakers,
		func() map[string]map[string]string { return f.creds },
		f.sink, zap.NewNop())
	return f
}

func TestValidateAll_AllValid(t *testing.T) {
	f := newFixture()

	summary := f.reg.ValidateAll(context.Background())

	if summary.ValidCount != 3 {
		t.Fatalf("expected 3 valid providers, got %d", summary.ValidCount)
	}
	if !summary.PrimaryValid {
		t.Fatal("expected the primary to validate")
	}
	if len(summary.RecommendedActions) != 0 {
		t.Fatalf("expected no recommendations, got %v", summary.RecommendedActions)
	}
	for name, a := range f.adapters {
		if a.pings != 1 {
			t.Fatalf("%s: expected one ping, got %d", name, a.pings)
		}
	}
}

func TestValidateAll_MissingCredentialsSkipPing(t *testing.T) {
	f := newFixture()
	f.creds["smsgateway"]["sender_id"] = ""

	summary := f.reg.ValidateAll(context.Background())

	res := summary.Results["smsgateway"]
	if res.Valid {
		t.Fatal("expected smsgateway to fail validation")
	}
	if len(res.MissingCredentials) != 1 || res.MissingCredentials[0] != "sender_id" {
		t.Fatalf("expected missing sender_id, got %v", res.MissingCredentials)
	}
	if f.adapters["smsgateway"].pings != 0 {
		t.Fatal("missing credentials must short-circuit the connectivity check")
	}

	// One provider's missing credentials never block the others.
	if summary.ValidCount != 2 {
		t.Fatalf("expected the other 2 providers valid, got %d", summary.ValidCount)
	}
	if !summary.PrimaryValid {
		t.Fatal("primary must still validate")
	}
}

func TestValidateAll_PingFailureInvalidates(t *testing.T) {
	f := newFixture()
	f.adapters["unified"].pingErr = errors.New("connection refused")

	summary := f.reg.ValidateAll(context.Background())

	if summary.Results["unified"].Valid {
		t.Fatal("expected unified to fail validation")
	}
	if summary.PrimaryValid {
		t.Fatal("primary must be reported invalid")
	}

	var sawPrimaryAction bool
	for _, action := range summary.RecommendedActions {
		if action == "primary provider unified failed validation; review its credentials" {
			sawPrimaryAction = true
		}
	}
	if !sawPrimaryAction {
		t.Fatalf("expected a primary recommendation, got %v", summary.RecommendedActions)
	}
}

func TestValidateAll_SingleProviderPerMethodRecommendation(t *testing.T) {
	f := newFixture()
	f.adapters["smsgateway"].pingErr = errors.New("unreachable")

	summary := f.reg.ValidateAll(context.Background())

	var sawFallbackAction bool
	for _, action := range summary.RecommendedActions {
		if action == "configure a fallback provider for sms" {
			sawFallbackAction = true
		}
	}
	if !sawFallbackAction {
		t.Fatalf("expected a fallback recommendation for sms, got %v", summary.RecommendedActions)
	}
}

func TestValidateAll_NoProviderForMethod(t *testing.T) {
	f := newFixture()
	f.adapters["unified"].pingErr = errors.New("unreachable")
	f.adapters["smsgateway"].pingErr = errors.New("unreachable")

	summary := f.reg.ValidateAll(context.Background())

	var sawNoProvider bool
	for _, action := range summary.RecommendedActions {
		if action == "no valid provider supports sms; deliveries via sms will fail" {
			sawNoProvider = true
		}
	}
	if !sawNoProvider {
		t.Fatalf("expected a no-provider warning for sms, got %v", summary.RecommendedActions)
	}
}

func TestAvailableServices_FiltersAndOrders(t *testing.T) {
	f := newFixture()
	f.reg.ValidateAll(context.Background())

	sms := f.reg.AvailableServices(domain.MethodSMS)
	if len(sms) != 2 || sms[0].Name != "unified" || sms[1].Name != "smsgateway" {
		t.Fatalf("expected [unified smsgateway], got %+v", sms)
	}

	email := f.reg.AvailableServices(domain.MethodEmail)
	if len(email) != 2 || email[0].Name != "unified" || email[1].Name != "emailgateway" {
		t.Fatalf("expected [unified emailgateway], got %+v", email)
	}
}

func TestAvailableServices_ExcludesInvalidProvider(t *testing.T) {
	f := newFixture()
	f.creds["unified"]["api_key"] = ""
	f.reg.ValidateAll(context.Background())

	sms := f.reg.AvailableServices(domain.MethodSMS)
	for _, d := range sms {
		if d.Name == "unified" {
			t.Fatal("credential-invalid provider must not be available")
		}
	}
}

func TestAvailableServices_ExcludesOpenBreaker(t *testing.T) {
	f := newFixture()
	f.reg.ValidateAll(context.Background())

	for i := 0; i < 5; i++ {
		f.breakers.RecordFailure("smsgateway", domain.CategoryNetwork, 100)
	}

	sms := f.reg.AvailableServices(domain.MethodSMS)
	if len(sms) != 1 || sms[0].Name != "unified" {
		t.Fatalf("expected only unified, got %+v", sms)
	}
}

func TestRevalidate_PicksUpRotatedCredentials(t *testing.T) {
	f := newFixture()
	f.creds["emailgateway"]["api_key"] = ""

	first := f.reg.ValidateAll(context.Background())
	if first.Results["emailgateway"].Valid {
		t.Fatal("expected emailgateway invalid on first pass")
	}

	f.creds["emailgateway"]["api_key"] = "rotated"
	second := f.reg.Revalidate(context.Background())
	if !second.Results["emailgateway"].Valid {
		t.Fatal("expected emailgateway valid after credential rotation")
	}

	email := f.reg.AvailableServices(domain.MethodEmail)
	var found bool
	for _, d := range email {
		if d.Name == "emailgateway" {
			found = true
		}
	}
	if !found {
		t.Fatal("revalidated provider must be available again")
	}
}

func TestRecordOutcome_UpdatesHealthAndSink(t *testing.T) {
	f := newFixture()
	f.reg.ValidateAll(context.Background())

	f.reg.RecordOutcome("unified", false, "timeout")

	h, ok := f.sink.last("unified")
	if !ok {
		t.Fatal("expected a health update")
	}
	if h.State != domain.HealthDegraded {
		t.Fatalf("expected degraded, got %s", h.State)
	}
	if h.LastError != "timeout" {
		t.Fatalf("expected the error carried, got %q", h.LastError)
	}

	f.reg.RecordOutcome("unified", true, "")
	h, _ = f.sink.last("unified")
	if h.State != domain.HealthHealthy {
		t.Fatalf("expected healthy after success, got %s", h.State)
	}
}

func TestRecordOutcome_OpenBreakerMarksDown(t *testing.T) {
	f := newFixture()
	f.reg.ValidateAll(context.Background())

	for i := 0; i < 5; i++ {
		f.breakers.RecordFailure("unified", domain.CategoryNetwork, 100)
	}
	f.reg.RecordOutcome("unified", false, "connection refused")

	h, _ := f.sink.last("unified")
	if h.State != domain.HealthDown {
		t.Fatalf("expected down with an open breaker, got %s", h.State)
	}
}

func TestHealthSnapshot_TracksEveryProviderFromConstruction(t *testing.T) {
	f := newFixture()

	// Before any validation or delivery, each configured provider already
	// has a pending health entry.
	snap := f.reg.HealthSnapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}
	for _, h := range snap {
		if h.State != domain.HealthUnknown {
			t.Fatalf("%s: expected unknown state, got %s", h.ServiceName, h.State)
		}
		if h.ValidationStatus != domain.ValidationPending {
			t.Fatalf("%s: expected pending validation, got %s", h.ServiceName, h.ValidationStatus)
		}
	}

	// The first recorded outcome flows through to the sink.
	f.reg.RecordOutcome("unified", true, "")
	if _, ok := f.sink.last("unified"); !ok {
		t.Fatal("expected a sink update after the first outcome")
	}
}

func TestHealthSnapshot_ConfigurationOrder(t *testing.T) {
	f := newFixture()
	f.reg.ValidateAll(context.Background())

	snap := f.reg.HealthSnapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}
	want := []string{"unified", "smsgateway", "emailgateway"}
	for i, name := range want {
		if snap[i].ServiceName != name {
			t.Fatalf("entry %d: expected %s, got %s", i, name, snap[i].ServiceName)
		}
		if snap[i].ValidationStatus != domain.ValidationValid {
			t.Fatalf("%s: expected valid, got %s", name, snap[i].ValidationStatus)
		}
	}
}

func TestDescriptor_UnknownService(t *testing.T) {
	f := newFixture()

	if _, err := f.reg.Descriptor("unified"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.reg.Descriptor("carrier-pigeon"); err != domain.ErrUnknownService {
		t.Fatalf("expected ErrUnknownService, got %v", err)
	}
}
