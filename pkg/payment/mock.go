package payment

import (
	"context"
	"fmt"
	"sync"
)

// MockGateway is an in-memory Gateway for development and tests.
type MockGateway struct {
	mu          sync.Mutex
	preferences []Preference
	payments    map[string]*Payment
	lookups     int

	// PreferenceErr, when set, is returned by CreatePreference.
	PreferenceErr error
	// PaymentErr, when set, is returned by GetPayment.
	PaymentErr error
}

func NewMockGateway() *MockGateway {
	return &MockGateway{payments: make(map[string]*Payment)}
}

func (g *MockGateway) CreatePreference(ctx context.Context, pref Preference) (*PreferenceResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.PreferenceErr != nil {
		return nil, g.PreferenceErr
	}
	g.preferences = append(g.preferences, pref)
	id := fmt.Sprintf("mock-pref-%d", len(g.preferences))
	return &PreferenceResult{
		ID:               id,
		InitPoint:        "https://www.mercadopago.com.br/checkout/v1/redirect?pref_id=" + id,
		SandboxInitPoint: "https://sandbox.mercadopago.com.br/checkout/v1/redirect?pref_id=" + id,
	}, nil
}

func (g *MockGateway) GetPayment(ctx context.Context, id string) (*Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookups++
	if g.PaymentErr != nil {
		return nil, g.PaymentErr
	}
	p, ok := g.payments[id]
	if !ok {
		return nil, &ProviderError{StatusCode: 404, Body: map[string]any{"message": "Payment not found"}}
	}
	cp := *p
	return &cp, nil
}

// AddPayment registers a payment GetPayment will return.
func (g *MockGateway) AddPayment(id string, p Payment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[id] = &p
}

// Preferences returns the preferences created so far.
func (g *MockGateway) Preferences() []Preference {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Preference(nil), g.preferences...)
}

// Lookups returns how many times GetPayment was called.
func (g *MockGateway) Lookups() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lookups
}
