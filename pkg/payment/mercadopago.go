package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the Mercado Pago REST API root.
const DefaultBaseURL = "https://api.mercadopago.com"

// DefaultTimeout bounds every outbound call. Calls are never retried.
const DefaultTimeout = 10 * time.Second

const maxResponseBytes = 1 << 20

// MercadoPago talks to the Mercado Pago checkout and payments APIs.
type MercadoPago struct {
	accessToken string
	baseURL     string
	client      *http.Client
}

// NewMercadoPago creates a client. An empty accessToken is allowed so the
// server can boot; every call then fails with ErrNotConfigured.
func NewMercadoPago(accessToken, baseURL string, timeout time.Duration) *MercadoPago {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &MercadoPago{
		accessToken: accessToken,
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: timeout},
	}
}

// Configured reports whether an access token is set.
func (m *MercadoPago) Configured() bool {
	return m.accessToken != ""
}

// CreatePreference handles POST /checkout/preferences.
func (m *MercadoPago) CreatePreference(ctx context.Context, pref Preference) (*PreferenceResult, error) {
	body, err := json.Marshal(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to encode preference: %w", err)
	}

	raw, err := m.do(ctx, http.MethodPost, "/checkout/preferences", body)
	if err != nil {
		return nil, err
	}

	var res PreferenceResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode preference response: %w", err)
	}
	return &res, nil
}

// GetPayment handles GET /v1/payments/{id}.
func (m *MercadoPago) GetPayment(ctx context.Context, id string) (*Payment, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("payment id is required")
	}

	raw, err := m.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var p Payment
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode payment %s: %w", id, err)
	}
	return &p, nil
}

func (m *MercadoPago) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if !m.Configured() {
		return nil, ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newProviderError(resp.StatusCode, raw)
	}
	return raw, nil
}
