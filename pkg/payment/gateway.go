package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Gateway defines the operations the app needs from a payment processor.
type Gateway interface {
	// CreatePreference creates a checkout preference and returns its redirect URLs.
	CreatePreference(ctx context.Context, pref Preference) (*PreferenceResult, error)
	// GetPayment fetches the authoritative payment object by id.
	GetPayment(ctx context.Context, id string) (*Payment, error)
}

var (
	// ErrNotConfigured is returned when the processor access token is missing.
	ErrNotConfigured = errors.New("payment: access token not configured")
	// ErrUnauthenticated is wrapped by ProviderError for 401/403 responses.
	ErrUnauthenticated = errors.New("payment: provider rejected credentials")
)

// Payment statuses reported by the processor.
const (
	StatusApproved   = "approved"
	StatusPending    = "pending"
	StatusInProcess  = "in_process"
	StatusRejected   = "rejected"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
	StatusChargeback = "charged_back"
)

// Item is one checkout line item.
type Item struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	CurrencyID  string  `json:"currency_id"`
}

// BackURLs are the return URLs after checkout.
type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

// PaymentMethods restricts how the buyer may pay.
type PaymentMethods struct {
	ExcludedPaymentTypes []map[string]string `json:"excluded_payment_types"`
	Installments         int                 `json:"installments"`
}

// Preference is the checkout session description sent to the processor.
type Preference struct {
	Items               []Item         `json:"items"`
	BackURLs            BackURLs       `json:"back_urls"`
	AutoReturn          string         `json:"auto_return,omitempty"`
	ExternalReference   string         `json:"external_reference"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	StatementDescriptor string         `json:"statement_descriptor,omitempty"`
	PaymentMethods      PaymentMethods `json:"payment_methods"`
}

// PreferenceResult is the processor's answer to a created preference.
type PreferenceResult struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// ID is a processor object id. Notifications and API answers send it as a
// JSON string or a JSON number; both decode to the same text.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if bytes.Equal(raw, []byte("null")) {
		*id = ""
		return nil
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("payment id must be a string or a number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Payment is the subset of the processor's payment object the app reads.
type Payment struct {
	ID                ID             `json:"id"`
	Status            string         `json:"status"`
	StatusDetail      string         `json:"status_detail,omitempty"`
	ExternalReference string         `json:"external_reference"`
	Metadata          map[string]any `json:"metadata"`
	TransactionAmount float64        `json:"transaction_amount"`
	PaymentMethodID   string         `json:"payment_method_id"`
	Payer             Payer          `json:"payer"`
}

// Payer is the buyer as the processor knows them.
type Payer struct {
	Email string `json:"email"`
}

// Approved reports whether the payment cleared.
func (p *Payment) Approved() bool {
	return p != nil && p.Status == StatusApproved
}

// MetadataString returns metadata[key] as a trimmed string, or "".
func (p *Payment) MetadataString(key string) string {
	if p == nil || p.Metadata == nil {
		return ""
	}
	switch v := p.Metadata[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

// ProviderError is a non-2xx answer from the processor. Body holds the
// parsed JSON body, or {"message": raw text} when it was not JSON.
type ProviderError struct {
	StatusCode int
	Body       map[string]any
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider returned %d: %s", e.StatusCode, e.Message())
}

// Message extracts a human readable message from the error body.
func (e *ProviderError) Message() string {
	for _, key := range []string{"message", "error"} {
		if s, ok := e.Body[key].(string); ok && s != "" {
			return s
		}
	}
	return "Erro desconhecido"
}

func (e *ProviderError) Unwrap() error {
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return ErrUnauthenticated
	}
	return nil
}

func newProviderError(status int, raw []byte) *ProviderError {
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil || len(body) == 0 {
		body = map[string]any{"message": string(raw)}
	}
	return &ProviderError{StatusCode: status, Body: body}
}
