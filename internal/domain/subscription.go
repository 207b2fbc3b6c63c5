package domain

import "time"

// TransactionStatus is the lifecycle of a payment row.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionRefunded  TransactionStatus = "refunded"
)

// GuestUserID marks a payment whose metadata carried no user id.
const GuestUserID = "guest"

// Transaction records one payment attempt for a user.
type Transaction struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	PaymentID       string            `json:"payment_id,omitempty"`
	Plan            string            `json:"plan,omitempty"`
	Amount          float64           `json:"amount"`
	Status          TransactionStatus `json:"status"`
	PaymentMethod   string            `json:"payment_method,omitempty"`
	TransactionDate time.Time         `json:"transaction_date"`
	CreatedAt       time.Time         `json:"created_at"`
}

// ApprovedPayment is a provider-confirmed payment ready to be persisted.
// PaymentID is the idempotency key.
type ApprovedPayment struct {
	PaymentID string
	UserID    string
	// UserEmail creates the user row when none exists yet for UserID.
	UserEmail     string
	Plan          string
	Amount        float64
	PaymentMethod string
	PaidAt        time.Time
	PaidUntil     *time.Time
	// MarkPaid is false for guests and unknown plans: the transaction is
	// still recorded but no user is upgraded.
	MarkPaid bool
}

// Confirmation is the outcome of persisting an approved payment.
type Confirmation struct {
	TransactionID string `json:"transactionId,omitempty"`
	Duplicate     bool   `json:"duplicate"`
	UserUpdated   bool   `json:"userUpdated"`
	// UserCreated is set when the paying user had no row yet.
	UserCreated bool `json:"userCreated,omitempty"`
}

// ExpiryPolicy decides whether lapsed subscriptions are expired automatically.
type ExpiryPolicy string

const (
	// ExpiryManual only expires through the explicit admin operation.
	ExpiryManual ExpiryPolicy = "manual"
	// ExpiryLapse expires paid users whose paid_until is in the past.
	ExpiryLapse ExpiryPolicy = "lapse"
)

// CreatePreferenceRequest is the browser-to-server purchase request.
type CreatePreferenceRequest struct {
	Plan string `json:"plan" validate:"required"`
}

// PreferenceResponse returns the checkout URLs for a created preference.
type PreferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// SimulatePaymentRequest is the admin-only dev upgrade input.
type SimulatePaymentRequest struct {
	UserID string `json:"userId" validate:"required"`
	Plan   string `json:"plan" validate:"required"`
}
