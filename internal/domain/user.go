package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the single field that gates premium access.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentExpired PaymentStatus = "expired"
)

// Valid reports whether s is one of the known statuses.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentExpired:
		return true
	}
	return false
}

// User is the application's record for an authenticated identity.
type User struct {
	ID            string        `json:"id"`
	Email         string        `json:"email"`
	Name          string        `json:"name,omitempty"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Plan          string        `json:"plan,omitempty"`
	PaidUntil     *time.Time    `json:"paid_until,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// IsPremium reports whether the user currently has a confirmed payment.
func (u *User) IsPremium() bool {
	return u != nil && u.PaymentStatus == PaymentPaid
}

// RecordSource tags where a cached user record came from.
type RecordSource string

const (
	SourceAuthoritative RecordSource = "authoritative"
	SourceDegraded      RecordSource = "degraded"
)

// UserRecord is a user together with its provenance. A degraded record was
// synthesized from the auth identity because the backing store could not be
// read or written; it always carries PaymentPending.
type UserRecord struct {
	User   User         `json:"user"`
	Source RecordSource `json:"source"`
	Reason string       `json:"reason,omitempty"`
}

// Authoritative wraps a user read from (or written to) the backing store.
func Authoritative(u User) UserRecord {
	return UserRecord{User: u, Source: SourceAuthoritative}
}

// Degraded wraps a synthesized user and the reason the store was bypassed.
func Degraded(u User, reason string) UserRecord {
	u.PaymentStatus = PaymentPending
	return UserRecord{User: u, Source: SourceDegraded, Reason: reason}
}

// IsDegraded reports whether the record was synthesized.
func (r UserRecord) IsDegraded() bool {
	return r.Source == SourceDegraded
}

// Identity is what the auth service knows about a signed-in account.
type Identity struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	EmailConfirmed bool           `json:"email_confirmed"`
	Metadata       map[string]any `json:"user_metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// DisplayName reads the name from identity metadata, falling back to full_name.
func (i Identity) DisplayName() string {
	for _, key := range []string{"name", "full_name"} {
		if v, ok := i.Metadata[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// DefaultUser builds the row created for an identity seen for the first time.
func DefaultUser(i Identity) User {
	created := i.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	updated := i.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	return User{
		ID:            i.ID,
		Email:         i.Email,
		Name:          i.DisplayName(),
		PaymentStatus: PaymentPending,
		CreatedAt:     created,
		UpdatedAt:     updated,
	}
}

// NewID generates a new opaque identifier.
func NewID() string {
	return uuid.New().String()
}
