package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harmoni/backend/internal/domain"
)

// Gated page paths.
const (
	HomePath         = "/"
	AuthPath         = "/auth"
	SubscriptionPath = "/subscription"
)

// PublicPaths are reachable without a session.
var PublicPaths = []string{AuthPath}

// CheckoutPaths are reachable by any signed-in user regardless of payment
// status: the subscription page and the processor's return pages.
var CheckoutPaths = []string{
	SubscriptionPath,
	"/payment/success",
	"/payment/failure",
	"/payment/pending",
}

// Outcome of an access decision.
type Outcome string

const (
	Allow    Outcome = "allow"
	Redirect Outcome = "redirect"
)

// Decision reasons, also used as metric labels.
const (
	ReasonPublic              = "public"
	ReasonPublicAuthenticated = "public_authenticated"
	ReasonNoToken             = "no_token"
	ReasonInvalidToken        = "invalid_token"
	ReasonSubscriptionPage    = "subscription_page"
	ReasonPaid                = "paid"
	ReasonNotPaid             = "not_paid"
	ReasonStatusUnavailable   = "status_unavailable"
	ReasonFailOpen            = "fail_open"
	ReasonNoSession           = "no_session"
	ReasonNoClaim             = "no_claim"
)

// Decision is the result of an access check.
type Decision struct {
	Outcome  Outcome `json:"outcome"`
	Location string  `json:"location,omitempty"`
	Reason   string  `json:"reason"`
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

func allow(reason string) Decision {
	return Decision{Outcome: Allow, Reason: reason}
}

func redirect(location, reason string) Decision {
	return Decision{Outcome: Redirect, Location: location, Reason: reason}
}

// ErrStatusUnavailable is wrapped by a StatusLookup whose user store read
// failed. It sends the user to the subscription page rather than failing open.
var ErrStatusUnavailable = errors.New("payment status unavailable")

// StatusLookup validates a token and returns the identity with its payment
// status. It returns domain.ErrInvalidToken for rejected tokens and wraps
// ErrStatusUnavailable when the status read fails. Any other error is
// treated as the provider being unreachable.
type StatusLookup func(ctx context.Context, token string) (*domain.Identity, domain.PaymentStatus, error)

// NewStatusLookup validates tokens with idp and reads the status straight
// from users. A missing row counts as pending.
func NewStatusLookup(idp IdentityProvider, users UserStore) StatusLookup {
	return func(ctx context.Context, token string) (*domain.Identity, domain.PaymentStatus, error) {
		identity, err := idp.GetUser(ctx, token)
		if err != nil {
			return nil, "", err
		}
		u, err := users.FindByID(ctx, identity.ID)
		if err != nil {
			return identity, "", fmt.Errorf("%w: %v", ErrStatusUnavailable, err)
		}
		if u == nil {
			return identity, domain.PaymentPending, nil
		}
		return identity, u.PaymentStatus, nil
	}
}

// IsPublicPath reports whether path needs no session.
func IsPublicPath(path string) bool {
	for _, p := range PublicPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// IsCheckoutPath reports whether path is part of the purchase flow.
func IsCheckoutPath(path string) bool {
	for _, p := range CheckoutPaths {
		if path == p {
			return true
		}
	}
	return false
}

// EdgeDecision decides a page request at the edge.
func EdgeDecision(ctx context.Context, path, token string, lookup StatusLookup) (Decision, *domain.Identity, domain.PaymentStatus) {
	hasToken := token != ""

	if IsPublicPath(path) {
		if hasToken {
			return redirect(HomePath, ReasonPublicAuthenticated), nil, ""
		}
		return allow(ReasonPublic), nil, ""
	}
	if !hasToken {
		return redirect(AuthPath, ReasonNoToken), nil, ""
	}
	if IsCheckoutPath(path) {
		return allow(ReasonSubscriptionPage), nil, ""
	}

	identity, status, err := lookup(ctx, token)
	switch {
	case err == nil && status == domain.PaymentPaid:
		return allow(ReasonPaid), identity, status
	case err == nil:
		return redirect(SubscriptionPath, ReasonNotPaid), identity, status
	case errors.Is(err, domain.ErrInvalidToken):
		return redirect(AuthPath, ReasonInvalidToken), nil, ""
	case errors.Is(err, ErrStatusUnavailable):
		return redirect(SubscriptionPath, ReasonStatusUnavailable), identity, ""
	default:
		return allow(ReasonFailOpen), nil, ""
	}
}

// ClientDecision is the in-app check: anything but a paid record goes to the
// subscription page.
func ClientDecision(sc SessionContext) Decision {
	if !sc.Authenticated() || sc.User == nil {
		return redirect(SubscriptionPath, ReasonNoSession)
	}
	if sc.PaymentStatus() != domain.PaymentPaid {
		return redirect(SubscriptionPath, ReasonNotPaid)
	}
	return allow(ReasonPaid)
}

// Combine merges checkpoint decisions. The first redirect wins, so a single
// checkpoint that says not paid is enough to deny.
func Combine(decisions ...Decision) Decision {
	if len(decisions) == 0 {
		return redirect(SubscriptionPath, ReasonNoSession)
	}
	for _, d := range decisions {
		if !d.Allowed() {
			return d
		}
	}
	return decisions[len(decisions)-1]
}

// Feature is a premium area of the app.
type Feature string

const (
	FeatureCheckIn  Feature = "check-in"
	FeatureProgress Feature = "progress"
	FeatureHealth   Feature = "health"
	FeatureJournal  Feature = "journal"
	FeatureAll      Feature = "all"
)

// ParseFeature validates a feature name.
func ParseFeature(s string) (Feature, bool) {
	switch f := Feature(s); f {
	case FeatureCheckIn, FeatureProgress, FeatureHealth, FeatureJournal, FeatureAll:
		return f, true
	}
	return "", false
}

// FeatureAccessResult describes whether a user may use a feature.
type FeatureAccessResult struct {
	Feature         Feature `json:"feature"`
	HasAccess       bool    `json:"hasAccess"`
	IsPremium       bool    `json:"isPremium"`
	RequiresUpgrade bool    `json:"requiresUpgrade"`
}

// FeatureAccess evaluates f for the session. Every feature requires paid.
func FeatureAccess(sc SessionContext, f Feature) FeatureAccessResult {
	premium := sc.Authenticated() && sc.PaymentStatus() == domain.PaymentPaid
	return FeatureAccessResult{
		Feature:         f,
		HasAccess:       premium,
		IsPremium:       premium,
		RequiresUpgrade: !premium,
	}
}
