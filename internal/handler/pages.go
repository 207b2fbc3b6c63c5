package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/domain"
	"github.com/harmoni/backend/internal/service"
)

// Plausible reasons a card payment is refused, shown on the failure page.
var paymentFailureCauses = []string{
	"Saldo insuficiente",
	"Dados do cartão incorretos",
	"Pagamento recusado pelo banco",
	"Limite de crédito excedido",
}

// PageHandler serves the page descriptors the app shell renders. The edge
// gate has already run for every one of them.
type PageHandler struct {
	flag *service.LocalFlag
	log  *zap.Logger
}

func NewPageHandler(flag *service.LocalFlag, log *zap.Logger) *PageHandler {
	return &PageHandler{flag: flag, log: log}
}

type page struct {
	Page    string             `json:"page"`
	Premium bool               `json:"premium"`
	User    *domain.UserRecord `json:"user,omitempty"`
}

// Premium renders a paid-only page.
func (h *PageHandler) Premium(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc := Session(r.Context())
		JSON(w, http.StatusOK, page{Page: name, Premium: true, User: sc.User})
	}
}

// Auth renders the sign-in page.
func (h *PageHandler) Auth(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, page{Page: "auth"})
}

// Subscription renders the plan picker.
func (h *PageHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	sc := Session(r.Context())
	JSON(w, http.StatusOK, map[string]any{
		"page":          "subscription",
		"plans":         domain.Plans(),
		"paymentStatus": sc.PaymentStatus(),
	})
}

// PaymentSuccess handles the processor's success redirect. It marks the
// device premium as a hint; the webhook remains the authority.
func (h *PageHandler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := q.Get("external_reference")
	if err := h.flag.RecordPaymentSuccess(r.Context(), DeviceID(r.Context()), ref); err != nil {
		h.log.Warn("failed to record payment success on device", zap.Error(err))
	}
	JSON(w, http.StatusOK, map[string]any{
		"page":      "payment-success",
		"plan":      ref,
		"paymentId": q.Get("payment_id"),
		"status":    q.Get("status"),
		"redirect":  service.HomePath,
	})
}

// PaymentFailure renders the refusal page with a retry action.
func (h *PageHandler) PaymentFailure(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"page":   "payment-failure",
		"causes": paymentFailureCauses,
		"retry":  service.SubscriptionPath,
	})
}

// PaymentPending renders the page for asynchronous payment methods.
func (h *PageHandler) PaymentPending(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"page":      "payment-pending",
		"paymentId": r.URL.Query().Get("payment_id"),
		"message":   "Seu pagamento está sendo processado. Você receberá acesso assim que for aprovado.",
	})
}
