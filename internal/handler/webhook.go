package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/observability"
	"github.com/harmoni/backend/internal/service"
	"github.com/harmoni/backend/pkg/payment"
)

const maxNotificationBytes = 64 << 10

// notification is the processor's webhook body. data.id arrives as a string
// or a number depending on the notification type.
type notification struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID payment.ID `json:"id"`
	} `json:"data"`
}

type WebhookHandler struct {
	gateway       payment.Gateway
	subscriptions *service.SubscriptionService
	secret        string
	metrics       *observability.Metrics
	log           *zap.Logger
}

func NewWebhookHandler(gateway payment.Gateway, subscriptions *service.SubscriptionService, secret string, metrics *observability.Metrics, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		gateway:       gateway,
		subscriptions: subscriptions,
		secret:        secret,
		metrics:       metrics,
		log:           log,
	}
}

// Status handles GET /api/webhook.
func (h *WebhookHandler) Status(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "Webhook ativo"})
}

// Receive handles POST /api/webhook.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		JSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		JSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	paymentID := n.Data.ID.String()

	if h.secret != "" {
		if err := payment.VerifySignature(h.secret, r.Header.Get("x-signature"), r.Header.Get("x-request-id"), paymentID); err != nil {
			h.metrics.ObserveWebhook(observability.WebhookInvalidSignature)
			h.log.Warn("webhook signature rejected", zap.String("payment_id", paymentID))
			JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}
	}

	if n.Type != "payment" || paymentID == "" {
		h.metrics.ObserveWebhook(observability.WebhookIgnored)
		JSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	p, err := h.gateway.GetPayment(r.Context(), paymentID)
	if err != nil {
		h.metrics.ObserveWebhook(observability.WebhookFetchFailed)
		fields := []zap.Field{zap.String("payment_id", paymentID), zap.Error(err)}
		var perr *payment.ProviderError
		if errors.As(err, &perr) {
			fields = append(fields, zap.Int("provider_status", perr.StatusCode))
		}
		h.log.Error("failed to fetch payment", fields...)
		JSON(w, http.StatusInternalServerError, map[string]string{"error": "Erro ao buscar pagamento"})
		return
	}

	if !p.Approved() {
		h.metrics.ObserveWebhook(observability.WebhookNotApproved)
		h.log.Info("payment notification not approved", zap.String("payment_id", paymentID), zap.String("status", p.Status))
		JSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	conf, err := h.subscriptions.ConfirmPayment(r.Context(), p)
	if err != nil {
		h.metrics.ObserveWebhook(observability.WebhookStoreFailed)
		h.log.Error("failed to confirm payment", zap.String("payment_id", paymentID), zap.Error(err))
		JSON(w, http.StatusInternalServerError, map[string]string{"error": "Erro ao processar pagamento"})
		return
	}

	if conf.Duplicate {
		h.metrics.ObserveWebhook(observability.WebhookDuplicate)
	} else {
		h.metrics.ObserveWebhook(observability.WebhookConfirmed)
	}
	JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Pagamento processado com sucesso",
	})
}
