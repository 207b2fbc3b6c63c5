package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/domain"
	"github.com/harmoni/backend/internal/service"
)

type PaymentHandler struct {
	checkout      *service.CheckoutService
	subscriptions *service.SubscriptionService
	flag          *service.LocalFlag
	log           *zap.Logger
}

func NewPaymentHandler(checkout *service.CheckoutService, subscriptions *service.SubscriptionService, flag *service.LocalFlag, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{checkout: checkout, subscriptions: subscriptions, flag: flag, log: log}
}

// CreatePreference handles POST /api/create-preference.
func (h *PaymentHandler) CreatePreference(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePreferenceRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	ctx := r.Context()
	resp, err := h.checkout.CreatePreference(ctx, req.Plan, r.Header.Get("Origin"), service.Buyer{UserID: UserID(ctx), Email: UserEmail(ctx)})
	if err != nil {
		ProviderError(w, "Erro ao criar preferência de pagamento", err)
		return
	}

	if device := DeviceID(ctx); device != "" {
		if err := h.flag.RecordPendingPlan(ctx, device, req.Plan); err != nil {
			h.log.Warn("failed to record pending plan", zap.String("device", device), zap.Error(err))
		}
	}
	JSON(w, http.StatusOK, resp)
}

// ChooseFree handles POST /api/subscription/free.
func (h *PaymentHandler) ChooseFree(w http.ResponseWriter, r *http.Request) {
	if err := h.flag.ChooseFree(r.Context(), DeviceID(r.Context())); err != nil {
		Error(w, domain.ErrInternal("failed to record plan choice", err))
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true, "plan": domain.FreePlanID})
}

// Simulate handles POST /api/payment/simulate (admin only, gated in router).
func (h *PaymentHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req domain.SimulatePaymentRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	conf, err := h.subscriptions.SimulateUpgrade(r.Context(), req.UserID, req.Plan)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, conf)
}

// Transactions handles GET /api/transactions.
func (h *PaymentHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.subscriptions.ListTransactions(r.Context(), UserID(r.Context()))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, txs)
}
