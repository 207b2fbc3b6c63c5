package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/service"
)

type AdminHandler struct {
	db            *pgxpool.Pool
	subscriptions *service.SubscriptionService
	log           *zap.Logger
}

func NewAdminHandler(db *pgxpool.Pool, subscriptions *service.SubscriptionService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, subscriptions: subscriptions, log: log}
}

// GetStats handles GET /api/admin/stats: user counts per payment status and
// completed transactions.
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	byStatus := map[string]int{"pending": 0, "paid": 0, "expired": 0}

	rows, err := h.db.Query(ctx, "SELECT payment_status, COUNT(*) FROM users GROUP BY payment_status")
	if err != nil {
		Error(w, err)
		return
	}
	defer rows.Close()
	total := 0
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			Error(w, err)
			return
		}
		byStatus[status] = n
		total += n
	}
	if err := rows.Err(); err != nil {
		Error(w, err)
		return
	}

	var txCount int
	if err := h.db.QueryRow(ctx, "SELECT COUNT(*) FROM transactions WHERE status = 'completed'").Scan(&txCount); err != nil {
		h.log.Warn("failed to count transactions", zap.Error(err))
	}

	JSON(w, http.StatusOK, map[string]any{
		"users":        total,
		"byStatus":     byStatus,
		"transactions": txCount,
		"expiryPolicy": h.subscriptions.Policy(),
	})
}

// ExpireUser handles POST /api/admin/users/{id}/expire.
func (h *AdminHandler) ExpireUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.subscriptions.Expire(r.Context(), id); err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true, "userId": id})
}

// ExpireLapsed handles POST /api/admin/expire-lapsed.
func (h *AdminHandler) ExpireLapsed(w http.ResponseWriter, r *http.Request) {
	ids, err := h.subscriptions.ExpireLapsed(r.Context(), time.Now())
	if err != nil {
		Error(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	JSON(w, http.StatusOK, map[string]any{
		"policy":  h.subscriptions.Policy(),
		"expired": ids,
	})
}
