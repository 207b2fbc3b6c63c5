package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/harmoni/backend/internal/domain"
	"github.com/harmoni/backend/pkg/payment"
)

var validate = validator.New()

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			zap.L().Warn("failed to encode JSON response", zap.Error(err))
		}
	}
}

// Error writes an error JSON response, using AppError status codes when available.
func Error(w http.ResponseWriter, err error) {
	if appErr, ok := domain.AsAppError(err); ok {
		if appErr.Code >= http.StatusInternalServerError {
			zap.L().Error(appErr.Message, zap.Error(err))
		}
		JSON(w, appErr.Code, map[string]string{"error": appErr.Message})
		return
	}
	zap.L().Error("unhandled error", zap.Error(err))
	JSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

// ProviderError renders a payment processor failure with the processor's
// status code. Anything else goes through Error.
func ProviderError(w http.ResponseWriter, summary string, err error) {
	var perr *payment.ProviderError
	if !errors.As(err, &perr) {
		Error(w, err)
		return
	}
	zap.L().Warn(summary, zap.Int("provider_status", perr.StatusCode), zap.String("message", perr.Message()))
	JSON(w, perr.StatusCode, map[string]any{
		"error":   summary,
		"details": perr.Body,
		"message": perr.Message(),
	})
}

// DecodeJSON decodes a JSON request body into the given struct and runs its
// validate tags.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrBadRequest("invalid JSON body")
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
			}
			return domain.ErrValidation("invalid request: " + strings.Join(fields, ", "))
		}
		return domain.ErrBadRequest("invalid request")
	}
	return nil
}
