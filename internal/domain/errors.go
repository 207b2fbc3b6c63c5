package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error constructors.

func ErrNotFound(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: http.StatusUnauthorized, Message: msg}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: http.StatusForbidden, Message: msg}
}

func ErrBadRequest(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: http.StatusConflict, Message: msg}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: http.StatusUnprocessableEntity, Message: msg}
}

func ErrInternal(msg string, err error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, Message: msg, Err: err}
}

// Sentinel errors. Compare with errors.Is; never wrap them into a new AppError.
var (
	// Payment configuration and checkout.
	ErrUnknownPlan          = &AppError{Code: http.StatusBadRequest, Message: "Plano inválido"}
	ErrPaymentNotConfigured = &AppError{Code: http.StatusInternalServerError, Message: "Configuração de pagamento inválida"}
	ErrInvalidReturnURL     = &AppError{Code: http.StatusInternalServerError, Message: "URL de retorno inválida"}

	// Authentication.
	ErrInvalidCredentials = &AppError{Code: http.StatusUnauthorized, Message: "Email ou senha incorretos. Verifique suas credenciais."}
	ErrEmailNotConfirmed  = &AppError{Code: http.StatusForbidden, Message: "Email não confirmado."}
	ErrAlreadyRegistered  = &AppError{Code: http.StatusConflict, Message: "Este email já está cadastrado. Tente fazer login."}
	ErrInvalidEmail       = &AppError{Code: http.StatusUnprocessableEntity, Message: "Email inválido. Verifique o formato."}
	ErrWeakPassword       = &AppError{Code: http.StatusUnprocessableEntity, Message: "A senha deve ter pelo menos 6 caracteres."}
	ErrInvalidToken       = &AppError{Code: http.StatusUnauthorized, Message: "invalid or expired token"}
	ErrNoSession          = &AppError{Code: http.StatusUnauthorized, Message: "no active session"}

	// Storage.
	ErrUserExists = errors.New("user record already exists")
	// ErrPayingUserMissing means a paid payment names a user with no row and
	// no email to create one. Nothing is persisted.
	ErrPayingUserMissing = errors.New("paying user has no record")
)

// MinPasswordLength is the shortest password accepted at sign-up.
const MinPasswordLength = 6

// ClassifyAuthMessage maps a hosted auth provider message onto a known error.
// Unknown messages are returned verbatim as a 400.
func ClassifyAuthMessage(msg string) error {
	switch {
	case msg == "Invalid login credentials":
		return ErrInvalidCredentials
	case msg == "Email not confirmed":
		return ErrEmailNotConfirmed
	case strings.Contains(msg, "User already registered"):
		return ErrAlreadyRegistered
	case strings.Contains(msg, "Invalid email"), strings.Contains(msg, "Unable to validate email address"):
		return ErrInvalidEmail
	case strings.Contains(msg, "Password should be at least"):
		return ErrWeakPassword
	}
	if msg == "" {
		msg = "Erro desconhecido"
	}
	return ErrBadRequest(msg)
}

// AsAppError attempts to extract an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
