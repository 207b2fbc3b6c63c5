package handler

import (
	"context"

	"github.com/harmoni/backend/internal/contextkeys"
	"github.com/harmoni/backend/internal/service"
)

// DeviceID returns the device identifier set by the device middleware.
func DeviceID(ctx context.Context) string {
	id, _ := ctx.Value(contextkeys.DeviceID).(string)
	return id
}

// DeviceMinted reports whether the device id was generated for this request
// because the client presented none.
func DeviceMinted(ctx context.Context) bool {
	minted, _ := ctx.Value(contextkeys.DeviceMinted).(bool)
	return minted
}

// UserID returns the authenticated user id, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(contextkeys.UserID).(string)
	return id
}

// UserEmail returns the authenticated user's email, or "".
func UserEmail(ctx context.Context) string {
	email, _ := ctx.Value(contextkeys.UserEmail).(string)
	return email
}

// AccessToken returns the bearer token the request carried, or "".
func AccessToken(ctx context.Context) string {
	tok, _ := ctx.Value(contextkeys.AccessToken).(string)
	return tok
}

// Session returns the request's session context. It is empty when the auth
// middleware found no valid token.
func Session(ctx context.Context) service.SessionContext {
	sc, _ := ctx.Value(contextkeys.Session).(service.SessionContext)
	return sc
}
