package contextkeys

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

const (
	// UserID is the context key for the authenticated user's ID.
	UserID contextKey = "userID"
	// UserEmail is the context key for the authenticated user's email.
	UserEmail contextKey = "userEmail"
	// DeviceID is the context key for the caller's device identifier.
	DeviceID contextKey = "deviceID"
	// DeviceMinted is set when the device id was generated for this request
	// rather than presented by the client.
	DeviceMinted contextKey = "deviceMinted"
	// Session is the context key for the request's service.SessionContext.
	Session contextKey = "session"
	// AccessToken is the context key for the bearer token the request carried.
	AccessToken contextKey = "accessToken"
)
