package app

import "errors"

// Authentication failures. Handshake errors abort the request or
// connection; the server never retries on the client's behalf.
var (
	ErrMissingFields       = errors.New("missing deviceId or deviceSecret")
	ErrInvalidSecret       = errors.New("invalid device secret")
	ErrServerMisconfigured = errors.New("device secret not configured")
	ErrTokenInvalid        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrIdentityInvalid     = errors.New("invalid identity credential")
)

// Relay failures. Reported to the requesting viewer only, never fatal
// to the connection.
var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrNoFrameAvailable = errors.New("no frame available")
)
