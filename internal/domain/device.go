package domain

import "time"

type DeviceID string

// Frame is one producer-encoded image (base64 JPEG on the wire).
// The payload is opaque to the server; only the viewer decodes it.
type Frame struct {
	Payload    string
	CapturedAt time.Time
	DeviceID   DeviceID
}
