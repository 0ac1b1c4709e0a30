package domain

type UserID string

// ViewerIdentity is the result of verifying an externally issued
// credential. Read-only for the lifetime of the viewer connection.
type ViewerIdentity struct {
	UserID         UserID
	Role           string
	OwnedDeviceIDs []DeviceID
}
