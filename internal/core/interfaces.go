package core

import (
	"context"
	"time"

	"camrelay/internal/domain"
)

// ClientID identifies one connected socket, producer or viewer.
type ClientID string

// ClientConn abstracts a persistent messaging transport.
// Owned by the adapter; the adapter must Close() it.
type ClientConn interface {
	// TrySend queues a message without blocking. Returns an error when
	// the outbound buffer is full or the connection is closed; the
	// caller drops the message in that case.
	TrySend(msg []byte) error
	Close()
}

// IdentityVerifier validates an externally issued viewer credential.
// Opaque credential in, structured identity out, or failure.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (domain.ViewerIdentity, error)
}

// Ticker mirrors time.Ticker behind an interface so render and sweep
// loops can be driven manually in tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock supplies monotonic-ish time and tickers. Injected everywhere
// expiry or cadence matters.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}
