package app

import (
	"errors"
	"testing"
	"time"

	"camrelay/internal/domain"
	"camrelay/internal/testsupport"
)

type fakeConn struct {
	sent   [][]byte
	closed bool
	fail   bool
}

func (c *fakeConn) TrySend(msg []byte) error {
	if c.fail {
		return errors.New("backpressure")
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close() { c.closed = true }

func newTestRegistry(t *testing.T) (*Registry, *testsupport.FakeClock) {
	t.Helper()
	clock := testsupport.NewFakeClock(time.Unix(1700000000, 0))
	return NewRegistry(clock), clock
}

func TestRegisterReplacesPriorSession(t *testing.T) {
	reg, clock := newTestRegistry(t)

	first := &fakeConn{}
	reg.Register("dev1", first, nil)
	reg.RecordFrame("dev1", domain.Frame{Payload: "AAAA", DeviceID: "dev1"})
	reg.SetStreaming("dev1", true)

	canceled := false
	reg.Register("dev1", first, func() { canceled = true })

	second := &fakeConn{}
	clock.Advance(time.Second)
	reg.Register("dev1", second, nil)

	if !canceled {
		t.Fatal("expected replaced session's cancel func to run")
	}
	sess, ok := reg.Find("dev1")
	if !ok {
		t.Fatal("expected session to exist")
	}
	if sess.Conn != second {
		t.Fatal("expected session to hold the newest connection")
	}
	// A fresh connection starts idle with no cached frame.
	if sess.IsStreaming {
		t.Fatal("expected replacement session to start idle")
	}
	if sess.LastFrame != "" {
		t.Fatal("expected replacement session to start without a cached frame")
	}
	if reg.Count() != 1 {
		t.Fatalf("expected exactly one session, got %d", reg.Count())
	}
}

func TestRecordFrameKeepsOnlyLatest(t *testing.T) {
	reg, clock := newTestRegistry(t)
	reg.Register("dev1", &fakeConn{}, nil)

	reg.RecordFrame("dev1", domain.Frame{Payload: "first"})
	clock.Advance(time.Second)
	reg.RecordFrame("dev1", domain.Frame{Payload: "second"})

	sess, _ := reg.Find("dev1")
	if sess.LastFrame != "second" {
		t.Fatalf("expected latest frame, got %q", sess.LastFrame)
	}
	if !sess.LastActivityAt.Equal(clock.Now()) {
		t.Fatal("expected frame to refresh activity time")
	}
}

func TestRecordFrameSkipsUnknownDevice(t *testing.T) {
	reg, _ := newTestRegistry(t)
	// Must not panic or create a session.
	reg.RecordFrame("ghost", domain.Frame{Payload: "AAAA"})
	if reg.Count() != 0 {
		t.Fatal("expected no session for unknown device")
	}
}

func TestSetStreamingIdempotent(t *testing.T) {
	reg, clock := newTestRegistry(t)
	reg.Register("dev1", &fakeConn{}, nil)

	reg.SetStreaming("dev1", true)
	clock.Advance(time.Second)
	reg.SetStreaming("dev1", true)

	sess, _ := reg.Find("dev1")
	if !sess.IsStreaming {
		t.Fatal("expected streaming state true")
	}
	if !sess.LastActivityAt.Equal(clock.Now()) {
		t.Fatal("expected repeated set to refresh activity time")
	}
}

func TestRemoveIfConnGuardsReplacement(t *testing.T) {
	reg, _ := newTestRegistry(t)
	old := &fakeConn{}
	reg.Register("dev1", old, nil)
	fresh := &fakeConn{}
	reg.Register("dev1", fresh, nil)

	// The replaced connection's teardown must not delete the new session.
	if reg.RemoveIfConn("dev1", old) {
		t.Fatal("expected removal to be refused for stale conn")
	}
	if _, ok := reg.Find("dev1"); !ok {
		t.Fatal("expected fresh session to survive")
	}
	if !reg.RemoveIfConn("dev1", fresh) {
		t.Fatal("expected removal for current conn")
	}
	if _, ok := reg.Find("dev1"); ok {
		t.Fatal("expected session to be gone")
	}
}

func TestSweepInactiveDropsIdleSessions(t *testing.T) {
	reg, clock := newTestRegistry(t)
	reg.Register("idle", &fakeConn{}, nil)
	reg.RecordFrame("idle", domain.Frame{Payload: "AAAA"})

	clock.Advance(9 * time.Minute)
	reg.Register("busy", &fakeConn{}, nil)

	clock.Advance(2 * time.Minute)
	removed := reg.SweepInactive(10 * time.Minute)

	if len(removed) != 1 || removed[0] != "idle" {
		t.Fatalf("expected [idle] removed, got %v", removed)
	}
	if _, ok := reg.Find("idle"); ok {
		t.Fatal("expected idle session to be gone")
	}
	if _, ok := reg.Find("busy"); !ok {
		t.Fatal("expected busy session to survive")
	}
}

func TestStreamingSnapshotFiltersIdleDevices(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Register("dev1", &fakeConn{}, nil)
	reg.Register("dev2", &fakeConn{}, nil)
	reg.SetStreaming("dev1", true)
	reg.RecordFrame("dev1", domain.Frame{Payload: "AAAA"})

	snap := reg.StreamingSnapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 streaming device, got %d", len(snap))
	}
	if snap[0].DeviceID != "dev1" || snap[0].LastFrame != "AAAA" {
		t.Fatalf("unexpected snapshot: %+v", snap[0])
	}
}
