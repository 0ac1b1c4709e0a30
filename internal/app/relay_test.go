package app

import (
	"encoding/json"
	"testing"
	"time"

	"camrelay/internal/core"
	"camrelay/internal/domain"
	"camrelay/internal/metrics"
	"camrelay/internal/testsupport"
)

type wireMsg struct {
	event string
	data  json.RawMessage
}

func decodeAll(t *testing.T, c *fakeConn) []wireMsg {
	t.Helper()
	out := make([]wireMsg, 0, len(c.sent))
	for _, raw := range c.sent {
		var env core.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("bad envelope %q: %v", raw, err)
		}
		out = append(out, wireMsg{event: env.Event, data: env.Data})
	}
	return out
}

func lastEvent(t *testing.T, c *fakeConn, event string) json.RawMessage {
	t.Helper()
	msgs := decodeAll(t, c)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].event == event {
			return msgs[i].data
		}
	}
	t.Fatalf("no %s event found in %d messages", event, len(msgs))
	return nil
}

func hasEvent(t *testing.T, c *fakeConn, event string) bool {
	t.Helper()
	for _, m := range decodeAll(t, c) {
		if m.event == event {
			return true
		}
	}
	return false
}

func newTestRelay(t *testing.T) (*Relay, *Registry, *Hub, *testsupport.FakeClock) {
	t.Helper()
	clock := testsupport.NewFakeClock(time.Unix(1700000000, 0))
	reg := NewRegistry(clock)
	hub := NewHub()
	rl := NewRelay(clock, reg, hub, metrics.New())
	rl.newRequestID = func() string { return "req-1" }
	return rl, reg, hub, clock
}

func TestProducerFrameFansOutAndCaches(t *testing.T) {
	rl, reg, hub, _ := newTestRelay(t)
	producer := &fakeConn{}
	reg.Register("dev1", producer, nil)

	v1, v2 := &fakeConn{}, &fakeConn{}
	hub.AddViewer("viewer-1", v1)
	hub.AddViewer("viewer-2", v2)

	res := rl.OnProducerFrame("dev1", domain.Frame{Payload: "AAAA", DeviceID: "dev1"})
	if res.SentTo != 2 || res.Dropped != 0 {
		t.Fatalf("expected 2 sends, got %+v", res)
	}

	for _, v := range []*fakeConn{v1, v2} {
		var p core.CameraFeedPayload
		if err := json.Unmarshal(lastEvent(t, v, core.EvtCameraFeed), &p); err != nil {
			t.Fatalf("bad camera-feed payload: %v", err)
		}
		if p.DeviceID != "dev1" || p.Frame != "AAAA" {
			t.Fatalf("unexpected camera-feed: %+v", p)
		}
	}

	sess, _ := reg.Find("dev1")
	if sess.LastFrame != "AAAA" {
		t.Fatalf("expected cached frame AAAA, got %q", sess.LastFrame)
	}
	if len(producer.sent) != 0 {
		t.Fatal("producer must not receive its own frames")
	}
}

func TestSlowViewerDoesNotAffectOthers(t *testing.T) {
	rl, reg, hub, _ := newTestRelay(t)
	reg.Register("dev1", &fakeConn{}, nil)

	slow := &fakeConn{fail: true}
	fast := &fakeConn{}
	hub.AddViewer("slow", slow)
	hub.AddViewer("fast", fast)

	res := rl.OnProducerFrame("dev1", domain.Frame{Payload: "AAAA"})
	if res.SentTo != 1 || res.Dropped != 1 {
		t.Fatalf("expected one send and one drop, got %+v", res)
	}
	if !hasEvent(t, fast, core.EvtCameraFeed) {
		t.Fatal("fast viewer should still receive the frame")
	}
}

func TestStartUnknownDeviceErrorsRequesterOnly(t *testing.T) {
	rl, _, hub, _ := newTestRelay(t)
	requester := &fakeConn{}
	other := &fakeConn{}
	hub.AddViewer("requester", requester)
	hub.AddViewer("other", other)

	rl.OnStart(requester, "ghost")

	var p core.ErrorPayload
	if err := json.Unmarshal(lastEvent(t, requester, core.EvtCommandError), &p); err != nil {
		t.Fatalf("bad command-error payload: %v", err)
	}
	if p.Error != "Device not found" || p.DeviceID != "ghost" {
		t.Fatalf("unexpected error payload: %+v", p)
	}
	if len(other.sent) != 0 {
		t.Fatal("uninvolved viewer must not receive the error")
	}
}

func TestStartForwardsCommandAndBroadcastsState(t *testing.T) {
	rl, reg, hub, _ := newTestRelay(t)
	producer := &fakeConn{}
	reg.Register("dev1", producer, nil)

	requester := &fakeConn{}
	bystander := &fakeConn{}
	hub.AddViewer("requester", requester)
	hub.AddViewer("bystander", bystander)

	rl.OnStart(requester, "dev1")

	if !hasEvent(t, producer, core.EvtStartCommand) {
		t.Fatal("producer should receive start-streaming-command")
	}
	sess, _ := reg.Find("dev1")
	if !sess.IsStreaming {
		t.Fatal("registry should mark device streaming")
	}
	// Every viewer hears the state change, including ones that did not ask.
	for _, v := range []*fakeConn{requester, bystander} {
		var p core.StateChangedPayload
		if err := json.Unmarshal(lastEvent(t, v, core.EvtStateChanged), &p); err != nil {
			t.Fatalf("bad streaming-state-changed payload: %v", err)
		}
		if p.DeviceID != "dev1" || !p.IsStreaming {
			t.Fatalf("unexpected state payload: %+v", p)
		}
	}
}

func TestStopAlreadyStoppedIsIdempotent(t *testing.T) {
	rl, reg, hub, _ := newTestRelay(t)
	producer := &fakeConn{}
	reg.Register("dev1", producer, nil)

	viewer := &fakeConn{}
	hub.AddViewer("viewer", viewer)

	rl.OnStop(viewer, "dev1")

	sess, _ := reg.Find("dev1")
	if sess.IsStreaming {
		t.Fatal("expected streaming false")
	}
	var p core.StateChangedPayload
	if err := json.Unmarshal(lastEvent(t, viewer, core.EvtStateChanged), &p); err != nil {
		t.Fatalf("bad state payload: %v", err)
	}
	if p.IsStreaming {
		t.Fatal("expected state-changed false broadcast")
	}
	if hasEvent(t, viewer, core.EvtCommandError) {
		t.Fatal("idempotent stop must not error")
	}
}

func TestSnapshotUnknownDevice(t *testing.T) {
	rl, _, _, _ := newTestRelay(t)
	requester := &fakeConn{}

	rl.OnSnapshot(requester, "ghost")

	var p core.ErrorPayload
	if err := json.Unmarshal(lastEvent(t, requester, core.EvtSnapshotError), &p); err != nil {
		t.Fatalf("bad snapshot-error payload: %v", err)
	}
	if p.Error != "Device not found" {
		t.Fatalf("expected Device not found, got %q", p.Error)
	}
}

func TestSnapshotStreamingForwardsCapture(t *testing.T) {
	rl, reg, _, _ := newTestRelay(t)
	producer := &fakeConn{}
	reg.Register("dev1", producer, nil)
	reg.SetStreaming("dev1", true)

	requester := &fakeConn{}
	rl.OnSnapshot(requester, "dev1")

	var p core.TakeSnapshotPayload
	if err := json.Unmarshal(lastEvent(t, producer, core.EvtTakeSnapshot), &p); err != nil {
		t.Fatalf("bad take-snapshot payload: %v", err)
	}
	if p.RequestID != "req-1" {
		t.Fatalf("expected generated request id, got %q", p.RequestID)
	}
	if len(requester.sent) != 0 {
		t.Fatal("requester should wait for the async snapshot-ready")
	}
}

func TestSnapshotIdleServesCachedFrame(t *testing.T) {
	rl, reg, _, _ := newTestRelay(t)
	reg.Register("dev1", &fakeConn{}, nil)
	reg.RecordFrame("dev1", domain.Frame{Payload: "CACHED"})

	requester := &fakeConn{}
	rl.OnSnapshot(requester, "dev1")

	var p core.SnapshotReadyPayload
	if err := json.Unmarshal(lastEvent(t, requester, core.EvtSnapshotReady), &p); err != nil {
		t.Fatalf("bad snapshot-ready payload: %v", err)
	}
	if p.ImageData != "CACHED" || !p.IsLastFrame {
		t.Fatalf("expected cached frame flagged isLastFrame, got %+v", p)
	}
}

func TestSnapshotIdleWithoutFrame(t *testing.T) {
	rl, reg, _, _ := newTestRelay(t)
	reg.Register("dev1", &fakeConn{}, nil)

	requester := &fakeConn{}
	rl.OnSnapshot(requester, "dev1")

	var p core.ErrorPayload
	if err := json.Unmarshal(lastEvent(t, requester, core.EvtSnapshotError), &p); err != nil {
		t.Fatalf("bad snapshot-error payload: %v", err)
	}
	if p.Error != "No frame available" {
		t.Fatalf("expected No frame available, got %q", p.Error)
	}
}

func TestSnapshotDataFansOutToViewers(t *testing.T) {
	rl, _, hub, _ := newTestRelay(t)
	v1, v2 := &fakeConn{}, &fakeConn{}
	hub.AddViewer("v1", v1)
	hub.AddViewer("v2", v2)

	rl.OnSnapshotData("dev1", "IMG")

	for _, v := range []*fakeConn{v1, v2} {
		var p core.SnapshotReadyPayload
		if err := json.Unmarshal(lastEvent(t, v, core.EvtSnapshotReady), &p); err != nil {
			t.Fatalf("bad snapshot-ready payload: %v", err)
		}
		if p.ImageData != "IMG" || p.IsLastFrame {
			t.Fatalf("unexpected snapshot payload: %+v", p)
		}
	}
}

func TestProducerDisconnectRemovesAndNotifies(t *testing.T) {
	rl, reg, hub, _ := newTestRelay(t)
	producer := &fakeConn{}
	reg.Register("dev1", producer, nil)
	reg.SetStreaming("dev1", true)

	viewer := &fakeConn{}
	hub.AddViewer("viewer", viewer)

	rl.OnProducerDisconnect("dev1", producer)

	if _, ok := reg.Find("dev1"); ok {
		t.Fatal("expected session removed")
	}
	var p core.StateChangedPayload
	if err := json.Unmarshal(lastEvent(t, viewer, core.EvtStateChanged), &p); err != nil {
		t.Fatalf("bad state payload: %v", err)
	}
	if p.DeviceID != "dev1" || p.IsStreaming {
		t.Fatalf("expected streaming false broadcast, got %+v", p)
	}
}

func TestDisconnectOfReplacedConnKeepsSuccessor(t *testing.T) {
	rl, reg, hub, _ := newTestRelay(t)
	old := &fakeConn{}
	reg.Register("dev1", old, nil)
	fresh := &fakeConn{}
	reg.Register("dev1", fresh, nil)

	viewer := &fakeConn{}
	hub.AddViewer("viewer", viewer)

	rl.OnProducerDisconnect("dev1", old)

	if _, ok := reg.Find("dev1"); !ok {
		t.Fatal("fresh session must survive stale teardown")
	}
	if len(viewer.sent) != 0 {
		t.Fatal("stale teardown must not broadcast a state change")
	}
}

func TestStreamingStatusSnapshot(t *testing.T) {
	rl, reg, _, _ := newTestRelay(t)
	reg.Register("dev1", &fakeConn{}, nil)
	reg.Register("dev2", &fakeConn{}, nil)
	reg.SetStreaming("dev1", true)
	reg.RecordFrame("dev1", domain.Frame{Payload: "AAAA"})

	status := rl.StreamingStatus()
	if len(status.Devices) != 1 {
		t.Fatalf("expected 1 streaming device, got %d", len(status.Devices))
	}
	d := status.Devices[0]
	if d.DeviceID != "dev1" || !d.IsStreaming || d.LastFrame != "AAAA" {
		t.Fatalf("unexpected status entry: %+v", d)
	}
}
