package core

import "encoding/json"

// Event names exchanged over the persistent connection. The set is
// closed: the dispatcher maps each inbound name to exactly one handler.
const (
	EvtCameraStream    = "camera-stream"
	EvtCameraFeed      = "camera-feed"
	EvtStartStreaming  = "start-streaming"
	EvtStopStreaming   = "stop-streaming"
	EvtStartCommand    = "start-streaming-command"
	EvtStopCommand     = "stop-streaming-command"
	EvtStateUpdate     = "streaming-state-update"
	EvtStateChanged    = "streaming-state-changed"
	EvtStreamingStatus = "streaming-status"
	EvtRequestSnapshot = "request-snapshot"
	EvtTakeSnapshot    = "take-snapshot"
	EvtSnapshotData    = "snapshot-data"
	EvtSnapshotReady   = "snapshot-ready"
	EvtSnapshotError   = "snapshot-error"
	EvtCommandError    = "command-error"
	EvtConnected       = "connected"
)

// Envelope wraps every wire message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an event with its payload into wire form.
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Timestamps ride as epoch milliseconds, matching the producer app.

type CameraStreamPayload struct {
	Frame     string `json:"frame"`
	Timestamp int64  `json:"timestamp"`
	DeviceID  string `json:"deviceId"`
}

type CameraFeedPayload struct {
	DeviceID  string `json:"deviceId"`
	Frame     string `json:"frame"`
	Timestamp int64  `json:"timestamp"`
}

type DeviceRefPayload struct {
	DeviceID string `json:"deviceId"`
}

type StateUpdatePayload struct {
	IsStreaming bool   `json:"isStreaming"`
	DeviceID    string `json:"deviceId"`
}

type StateChangedPayload struct {
	DeviceID    string `json:"deviceId"`
	IsStreaming bool   `json:"isStreaming"`
}

type StreamingDevice struct {
	DeviceID    string `json:"deviceId"`
	IsStreaming bool   `json:"isStreaming"`
	LastFrame   string `json:"lastFrame,omitempty"`
}

type StreamingStatusPayload struct {
	Devices []StreamingDevice `json:"devices"`
}

type TakeSnapshotPayload struct {
	RequestID string `json:"requestId"`
}

type SnapshotDataPayload struct {
	ImageData string `json:"imageData"`
	Timestamp int64  `json:"timestamp"`
	DeviceID  string `json:"deviceId"`
}

type SnapshotReadyPayload struct {
	DeviceID    string `json:"deviceId"`
	ImageData   string `json:"imageData"`
	Timestamp   int64  `json:"timestamp"`
	IsLastFrame bool   `json:"isLastFrame,omitempty"`
}

type ErrorPayload struct {
	Error    string `json:"error"`
	DeviceID string `json:"deviceId"`
}

type ConnectedPayload struct {
	Message     string `json:"message"`
	DeviceID    string `json:"deviceId"`
	IsWebClient bool   `json:"isWebClient"`
	ServerTime  int64  `json:"serverTime"`
}
