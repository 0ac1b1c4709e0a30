// Command viewer is a headless stream consumer: it authenticates with an
// identity credential, asks a device to start streaming, and feeds the
// incoming frames through the adaptive buffer, reporting delivery
// quality on an interval.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"image/jpeg"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"camrelay/internal/core"
	"camrelay/internal/viewer"
)

type jpegSink struct{}

func (jpegSink) Render(payload string, capturedAt time.Time) error {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("decode base64: %w", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode jpeg: %w", err)
	}
	log.Debug().Int("width", cfg.Width).Int("height", cfg.Height).Time("captured_at", capturedAt).Msg("frame rendered")
	return nil
}

func main() {
	server := flag.String("server", "localhost:3001", "relay server host:port")
	credential := flag.String("identity", "", "identity credential")
	deviceID := flag.String("device", "", "device id to watch")
	statsEvery := flag.Duration("stats", 5*time.Second, "stats report interval")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if *credential == "" || *deviceID == "" {
		log.Fatal().Msg("both -identity and -device are required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	u := url.URL{
		Scheme:   "ws",
		Host:     *server,
		Path:     "/api/ws",
		RawQuery: url.Values{"identity": {*credential}}.Encode(),
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		log.Fatal().Err(err).Str("url", u.String()).Msg("dial failed")
	}
	defer conn.Close()

	clock := core.SystemClock()
	buf := viewer.NewBufferManager(clock, jpegSink{})
	buf.Start(ctx)
	defer buf.Destroy()

	start, _ := core.Encode(core.EvtStartStreaming, core.DeviceRefPayload{DeviceID: *deviceID})
	if err := conn.WriteMessage(websocket.TextMessage, start); err != nil {
		log.Fatal().Err(err).Msg("start-streaming failed")
	}

	go reportStats(ctx, buf, *statsEvery)

	for {
		select {
		case <-ctx.Done():
			stop, _ := core.Encode(core.EvtStopStreaming, core.DeviceRefPayload{DeviceID: *deviceID})
			_ = conn.WriteMessage(websocket.TextMessage, stop)
			return
		default:
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Msg("read error")
				return
			}
			handleMessage(buf, data)
		}
	}
}

func handleMessage(buf *viewer.BufferManager, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Msg("bad json")
		return
	}
	switch env.Event {
	case core.EvtCameraFeed:
		var p core.CameraFeedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Error().Err(err).Msg("bad camera-feed payload")
			return
		}
		buf.AddFrame(p.Frame, time.UnixMilli(p.Timestamp))
	case core.EvtStateChanged:
		var p core.StateChangedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		log.Info().Str("device", p.DeviceID).Bool("streaming", p.IsStreaming).Msg("streaming state changed")
	case core.EvtSnapshotReady:
		var p core.SnapshotReadyPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		log.Info().Str("device", p.DeviceID).Bool("last_frame", p.IsLastFrame).Msg("snapshot ready")
	case core.EvtSnapshotError, core.EvtCommandError:
		var p core.ErrorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		log.Warn().Str("device", p.DeviceID).Str("error", p.Error).Msg("relay error")
	case core.EvtConnected:
		log.Info().Msg("connected to relay")
	case core.EvtStreamingStatus:
		var p core.StreamingStatusPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		log.Info().Int("streaming_devices", len(p.Devices)).Msg("streaming status")
	}
}

func reportStats(ctx context.Context, buf *viewer.BufferManager, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := buf.Stats()
			log.Info().
				Int("buffer", s.BufferSize).
				Uint64("processed", s.ProcessedFrames).
				Uint64("dropped", s.DroppedFrames).
				Dur("avg_latency", s.AverageLatency).
				Float64("drop_rate", s.DropRate).
				Msg("delivery stats")
		}
	}
}
