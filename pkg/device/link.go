// Package device talks to the robot: discovery on the local network, the
// websocket control channel that receives servo positions, the servo state
// query and the camera.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	// Camera frame decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-bonbon/internal/httpc"
	"github.com/teslashibe/go-bonbon/internal/log"
	"github.com/teslashibe/go-bonbon/pkg/animation"
	"github.com/teslashibe/go-bonbon/pkg/protocol"
)

// Device endpoints.
const (
	ServoPath  = "/servo"  // websocket control channel
	StatePath  = "/servos" // current servo values
	CameraPath = "/camera" // one encoded frame
)

// Config holds link settings.
type Config struct {
	Address          string // Device IP
	Port             int
	CameraTimeout    time.Duration
	StateTimeout     time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReconnectDelay   time.Duration
	PingInterval     time.Duration // Keepalive ping period; zero disables pings
	PongTimeout      time.Duration // Drop the channel after this long without a pong; needs PingInterval

	Ranges      animation.Ranges   // For raw telemetry
	DefaultPose animation.Position // Mapped; fills channels the device does not report
}

// DefaultConfig returns production defaults. Address must still be set.
func DefaultConfig() Config {
	return Config{
		Port:             8080,
		CameraTimeout:    2 * time.Second,
		StateTimeout:     httpc.DefaultTimeout,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     time.Second,
		ReconnectDelay:   3 * time.Second,
		PingInterval:     5 * time.Second,
		PongTimeout:      12 * time.Second,
	}
}

// Link is the connection to one device. It owns the cached servo state;
// callers only ever get copies.
type Link struct {
	reporter protocol.Reporter
	logger   *slog.Logger
	client   *http.Client
	dialer   *websocket.Dialer

	mu        sync.Mutex
	cfg       Config
	conn      *websocket.Conn
	connected bool
	servos    animation.Position

	sizeMu    sync.RWMutex
	width     int
	height    int
	sizeKnown bool
}

// NewLink creates a link. Call Run to connect.
func NewLink(cfg Config, reporter protocol.Reporter) *Link {
	if reporter == nil {
		reporter = protocol.Discard
	}
	return &Link{
		reporter: reporter,
		logger:   log.Component("device"),
		client:   httpc.Client,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		cfg:    cfg,
		servos: animation.Null(),
	}
}

// SetCalibration replaces the ranges and default pose, e.g. after the
// options were reloaded. It applies from the next (re)connect.
func (l *Link) SetCalibration(ranges animation.Ranges, defaultPose animation.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.Ranges = ranges
	l.cfg.DefaultPose = defaultPose
}

// Address returns the device IP.
func (l *Link) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg.Address
}

// Connected reports whether the control channel is up and the initial state
// query succeeded.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Servos returns a copy of the last known servo position. It is null while
// disconnected.
func (l *Link) Servos() animation.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.servos
}

// ImageSize returns the camera frame size once a frame has been fetched.
func (l *Link) ImageSize() (width, height int, ok bool) {
	l.sizeMu.RLock()
	defer l.sizeMu.RUnlock()
	return l.width, l.height, l.sizeKnown
}

func (l *Link) url(scheme, path string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("%s://%s%s", scheme, hostPort(l.cfg.Address, l.cfg.Port), path)
}

// Run keeps the control channel open until ctx is cancelled. A dropped
// channel clears the servo cache and is redialed after ReconnectDelay.
func (l *Link) Run(ctx context.Context) error {
	for {
		conn, err := l.connect(ctx)
		if err != nil {
			l.logger.Warn("failed to connect", "address", l.Address(), "error", err)
		} else {
			l.logger.Info("connected", "address", l.Address())
			err = l.serve(ctx, conn)
			l.disconnect()
			l.logger.Warn("lost connection", "error", err)
		}

		l.mu.Lock()
		delay := l.cfg.ReconnectDelay
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			l.logger.Info("reconnecting")
		}
	}
}

// connect dials the control channel, queries the current servo state and
// marks the link connected.
func (l *Link) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := l.dialer.DialContext(ctx, l.url("ws", ServoPath), nil)
	if err != nil {
		return nil, fmt.Errorf("dial control channel: %w", err)
	}

	state, err := l.queryState(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("query servo state: %w", err)
	}

	l.mu.Lock()
	state = state.FillWith(l.cfg.DefaultPose)
	l.conn = conn
	l.servos = state
	l.connected = true
	l.mu.Unlock()

	l.publish(state)
	return conn, nil
}

func (l *Link) queryState(ctx context.Context) (animation.Position, error) {
	l.mu.Lock()
	timeout := l.cfg.StateTimeout
	l.mu.Unlock()

	data, err := httpc.GetBytes(ctx, l.client, l.url("http", StatePath), timeout)
	if err != nil {
		if isTimeout(err) {
			return animation.Position{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return animation.Position{}, err
	}

	var state animation.Position
	if err := json.Unmarshal(data, &state); err != nil {
		return animation.Position{}, err
	}
	return state, nil
}

// serve blocks until the control channel fails or ctx is cancelled. The
// device never sends anything meaningful; reading only detects the drop.
// Pings keep a half-open channel from looking alive: without a pong within
// PongTimeout the read fails.
func (l *Link) serve(ctx context.Context, conn *websocket.Conn) error {
	l.mu.Lock()
	pingInterval := l.cfg.PingInterval
	pongTimeout := l.cfg.PongTimeout
	writeTimeout := l.cfg.WriteTimeout
	l.mu.Unlock()

	if pingInterval > 0 && pongTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
	}

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		var ping <-chan time.Time
		if pingInterval > 0 {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			ping = ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-stop:
				return
			case <-ping:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					l.logger.Debug("ping failed", "error", err)
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
	}
}

// disconnect drops the connection and the cached state, which is stale once
// the device is out of reach.
func (l *Link) disconnect() {
	l.mu.Lock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.connected = false
	l.servos = animation.Null()
	l.mu.Unlock()
}

// SetServos sends pos to the device and folds it into the cached state. It
// fails with ErrNotConnected, without side effects, while the link is down.
func (l *Link) SetServos(pos animation.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("encode servos: %w", err)
	}

	l.mu.Lock()
	if !l.connected || l.conn == nil {
		l.mu.Unlock()
		return ErrNotConnected
	}

	l.conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// The connection is unusable after a failed write. Closing it ends
		// the read pump and Run redials.
		l.conn.Close()
		l.connected = false
		l.servos = animation.Null()
		l.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	l.servos = pos.FillWith(l.servos)
	state := l.servos
	l.mu.Unlock()

	l.publish(state)
	return nil
}

// publish reports the cached state in mapped and raw form.
func (l *Link) publish(state animation.Position) {
	l.reporter.Report(protocol.TypeCurrentServos, state.Array())

	l.mu.Lock()
	ranges := l.cfg.Ranges
	l.mu.Unlock()

	raw, err := state.Unmap(ranges)
	if err != nil {
		l.logger.Debug("raw servo telemetry skipped", "error", err)
		return
	}
	l.reporter.Report(protocol.TypeCurrentRawServos, animation.MappedPosition(raw).Array())
}

// CaptureFrame fetches one camera frame. The round trip is reported as
// camera-response-time. There is no retry; the camera loop simply asks
// again.
func (l *Link) CaptureFrame(ctx context.Context) ([]byte, error) {
	l.mu.Lock()
	timeout := l.cfg.CameraTimeout
	l.mu.Unlock()

	start := time.Now()
	data, err := httpc.GetBytes(ctx, l.client, l.url("http", CameraPath), timeout)
	elapsed := time.Since(start)

	if err != nil {
		if isTimeout(err) {
			l.reporter.Report(protocol.TypeCameraResponseTime, protocol.ResponseTime(0, true))
			return nil, fmt.Errorf("%w: camera after %v", ErrTimeout, timeout)
		}
		l.reporter.Report(protocol.TypeCameraResponseTime, protocol.ResponseTime(elapsed.Milliseconds(), false))
		return nil, fmt.Errorf("camera: %w", err)
	}

	l.reporter.Report(protocol.TypeCameraResponseTime, protocol.ResponseTime(elapsed.Milliseconds(), false))
	l.logger.Debug("camera frame", "bytes", len(data), "took", elapsed)

	l.recordSize(data)
	return data, nil
}

// recordSize decodes the frame header once. Frame dimensions are assumed
// constant for the lifetime of the process.
func (l *Link) recordSize(data []byte) {
	l.sizeMu.RLock()
	known := l.sizeKnown
	l.sizeMu.RUnlock()
	if known {
		return
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		l.logger.Warn("failed to read camera frame size", "error", err)
		return
	}

	l.sizeMu.Lock()
	l.width, l.height, l.sizeKnown = cfg.Width, cfg.Height, true
	l.sizeMu.Unlock()

	l.logger.Info("camera frame size", "width", cfg.Width, "height", cfg.Height, "format", format)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
