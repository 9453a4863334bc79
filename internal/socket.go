package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"nhooyr.io/websocket"
)

const socketMessageBuffer = 64

// SocketStatus tracks the push channel state machine. Closed is terminal:
// a closed channel stays closed for the page's lifetime and a full process
// restart is the only recovery. This mirrors the product behaviour; do not
// add reconnect logic.
type SocketStatus int32

const (
	SocketStatusIdle SocketStatus = iota
	SocketStatusConnecting
	SocketStatusAwaitingHello
	SocketStatusSubscribed
	SocketStatusClosed
)

func (status SocketStatus) String() string {
	switch status {
	case SocketStatusIdle:
		return "idle"
	case SocketStatusConnecting:
		return "connecting"
	case SocketStatusAwaitingHello:
		return "awaiting_hello"
	case SocketStatusSubscribed:
		return "subscribed"
	case SocketStatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Socket is the client side of the presence push channel. It makes a single
// connection attempt per session: handshake, heartbeat, subscription and
// message dispatch into the normalizer/renderer pipeline.
type Socket struct {
	ctx    context.Context
	cancel func()

	Logger zerolog.Logger

	URL    string
	UserID string

	renderer *Renderer

	status *atomic.Int32

	wsConn *websocket.Conn

	// mu guards the heartbeater fields and the close transition. The
	// ticker is created on the listen goroutine but stopped from Close.
	mu                sync.Mutex
	heartbeater       *time.Ticker
	heartbeatInterval time.Duration
	heartbeatStop     chan void

	messageCh chan SocketPayload
	errorCh   chan error
}

type void struct{}

// NewSocket creates a push channel client for one user. The URL is the
// presence instance base; the /socket path is appended during dial.
func NewSocket(logger zerolog.Logger, instanceURL, userID string, renderer *Renderer) *Socket {
	socket := &Socket{
		Logger: logger.With().Str("component", "socket").Logger(),

		URL:    socketURL(instanceURL),
		UserID: userID,

		renderer: renderer,

		status: atomic.NewInt32(int32(SocketStatusIdle)),

		heartbeatStop: make(chan void, 1),

		messageCh: make(chan SocketPayload, socketMessageBuffer),
		errorCh:   make(chan error, 1),
	}

	socket.ctx, socket.cancel = context.WithCancel(context.Background())

	return socket
}

// socketURL converts an instance URI into the websocket endpoint.
func socketURL(instance string) string {
	instance = strings.TrimSuffix(instance, "/")

	switch {
	case strings.HasPrefix(instance, "https:"):
		instance = "wss:" + strings.TrimPrefix(instance, "https:")
	case strings.HasPrefix(instance, "http:"):
		instance = "ws:" + strings.TrimPrefix(instance, "http:")
	case !strings.HasPrefix(instance, "ws"):
		instance = "wss://" + instance
	}

	return instance + "/socket"
}

// Open dials the channel and starts the listen loop. It returns once the
// transport is established; message handling continues in the background
// until the channel closes.
func (socket *Socket) Open(ctx context.Context) error {
	socket.SetStatus(SocketStatusConnecting)

	socket.Logger.Debug().Str("url", socket.URL).Msg("Dialing push channel")

	conn, _, err := websocket.Dial(ctx, socket.URL, nil)
	if err != nil {
		socket.SetStatus(SocketStatusClosed)

		return fmt.Errorf("failed to dial push channel: %w", err)
	}

	conn.SetReadLimit(-1)

	socket.wsConn = conn
	socket.SetStatus(SocketStatusAwaitingHello)

	go socket.feedWebsocket(socket.ctx, conn)
	go socket.listen(socket.ctx)

	return nil
}

// feedWebsocket reads frames off the transport and feeds them through the
// message channel, serializing handler execution.
func (socket *Socket) feedWebsocket(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case socket.errorCh <- err:
			default:
			}

			return
		}

		socketFrameReceivedCount.Inc()

		var payload SocketPayload

		err = json.Unmarshal(data, &payload)
		if err != nil {
			socket.Logger.Error().Err(err).Msg("Failed to unmarshal frame")

			continue
		}

		select {
		case socket.messageCh <- payload:
		case <-ctx.Done():
			return
		}
	}
}

// listen dispatches frames strictly in arrival order until the transport
// closes or the context is cancelled.
func (socket *Socket) listen(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			socket.shutdown()

			return
		case err := <-socket.errorCh:
			if !errors.Is(err, context.Canceled) {
				socket.Logger.Warn().Err(err).Msg("Push channel transport closed")
			}

			socket.shutdown()

			return
		case payload := <-socket.messageCh:
			socket.handlePayload(ctx, payload)
		}
	}
}

// handlePayload is the single message handler. Error-flagged frames render
// the error overlay without touching the state machine; the channel stays
// open and later frames are still processed.
func (socket *Socket) handlePayload(ctx context.Context, payload SocketPayload) {
	if payload.Error != nil || (payload.Success != nil && !*payload.Success) {
		message := "Upstream error"
		if payload.Error != nil && payload.Error.Message != "" {
			message = payload.Error.Message
		}

		socket.Logger.Warn().Str("message", message).Msg("Received error frame")
		socket.renderer.RenderError(message, false)

		return
	}

	if payload.Op != nil && *payload.Op == SocketOpHello {
		socket.handleHello(ctx, payload)

		return
	}

	switch payload.Type {
	case EventInitState, EventPresenceUpdate:
		socket.handleSnapshot(payload)
	}
}

// handleHello starts heartbeating at the advertised interval and then sends
// the subscribe request. Heartbeat scheduling happens strictly before the
// subscribe frame; nothing is ever sent before this handler runs.
func (socket *Socket) handleHello(ctx context.Context, payload SocketPayload) {
	var hello Hello

	err := json.Unmarshal(payload.Data, &hello)
	if err != nil {
		socket.Logger.Error().Err(err).Msg("Failed to decode hello")

		return
	}

	if hello.HeartbeatInterval <= 0 {
		socket.Logger.Error().Int64("interval", hello.HeartbeatInterval).Msg("Hello carried invalid heartbeat interval")

		return
	}

	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	ticker := time.NewTicker(interval)

	socket.mu.Lock()
	socket.heartbeatInterval = interval
	socket.heartbeater = ticker

	if socket.GetStatus() == SocketStatusClosed {
		socket.heartbeater.Stop()
		socket.mu.Unlock()

		return
	}
	socket.mu.Unlock()

	go socket.heartbeat(ctx, ticker)

	socket.Logger.Debug().Dur("interval", interval).Msg("Received hello")

	err = socket.send(ctx, SentPayload{
		Op:   SocketOpSubscribe,
		Data: Subscribe{SubscribeToID: socket.UserID},
	})
	if err != nil {
		socket.Logger.Error().Err(err).Msg("Failed to send subscribe")

		return
	}

	socket.SetStatus(SocketStatusSubscribed)
}

func (socket *Socket) handleSnapshot(payload SocketPayload) {
	var snapshot PresenceSnapshot

	err := json.Unmarshal(payload.Data, &snapshot)
	if err != nil {
		socket.Logger.Error().Err(err).Str("type", payload.Type).Msg("Failed to decode snapshot")

		return
	}

	view, err := Normalize(&snapshot)
	if err != nil {
		socket.Logger.Warn().Err(err).Msg("Snapshot failed to normalize")
		socket.renderer.RenderError("Failed to load profile", true)

		return
	}

	socket.renderer.Apply(view)
}

// heartbeat sends an op 3 frame every interval until the channel closes.
func (socket *Socket) heartbeat(ctx context.Context, ticker *time.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-socket.heartbeatStop:
			return
		case <-ticker.C:
			err := socket.send(ctx, SentPayload{Op: SocketOpHeartbeat})
			if err != nil {
				socket.Logger.Error().Err(err).Msg("Failed to send heartbeat")

				return
			}

			socketHeartbeatCount.Inc()
		}
	}
}

func (socket *Socket) send(ctx context.Context, payload SentPayload) error {
	status := socket.GetStatus()

	if status == SocketStatusClosed {
		return ErrSocketClosed
	}

	if status == SocketStatusConnecting || status == SocketStatusIdle {
		return ErrSocketNotReady
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = socket.wsConn.Write(ctx, websocket.MessageText, data)
	if err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}

	socketFrameSentCount.Inc()

	return nil
}

// shutdown performs the transition to Closed: the heartbeat ticker is
// cancelled immediately so no frame is ever sent after close. The rendered
// document freezes in place; it is not cleared.
func (socket *Socket) shutdown() {
	socket.mu.Lock()
	defer socket.mu.Unlock()

	if socket.GetStatus() == SocketStatusClosed {
		return
	}

	socket.SetStatus(SocketStatusClosed)

	if socket.heartbeater != nil {
		socket.heartbeater.Stop()
	}

	select {
	case socket.heartbeatStop <- void{}:
	default:
	}

	if socket.wsConn != nil {
		_ = socket.wsConn.Close(websocket.StatusNormalClosure, "")
	}
}

// Close tears the channel down. Safe to call more than once.
func (socket *Socket) Close() {
	socket.cancel()
	socket.shutdown()
}

// SetStatus updates the state machine field and the status gauge.
func (socket *Socket) SetStatus(status SocketStatus) {
	socket.status.Store(int32(status))
	socketStatusGauge.Set(float64(status))

	socket.Logger.Debug().Str("status", status.String()).Msg("Socket status changed")
}

// GetStatus returns the current state machine position.
func (socket *Socket) GetStatus() SocketStatus {
	return SocketStatus(socket.status.Load())
}
