// Package subscriptions exposes the in-process topics over WebSocket. Each
// connection attaches one live subscriber; it sees only events published
// while it is attached.
package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/METASPACE2020/sm-graphql/internal/domain/events"
	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
)

// Path is the route pattern; {topic} is an event type name.
const Path = "/v1/subscriptions/{topic}"

const (
	defaultPingPeriod = 30 * time.Second
	defaultPongWait   = 60 * time.Second
	writeWait         = 10 * time.Second
	maxMessageSize    = 512
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Bus    events.StreamSubscriber
	Topics []events.EventType
	Log    *logger.Logger
	Tracer trace.Tracer

	PingPeriod time.Duration
	PongWait   time.Duration
}

// Routes binds the subscription endpoint.
func Routes(r chi.Router, cfg Config) {
	r.Get(Path, newHandler(cfg).subscribe)
}

type handler struct {
	cfg      Config
	upgrader websocket.Upgrader
}

func newHandler(cfg Config) *handler {
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.PongWait <= cfg.PingPeriod {
		cfg.PongWait = max(defaultPongWait, 2*cfg.PingPeriod)
	}

	return &handler{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *handler) subscribe(w http.ResponseWriter, r *http.Request) {
	topic := events.EventType(chi.URLParam(r, "topic"))
	if !slices.Contains(h.cfg.Topics, topic) {
		http.Error(w, "unknown topic", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.cfg.Log.Warn(r.Context(), "WebSocket upgrade failed", "topic", topic, "error", err)
		return
	}
	defer conn.Close()

	// Hijacked connections outlive the request context; the reader cancels
	// this one when the client goes away.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	stream, err := h.cfg.Bus.Stream(ctx, topic)
	if err != nil {
		h.cfg.Log.Error(ctx, "Failed to attach subscriber", "topic", topic, "error", err)
		closeWith(conn, websocket.CloseInternalServerErr, "subscription unavailable")
		return
	}
	defer stream.Close()

	log := h.cfg.Log.With("subscription_id", stream.ID(), "topic", topic)
	ctx, span := h.cfg.Tracer.Start(ctx, "subscriptions.stream",
		trace.WithAttributes(
			attribute.String("topic", topic.String()),
			attribute.String("subscription_id", stream.ID()),
		))
	defer span.End()

	log.Info(ctx, "Subscriber attached", "remote_addr", r.RemoteAddr)
	defer log.Info(ctx, "Subscriber detached")

	go h.readPump(conn, cancel)

	if err := h.writePump(ctx, conn, stream); err != nil {
		span.RecordError(err)
		log.Debug(ctx, "Subscription ended", "reason", err)
	}
}

// readPump discards client frames and keeps the pong deadline fresh. It
// returns, canceling the subscription, once the peer is gone.
func (h *handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

var errStreamClosed = errors.New("stream closed")

func (h *handler) writePump(ctx context.Context, conn *websocket.Conn, stream events.Stream) error {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-stream.Events():
			if !ok {
				closeWith(conn, websocket.CloseGoingAway, "server shutting down")
				return errStreamClosed
			}
			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				h.cfg.Log.Error(ctx, "Failed to encode event", "event_type", evt.Type, "key", evt.Key, "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return err
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
