package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"

	"examshield/internal/infrastructure"
	"examshield/internal/license"
	contracts "examshield/pkg/contracts/events"
)

const (
	broadcastBuffer = 256
	clientBuffer    = 64
)

// Hub fans license events out to connected admin dashboards
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu     sync.RWMutex
	clock  quartz.Clock
	logger *slog.Logger

	published metric.Int64Counter
	dropped   metric.Int64Counter
	connected metric.Int64UpDownCounter
}

var _ license.EventPublisher = (*Hub)(nil)

// NewHub creates a hub. Call Run to start delivering.
func NewHub(logger *slog.Logger, clock quartz.Clock, meter metric.Meter) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("events")
	}

	h := &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clock:      clock,
		logger:     logger.With(slog.String("component", "events.hub")),
	}

	// fall back to no-op instruments
	noop := metricnoop.NewMeterProvider().Meter("events")
	var err error
	if h.published, err = meter.Int64Counter("license_events_published_total",
		metric.WithDescription("License events broadcast to dashboards")); err != nil {
		h.published, _ = noop.Int64Counter("license_events_published_total")
	}
	if h.dropped, err = meter.Int64Counter("license_events_dropped_total",
		metric.WithDescription("License events dropped because a buffer was full")); err != nil {
		h.dropped, _ = noop.Int64Counter("license_events_dropped_total")
	}
	if h.connected, err = meter.Int64UpDownCounter("license_event_clients",
		metric.WithDescription("Connected event stream clients")); err != nil {
		h.connected, _ = noop.Int64UpDownCounter("license_event_clients")
	}
	return h
}

// Run delivers events until ctx is cancelled, then disconnects every client
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("event hub stopped")
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.connected.Add(ctx, 1)

			h.logger.InfoContext(c.ctx(), "event client registered",
				slog.String("client_id", c.id),
				slog.String("remote_addr", c.remoteAddr),
				slog.Int("total_clients", count),
			)
			if msg, err := h.encode(contracts.MessageTypeConnect, c.traceID, nil); err == nil {
				select {
				case c.send <- msg:
				default:
				}
			}

		case c := <-h.unregister:
			h.remove(ctx, c, "client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()

			for _, c := range clients {
				select {
				case c.send <- msg:
				default:
					h.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("where", "client")))
					h.remove(ctx, c, "client send buffer full, disconnecting")
				}
			}
		}
	}
}

func (h *Hub) remove(ctx context.Context, c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.connected.Add(ctx, -1)
	h.logger.InfoContext(c.ctx(), reason,
		slog.String("client_id", c.id),
		slog.Int("total_clients", count),
		slog.Duration("connection_duration", h.clock.Since(c.connectedAt)),
	)
}

// PublishLicenseEvent queues an event for every client. It never blocks;
// events are dropped when the hub is saturated or stopped.
func (h *Hub) PublishLicenseEvent(ctx context.Context, msgType contracts.MessageType, data contracts.LicenseEventData) {
	msg, err := h.encode(msgType, infrastructure.GetTraceID(ctx), &data)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode license event",
			slog.String("type", string(msgType)),
			slog.String("error", err.Error()),
		)
		return
	}

	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.broadcast <- msg:
		h.published.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(msgType))))
	default:
		h.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("where", "hub")))
		h.logger.WarnContext(ctx, "event hub saturated, event dropped", slog.String("type", string(msgType)))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) encode(msgType contracts.MessageType, traceID string, data *contracts.LicenseEventData) ([]byte, error) {
	base := contracts.BaseMessage{
		ID:        uuid.New().String(),
		Type:      msgType,
		Timestamp: h.clock.Now().UTC(),
		TraceID:   traceID,
	}
	if data == nil {
		return json.Marshal(base)
	}
	return json.Marshal(contracts.LicenseEvent{BaseMessage: base, Data: *data})
}

// attach registers c unless the hub has stopped
func (h *Hub) attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// detach unregisters c unless the hub has stopped
func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
