package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"hisens-cloud/internal/logging"
	"hisens-cloud/internal/observability/metrics"
	"hisens-cloud/internal/telemetry/application"
)

// EventReading is the live event name for accepted readings.
const EventReading = "nueva_lectura"

const defaultClientBuffer = 64

// Message is one live event.
type Message struct {
	Event string
	Data  json.RawMessage
}

// Forwarder relays locally published messages to other replicas.
type Forwarder interface {
	Forward(msg Message)
}

// Hub fans out live events to connected subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the message.
type Hub struct {
	mu      sync.Mutex
	clients map[chan Message]struct{}
	buffer  int
	relay   Forwarder
	logger  *zap.Logger
}

// NewHub constructs a hub. buffer is the per-subscriber queue length.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &Hub{
		clients: make(map[chan Message]struct{}),
		buffer:  buffer,
		logger:  logging.OrNop(logger),
	}
}

// SetRelay attaches a cross-replica forwarder.
func (h *Hub) SetRelay(relay Forwarder) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.relay = relay
	h.mu.Unlock()
}

// NotifyReading implements application.ReadingNotifier.
func (h *Hub) NotifyReading(_ context.Context, update application.ReadingUpdate) {
	if h == nil {
		return
	}
	payload, err := json.Marshal(update)
	if err != nil {
		h.logger.Warn("live encode failed", zap.String("sensor_id", update.SensorID), zap.Error(err))
		return
	}
	msg := Message{Event: EventReading, Data: payload}
	h.Broadcast(msg)

	h.mu.Lock()
	relay := h.relay
	h.mu.Unlock()
	if relay != nil {
		relay.Forward(msg)
	}
}

// Broadcast delivers msg to local subscribers and returns how many missed it.
func (h *Hub) Broadcast(msg Message) int {
	if h == nil {
		return 0
	}
	dropped := 0
	h.mu.Lock()
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}
	h.mu.Unlock()
	if dropped > 0 {
		h.logger.Debug("live subscribers lagging", zap.String("event", msg.Event), zap.Int("dropped", dropped))
	}
	metrics.ObserveLiveBroadcast(dropped)
	return dropped
}

// Subscribe registers a new subscriber channel.
func (h *Hub) Subscribe() chan Message {
	if h == nil {
		return nil
	}
	ch := make(chan Message, h.buffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	metrics.SetLiveClients(count)
	return ch
}

// Unsubscribe removes and closes a subscriber channel. It is safe to call twice.
func (h *Hub) Unsubscribe(ch chan Message) {
	if h == nil || ch == nil {
		return
	}
	h.mu.Lock()
	_, ok := h.clients[ch]
	if ok {
		delete(h.clients, ch)
		close(ch)
	}
	count := len(h.clients)
	h.mu.Unlock()
	metrics.SetLiveClients(count)
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
