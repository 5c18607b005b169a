package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"backend-karttracker/internal/circuit"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	channelPrefix  = "race:"
	channelSuffix  = ":broadcast"
	channelPattern = channelPrefix + "*" + channelSuffix
)

// Hub fans circuit snapshots out to race-viewer websockets. With redis
// configured, broadcasts also reach viewers connected to other instances.
type Hub struct {
	redis   *redis.Client
	origin  string
	log     zerolog.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
}

type Client struct {
	CircuitID string
	Send      chan []byte
}

// envelope tags relayed messages so an instance skips its own publishes.
type envelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

func NewHub(redisClient *redis.Client, log zerolog.Logger) *Hub {
	h := &Hub{
		redis:   redisClient,
		origin:  uuid.NewString(),
		log:     log.With().Str("component", "stream").Logger(),
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		h.done = make(chan struct{})
		ready := make(chan struct{})
		go h.subscribeRedis(ctx, ready)
		<-ready
	}
	return h
}

func (h *Hub) Register(circuitID string) *Client {
	client := &Client{
		CircuitID: circuitID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[circuitID] == nil {
		h.clients[circuitID] = map[*Client]struct{}{}
	}
	h.clients[circuitID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	circuitClients, ok := h.clients[client.CircuitID]
	if !ok {
		return
	}
	if _, ok := circuitClients[client]; !ok {
		return
	}
	delete(circuitClients, client)
	if len(circuitClients) == 0 {
		delete(h.clients, client.CircuitID)
	}
	close(client.Send)
}

// Viewers is the number of local websockets watching the circuit.
func (h *Hub) Viewers(circuitID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[circuitID])
}

// Broadcast delivers payload to local viewers and publishes it for other
// instances. Slow viewers drop messages rather than block the caller.
func (h *Hub) Broadcast(circuitID string, payload []byte) {
	h.deliver(circuitID, payload)

	if h.redis != nil {
		msg, err := json.Marshal(envelope{Origin: h.origin, Payload: payload})
		if err != nil {
			h.log.Error().Err(err).Str("circuit_id", circuitID).Msg("encode relay envelope")
			return
		}
		if err := h.redis.Publish(context.Background(), redisChannel(circuitID), msg).Err(); err != nil {
			h.log.Warn().Err(err).Str("circuit_id", circuitID).Msg("redis publish error")
		}
	}
}

// Listener adapts the hub to circuit registry subscriptions.
func (h *Hub) Listener(circuitID string) circuit.Listener {
	return func(c circuit.Circuit) {
		payload, err := json.Marshal(c)
		if err != nil {
			h.log.Error().Err(err).Str("circuit_id", circuitID).Msg("encode circuit snapshot")
			return
		}
		h.Broadcast(circuitID, payload)
	}
}

// Close stops the redis relay and waits for it to exit.
func (h *Hub) Close() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
}

func (h *Hub) deliver(circuitID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[circuitID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context, ready chan<- struct{}) {
	defer close(h.done)
	pubsub := h.redis.PSubscribe(ctx, channelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		h.log.Warn().Err(err).Msg("redis relay unavailable")
		close(ready)
		return
	}
	close(ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.log.Debug().Err(err).Str("channel", msg.Channel).Msg("ignoring relay message")
				continue
			}
			if env.Origin == h.origin {
				continue
			}
			circuitID := circuitIDFromChannel(msg.Channel)
			if circuitID == "" {
				continue
			}
			h.deliver(circuitID, env.Payload)
		}
	}
}

func redisChannel(circuitID string) string {
	return channelPrefix + circuitID + channelSuffix
}

func circuitIDFromChannel(ch string) string {
	// race:{circuit}:broadcast
	if len(ch) <= len(channelPrefix)+len(channelSuffix) ||
		!strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
