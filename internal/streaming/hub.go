package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	clientBuffer      = 16
	broadcasterBuffer = 128
	criticalGrace     = 100 * time.Millisecond
	clientGrace       = 50 * time.Millisecond
)

// Client is one subscriber. Events is closed when the batch finishes or the
// client unsubscribes.
type Client struct {
	Events chan Event
}

// NewClient creates a new client
func NewClient() *Client {
	return &Client{Events: make(chan Event, clientBuffer)}
}

// BatchBroadcaster broadcasts events to every client of one batch.
type BatchBroadcaster struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	events   chan Event
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  bool
	log      zerolog.Logger
}

// NewBatchBroadcaster creates a broadcaster; it stops when ctx is cancelled.
func NewBatchBroadcaster(ctx context.Context, log zerolog.Logger) *BatchBroadcaster {
	ctx, cancel := context.WithCancel(ctx)
	return &BatchBroadcaster{
		clients: make(map[*Client]bool),
		events:  make(chan Event, broadcasterBuffer),
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
	}
}

// Register adds a client to the broadcaster
func (b *BatchBroadcaster) Register(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		close(client.Events)
		return
	}
	b.clients[client] = true
	b.log.Debug().Int("clients", len(b.clients)).Msg("client registered")
}

// Unregister removes a client from the broadcaster
func (b *BatchBroadcaster) Unregister(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		// Stop() closes the channels of clients still registered.
		if !b.stopped {
			close(client.Events)
		}
		b.log.Debug().Int("clients", len(b.clients)).Msg("client unregistered")
	}
}

// ClientCount returns the number of connected clients
func (b *BatchBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast queues an event. Non-critical events are dropped when the queue
// is full; critical ones wait up to a short grace period.
func (b *BatchBroadcaster) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return
	}

	if event.Critical() {
		select {
		case b.events <- event:
		case <-b.ctx.Done():
		case <-time.After(criticalGrace):
			b.log.Error().Str("event", string(event.Type)).Int("capacity", cap(b.events)).Msg("failed to queue critical event")
		}
		return
	}

	select {
	case b.events <- event:
	case <-b.ctx.Done():
	default:
		b.log.Warn().Str("event", string(event.Type)).Msg("event queue full, dropping event")
	}
}

// Stop stops the broadcaster and closes every client channel.
func (b *BatchBroadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		for client := range b.clients {
			close(client.Events)
			delete(b.clients, client)
		}
		b.cancel()
		close(b.events)
		b.mu.Unlock()
	})
}

// Stopped reports whether the broadcaster has shut down.
func (b *BatchBroadcaster) Stopped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopped
}

// Start delivers queued events until a critical event is delivered or the
// context ends.
func (b *BatchBroadcaster) Start() {
	go func() {
		defer b.Stop()
		for {
			select {
			case <-b.ctx.Done():
				return
			case event, ok := <-b.events:
				if !ok {
					return
				}
				b.broadcastToClients(event)
				if event.Critical() {
					return
				}
			}
		}
	}()
}

func (b *BatchBroadcaster) broadcastToClients(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		if event.Critical() {
			select {
			case client.Events <- event:
			case <-time.After(clientGrace):
				b.log.Error().Str("event", string(event.Type)).Msg("failed to deliver critical event to client")
			}
			continue
		}

		select {
		case client.Events <- event:
		default:
			b.log.Warn().Str("event", string(event.Type)).Msg("client channel full, skipping event")
		}
	}
}

// Hub manages one broadcaster per batch.
type Hub struct {
	mu           sync.RWMutex
	broadcasters map[string]*BatchBroadcaster
	log          zerolog.Logger
}

// NewHub creates a new hub
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		broadcasters: make(map[string]*BatchBroadcaster),
		log:          log.With().Str("component", "streaming").Logger(),
	}
}

// Subscribe registers a client for a batch, creating its broadcaster on
// first use. Subscribe before the batch starts to receive every event.
func (h *Hub) Subscribe(ctx context.Context, batchID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	client := NewClient()
	b, exists := h.broadcasters[batchID]
	if !exists || b.Stopped() {
		b = NewBatchBroadcaster(ctx, h.log.With().Str("batch_id", batchID).Logger())
		h.broadcasters[batchID] = b
		b.Start()
	}
	b.Register(client)
	return client
}

// Unsubscribe removes a client; the broadcaster is dropped with its last client.
func (h *Hub) Unsubscribe(batchID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, exists := h.broadcasters[batchID]
	if !exists {
		return
	}
	b.Unregister(client)
	if b.ClientCount() == 0 {
		b.Stop()
		delete(h.broadcasters, batchID)
	}
}

// Broadcast sends an event to every client of a batch. Batches without
// subscribers are ignored.
func (h *Hub) Broadcast(batchID string, event Event) {
	h.mu.RLock()
	b, exists := h.broadcasters[batchID]
	h.mu.RUnlock()
	if !exists {
		return
	}
	b.Broadcast(event)
}

// Close stops a batch's broadcaster, closing every client channel.
func (h *Hub) Close(batchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, exists := h.broadcasters[batchID]; exists {
		b.Stop()
		delete(h.broadcasters, batchID)
	}
}

// IsRunning checks if a batch broadcaster exists
func (h *Hub) IsRunning(batchID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, exists := h.broadcasters[batchID]
	return exists && !b.Stopped()
}
