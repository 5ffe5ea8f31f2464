package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func progress(i, total int) Event {
	return NewProgressEvent(ProgressEvent{BatchID: "b", Processed: i, Total: total})
}

// TestSingleClientReceivesAllEvents tests that a single client receives all broadcast events
func TestSingleClientReceivesAllEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	batchID := "batch-1"
	client := hub.Subscribe(context.Background(), batchID)

	events := []Event{progress(1, 3), progress(2, 3), progress(3, 3)}
	for _, event := range events {
		hub.Broadcast(batchID, event)
	}

	received := 0
	timeout := time.After(2 * time.Second)
	for received < len(events) {
		select {
		case event := <-client.Events:
			received++
			if event.Type != EventTypeProgress {
				t.Errorf("Expected EventTypeProgress, got %s", event.Type)
			}
		case <-timeout:
			t.Fatalf("Timeout waiting for events. Received %d/%d", received, len(events))
		}
	}

	hub.Unsubscribe(batchID, client)
}

// TestMultipleClientsReceiveSameEvents tests that multiple clients all receive the same events
func TestMultipleClientsReceiveSameEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	batchID := "batch-2"

	numClients := 3
	clients := make([]*Client, numClients)
	for i := 0; i < numClients; i++ {
		clients[i] = hub.Subscribe(context.Background(), batchID)
	}

	hub.Broadcast(batchID, NewDocumentEvent(DocumentEvent{BatchID: batchID, Document: "jan.csv", Status: "committed"}))

	var wg sync.WaitGroup
	wg.Add(numClients)
	for i, client := range clients {
		go func(idx int, c *Client) {
			defer wg.Done()
			select {
			case event := <-c.Events:
				doc, ok := event.Document()
				if !ok || doc.Document != "jan.csv" {
					t.Errorf("Client %d: unexpected event %+v", idx, event)
				}
			case <-time.After(2 * time.Second):
				t.Errorf("Client %d: Timeout waiting for event", idx)
			}
		}(i, client)
	}
	wg.Wait()

	for _, client := range clients {
		hub.Unsubscribe(batchID, client)
	}
}

// TestUnsubscribedClientChannelIsClosed tests that unsubscribed clients stop receiving events
func TestUnsubscribedClientChannelIsClosed(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	batchID := "batch-3"
	client := hub.Subscribe(context.Background(), batchID)

	hub.Unsubscribe(batchID, client)
	hub.Broadcast(batchID, progress(1, 1))

	select {
	case _, ok := <-client.Events:
		if ok {
			t.Error("Client channel should be closed after unsubscribe, but received an event")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Expected client channel to be closed immediately after unsubscribe")
	}
	if hub.IsRunning(batchID) {
		t.Error("Broadcaster should be cleaned up after last client disconnects")
	}
}

// TestClientChannelOverflowBehavior tests that slow clients don't block other clients
func TestClientChannelOverflowBehavior(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	batchID := "batch-4"
	fastClient := hub.Subscribe(context.Background(), batchID)
	slowClient := hub.Subscribe(context.Background(), batchID)

	// slowClient is never read; its buffer fills up.
	for i := 0; i < 2*clientBuffer; i++ {
		hub.Broadcast(batchID, progress(i, 2*clientBuffer))
		time.Sleep(5 * time.Millisecond)
	}

	received := 0
drainLoop:
	for {
		select {
		case <-fastClient.Events:
			received++
		case <-time.After(100 * time.Millisecond):
			break drainLoop
		}
	}
	if received == 0 {
		t.Error("Fast client should receive events even when slow client blocks")
	}

	hub.Unsubscribe(batchID, fastClient)
	hub.Unsubscribe(batchID, slowClient)
}

// TestConcurrentSubscribe tests that concurrent subscription is thread-safe
func TestConcurrentSubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	batchID := "batch-5"

	numClients := 50
	clients := make([]*Client, numClients)
	var wg sync.WaitGroup
	wg.Add(numClients)
	for i := 0; i < numClients; i++ {
		go func(idx int) {
			defer wg.Done()
			clients[idx] = hub.Subscribe(context.Background(), batchID)
		}(i)
	}
	wg.Wait()

	hub.mu.RLock()
	broadcaster := hub.broadcasters[batchID]
	hub.mu.RUnlock()
	if broadcaster == nil {
		t.Fatal("Broadcaster should exist after concurrent subscriptions")
	}
	if n := broadcaster.ClientCount(); n != numClients {
		t.Errorf("Expected %d clients, got %d", numClients, n)
	}

	wg.Add(numClients)
	for _, c := range clients {
		go func(c *Client) {
			defer wg.Done()
			hub.Unsubscribe(batchID, c)
		}(c)
	}
	wg.Wait()
	if hub.IsRunning(batchID) {
		t.Error("Broadcaster should be cleaned up after all clients unsubscribe")
	}
}

// TestCompleteEventClosesClients tests that a complete event is delivered and then shuts the batch down
func TestCompleteEventClosesClients(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	batchID := "batch-6"
	client := hub.Subscribe(context.Background(), batchID)

	hub.Broadcast(batchID, progress(1, 1))
	hub.Broadcast(batchID, NewCompleteEvent(CompleteEvent{BatchID: batchID, Counts: map[string]int{"committed": 1}}))

	var types []EventType
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				if len(types) != 2 || types[1] != EventTypeComplete {
					t.Errorf("expected progress then complete, got %v", types)
				}
				if hub.IsRunning(batchID) {
					t.Error("batch should be stopped after complete")
				}
				return
			}
			types = append(types, event.Type)
		case <-timeout:
			t.Fatalf("channel not closed after complete event; got %v", types)
		}
	}
}

// TestContextCancellationStopsBroadcaster tests that context cancellation stops broadcaster
func TestContextCancellationStopsBroadcaster(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	broadcaster := NewBatchBroadcaster(ctx, zerolog.Nop())
	client := NewClient()
	broadcaster.Register(client)
	broadcaster.Start()

	cancel()
	time.Sleep(50 * time.Millisecond)
	broadcaster.Broadcast(progress(1, 1))

	select {
	case _, ok := <-client.Events:
		if ok {
			t.Error("Client should not receive events after context cancellation")
		}
	case <-time.After(time.Second):
		t.Error("Expected client channel to be closed after cancellation")
	}
	if !broadcaster.Stopped() {
		t.Error("broadcaster should report stopped")
	}
}

// TestEventQueueOverflowDoesNotPanic tests that a full queue drops events without panicking
func TestEventQueueOverflowDoesNotPanic(t *testing.T) {
	broadcaster := NewBatchBroadcaster(context.Background(), zerolog.Nop())
	client := NewClient()
	broadcaster.Register(client)

	// Not started: nothing drains the queue.
	for i := 0; i < broadcasterBuffer+20; i++ {
		broadcaster.Broadcast(progress(i, broadcasterBuffer+20))
	}
	broadcaster.Stop()
	broadcaster.Broadcast(progress(0, 1)) // ignored after stop
	broadcaster.Unregister(client)

	if _, ok := <-client.Events; ok {
		t.Error("client channel should be closed by Stop")
	}
}

// TestBroadcastWithoutSubscribers tests that broadcasting to an unknown batch is a no-op
func TestBroadcastWithoutSubscribers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Broadcast("nobody", progress(1, 10))
	if hub.IsRunning("nobody") {
		t.Error("Broadcaster should not exist for a batch without subscribers")
	}
	hub.Close("nobody")
}

// TestSubscribeAfterStopStartsFresh tests that a finished batch ID can be reused
func TestSubscribeAfterStopStartsFresh(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	first := hub.Subscribe(context.Background(), "batch-7")
	hub.Close("batch-7")
	if _, ok := <-first.Events; ok {
		t.Fatal("Close should close subscriber channels")
	}

	second := hub.Subscribe(context.Background(), "batch-7")
	hub.Broadcast("batch-7", progress(1, 1))
	select {
	case <-second.Events:
	case <-time.After(time.Second):
		t.Fatal("new subscriber did not receive event")
	}
	hub.Unsubscribe("batch-7", second)
}
