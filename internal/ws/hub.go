package ws

import (
	"context"
	"encoding/json"
	"sync"
)

const (
	EventAggregateUpdated = "aggregate.updated"
	EventInvoiceCreated   = "invoice.created"
	EventReturnCreated    = "return.created"
	EventBarcodeResolved  = "barcode.resolved"
	EventCustomerResults  = "customers.results"
)

type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type cashierEvent struct {
	CashierID string
	Event     Event
}

// Hub fans events out to the websocket clients of each cashier.
type Hub struct {
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *cashierEvent
	done       chan struct{}

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *cashierEvent, 256),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.cashierID] == nil {
				h.rooms[client.cashierID] = make(map[*Client]bool)
			}
			h.rooms[client.cashierID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case event := <-h.broadcast:
			message, err := json.Marshal(event.Event)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for client := range h.rooms[event.CashierID] {
				select {
				case client.send <- message:
				default:
					// Slow consumer.
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish marshals payload and queues it for the cashier's room. It drops
// the event when the queue is full rather than block the caller.
func (h *Hub) Publish(cashierID string, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- &cashierEvent{CashierID: cashierID, Event: Event{Type: eventType, Payload: raw}}:
	default:
	}
	return nil
}

func (h *Hub) ClientCount(cashierID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[cashierID])
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.rooms[client.cashierID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.rooms, client.cashierID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cashierID, clients := range h.rooms {
		for client := range clients {
			close(client.send)
		}
		delete(h.rooms, cashierID)
	}
}
