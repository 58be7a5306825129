// Package sse implements a Server-Sent Events broker that pushes document
// changes and freshly resolved scenes to HTTP clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/ansuz/internal/models"
)

// Event types.
const (
	TypeDocumentChanged = "document.changed"
	TypeSceneResolved   = "scene.resolved"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ChangeData is the payload of document.changed.
type ChangeData struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// SceneData is the payload of scene.resolved. The scene text is not sent;
// clients fetch it through the resolve endpoint.
type SceneData struct {
	ID         string   `json:"id"`
	Generation uint64   `json:"generation"`
	Roots      []string `json:"roots"`
	Segments   []string `json:"segments"`
	Tokens     int      `json:"tokens"`
	Budget     int      `json:"budget"`
	Truncated  bool     `json:"truncated"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients, scene throttle timestamp and the pending scene). Public methods
// communicate with this loop through channels, so no mutexes are required.
type Broker struct {
	sceneMin time.Duration
	redact   func(string) string

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	sceneCh       chan SceneData
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits at most one scene.resolved event per
// sceneThrottle; a scene arriving inside the window replaces any pending one
// and is sent when the window closes. redact filters every payload.
func NewBroker(sceneThrottle time.Duration, redact func(string) string) *Broker {
	if sceneThrottle <= 0 {
		sceneThrottle = 250 * time.Millisecond
	}
	if redact == nil {
		redact = func(s string) string { return s }
	}

	b := &Broker{
		sceneMin:      sceneThrottle,
		redact:        redact,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		sceneCh:       make(chan SceneData, 16),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		lastScene time.Time
		pending   *SceneData
		flushC    <-chan time.Time
	)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, b.redact(string(payload))))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}
	sendScene := func(s SceneData) {
		lastScene = time.Now()
		broadcast(Event{Type: TypeSceneResolved, Data: s})
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case s := <-b.sceneCh:
			wait := b.sceneMin - time.Since(lastScene)
			if wait <= 0 && pending == nil {
				sendScene(s)
				continue
			}
			pending = &s
			if flushC == nil {
				flushC = time.After(max(wait, 0))
			}

		case <-flushC:
			flushC = nil
			if pending != nil {
				sendScene(*pending)
				pending = nil
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishChange announces a document change.
func (b *Broker) PublishChange(kind, id string) {
	b.Publish(Event{Type: TypeDocumentChanged, Data: ChangeData{Kind: kind, ID: id}})
}

// PublishScene announces a resolved scene, subject to the scene throttle.
func (b *Broker) PublishScene(gen uint64, s *models.Scene) {
	if b.closed.Load() {
		return
	}
	data := SceneData{
		ID:         s.ID,
		Generation: gen,
		Roots:      s.Roots,
		Segments:   s.Labels(),
		Tokens:     s.ExactTokens,
		Budget:     s.Budget,
		Truncated:  s.Truncated,
		Warnings:   s.Warnings,
	}
	select {
	case b.sceneCh <- data:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
