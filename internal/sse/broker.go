// Package sse streams index and record file events to HTTP clients as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	defaultHistory   = 64
	defaultKeepAlive = 15 * time.Second
	clientBuffer     = 64
)

// Event is one broadcast message. ID is assigned by the broker.
type Event struct {
	ID   uint64 `json:"id"`
	Type string `json:"type"`
	Data any    `json:"data"`
}

type frame struct {
	id  uint64
	raw []byte
}

type subscription struct {
	ch     chan []byte
	lastID uint64
}

type recordEvent struct {
	kind string
	path string
}

// Broker fans events out to subscribers.
//
// One goroutine owns the subscriber set, the event counter, the replay
// history and the catalog throttle; every public method is a message to it.
// The last events are kept so that a client reconnecting with Last-Event-ID
// receives what it missed.
type Broker struct {
	catalogMin time.Duration
	keepAlive  time.Duration
	historyLen int

	subCh    chan subscription
	unsubCh  chan chan []byte
	eventCh  chan Event
	recordCh chan recordEvent
	countCh  chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. catalogThrottle bounds how often a
// catalog.updated event follows record events.
func NewBroker(catalogThrottle time.Duration) *Broker {
	if catalogThrottle <= 0 {
		catalogThrottle = 2 * time.Second
	}

	b := &Broker{
		catalogMin: catalogThrottle,
		keepAlive:  defaultKeepAlive,
		historyLen: defaultHistory,
		subCh:      make(chan subscription),
		unsubCh:    make(chan chan []byte),
		eventCh:    make(chan Event, 256),
		recordCh:   make(chan recordEvent, 256),
		countCh:    make(chan chan int),
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}

	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.stopped)

	var (
		clients     = make(map[chan []byte]struct{})
		history     = make([]frame, 0, b.historyLen)
		nextID      uint64
		lastCatalog time.Time
	)

	emit := func(typ string, data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		nextID++
		f := frame{id: nextID, raw: encodeFrame(nextID, typ, payload)}
		if len(history) == b.historyLen {
			copy(history, history[1:])
			history = history[:len(history)-1]
		}
		history = append(history, f)

		for ch := range clients {
			select {
			case ch <- f.raw:
			default:
				// Full buffer: the client will catch up via Last-Event-ID.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subCh:
			if sub.lastID > 0 {
				for _, f := range history {
					if f.id <= sub.lastID {
						continue
					}
					select {
					case sub.ch <- f.raw:
					default:
					}
				}
			}
			clients[sub.ch] = struct{}{}

		case ch := <-b.unsubCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case ev := <-b.eventCh:
			emit(ev.Type, ev.Data)

		case rec := <-b.recordCh:
			switch rec.kind {
			case "created", "updated", "deleted":
			default:
				continue
			}
			emit("record."+rec.kind, map[string]string{"path": rec.path})
			if now := time.Now(); now.Sub(lastCatalog) >= b.catalogMin {
				lastCatalog = now
				emit("catalog.updated", map[string]string{})
			}

		case resp := <-b.countCh:
			resp <- len(clients)
		}
	}
}

func encodeFrame(id uint64, typ string, payload []byte) []byte {
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", id, typ, payload))
}

// Close stops the loop and closes every subscriber channel. It is safe to
// call more than once.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. Events newer than lastID still held in the
// history are queued first; lastID 0 means live events only.
func (b *Broker) Subscribe(lastID uint64) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subCh <- subscription{ch: ch, lastID: lastID}:
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
	case b.unsubCh <- ch:
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
	case b.countCh <- resp:
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

// Publish broadcasts an event. Any ID set by the caller is replaced.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.eventCh <- event:
	case <-b.stopped:
	}
}

// PublishIndexEvent broadcasts an index lifecycle event such as
// "index.built" or "index.upserted".
func (b *Broker) PublishIndexEvent(kind string, data any) {
	b.Publish(Event{Type: kind, Data: data})
}

// PublishRecordEvent broadcasts record.<kind> for a record file change,
// followed by a throttled catalog.updated. Unknown kinds are ignored.
func (b *Broker) PublishRecordEvent(kind, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.recordCh <- recordEvent{kind: kind, path: path}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). It honours the
// Last-Event-ID header and sends a comment line every keep-alive interval.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(lastID)
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
