package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe(0)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	b.PublishIndexEvent("index.built", map[string]any{"documents": 3})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.HasPrefix(s, "id: 1\nevent: index.built\n") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"documents":3`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishRecordEvent_CatalogThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	b.PublishRecordEvent("created", "a.json")
	b.PublishRecordEvent("updated", "b.yaml")
	b.PublishRecordEvent("renamed", "ignored.json")

	time.Sleep(50 * time.Millisecond)
	catalogCount := 0
	recordCount := 0
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			switch {
			case strings.Contains(s, "event: catalog.updated"):
				catalogCount++
			case strings.Contains(s, "event: record."):
				recordCount++
			}
		default:
			break loop
		}
	}

	if recordCount != 2 {
		t.Errorf("record events = %d, want 2", recordCount)
	}
	if catalogCount != 1 {
		t.Errorf("catalog events = %d, want 1 (throttled)", catalogCount)
	}
}

func readFrames(t *testing.T, ch chan []byte, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for len(out) < n {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		case <-time.After(time.Second):
			t.Fatalf("timeout after %d of %d frames", len(out), n)
		}
	}
	return out
}

// waitForID blocks until the broker has emitted event id.
func waitForID(t *testing.T, b *Broker, id uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		probe := b.Subscribe(id - 1)
		var got bool
		select {
		case <-probe:
			got = true
		case <-time.After(20 * time.Millisecond):
		}
		b.Unsubscribe(probe)
		if got {
			return
		}
	}
	t.Fatalf("event %d never emitted", id)
}

func TestSubscribeReplaysMissedEvents(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	for _, kind := range []string{"index.built", "index.upserted", "index.upserted"} {
		b.PublishIndexEvent(kind, nil)
	}

	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	frames := readFrames(t, ch, 2)
	if !strings.HasPrefix(frames[0], "id: 2\n") || !strings.HasPrefix(frames[1], "id: 3\n") {
		t.Errorf("frames = %q, want ids 2 and 3", frames)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	for i := 0; i < defaultHistory+10; i++ {
		b.PublishIndexEvent("index.upserted", nil)
	}
	waitForID(t, b, defaultHistory+10)

	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)
	frames := readFrames(t, ch, defaultHistory)
	if !strings.HasPrefix(frames[0], "id: 11\n") {
		t.Errorf("oldest replayed frame = %q, want id 11", frames[0])
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishRecordEvent("updated", "x.json")
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: record.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	if !strings.Contains(body, "event: catalog.updated") {
		t.Errorf("handler output missing catalog event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe(0)
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe(0)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.PublishIndexEvent("index.upserted", nil)
	b.PublishRecordEvent("updated", "x.json")
}

func TestSSEHandler_LastEventID(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	b.PublishIndexEvent("index.built", map[string]int{"documents": 1})
	b.PublishIndexEvent("index.upserted", map[string]int{"documents": 2})
	waitForID(t, b, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	w := httptest.NewRecorder()
	b.ServeHTTP(w, req)

	body := w.Body.String()
	if strings.Contains(body, "index.built") {
		t.Errorf("event 1 should not be replayed: %q", body)
	}
	if !strings.Contains(body, "id: 2\nevent: index.upserted") {
		t.Errorf("event 2 should be replayed: %q", body)
	}
}
