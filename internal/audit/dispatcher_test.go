package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type collectSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (s *collectSink) Emit(_ context.Context, event Event) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(DispatcherConfig{BufferSize: 8}, sink)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d.Emit(ctx, Event{EventType: "mfa.challenge"})
	}
	d.Close()

	if got := sink.count(); got != 5 {
		t.Fatalf("expected 5 delivered events, got %d", got)
	}
}

func TestDispatcherEmitAfterCloseIsNoOp(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(DispatcherConfig{BufferSize: 1}, sink)
	d.Close()

	d.Emit(context.Background(), Event{EventType: "mfa.challenge"})
	if got := sink.count(); got != 0 {
		t.Fatalf("expected no delivery after close, got %d", got)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &collectSink{block: make(chan struct{})}
	d := NewDispatcher(DispatcherConfig{BufferSize: 1, DropIfFull: true}, sink)

	ctx := context.Background()
	// One event occupies the worker, one fills the buffer, the rest drop.
	for i := 0; i < 10; i++ {
		d.Emit(ctx, Event{EventType: "mfa.challenge"})
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events")
	}

	close(sink.block)
	d.Close()
}

func TestJSONWriterSinkOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{ID: "1", EventType: "device.trusted", Success: true})
	sink.Emit(context.Background(), Event{ID: "2", EventType: "device.revoked"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var decoded Event
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if decoded.ID != "1" || decoded.EventType != "device.trusted" || !decoded.Success {
		t.Fatalf("unexpected decoded event: %+v", decoded)
	}
}

func TestChannelSinkDropsOnCancelledContext(t *testing.T) {
	sink := NewChannelSink(1)
	sink.Emit(context.Background(), Event{ID: "1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Buffer full and context cancelled: must return, not block.
	sink.Emit(ctx, Event{ID: "2"})

	if got := (<-sink.Events()).ID; got != "1" {
		t.Fatalf("expected first event, got %q", got)
	}
}
