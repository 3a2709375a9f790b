package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type gateSink struct {
	gate chan struct{}
	mu   sync.Mutex
	seen []Event
}

func (s *gateSink) Emit(_ context.Context, e Event) {
	<-s.gate
	s.mu.Lock()
	s.seen = append(s.seen, e)
	s.mu.Unlock()
}

func TestDispatcherDisabledReturnsNil(t *testing.T) {
	if d := NewDispatcher(Config{Enabled: false}, NoOpSink{}); d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	var d *Dispatcher
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "login_failure"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink and buffer of one")
	}
	close(sink.gate)
	d.Close()
}

func TestDispatcherFlushesOnClose(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	close(sink.gate)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "refresh_success"})
	}
	d.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.seen) != 5 {
		t.Fatalf("expected 5 delivered events, got %d", len(sink.seen))
	}
}

type requestKey struct{}

type ctxSink struct {
	got chan context.Context
}

func (s ctxSink) Emit(ctx context.Context, _ Event) { s.got <- ctx }

func TestDispatcherPassesRequestContextWithoutCancellation(t *testing.T) {
	sink := ctxSink{got: make(chan context.Context, 1)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), requestKey{}, "req-9"))
	d.Emit(ctx, Event{EventType: "logout"})
	cancel()

	select {
	case got := <-sink.got:
		if got.Value(requestKey{}) != "req-9" {
			t.Fatal("request values must reach the sink")
		}
		if got.Err() != nil {
			t.Fatalf("sink context must not inherit cancellation, got %v", got.Err())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestDispatcherReportsEveryDrop(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	var mu sync.Mutex
	var dropped []string
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
		OnDrop: func(e Event) {
			mu.Lock()
			dropped = append(dropped, e.EventType)
			mu.Unlock()
		},
	}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "otp_failure"})
	}
	close(sink.gate)
	d.Close()
	d.Emit(context.Background(), Event{EventType: "after_close"})

	mu.Lock()
	defer mu.Unlock()
	if uint64(len(dropped)) != d.Dropped() || len(dropped) == 0 {
		t.Fatalf("hook saw %d drops, dispatcher counted %d", len(dropped), d.Dropped())
	}
	if dropped[len(dropped)-1] != "after_close" {
		t.Fatalf("events emitted after Close must count as dropped: %v", dropped)
	}
	sink.mu.Lock()
	delivered := len(sink.seen)
	sink.mu.Unlock()
	if delivered+len(dropped) != 11 {
		t.Fatalf("delivered %d + dropped %d != 11", delivered, len(dropped))
	}
}

func TestDispatcherBlockingEmitGivesUpWithContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)

	// One event is held by the blocked sink, one fills the buffer.
	d.Emit(context.Background(), Event{EventType: "a"})
	d.Emit(context.Background(), Event{EventType: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d.Emit(ctx, Event{EventType: "c"})

	close(sink.gate)
	d.Close()
	if d.Dropped() != 1 {
		t.Fatalf("expected one drop, got %d", d.Dropped())
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	NewJSONWriterSink(&buf).Emit(context.Background(), Event{
		Timestamp: time.Unix(0, 0).UTC(),
		EventType: "role_switch",
		AccountID: "acc-1",
		Role:      "driver",
		Success:   true,
	})

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["account_id"] != "acc-1" || got["role"] != "driver" {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), Event{EventType: "login_success", Success: true, AccountID: "a"})
	sink.Emit(context.Background(), Event{EventType: "login_failure", Error: "invalid_credentials", Provider: "google"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("unexpected levels: %v %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["provider"] != "google" {
		t.Fatalf("missing provider field: %v", entries[1].ContextMap())
	}
	if entries[1].ContextMap()["error"] != "invalid_credentials" {
		t.Fatalf("missing error field: %v", entries[1].ContextMap())
	}
}
