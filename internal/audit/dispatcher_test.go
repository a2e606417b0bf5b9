package audit

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/tenantauth/internal/logging"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) { s.count.Add(1) }

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink { return &gateSink{gate: make(chan struct{})} }

func (s *gateSink) Emit(context.Context, Event) { <-s.gate }

type recordingSink struct {
	mu           sync.Mutex
	correlations []string
}

func (s *recordingSink) Emit(ctx context.Context, event Event) {
	if event.EventType == "boom" {
		panic("sink failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.correlations = append(s.correlations, logging.CorrelationIDFromContext(ctx))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "e"})
	}
	d.Close()
	if sink.count.Load() != 10 || d.Delivered() != 10 {
		t.Fatalf("expected 10 delivered, got sink=%d delivered=%d", sink.count.Load(), d.Delivered())
	}
}

func TestDispatcherCarriesCorrelationAndSurvivesPanics(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	d.Emit(context.Background(), Event{EventType: "login_success", CorrelationID: "req-1"})
	d.Emit(context.Background(), Event{EventType: "boom"})
	d.Emit(context.Background(), Event{EventType: "logout"})
	d.Close()

	if d.Panicked() != 1 || d.Delivered() != 2 {
		t.Fatalf("expected 1 panic and 2 deliveries, got %d and %d", d.Panicked(), d.Delivered())
	}
	if len(sink.correlations) != 2 || sink.correlations[0] != "req-1" || sink.correlations[1] != "" {
		t.Fatalf("unexpected correlations %q", sink.correlations)
	}
}

func TestDropIfFullDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	start := time.Now()
	d.Emit(context.Background(), Event{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestBlockingEmitWaitsForSpace(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		d.Emit(context.Background(), Event{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, DropIfFull: true}, &countingSink{})
	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Close()
	d.Close()
	d.Emit(context.Background(), Event{EventType: "e2"})
}

func TestJSONWriterSink(t *testing.T) {
	var buf syncBuffer
	NewJSONWriterSink(&buf).Emit(context.Background(), Event{
		EventType:   "login.success",
		PrincipalID: "p1",
		TenantID:    "t1",
		Success:     true,
	})
	out := buf.String()
	for _, want := range []string{`"event_type":"login.success"`, `"principal_id":"p1"`, "\n"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestSlogSinkAndMultiSink(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	counter := &countingSink{}

	MultiSink{NewSlogSink(logger), nil, counter}.Emit(context.Background(), Event{
		EventType: "login.failure",
		Error:     "invalid_credentials",
		Metadata:  map[string]string{"reason": "password"},
	})

	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, `"reason":"password"`) {
		t.Fatalf("unexpected slog output %q", out)
	}
	if counter.count.Load() != 1 {
		t.Fatal("expected fan-out to reach every sink")
	}
}
