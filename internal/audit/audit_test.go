package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goSession/internal/db/dbtest"
)

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{}, zerolog.Nop())
	if d != nil {
		t.Fatal("disabled dispatcher should be nil")
	}
	d.Emit(context.Background(), Event{EventType: EventLogout})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherDeliversInOrderAndNormalizes(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink, zerolog.Nop())

	d.Emit(context.Background(), Event{EventType: EventLogout, Identity: "u1"})
	d.Emit(context.Background(), Event{EventType: EventLogoutAll, Identity: "u1"})
	d.Close()

	first := <-sink.Events()
	second := <-sink.Events()
	if first.EventType != EventLogout || second.EventType != EventLogoutAll {
		t.Fatalf("unexpected order: %s, %s", first.EventType, second.EventType)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Fatalf("events need distinct ids: %q %q", first.ID, second.ID)
	}
	if first.Timestamp.IsZero() {
		t.Fatal("timestamp should be filled")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, zerolog.Nop())

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: EventCSRFRejected})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events with a blocked sink")
	}

	close(sink.gate)
	d.Close()
}

type panicSink struct {
	next Sink
}

func (s panicSink) Emit(ctx context.Context, event Event) {
	if event.EventType == EventSessionExpired {
		panic("sink bug")
	}
	s.next.Emit(ctx, event)
}

func TestDispatcherSurvivesSinkPanic(t *testing.T) {
	sink := NewChannelSink(2)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, panicSink{next: sink}, zerolog.Nop())

	d.Emit(context.Background(), Event{EventType: EventSessionExpired})
	d.Emit(context.Background(), Event{EventType: EventLogout})
	d.Close()

	if ev := <-sink.Events(); ev.EventType != EventLogout {
		t.Fatalf("event after a panic was not delivered: %s", ev.EventType)
	}
	if d.Delivered() != 1 {
		t.Fatalf("delivered = %d, want 1", d.Delivered())
	}
}

func TestDispatcherBlockingEmitHonoursContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink, zerolog.Nop())

	// One event occupies the sink, one fills the buffer.
	d.Emit(context.Background(), Event{EventType: EventLogout})
	d.Emit(context.Background(), Event{EventType: EventLogout})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	d.Emit(ctx, Event{EventType: EventLogoutAll})
	if d.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", d.Dropped())
	}

	close(sink.gate)
	d.Close()
	if d.Delivered() != 2 {
		t.Fatalf("delivered = %d, want 2", d.Delivered())
	}
}

func TestDispatcherEmitAfterCloseIsNoop(t *testing.T) {
	sink := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink, zerolog.Nop())
	d.Close()
	d.Close()

	d.Emit(context.Background(), Event{EventType: EventLogout})
	select {
	case ev := <-sink.Events():
		t.Fatalf("unexpected event after close: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{ID: "a", EventType: EventLoginFailure, Identity: "u1", Reason: "invalid_credentials"})
	sink.Emit(context.Background(), Event{ID: "b", EventType: EventLoginSuccess, Identity: "u1", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Reason != "invalid_credentials" {
		t.Fatalf("reason = %q", ev.Reason)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := NewChannelSink(1), NewChannelSink(1)
	MultiSink{a, nil, b}.Emit(context.Background(), Event{EventType: EventLogout})

	if (<-a.Events()).EventType != EventLogout || (<-b.Events()).EventType != EventLogout {
		t.Fatal("both sinks should receive the event")
	}
}

func TestSkipFiltersEventTypes(t *testing.T) {
	ch := NewChannelSink(2)
	s := Skip(ch, EventLoginSuccess, EventLoginFailure)

	s.Emit(context.Background(), Event{EventType: EventLoginFailure})
	s.Emit(context.Background(), Event{EventType: EventLogout})

	if got := len(ch.Events()); got != 1 {
		t.Fatalf("expected 1 forwarded event, got %d", got)
	}
	if (<-ch.Events()).EventType != EventLogout {
		t.Fatal("only the logout event should pass")
	}
}

func TestSQLSinkRecordAndRecent(t *testing.T) {
	conn := dbtest.Open(t)
	sink := NewSQLSink(conn)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	events := []Event{
		{Timestamp: base, EventType: EventLoginFailure, Identity: "u1", TenantID: "t1", Reason: "invalid_credentials", IP: "10.0.0.1"},
		{Timestamp: base.Add(time.Second), EventType: EventLoginSuccess, Identity: "u1", TenantID: "t1", Success: true, SessionID: "sid"},
		{Timestamp: base, EventType: EventLoginFailure, Identity: "u2", TenantID: "t1"},
	}
	for _, ev := range events {
		if err := sink.Record(ctx, ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	rows, err := sink.Recent(ctx, "t1", "u1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].EventType != EventLoginSuccess || !rows[0].Success {
		t.Fatalf("newest row should be the success: %+v", rows[0])
	}
	if rows[1].Reason != "invalid_credentials" || rows[1].IP != "10.0.0.1" || rows[1].Success {
		t.Fatalf("unexpected failure row: %+v", rows[1])
	}
	if rows[1].OccurredAt != base.UnixMilli() {
		t.Fatalf("occurred_at = %d", rows[1].OccurredAt)
	}
}

func TestSQLSinkReportsFailure(t *testing.T) {
	conn := dbtest.Open(t)
	sink := NewSQLSink(conn)
	_ = conn.Close()

	if err := sink.Record(context.Background(), Event{EventType: EventLoginFailure}); err == nil {
		t.Fatal("expected error on closed database")
	}
}
