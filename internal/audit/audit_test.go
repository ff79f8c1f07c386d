package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MrEthical07/agencyauth/store"
	"github.com/MrEthical07/agencyauth/store/memory"
)

type failingLog struct{}

func (failingLog) Append(context.Context, store.AuditEntry) error {
	return errors.New("db down")
}

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.mu.Lock()
	s.got = append(s.got, e)
	s.mu.Unlock()
}

func TestStoreSinkAppends(t *testing.T) {
	mem := memory.New()
	sink := NewStoreSink(mem, nil)
	sink.Emit(context.Background(), Event{Action: "login_success", Subject: "acct-1", Success: true})

	entries := mem.AuditEntries()
	if len(entries) != 1 || entries[0].Action != "login_success" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestStoreSinkLogsAppendFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	sink := NewStoreSink(failingLog{}, zap.New(core))
	sink.Emit(context.Background(), Event{Action: "logout"})

	if logs.Len() != 1 {
		t.Fatalf("expected one error log, got %d", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["action"]; got != "logout" {
		t.Fatalf("expected action field, got %v", got)
	}
}

func TestMultiSinkAndJSONWriter(t *testing.T) {
	var buf bytes.Buffer
	ch := NewChannelSink(2)
	MultiSink{NewJSONWriterSink(&buf), nil, ch}.Emit(context.Background(), Event{Action: "email_verified", Success: true})

	var decoded store.AuditEntry
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if decoded.Action != "email_verified" || !decoded.Success {
		t.Fatalf("unexpected decoded event %+v", decoded)
	}
	select {
	case e := <-ch.Events():
		if e.Action != "email_verified" {
			t.Fatalf("unexpected channel event %+v", e)
		}
	default:
		t.Fatal("expected channel sink to receive the event")
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatal("expected newline-delimited output")
	}
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	mem := memory.New()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, NewStoreSink(mem, nil))
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Action: "code_resent"})
	}
	d.Close()

	if n := len(mem.AuditEntries()); n != 10 {
		t.Fatalf("expected 10 delivered events, got %d", n)
	}
	d.Emit(context.Background(), Event{Action: "late"})
	if n := len(mem.AuditEntries()); n != 10 {
		t.Fatalf("expected events after close to be discarded, got %d", n)
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true, Logger: zap.New(core)}, sink)

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), Event{Action: "login_failure"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected some events to be dropped")
	}
	if logs.FilterMessage("audit queue full, dropping events").Len() != 1 {
		t.Fatalf("expected one drop warning, got %v", logs.All())
	}
	close(sink.release)
	d.Close()
}

// firstBlocksSink holds the delivery goroutine on its first event and
// records every later one immediately.
type firstBlocksSink struct {
	release chan struct{}
	calls   int32
	mu      sync.Mutex
	got     []string
}

func (s *firstBlocksSink) Emit(_ context.Context, e Event) {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		<-s.release
	}
	s.mu.Lock()
	s.got = append(s.got, e.Action)
	s.mu.Unlock()
}

func (s *firstBlocksSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func TestDispatcherDeliversCriticalEventsWhenFull(t *testing.T) {
	sink := &firstBlocksSink{release: make(chan struct{})}
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
		Critical:   func(e Event) bool { return e.Action == "account_locked_out" },
	}, sink)

	d.Emit(context.Background(), Event{Action: "held"})
	// Wait until the loop has taken the first event so the queue is empty.
	deadline := time.Now().Add(time.Second)
	for {
		sink.mu.Lock()
		started := sink.calls == 1
		sink.mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("delivery goroutine never picked up the first event")
		}
		time.Sleep(time.Millisecond)
	}
	d.Emit(context.Background(), Event{Action: "queued"})

	d.Emit(context.Background(), Event{Action: "login_failure"})
	d.Emit(context.Background(), Event{Action: "account_locked_out"})

	if got := sink.actions(); len(got) != 1 || got[0] != "account_locked_out" {
		t.Fatalf("expected the lockout to be delivered inline, got %v", got)
	}
	if d.Dropped() != 1 || d.DeliveredInline() != 1 {
		t.Fatalf("dropped=%d inline=%d", d.Dropped(), d.DeliveredInline())
	}

	close(sink.release)
	d.Close()
	if got := sink.actions(); len(got) != 3 {
		t.Fatalf("expected held and queued after drain, got %v", got)
	}
}

type panickySink struct {
	mu  sync.Mutex
	got []string
}

func (s *panickySink) Emit(_ context.Context, e Event) {
	if e.Action == "boom" {
		panic("sink bug")
	}
	s.mu.Lock()
	s.got = append(s.got, e.Action)
	s.mu.Unlock()
}

func TestDispatcherSurvivesSinkPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	sink := &panickySink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, Logger: zap.New(core)}, sink)

	d.Emit(context.Background(), Event{Action: "boom"})
	d.Emit(context.Background(), Event{Action: "logout"})
	d.Close()

	if len(sink.got) != 1 || sink.got[0] != "logout" {
		t.Fatalf("expected delivery to continue after a panic, got %v", sink.got)
	}
	if d.SinkPanics() != 1 || logs.FilterMessage("audit sink panicked").Len() != 1 {
		t.Fatalf("panics=%d logs=%v", d.SinkPanics(), logs.All())
	}
}

func TestDispatcherBlockingRespectsContext(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.release)
		d.Close()
	}()

	d.Emit(context.Background(), Event{Action: "a"})
	d.Emit(context.Background(), Event{Action: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	d.Emit(ctx, Event{Action: "c"})
	if time.Since(start) > time.Second {
		t.Fatal("expected Emit to return when the context ends")
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("expected zero drops on nil dispatcher")
	}
}
