package safeguard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordedEvent struct {
	actor          string
	action         string
	resource       string
	status         string
	attemptedWrite bool
}

type mockSink struct {
	events []recordedEvent
}

func (m *mockSink) Record(ctx context.Context, actor, action, resource, status string, attemptedWrite bool, evidence map[string]any) error {
	m.events = append(m.events, recordedEvent{actor, action, resource, status, attemptedWrite})
	return nil
}

func newTestGuard(sink *mockSink, threshold int64) (*Guard, *State) {
	state := NewState()
	g := NewGuard(state, sink, []string{"mapping_entries", "mapping_current"}, threshold, time.Hour, zerolog.Nop())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	g.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return g, state
}

func TestCheckWrite_UnprotectedPasses(t *testing.T) {
	sink := &mockSink{}
	g, _ := newTestGuard(sink, 3)

	if err := g.CheckWrite(context.Background(), "svc", "feedback_records"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.events) != 0 {
		t.Errorf("unprotected write should not be audited, got %d events", len(sink.events))
	}
}

func TestCheckWrite_ProtectedBlockedAndAudited(t *testing.T) {
	sink := &mockSink{}
	g, state := newTestGuard(sink, 3)

	err := g.CheckWrite(context.Background(), "rogue", "db/mapping_entries/42")
	if !errors.Is(err, ErrWriteBlocked) {
		t.Fatalf("expected ErrWriteBlocked, got %v", err)
	}
	if state.Mode() != ModeActive {
		t.Errorf("single blocked write should not pause, mode=%s", state.Mode())
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(sink.events))
	}
	ev := sink.events[0]
	if ev.status != "blocked" || !ev.attemptedWrite || ev.actor != "rogue" {
		t.Errorf("unexpected audit event: %+v", ev)
	}
}

func TestCheckWrite_RepeatedWritesPauseOnce(t *testing.T) {
	sink := &mockSink{}
	g, state := newTestGuard(sink, 3)
	ctx := context.Background()

	// Four blocked writes against a threshold of three: the pipeline
	// pauses on the third and stays paused.
	for i := 0; i < 4; i++ {
		if err := g.CheckWrite(ctx, "rogue", "mapping_current"); !errors.Is(err, ErrWriteBlocked) {
			t.Fatalf("write %d: expected ErrWriteBlocked, got %v", i+1, err)
		}
	}

	if state.Mode() != ModePaused {
		t.Fatalf("expected paused, got %s", state.Mode())
	}
	if got := state.BlockedWrites(); got != 4 {
		t.Errorf("counter must tally every blocked attempt, got %d", got)
	}

	var blocked, autoPaused int
	for _, ev := range sink.events {
		switch ev.action {
		case "mapping_write_blocked":
			blocked++
		case "auto_paused":
			autoPaused++
		}
	}
	if blocked != 4 {
		t.Errorf("expected 4 blocked-write audit events, got %d", blocked)
	}
	if autoPaused != 1 {
		t.Errorf("auto-pause must be audited exactly once, got %d", autoPaused)
	}

	select {
	case status := <-g.PauseEvents():
		if status.Mode != ModePaused || status.BlockedWrites != 3 {
			t.Errorf("unexpected pause event: %+v", status)
		}
	default:
		t.Error("expected a pause event")
	}
	select {
	case <-g.PauseEvents():
		t.Error("pause event must be delivered exactly once")
	default:
	}
}

func TestProtected_Matching(t *testing.T) {
	sink := &mockSink{}
	g, _ := newTestGuard(sink, 3)

	tests := []struct {
		resource string
		want     bool
	}{
		{"mapping_entries", true},
		{"MAPPING_ENTRIES", true},
		{"db/mapping_current/v3", true},
		{"  mapping_entries  ", true},
		{"review_tasks", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := g.Protected(tt.resource); got != tt.want {
			t.Errorf("Protected(%q) = %v, want %v", tt.resource, got, tt.want)
		}
	}
}
