package safeguard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/caresync/caresync/internal/domain/audit"
)

// ErrWriteBlocked is returned for any write attempt against a protected
// mapping resource. The curated table is only modified out-of-band through
// the versioned apply command.
var ErrWriteBlocked = errors.New("write to protected mapping resource blocked")

// AuditSink records guard decisions.
type AuditSink interface {
	Record(ctx context.Context, actor, action, resource, status string, attemptedWrite bool, evidence map[string]any) error
}

// Guard intercepts write attempts against the protected mapping resources.
type Guard struct {
	state     *State
	audit     AuditSink
	log       zerolog.Logger
	protected []string
	threshold int64
	window    time.Duration
	now       func() time.Time
	pauseCh   chan Status
}

func NewGuard(state *State, sink AuditSink, protected []string, threshold int64, window time.Duration, log zerolog.Logger) *Guard {
	normalized := make([]string, 0, len(protected))
	for _, p := range protected {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			normalized = append(normalized, p)
		}
	}
	return &Guard{
		state:     state,
		audit:     sink,
		log:       log,
		protected: normalized,
		threshold: threshold,
		window:    window,
		now:       func() time.Time { return time.Now().UTC() },
		pauseCh:   make(chan Status, 1),
	}
}

// PauseEvents delivers one Status per automatic pause, for an external
// notifier. The send never blocks the guard; an unread event is dropped
// once the buffer holds the latest one.
func (g *Guard) PauseEvents() <-chan Status {
	return g.pauseCh
}

// Protected reports whether the named resource is covered by the guard.
// Matching is case-insensitive on resource-name substrings, so both
// "mapping_entries" and "db/mapping_entries/42" hit the same rule.
func (g *Guard) Protected(resource string) bool {
	r := strings.ToLower(strings.TrimSpace(resource))
	for _, p := range g.protected {
		if strings.Contains(r, p) {
			return true
		}
	}
	return false
}

// CheckWrite enforces the guard for a write attempt by actor against
// resource. Unprotected resources pass. Protected resources are always
// blocked: the attempt is audited, counted, and ErrWriteBlocked returned.
// Crossing the blocked-write threshold pauses the pipeline and emits a
// second audit record for the transition.
func (g *Guard) CheckWrite(ctx context.Context, actor, resource string) error {
	if !g.Protected(resource) {
		return nil
	}

	count, paused := g.state.RecordBlockedWrite(g.threshold, g.window, g.now())

	g.log.Warn().
		Str("actor", actor).
		Str("resource", resource).
		Int64("blocked_writes", count).
		Msg("blocked write to protected mapping resource")

	if err := g.audit.Record(ctx, actor, audit.ActionWriteBlocked, resource, audit.StatusBlocked, true, map[string]any{
		"blocked_writes": count,
	}); err != nil {
		g.log.Error().Err(err).Msg("failed to audit blocked write")
	}

	if paused {
		g.log.Error().
			Int64("blocked_writes", count).
			Msg("pipeline auto-paused after repeated blocked writes")
		select {
		case g.pauseCh <- g.state.Status():
		default:
		}
		if err := g.audit.Record(ctx, "system", audit.ActionAutoPaused, resource, audit.StatusBlocked, false, map[string]any{
			"blocked_writes": count,
			"threshold":      g.threshold,
			"window":         g.window.String(),
		}); err != nil {
			g.log.Error().Err(err).Msg("failed to audit auto-pause")
		}
	}

	return ErrWriteBlocked
}
