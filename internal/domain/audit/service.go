package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service records and lists audit entries.
type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Record appends one audit entry. The write uses a context detached from
// the caller's cancellation so that a cancelled request never loses its
// audit trail.
func (s *Service) Record(ctx context.Context, actor, action, resource, status string, attemptedWrite bool, evidence map[string]any) error {
	rec := &Record{
		ID:             uuid.New(),
		Actor:          actor,
		Action:         action,
		Resource:       resource,
		Status:         status,
		AttemptedWrite: attemptedWrite,
		Evidence:       evidence,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.Insert(context.WithoutCancel(ctx), rec); err != nil {
		s.log.Error().Err(err).
			Str("actor", actor).
			Str("action", action).
			Str("resource", resource).
			Msg("failed to write audit record")
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Record, int, error) {
	return s.repo.List(ctx, f)
}
