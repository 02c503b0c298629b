package review

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Insert(ctx context.Context, task *Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*Task, error)
	List(ctx context.Context, f Filter) ([]*Task, int, error)
	// MarkResolved transitions an open task to resolved. Returns
	// ErrConflict when the task is no longer open, so concurrent
	// reviewers cannot both win.
	MarkResolved(ctx context.Context, id uuid.UUID, resolvedBy, chosenCode, note string) error
}
