package feedback

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	InsertRecord(ctx context.Context, rec *Record) error
	StatsByCode(ctx context.Context, icdCode string) (CodeStats, error)
	Summaries(ctx context.Context) ([]Summary, error)

	InsertProposal(ctx context.Context, p *Proposal) error
	GetProposal(ctx context.Context, id uuid.UUID) (*Proposal, error)
	ListProposals(ctx context.Context, status string) ([]*Proposal, error)
	// Decide transitions a pending proposal. Returns ErrConflict when
	// the proposal was already decided.
	Decide(ctx context.Context, id uuid.UUID, status, decidedBy string) error
}
