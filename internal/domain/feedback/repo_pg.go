package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caresync/caresync/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *RepoPG) InsertRecord(ctx context.Context, rec *Record) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO feedback_records (id, term, suggested_icd, clinician_icd, encounter_ref, confidence, accepted, source, submitted_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Term, rec.SuggestedICD, rec.ClinicianICD, rec.EncounterRef,
		rec.Confidence, rec.Accepted, rec.Source, rec.SubmittedBy, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert feedback record: %w", err)
	}
	return nil
}

func (r *RepoPG) StatsByCode(ctx context.Context, icdCode string) (CodeStats, error) {
	var s CodeStats
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT suggested_icd,
			COUNT(*) FILTER (WHERE accepted) AS accepted,
			COUNT(*) AS total
		 FROM feedback_records WHERE suggested_icd = $1 GROUP BY suggested_icd`, icdCode).
		Scan(&s.ICDCode, &s.Accepted, &s.Total)
	if errors.Is(err, pgx.ErrNoRows) {
		return CodeStats{ICDCode: icdCode}, nil
	}
	if err != nil {
		return CodeStats{}, fmt.Errorf("feedback stats for %s: %w", icdCode, err)
	}
	if s.Total > 0 {
		s.AcceptanceRate = float64(s.Accepted) / float64(s.Total)
	}
	return s, nil
}

func (r *RepoPG) Summaries(ctx context.Context) ([]Summary, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT term, clinician_icd, COUNT(*) AS count, AVG(confidence) AS avg_confidence
		 FROM feedback_records WHERE clinician_icd <> ''
		 GROUP BY term, clinician_icd ORDER BY count DESC`)
	if err != nil {
		return nil, fmt.Errorf("feedback summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.Term, &s.ClinicianICD, &s.Count, &s.AvgConfidence); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *RepoPG) InsertProposal(ctx context.Context, p *Proposal) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO mapping_proposals (id, term, icd_code, icd_title, justification, status, proposed_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Term, p.ICDCode, p.ICDTitle, p.Justification, p.Status, p.ProposedBy, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert mapping proposal: %w", err)
	}
	return nil
}

const proposalColumns = `id, term, icd_code, icd_title, justification, status,
	proposed_by, COALESCE(decided_by, ''), decided_at, created_at`

func scanProposal(row pgx.Row) (*Proposal, error) {
	var p Proposal
	err := row.Scan(&p.ID, &p.Term, &p.ICDCode, &p.ICDTitle, &p.Justification,
		&p.Status, &p.ProposedBy, &p.DecidedBy, &p.DecidedAt, &p.CreatedAt)
	return &p, err
}

func (r *RepoPG) GetProposal(ctx context.Context, id uuid.UUID) (*Proposal, error) {
	p, err := scanProposal(r.conn(ctx).QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM mapping_proposals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping proposal: %w", err)
	}
	return p, nil
}

func (r *RepoPG) ListProposals(ctx context.Context, status string) ([]*Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM mapping_proposals`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mapping proposals: %w", err)
	}
	defer rows.Close()

	var out []*Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Decide is the same optimistic transition as review tasks: only pending
// proposals match, so double decisions surface as ErrConflict.
func (r *RepoPG) Decide(ctx context.Context, id uuid.UUID, status, decidedBy string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE mapping_proposals SET status = $1, decided_by = $2, decided_at = $3
		 WHERE id = $4 AND status = $5`,
		status, decidedBy, time.Now().UTC(), id, StatusPending)
	if err != nil {
		return fmt.Errorf("decide mapping proposal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM mapping_proposals WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("decide mapping proposal: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}
