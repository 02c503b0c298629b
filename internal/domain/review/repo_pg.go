package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caresync/caresync/internal/domain/mapping"
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

func (r *RepoPG) Insert(ctx context.Context, task *Task) error {
	candidates, err := json.Marshal(task.Candidates)
	if err != nil {
		return fmt.Errorf("marshal candidates: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx,
		`INSERT INTO review_tasks (id, query_term, candidates, top_confidence, priority, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		task.ID, task.QueryTerm, candidates, task.TopConfidence, task.Priority, task.Status, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert review task: %w", err)
	}
	return nil
}

const taskColumns = `id, query_term, candidates, top_confidence, priority, status,
	created_at, resolved_at, COALESCE(resolved_by, ''), COALESCE(chosen_code, ''), COALESCE(note, '')`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var candidates []byte
	if err := row.Scan(&t.ID, &t.QueryTerm, &candidates, &t.TopConfidence, &t.Priority,
		&t.Status, &t.CreatedAt, &t.ResolvedAt, &t.ResolvedBy, &t.ChosenCode, &t.Note); err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		if err := json.Unmarshal(candidates, &t.Candidates); err != nil {
			return nil, fmt.Errorf("unmarshal candidates: %w", err)
		}
	}
	if t.Candidates == nil {
		t.Candidates = []mapping.Candidate{}
	}
	return &t, nil
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	t, err := scanTask(r.conn(ctx).QueryRow(ctx,
		`SELECT `+taskColumns+` FROM review_tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get review task: %w", err)
	}
	return t, nil
}

func (r *RepoPG) List(ctx context.Context, f Filter) ([]*Task, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, f.Status)
		idx++
	}
	if f.Priority != "" {
		where = append(where, fmt.Sprintf("priority = $%d", idx))
		args = append(args, f.Priority)
		idx++
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM review_tasks %s", clause), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count review tasks: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(
		`SELECT `+taskColumns+` FROM review_tasks %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		clause, idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list review tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

// MarkResolved is an optimistic transition: the WHERE clause only matches
// open tasks, so a second resolver sees zero rows and gets ErrConflict.
func (r *RepoPG) MarkResolved(ctx context.Context, id uuid.UUID, resolvedBy, chosenCode, note string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE review_tasks
		 SET status = $1, resolved_at = $2, resolved_by = $3, chosen_code = $4, note = $5
		 WHERE id = $6 AND status = $7`,
		StatusResolved, time.Now().UTC(), resolvedBy, chosenCode, note, id, StatusOpen)
	if err != nil {
		return fmt.Errorf("resolve review task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM review_tasks WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("resolve review task: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}
