package mapping

import (
	"context"
	"errors"
	"fmt"

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

const versionColumns = "id, number, applied_by, source_note, entry_count, created_at"

func scanVersion(row pgx.Row) (Version, error) {
	var v Version
	err := row.Scan(&v.ID, &v.Number, &v.AppliedBy, &v.SourceNote, &v.EntryCount, &v.CreatedAt)
	return v, err
}

func (r *RepoPG) CurrentVersion(ctx context.Context) (Version, error) {
	v, err := scanVersion(r.conn(ctx).QueryRow(ctx,
		`SELECT v.id, v.number, v.applied_by, v.source_note, v.entry_count, v.created_at
		 FROM mapping_versions v
		 JOIN mapping_current c ON c.version_id = v.id`))
	if errors.Is(err, pgx.ErrNoRows) {
		return Version{}, ErrVersionNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("get current mapping version: %w", err)
	}
	return v, nil
}

func (r *RepoPG) VersionByNumber(ctx context.Context, number int) (Version, error) {
	v, err := scanVersion(r.conn(ctx).QueryRow(ctx,
		`SELECT `+versionColumns+` FROM mapping_versions WHERE number = $1`, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return Version{}, ErrVersionNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("get mapping version %d: %w", number, err)
	}
	return v, nil
}

func (r *RepoPG) ListVersions(ctx context.Context) ([]Version, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+versionColumns+` FROM mapping_versions ORDER BY number DESC`)
	if err != nil {
		return nil, fmt.Errorf("list mapping versions: %w", err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (r *RepoPG) Entries(ctx context.Context, versionID uuid.UUID) ([]Entry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, version_id, term, normalized_term, icd_code, icd_title, system, created_at
		 FROM mapping_entries WHERE version_id = $1 ORDER BY normalized_term`, versionID)
	if err != nil {
		return nil, fmt.Errorf("load mapping entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.VersionID, &e.Term, &e.NormalizedTerm,
			&e.ICDCode, &e.ICDTitle, &e.System, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *RepoPG) CreateVersion(ctx context.Context, v *Version) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO mapping_versions (`+versionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.Number, v.AppliedBy, v.SourceNote, v.EntryCount, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("create mapping version: %w", err)
	}
	return nil
}

func (r *RepoPG) InsertEntries(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		_, err := r.conn(ctx).Exec(ctx,
			`INSERT INTO mapping_entries (id, version_id, term, normalized_term, icd_code, icd_title, system, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.VersionID, e.Term, e.NormalizedTerm, e.ICDCode, e.ICDTitle, e.System, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert mapping entry %s: %w", e.Term, err)
		}
	}
	return nil
}

// SetCurrent repoints the singleton current marker. Callers run this inside
// the same transaction as CreateVersion and InsertEntries so the swap is
// all-or-nothing.
func (r *RepoPG) SetCurrent(ctx context.Context, versionID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO mapping_current (singleton, version_id) VALUES (TRUE, $1)
		 ON CONFLICT (singleton) DO UPDATE SET version_id = EXCLUDED.version_id`,
		versionID)
	if err != nil {
		return fmt.Errorf("set current mapping version: %w", err)
	}
	return nil
}

func (r *RepoPG) NextVersionNumber(ctx context.Context) (int, error) {
	var next int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(number), 0) + 1 FROM mapping_versions`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next mapping version number: %w", err)
	}
	return next, nil
}
