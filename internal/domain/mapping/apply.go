package mapping

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caresync/caresync/internal/domain/audit"
)

// EntryInput is one curated row to include in a new mapping version.
type EntryInput struct {
	Term     string
	ICDCode  string
	ICDTitle string
	System   string
}

// TxRunner executes fn inside one database transaction.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Applier creates and activates mapping versions. It is the single writer
// to the mapping table and runs only from the operator CLI, never from the
// HTTP surface. Every apply produces a new immutable version; the previous
// ones stay untouched for rollback.
type Applier struct {
	repo  Repository
	runTx TxRunner
	audit AuditSink
	log   zerolog.Logger
}

func NewApplier(repo Repository, runTx TxRunner, sink AuditSink, log zerolog.Logger) *Applier {
	return &Applier{repo: repo, runTx: runTx, audit: sink, log: log}
}

// ReadCSV parses curated rows from a CSV file with a
// term,icd_code,icd_title,system header.
func ReadCSV(path string) ([]EntryInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mapping csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read mapping csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"term", "icd_code"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("mapping csv: missing %s column", required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var rows []EntryInput
	line := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read mapping csv: %w", err)
		}
		line++
		in := EntryInput{
			Term:     field(row, "term"),
			ICDCode:  field(row, "icd_code"),
			ICDTitle: field(row, "icd_title"),
			System:   field(row, "system"),
		}
		if in.Term == "" || in.ICDCode == "" {
			return nil, fmt.Errorf("mapping csv line %d: term and icd_code are required", line)
		}
		rows = append(rows, in)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("mapping csv %s: no rows", path)
	}
	return rows, nil
}

// Apply creates a new version from rows and makes it current, all in one
// transaction. With extendCurrent, the current version's entries carry
// over and rows override them per normalized term.
func (a *Applier) Apply(ctx context.Context, actor, note string, rows []EntryInput, extendCurrent bool) (Version, error) {
	if len(rows) == 0 && !extendCurrent {
		return Version{}, fmt.Errorf("apply: no rows")
	}

	var inputs []EntryInput
	if extendCurrent {
		current, err := a.repo.CurrentVersion(ctx)
		if err != nil && !errors.Is(err, ErrVersionNotFound) {
			return Version{}, err
		}
		if err == nil {
			entries, err := a.repo.Entries(ctx, current.ID)
			if err != nil {
				return Version{}, err
			}
			for _, e := range entries {
				inputs = append(inputs, EntryInput{Term: e.Term, ICDCode: e.ICDCode, ICDTitle: e.ICDTitle, System: e.System})
			}
		}
	}
	inputs = append(inputs, rows...)
	inputs = dedupeByTerm(inputs)

	var version Version
	err := a.runTx(ctx, func(ctx context.Context) error {
		number, err := a.repo.NextVersionNumber(ctx)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		version = Version{
			ID:         uuid.New(),
			Number:     number,
			AppliedBy:  actor,
			SourceNote: note,
			EntryCount: len(inputs),
			CreatedAt:  now,
		}
		if err := a.repo.CreateVersion(ctx, &version); err != nil {
			return err
		}

		entries := make([]Entry, 0, len(inputs))
		for _, in := range inputs {
			entries = append(entries, Entry{
				ID:             uuid.New(),
				VersionID:      version.ID,
				Term:           in.Term,
				NormalizedTerm: Normalize(in.Term),
				ICDCode:        in.ICDCode,
				ICDTitle:       in.ICDTitle,
				System:         in.System,
				CreatedAt:      now,
			})
		}
		if err := a.repo.InsertEntries(ctx, entries); err != nil {
			return err
		}
		return a.repo.SetCurrent(ctx, version.ID)
	})
	if err != nil {
		return Version{}, fmt.Errorf("apply mapping version: %w", err)
	}

	a.log.Info().
		Int("version", version.Number).
		Int("entries", version.EntryCount).
		Str("applied_by", actor).
		Msg("mapping version applied")
	if a.audit != nil {
		if err := a.audit.Record(ctx, actor, audit.ActionVersionApplied, "mapping_versions", audit.StatusSuccess, true, map[string]any{
			"version": version.Number,
			"entries": version.EntryCount,
			"note":    note,
		}); err != nil {
			a.log.Error().Err(err).Msg("failed to audit version apply")
		}
	}
	return version, nil
}

// Rollback repoints the current marker to an earlier version. No entries
// change; the newer version stays in history.
func (a *Applier) Rollback(ctx context.Context, actor string, number int) (Version, error) {
	version, err := a.repo.VersionByNumber(ctx, number)
	if err != nil {
		return Version{}, err
	}

	err = a.runTx(ctx, func(ctx context.Context) error {
		return a.repo.SetCurrent(ctx, version.ID)
	})
	if err != nil {
		return Version{}, fmt.Errorf("rollback mapping version: %w", err)
	}

	a.log.Warn().
		Int("version", version.Number).
		Str("rolled_back_by", actor).
		Msg("mapping table rolled back")
	if a.audit != nil {
		if err := a.audit.Record(ctx, actor, audit.ActionVersionRollback, "mapping_current", audit.StatusSuccess, true, map[string]any{
			"version": version.Number,
		}); err != nil {
			a.log.Error().Err(err).Msg("failed to audit rollback")
		}
	}
	return version, nil
}

// dedupeByTerm keeps the last input per normalized term, preserving first
// appearance order.
func dedupeByTerm(inputs []EntryInput) []EntryInput {
	index := make(map[string]int, len(inputs))
	var out []EntryInput
	for _, in := range inputs {
		key := Normalize(in.Term)
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			out[i] = in
			continue
		}
		index[key] = len(out)
		out = append(out, in)
	}
	return out
}
