package mapping

import "sync/atomic"

// Snapshot is an immutable in-memory view of one applied mapping version,
// keyed by normalized term. Lookups never touch the database; the snapshot
// is rebuilt and swapped whole when a new version is applied.
type Snapshot struct {
	version Version
	byTerm  map[string]Entry
}

// NewSnapshot builds a snapshot from a version's entries. Later duplicates
// of a normalized term win, matching the order entries were curated in.
func NewSnapshot(version Version, entries []Entry) *Snapshot {
	byTerm := make(map[string]Entry, len(entries))
	for _, e := range entries {
		key := e.NormalizedTerm
		if key == "" {
			key = Normalize(e.Term)
		}
		if key == "" {
			continue
		}
		byTerm[key] = e
	}
	return &Snapshot{version: version, byTerm: byTerm}
}

// Lookup returns the entry for an already-normalized term.
func (s *Snapshot) Lookup(normalizedTerm string) (Entry, bool) {
	e, ok := s.byTerm[normalizedTerm]
	return e, ok
}

// Version returns the mapping version this snapshot was built from.
func (s *Snapshot) Version() Version {
	return s.version
}

// Len returns the number of distinct normalized terms.
func (s *Snapshot) Len() int {
	return len(s.byTerm)
}

// SnapshotStore holds the current snapshot behind an atomic pointer so
// resolution reads never block on a version swap.
type SnapshotStore struct {
	current atomic.Pointer[Snapshot]
}

func NewSnapshotStore(initial *Snapshot) *SnapshotStore {
	store := &SnapshotStore{}
	if initial == nil {
		initial = NewSnapshot(Version{}, nil)
	}
	store.current.Store(initial)
	return store
}

// Current returns the active snapshot. Never nil.
func (s *SnapshotStore) Current() *Snapshot {
	return s.current.Load()
}

// Publish swaps in a new snapshot. In-flight lookups finish against the
// snapshot they started with.
func (s *SnapshotStore) Publish(snap *Snapshot) {
	if snap == nil {
		return
	}
	s.current.Store(snap)
}
