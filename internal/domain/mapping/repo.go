package mapping

import (
	"context"

	"github.com/google/uuid"
)

// Reader is the read side of mapping persistence, used by the service to
// load snapshots and list versions.
type Reader interface {
	CurrentVersion(ctx context.Context) (Version, error)
	VersionByNumber(ctx context.Context, number int) (Version, error)
	ListVersions(ctx context.Context) ([]Version, error)
	Entries(ctx context.Context, versionID uuid.UUID) ([]Entry, error)
}

// Writer is the write side. Nothing in the HTTP surface reaches it: only
// the out-of-band apply and rollback commands create versions and repoint
// the current marker. Applied versions and their entries are never
// updated or deleted.
type Writer interface {
	CreateVersion(ctx context.Context, v *Version) error
	InsertEntries(ctx context.Context, entries []Entry) error
	SetCurrent(ctx context.Context, versionID uuid.UUID) error
	NextVersionNumber(ctx context.Context) (int, error)
}

// Repository combines both sides for the apply command.
type Repository interface {
	Reader
	Writer
}
