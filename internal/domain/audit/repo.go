package audit

import "context"

// Repository persists audit records. The interface is deliberately
// append-plus-read only: the log's immutability is structural, not policed.
type Repository interface {
	Insert(ctx context.Context, rec *Record) error
	List(ctx context.Context, f Filter) ([]*Record, int, error)
}
