// Package domain defines the entity-store abstraction the engine is
// built on: tenant-scoped records addressed by hierarchical keys, with
// conditional writes, secondary-index queries and an atomic multi-item
// transaction primitive. Components depend on this interface only; the
// relational adapter lives in gormstore.
package domain

import "context"

// MaxTransactOps is the store's per-transaction operation limit.
const MaxTransactOps = 10

// IndexName identifies a secondary index.
type IndexName string

const (
	IndexGSI1 IndexName = "gsi1"
	IndexGSI2 IndexName = "gsi2"
)

// SortRange narrows a query over the sort dimension. Prefix takes
// precedence; otherwise From is inclusive and To exclusive. The zero
// value matches everything under the partition.
type SortRange struct {
	Prefix string
	From   string
	To     string
}

// EntityStore is the single shared persistence capability. It is
// constructed once and passed explicitly into every component.
type EntityStore interface {
	// Get returns the record at key, or nil when absent.
	Get(ctx context.Context, tenantID string, key Key) (*Record, error)

	// PutIfAbsent inserts a new record, failing with ErrAlreadyExists
	// when the key is taken.
	PutIfAbsent(ctx context.Context, rec *Record) error

	// ConditionalUpdate applies a typed partial patch and increments
	// the version. When expectedVersion > 0 the stored version must
	// match or ErrVersionConflict is returned; expectedVersion == 0
	// only requires the record to exist.
	ConditionalUpdate(ctx context.Context, tenantID string, key Key, patch Patch, expectedVersion int64) (*Record, error)

	// Query scans a primary partition ordered by sort key.
	Query(ctx context.Context, tenantID string, pk string, rng SortRange, limit int) ([]Record, error)

	// QueryIndex scans a secondary index ordered by its sort attribute.
	// Secondary indexes are not tenant-partitioned; results are
	// post-filtered by tenant before being returned.
	QueryIndex(ctx context.Context, tenantID string, index IndexName, partitionValue string, rng SortRange, limit int) ([]Record, error)

	// TransactWrite applies up to MaxTransactOps conditional operations
	// atomically. On failure no operation is applied and the error is a
	// *TransactionConflictError naming the failing item.
	TransactWrite(ctx context.Context, tenantID string, ops []TransactOp) error
}
