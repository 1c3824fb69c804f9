// Package gormstore adapts the entity-store contract onto a relational
// backend through gorm. Every entity lives in one entities table keyed
// by (tenant, pk, sk) with a version column; conditional semantics are
// enforced with guarded UPDATEs checked via RowsAffected, and the
// multi-item transaction maps onto a database transaction.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/classbridge/schoolops/internal/clock"
	storedomain "github.com/classbridge/schoolops/internal/store/domain"
	"github.com/classbridge/schoolops/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Store struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

var _ storedomain.EntityStore = (*Store)(nil)

// New migrates the entities table and returns the store adapter.
func New(gdb *gorm.DB, log *zap.Logger, clk clock.Clock) (*Store, error) {
	if err := gdb.AutoMigrate(&storedomain.Record{}); err != nil {
		return nil, fmt.Errorf("migrate entities table: %w", err)
	}
	return &Store{
		db:    gdb,
		log:   log.Named("store"),
		clock: clk,
	}, nil
}

func (s *Store) Get(ctx context.Context, tenantID string, key storedomain.Key) (*storedomain.Record, error) {
	var rec storedomain.Record
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND pk = ? AND sk = ?", tenantID, key.PK, key.SK).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, backendErr("get", err)
	}
	return &rec, nil
}

func (s *Store) PutIfAbsent(ctx context.Context, rec *storedomain.Record) error {
	return s.putTx(s.db.WithContext(ctx), rec)
}

func (s *Store) putTx(tx *gorm.DB, rec *storedomain.Record) error {
	if rec.TenantID == "" {
		return fmt.Errorf("record without tenant id: %s", rec.Key())
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	if rec.CreatedAt.IsZero() {
		now := s.clock.Now()
		rec.CreatedAt = now
		rec.UpdatedAt = now
	}
	if err := tx.Create(rec).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return fmt.Errorf("%s: %w", rec.Key(), storedomain.ErrAlreadyExists)
		}
		return backendErr("put", err)
	}
	return nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, tenantID string, key storedomain.Key, patch storedomain.Patch, expectedVersion int64) (*storedomain.Record, error) {
	return s.updateTx(s.db.WithContext(ctx), tenantID, key, patch, expectedVersion)
}

func (s *Store) updateTx(tx *gorm.DB, tenantID string, key storedomain.Key, patch storedomain.Patch, expectedVersion int64) (*storedomain.Record, error) {
	var current storedomain.Record
	err := tx.
		Where("tenant_id = ? AND pk = ? AND sk = ?", tenantID, key.PK, key.SK).
		Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", key, storedomain.ErrNotFound)
	}
	if err != nil {
		return nil, backendErr("update read", err)
	}
	if expectedVersion > 0 && current.Version != expectedVersion {
		return nil, fmt.Errorf("%s: expected v%d, stored v%d: %w",
			key, expectedVersion, current.Version, storedomain.ErrVersionConflict)
	}

	merged, err := mergeAttributes(current.Attributes, patch.Set)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	updates := map[string]any{
		"attributes": merged,
		"version":    current.Version + 1,
		"updated_at": now,
		"updated_by": patch.UpdatedBy,
	}
	if patch.GSI1PK != nil {
		updates["gsi1_pk"] = *patch.GSI1PK
	}
	if patch.GSI1SK != nil {
		updates["gsi1_sk"] = *patch.GSI1SK
	}
	if patch.GSI2PK != nil {
		updates["gsi2_pk"] = *patch.GSI2PK
	}
	if patch.GSI2SK != nil {
		updates["gsi2_sk"] = *patch.GSI2SK
	}

	// The version predicate makes the write a compare-and-swap even
	// when another writer slipped in between the read above and here.
	res := tx.Model(&storedomain.Record{}).
		Where("tenant_id = ? AND pk = ? AND sk = ? AND version = ?", tenantID, key.PK, key.SK, current.Version).
		Updates(updates)
	if res.Error != nil {
		return nil, backendErr("update write", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%s: lost race at v%d: %w", key, current.Version, storedomain.ErrVersionConflict)
	}

	current.Attributes = merged
	current.Version++
	current.UpdatedAt = now
	current.UpdatedBy = patch.UpdatedBy
	if patch.GSI1PK != nil {
		current.GSI1PK = *patch.GSI1PK
	}
	if patch.GSI1SK != nil {
		current.GSI1SK = *patch.GSI1SK
	}
	if patch.GSI2PK != nil {
		current.GSI2PK = *patch.GSI2PK
	}
	if patch.GSI2SK != nil {
		current.GSI2SK = *patch.GSI2SK
	}
	return &current, nil
}

func (s *Store) checkTx(tx *gorm.DB, tenantID string, op *storedomain.ConditionCheckOp) error {
	var current storedomain.Record
	err := tx.
		Where("tenant_id = ? AND pk = ? AND sk = ?", tenantID, op.Key.PK, op.Key.SK).
		Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op.Key, storedomain.ErrNotFound)
	}
	if err != nil {
		return backendErr("condition check", err)
	}
	if op.ExpectedVersion > 0 && current.Version != op.ExpectedVersion {
		return fmt.Errorf("%s: expected v%d, stored v%d: %w",
			op.Key, op.ExpectedVersion, current.Version, storedomain.ErrVersionConflict)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, tenantID string, pk string, rng storedomain.SortRange, limit int) ([]storedomain.Record, error) {
	q := s.db.WithContext(ctx).
		Where("tenant_id = ? AND pk = ?", tenantID, pk)
	q = applySortRange(q, "sk", rng)
	q = q.Order("sk ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []storedomain.Record
	if err := q.Find(&recs).Error; err != nil {
		return nil, backendErr("query", err)
	}
	return recs, nil
}

func (s *Store) QueryIndex(ctx context.Context, tenantID string, index storedomain.IndexName, partitionValue string, rng storedomain.SortRange, limit int) ([]storedomain.Record, error) {
	pkCol, skCol, err := indexColumns(index)
	if err != nil {
		return nil, err
	}

	// Secondary indexes span tenants, so the SQL predicate deliberately
	// omits tenant_id and the filter below is load-bearing: dropping it
	// would leak rows across tenants.
	q := s.db.WithContext(ctx).Where(pkCol+" = ?", partitionValue)
	q = applySortRange(q, skCol, rng)
	q = q.Order(skCol + " ASC")

	var recs []storedomain.Record
	if err := q.Find(&recs).Error; err != nil {
		return nil, backendErr("query index", err)
	}

	out := make([]storedomain.Record, 0, len(recs))
	for _, rec := range recs {
		if rec.TenantID != tenantID {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) TransactWrite(ctx context.Context, tenantID string, ops []storedomain.TransactOp) error {
	if err := storedomain.ValidateTransactOps(ops); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, op := range ops {
			var opKey storedomain.Key
			var opErr error
			switch {
			case op.Put != nil:
				if op.Put.Record.TenantID != tenantID {
					return fmt.Errorf("op %d: record tenant %q does not match transaction tenant %q",
						i, op.Put.Record.TenantID, tenantID)
				}
				opKey = op.Put.Record.Key()
				opErr = s.putTx(tx, op.Put.Record)
			case op.Update != nil:
				opKey = op.Update.Key
				_, opErr = s.updateTx(tx, tenantID, opKey, op.Update.Patch, op.Update.ExpectedVersion)
			case op.ConditionCheck != nil:
				opKey = op.ConditionCheck.Key
				opErr = s.checkTx(tx, tenantID, op.ConditionCheck)
			}
			if opErr != nil {
				if isConditionFailure(opErr) {
					return &storedomain.TransactionConflictError{FailedIndex: i, Key: opKey, Reason: opErr}
				}
				return opErr
			}
		}
		return nil
	})
	if err != nil {
		var tce *storedomain.TransactionConflictError
		if errors.As(err, &tce) {
			s.log.Debug("transaction aborted",
				zap.String("tenant_id", tenantID),
				zap.Int("failed_op", tce.FailedIndex),
				zap.String("key", tce.Key.String()),
			)
		}
		return err
	}
	return nil
}

func isConditionFailure(err error) bool {
	return errors.Is(err, storedomain.ErrAlreadyExists) ||
		errors.Is(err, storedomain.ErrVersionConflict) ||
		errors.Is(err, storedomain.ErrNotFound)
}

func applySortRange(q *gorm.DB, col string, rng storedomain.SortRange) *gorm.DB {
	if rng.Prefix != "" {
		// Prefix match as a half-open key range, which both sqlite and
		// postgres satisfy from the index without LIKE escape quirks.
		return q.Where(col+" >= ? AND "+col+" < ?", rng.Prefix, prefixUpperBound(rng.Prefix))
	}
	if rng.From != "" {
		q = q.Where(col+" >= ?", rng.From)
	}
	if rng.To != "" {
		q = q.Where(col+" < ?", rng.To)
	}
	return q
}

// prefixUpperBound returns the smallest string greater than every
// string carrying the prefix. Key alphabets here are ASCII below 0xFF.
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}
	// All 0xFF: no upper bound, match the rest of the partition.
	return string(b) + "\xff"
}

func indexColumns(index storedomain.IndexName) (string, string, error) {
	switch index {
	case storedomain.IndexGSI1:
		return "gsi1_pk", "gsi1_sk", nil
	case storedomain.IndexGSI2:
		return "gsi2_pk", "gsi2_sk", nil
	default:
		return "", "", fmt.Errorf("unknown index %q", index)
	}
}

func mergeAttributes(existing datatypes.JSON, set map[string]any) (datatypes.JSON, error) {
	doc := map[string]any{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &doc); err != nil {
			return nil, fmt.Errorf("decode stored attributes: %w", err)
		}
	}
	for field, value := range set {
		doc[field] = value
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode merged attributes: %w", err)
	}
	return merged, nil
}

func backendErr(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, storedomain.ErrStoreUnavailable)
}
