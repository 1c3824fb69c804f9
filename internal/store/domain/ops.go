package domain

import "fmt"

// PutOp inserts a new record; the key must be absent.
type PutOp struct {
	Record *Record
}

// UpdateOp patches an existing record. ExpectedVersion > 0 additionally
// requires the stored version to match.
type UpdateOp struct {
	Key             Key
	Patch           Patch
	ExpectedVersion int64
}

// ConditionCheckOp asserts a record exists (and optionally its version)
// without writing it.
type ConditionCheckOp struct {
	Key             Key
	ExpectedVersion int64
}

// TransactOp is one item of an atomic multi-item transaction. Exactly
// one field must be set.
type TransactOp struct {
	Put            *PutOp
	Update         *UpdateOp
	ConditionCheck *ConditionCheckOp
}

func (op TransactOp) validate() error {
	n := 0
	if op.Put != nil {
		n++
		if op.Put.Record == nil {
			return fmt.Errorf("put operation without record")
		}
	}
	if op.Update != nil {
		n++
	}
	if op.ConditionCheck != nil {
		n++
	}
	if n != 1 {
		return fmt.Errorf("transact op must set exactly one of put/update/conditionCheck, got %d", n)
	}
	return nil
}

// ValidateTransactOps checks batch shape before any write is attempted.
func ValidateTransactOps(ops []TransactOp) error {
	if len(ops) == 0 {
		return fmt.Errorf("empty transaction")
	}
	if len(ops) > MaxTransactOps {
		return fmt.Errorf("transaction has %d operations, limit is %d", len(ops), MaxTransactOps)
	}
	for i, op := range ops {
		if err := op.validate(); err != nil {
			return fmt.Errorf("op %d: %w", i, err)
		}
	}
	return nil
}
