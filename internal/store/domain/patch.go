package domain

// Patch is a typed partial update. Set entries are merged into the
// attribute document by field name; non-nil index keys replace the
// stored ones. The adapter translates the patch into backend terms, so
// orchestration code never builds update expressions by hand.
type Patch struct {
	Set map[string]any

	GSI1PK *string
	GSI1SK *string
	GSI2PK *string
	GSI2SK *string

	UpdatedBy string
}

// NewPatch starts an empty patch attributed to actor.
func NewPatch(actor string) Patch {
	return Patch{Set: make(map[string]any), UpdatedBy: actor}
}

// With adds an attribute update and returns the patch for chaining.
func (p Patch) With(field string, value any) Patch {
	p.Set[field] = value
	return p
}

// WithGSI1 replaces the first secondary-index key pair.
func (p Patch) WithGSI1(pk, sk string) Patch {
	p.GSI1PK = &pk
	p.GSI1SK = &sk
	return p
}

// WithGSI2 replaces the second secondary-index key pair.
func (p Patch) WithGSI2(pk, sk string) Patch {
	p.GSI2PK = &pk
	p.GSI2SK = &sk
	return p
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Set) == 0 && p.GSI1PK == nil && p.GSI1SK == nil && p.GSI2PK == nil && p.GSI2SK == nil
}
