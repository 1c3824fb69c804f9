package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Key is a hierarchical entity key inside a tenant partition.
type Key struct {
	PK string
	SK string
}

func (k Key) String() string {
	return k.PK + "/" + k.SK
}

// IndexKeys holds the derived secondary-index attributes of a record.
// They are recomputed on every write touching an indexed attribute.
type IndexKeys struct {
	GSI1PK string
	GSI1SK string
	GSI2PK string
	GSI2SK string
}

// Record is the persisted envelope shared by every entity: tenant-scoped
// identity, type discriminator, JSON attribute document, audit fields and
// an integer version starting at 1.
type Record struct {
	TenantID   string         `gorm:"primaryKey;size:64;column:tenant_id" json:"tenantId"`
	PK         string         `gorm:"primaryKey;size:255;column:pk" json:"pk"`
	SK         string         `gorm:"primaryKey;size:255;column:sk" json:"sk"`
	EntityType string         `gorm:"size:64;not null" json:"entityType"`
	Attributes datatypes.JSON `gorm:"not null" json:"attributes"`
	Version    int64          `gorm:"not null;default:1" json:"version"`

	GSI1PK string `gorm:"size:255;column:gsi1_pk;index:idx_entities_gsi1,priority:1" json:"gsi1pk,omitempty"`
	GSI1SK string `gorm:"size:255;column:gsi1_sk;index:idx_entities_gsi1,priority:2" json:"gsi1sk,omitempty"`
	GSI2PK string `gorm:"size:255;column:gsi2_pk;index:idx_entities_gsi2,priority:1" json:"gsi2pk,omitempty"`
	GSI2SK string `gorm:"size:255;column:gsi2_sk;index:idx_entities_gsi2,priority:2" json:"gsi2sk,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	CreatedBy string    `gorm:"size:128" json:"createdBy"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
	UpdatedBy string    `gorm:"size:128" json:"updatedBy"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "entities" }

func (r *Record) Key() Key {
	return Key{PK: r.PK, SK: r.SK}
}

// NewRecord wraps a domain entity into a store envelope with version 1.
func NewRecord(tenantID string, key Key, entityType string, entity any, idx IndexKeys, actor string, now time.Time) (*Record, error) {
	attrs, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("marshal %s attributes: %w", entityType, err)
	}
	return &Record{
		TenantID:   tenantID,
		PK:         key.PK,
		SK:         key.SK,
		EntityType: entityType,
		Attributes: attrs,
		Version:    1,
		GSI1PK:     idx.GSI1PK,
		GSI1SK:     idx.GSI1SK,
		GSI2PK:     idx.GSI2PK,
		GSI2SK:     idx.GSI2SK,
		CreatedAt:  now.UTC(),
		CreatedBy:  actor,
		UpdatedAt:  now.UTC(),
		UpdatedBy:  actor,
	}, nil
}

// Decode unmarshals the record's attribute document into out.
func (r *Record) Decode(out any) error {
	if err := json.Unmarshal(r.Attributes, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", r.EntityType, r.Key(), err)
	}
	return nil
}
