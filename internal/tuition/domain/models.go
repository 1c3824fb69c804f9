// Package domain contains tuition configuration models. A configuration
// is immutable once an invoice references it; the engine only ever
// creates and reads them.
package domain

import (
	storedomain "github.com/classbridge/schoolops/internal/store/domain"
)

// EntityType is the store discriminator for tuition configurations.
const EntityType = "TUITION_CONFIG"

// AppliesTo scopes a discount policy to a line-item subset.
type AppliesTo string

const (
	AppliesToTuition AppliesTo = "tuition"
	AppliesToFees    AppliesTo = "fees"
	AppliesToBoth    AppliesTo = "both"
)

// Fee is a mandatory charge applied alongside tuition. An empty
// ApplicableGrades list applies the fee to every grade.
type Fee struct {
	Name             string   `json:"name"`
	Amount           int64    `json:"amount"` // cents
	ApplicableGrades []string `json:"applicableGrades,omitempty"`
}

// DiscountPolicy reduces a subset of the invoice. Percent and
// FlatAmount are mutually exclusive; MaxDiscount of 0 means uncapped.
type DiscountPolicy struct {
	Name        string    `json:"name"`
	AppliesTo   AppliesTo `json:"appliesTo"`
	Percent     float64   `json:"percent,omitempty"`
	FlatAmount  int64     `json:"flatAmount,omitempty"`  // cents
	MaxDiscount int64     `json:"maxDiscount,omitempty"` // cents
}

// TaxSettings enables tax on the discounted subtotal.
type TaxSettings struct {
	Enabled bool    `json:"enabled"`
	Name    string  `json:"name,omitempty"`
	Rate    float64 `json:"rate,omitempty"` // percent
}

// TuitionConfiguration is the per-school-per-year pricing document.
type TuitionConfiguration struct {
	SchoolID         string           `json:"schoolId"`
	AcademicYear     string           `json:"academicYear"`
	Currency         string           `json:"currency"`
	GradeRates       map[string]int64 `json:"gradeRates"` // grade -> cents
	Fees             []Fee            `json:"fees,omitempty"`
	Discounts        []DiscountPolicy `json:"discounts,omitempty"`
	Tax              TaxSettings      `json:"tax"`
	PaymentTermsDays int              `json:"paymentTermsDays,omitempty"`
}

// DefaultPaymentTermsDays applies when a configuration does not set
// payment terms.
const DefaultPaymentTermsDays = 30

func (c TuitionConfiguration) Terms() int {
	if c.PaymentTermsDays > 0 {
		return c.PaymentTermsDays
	}
	return DefaultPaymentTermsDays
}

// Key addresses the configuration for a school year.
func Key(schoolID, academicYear string) storedomain.Key {
	return storedomain.Key{PK: "SCHOOL#" + schoolID, SK: "TUITION#" + academicYear}
}
