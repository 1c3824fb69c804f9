package tuition

import (
	"fmt"
	"math"

	billingdomain "github.com/classbridge/schoolops/internal/billing/domain"
	"github.com/classbridge/schoolops/internal/schoolerr"
	"github.com/classbridge/schoolops/internal/tuition/domain"
)

// Calculation is the priced outcome of an enrollment. Identical inputs
// always produce identical amounts; the orchestrator relies on that to
// re-run the computation from scratch on any retry instead of replaying
// a stale result.
type Calculation struct {
	Lines         []billingdomain.LineItem
	Subtotal      int64
	DiscountTotal int64
	Tax           int64
	Total         int64
	Currency      string
}

// Calculate prices an enrollment's grade against a tuition
// configuration. Pure function, no I/O.
func Calculate(grade string, cfg domain.TuitionConfiguration) (Calculation, error) {
	rate, ok := cfg.GradeRates[grade]
	if !ok {
		return Calculation{}, schoolerr.New(schoolerr.CodeConfigurationError,
			fmt.Sprintf("no tuition rate for grade %q", grade)).
			WithEntity("school", cfg.SchoolID).
			WithEntity("academicYear", cfg.AcademicYear)
	}

	calc := Calculation{Currency: cfg.Currency}
	calc.Lines = append(calc.Lines, billingdomain.LineItem{
		Type:        billingdomain.LineItemTuition,
		Description: "Tuition grade " + grade,
		Amount:      rate,
	})
	tuitionTotal := rate

	var feesTotal int64
	for _, fee := range cfg.Fees {
		if !feeApplies(fee, grade) {
			continue
		}
		calc.Lines = append(calc.Lines, billingdomain.LineItem{
			Type:        billingdomain.LineItemFee,
			Description: fee.Name,
			Amount:      fee.Amount,
		})
		feesTotal += fee.Amount
	}

	calc.Subtotal = tuitionTotal + feesTotal

	for _, policy := range cfg.Discounts {
		amount := discountAmount(policy, tuitionTotal, feesTotal)
		if amount <= 0 {
			continue
		}
		calc.Lines = append(calc.Lines, billingdomain.LineItem{
			Type:        billingdomain.LineItemDiscount,
			Description: policy.Name,
			Amount:      -amount,
		})
		calc.DiscountTotal += amount
	}

	if cfg.Tax.Enabled {
		calc.Tax = roundCents(float64(calc.Subtotal-calc.DiscountTotal) * cfg.Tax.Rate / 100)
	}

	calc.Total = calc.Subtotal - calc.DiscountTotal + calc.Tax
	return calc, nil
}

func feeApplies(fee domain.Fee, grade string) bool {
	if len(fee.ApplicableGrades) == 0 {
		return true
	}
	for _, g := range fee.ApplicableGrades {
		if g == grade {
			return true
		}
	}
	return false
}

// discountAmount applies one policy to its subset total. Each policy is
// computed against the undiscounted subset; policies do not compound.
func discountAmount(policy domain.DiscountPolicy, tuitionTotal, feesTotal int64) int64 {
	var subset int64
	switch policy.AppliesTo {
	case domain.AppliesToTuition:
		subset = tuitionTotal
	case domain.AppliesToFees:
		subset = feesTotal
	case domain.AppliesToBoth:
		subset = tuitionTotal + feesTotal
	default:
		return 0
	}

	var amount int64
	if policy.Percent > 0 {
		amount = roundCents(float64(subset) * policy.Percent / 100)
	} else {
		amount = policy.FlatAmount
	}
	if amount > subset {
		amount = subset
	}
	if policy.MaxDiscount > 0 && amount > policy.MaxDiscount {
		amount = policy.MaxDiscount
	}
	return amount
}

// roundCents rounds half up to whole cents.
func roundCents(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}
