package tuition

import (
	"testing"

	billingdomain "github.com/classbridge/schoolops/internal/billing/domain"
	"github.com/classbridge/schoolops/internal/schoolerr"
	"github.com/classbridge/schoolops/internal/tuition/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() domain.TuitionConfiguration {
	return domain.TuitionConfiguration{
		SchoolID:     "sch_north",
		AcademicYear: "2026",
		Currency:     "USD",
		GradeRates: map[string]int64{
			"5": 100000, // 1000.00
			"6": 120000,
		},
		Fees: []domain.Fee{
			{Name: "Technology", Amount: 5000},
		},
		Discounts: []domain.DiscountPolicy{
			{Name: "Sibling", AppliesTo: domain.AppliesToTuition, Percent: 10},
		},
	}
}

func TestCalculate_SiblingDiscountScenario(t *testing.T) {
	// Grade-5 tuition 1000, Technology fee 50, 10% sibling discount on
	// tuition only, tax disabled.
	calc, err := Calculate("5", baseConfig())
	require.NoError(t, err)

	assert.Equal(t, int64(105000), calc.Subtotal)
	assert.Equal(t, int64(10000), calc.DiscountTotal)
	assert.Equal(t, int64(0), calc.Tax)
	assert.Equal(t, int64(95000), calc.Total)
	assert.Equal(t, "USD", calc.Currency)

	require.Len(t, calc.Lines, 3)
	assert.Equal(t, billingdomain.LineItemTuition, calc.Lines[0].Type)
	assert.Equal(t, int64(100000), calc.Lines[0].Amount)
	assert.Equal(t, billingdomain.LineItemFee, calc.Lines[1].Type)
	assert.Equal(t, int64(5000), calc.Lines[1].Amount)
	assert.Equal(t, billingdomain.LineItemDiscount, calc.Lines[2].Type)
	assert.Equal(t, int64(-10000), calc.Lines[2].Amount)
}

func TestCalculate_Deterministic(t *testing.T) {
	cfg := baseConfig()
	cfg.Tax = domain.TaxSettings{Enabled: true, Name: "VAT", Rate: 7.5}

	first, err := Calculate("5", cfg)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := Calculate("5", cfg)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCalculate_MissingGradeRate(t *testing.T) {
	_, err := Calculate("12", baseConfig())
	require.Error(t, err)
	assert.Equal(t, schoolerr.CodeConfigurationError, schoolerr.CodeOf(err))
}

func TestCalculate_FeeGradeScoping(t *testing.T) {
	cfg := baseConfig()
	cfg.Fees = []domain.Fee{
		{Name: "Technology", Amount: 5000},
		{Name: "Lab", Amount: 7500, ApplicableGrades: []string{"6"}},
	}
	cfg.Discounts = nil

	calc, err := Calculate("5", cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(105000), calc.Subtotal) // Lab fee skipped for grade 5

	calc, err = Calculate("6", cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(132500), calc.Subtotal)
}

func TestCalculate_FlatDiscountClampedToSubset(t *testing.T) {
	cfg := baseConfig()
	cfg.Discounts = []domain.DiscountPolicy{
		{Name: "Hardship", AppliesTo: domain.AppliesToFees, FlatAmount: 999999},
	}

	calc, err := Calculate("5", cfg)
	require.NoError(t, err)
	// Clamped to the fee subset total, never beyond.
	assert.Equal(t, int64(5000), calc.DiscountTotal)
	assert.Equal(t, int64(100000), calc.Total)
}

func TestCalculate_MaxDiscountCap(t *testing.T) {
	cfg := baseConfig()
	cfg.Discounts = []domain.DiscountPolicy{
		{Name: "Scholarship", AppliesTo: domain.AppliesToBoth, Percent: 50, MaxDiscount: 20000},
	}

	calc, err := Calculate("5", cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), calc.DiscountTotal)
	assert.Equal(t, int64(85000), calc.Total)
}

func TestCalculate_TaxOnDiscountedSubtotal(t *testing.T) {
	cfg := baseConfig()
	cfg.Tax = domain.TaxSettings{Enabled: true, Name: "VAT", Rate: 10}

	calc, err := Calculate("5", cfg)
	require.NoError(t, err)
	// 10% of (1050 - 100) = 95.00
	assert.Equal(t, int64(9500), calc.Tax)
	assert.Equal(t, int64(104500), calc.Total)
}

func TestCalculate_PoliciesDoNotCompound(t *testing.T) {
	cfg := baseConfig()
	cfg.Discounts = []domain.DiscountPolicy{
		{Name: "Sibling", AppliesTo: domain.AppliesToTuition, Percent: 10},
		{Name: "Early bird", AppliesTo: domain.AppliesToTuition, Percent: 5},
	}

	calc, err := Calculate("5", cfg)
	require.NoError(t, err)
	// Both compute against the undiscounted tuition total.
	assert.Equal(t, int64(15000), calc.DiscountTotal)
}

func TestCalculate_RoundsHalfUp(t *testing.T) {
	cfg := baseConfig()
	cfg.GradeRates = map[string]int64{"5": 99999}
	cfg.Fees = nil
	cfg.Discounts = []domain.DiscountPolicy{
		{Name: "Sibling", AppliesTo: domain.AppliesToTuition, Percent: 12.5},
	}

	calc, err := Calculate("5", cfg)
	require.NoError(t, err)
	// 12.5% of 999.99 = 124.99875 -> 125.00
	assert.Equal(t, int64(12500), calc.DiscountTotal)
}
