package tier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
)

func TestTranslate_AppliesSupportedFields(t *testing.T) {
	// Given: a tier supporting every field
	d := testDescriptor("primary", PolicyReject)
	d.SupportedFilters = AllFilterFields

	// When: translating a jurisdiction and a date range
	native, report, err := Translate(d, Filters{
		Jurisdiction:  "CA",
		EffectiveFrom: date("2019-01-01"),
	})

	// Then: both are applied
	require.NoError(t, err)
	assert.Equal(t, "CA", native.Jurisdiction)
	assert.Equal(t, date("2019-01-01"), native.From)
	assert.True(t, native.To.IsZero())
	require.Len(t, report, 2)
	for _, o := range report {
		assert.Equal(t, FilterApplied, o.Status)
	}
}

func TestTranslate_IgnorePolicyDropsUnsupported(t *testing.T) {
	d := testDescriptor("graph", PolicyIgnore)
	d.SupportedFilters = GraphSupportedFilters

	native, report, err := Translate(d, Filters{Jurisdiction: "CA", Program: "EI"})

	require.NoError(t, err)
	assert.Equal(t, "CA", native.Jurisdiction)
	assert.Empty(t, native.Program)
	assert.Equal(t, []FilterField{FilterProgram}, report.Ignored())
}

func TestTranslate_RejectPolicyFailsWithQueryError(t *testing.T) {
	// Given: a rejecting tier that cannot filter by program
	d := testDescriptor("scan", PolicyReject)
	d.SupportedFilters = ScanSupportedFilters

	// When: translating a program filter
	_, report, err := Translate(d, Filters{Program: "EI"})

	// Then: the tier fails with a query-class error
	require.Error(t, err)
	var te *rerrors.TierError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, rerrors.KindQuery, te.Kind)
	assert.Equal(t, "scan", te.Tier)
	require.Len(t, report, 1)
	assert.Equal(t, FilterRejected, report[0].Status)
}

func TestTranslate_NoFiltersNoReport(t *testing.T) {
	native, report, err := Translate(testDescriptor("x", PolicyReject), Filters{})
	require.NoError(t, err)
	assert.True(t, native.IsZero())
	assert.Empty(t, report)
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, PolicyIgnore, ParsePolicy("IGNORE"))
	assert.Equal(t, PolicyReject, ParsePolicy("reject"))
	assert.Equal(t, PolicyReject, ParsePolicy("bogus"))
}

func TestFilters_KeyIsCaseInsensitive(t *testing.T) {
	a := Filters{Jurisdiction: "CA", EffectiveTo: date("2020-01-01")}
	b := Filters{Jurisdiction: "ca", EffectiveTo: date("2020-01-01")}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), Filters{}.Key())
}

func TestWithNative_IntersectsExplicitList(t *testing.T) {
	d := Descriptor{SupportedFilters: []FilterField{FilterJurisdiction, FilterProgram}}
	got := withNative(d, GraphSupportedFilters)
	assert.Equal(t, []FilterField{FilterJurisdiction}, got.SupportedFilters)

	got = withNative(Descriptor{}, ScanSupportedFilters)
	assert.Equal(t, ScanSupportedFilters, got.SupportedFilters)
}
