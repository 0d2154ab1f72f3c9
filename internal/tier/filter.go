package tier

import (
	"fmt"
	"strings"

	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
	"github.com/Aman-CERP/regsearch/internal/store"
)

// FilterPolicy decides what happens to a filter a tier cannot apply.
type FilterPolicy string

const (
	// PolicyIgnore drops the filter and records a warning.
	PolicyIgnore FilterPolicy = "ignore"
	// PolicyReject fails the tier with a query error.
	PolicyReject FilterPolicy = "reject"
)

// ParsePolicy maps a config value to a policy. Unknown values reject.
func ParsePolicy(s string) FilterPolicy {
	if strings.EqualFold(s, string(PolicyIgnore)) {
		return PolicyIgnore
	}
	return PolicyReject
}

// FilterStatus is the outcome of translating one filter.
type FilterStatus string

const (
	FilterApplied  FilterStatus = "applied"
	FilterIgnored  FilterStatus = "ignored"
	FilterRejected FilterStatus = "rejected"
)

// FilterOutcome records what a tier did with one filter field.
type FilterOutcome struct {
	Field  FilterField  `json:"field"`
	Status FilterStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

// FilterReport lists one outcome per requested filter field.
type FilterReport []FilterOutcome

// Ignored returns the fields that were dropped.
func (r FilterReport) Ignored() []FilterField {
	var out []FilterField
	for _, o := range r {
		if o.Status == FilterIgnored {
			out = append(out, o.Field)
		}
	}
	return out
}

// Translate maps query filters onto a tier's native filter. Supported
// fields are Applied. Unsupported fields are Ignored or, under
// PolicyReject, fail the whole translation with a tier query error.
func Translate(d Descriptor, f Filters) (store.PassageFilter, FilterReport, error) {
	var (
		native store.PassageFilter
		report FilterReport
	)
	for _, field := range f.Set() {
		if !d.Supports(field) {
			reason := fmt.Sprintf("%s tier cannot filter on %s", d.Kind, field)
			if d.Policy == PolicyReject {
				report = append(report, FilterOutcome{Field: field, Status: FilterRejected, Reason: reason})
				err := rerrors.New(rerrors.ErrCodeFilterRejected, reason, nil).
					WithDetail("field", string(field))
				return store.PassageFilter{}, report, rerrors.TierQueryError(d.Name, err)
			}
			report = append(report, FilterOutcome{Field: field, Status: FilterIgnored, Reason: reason})
			continue
		}

		switch field {
		case FilterJurisdiction:
			native.Jurisdiction = f.Jurisdiction
		case FilterDocType:
			native.DocType = f.DocType
		case FilterProgram:
			native.Program = f.Program
		case FilterEffectiveDate:
			native.From = f.EffectiveFrom
			native.To = f.EffectiveTo
		}
		report = append(report, FilterOutcome{Field: field, Status: FilterApplied})
	}
	return native, report, nil
}
