package datasets

import (
	"time"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
)

// StandardVariable names a restrictable axis of a data domain.
type StandardVariable string

// Standard restriction variables understood across the platform.
const (
	VariableTime          StandardVariable = "TIME"
	VariableCatchmentID   StandardVariable = "CATCHMENT_ID"
	VariableDataID        StandardVariable = "DATA_ID"
	VariableHydrofabricID StandardVariable = "HYDROFABRIC_ID"
	VariableRegion        StandardVariable = "REGION"
)

// ContinuousRestriction restricts a variable to the half-open range
// [Begin, End). TIME is the only continuous standard variable in current
// formats, so bounds are timestamps.
type ContinuousRestriction struct {
	Variable StandardVariable `json:"variable"`
	Begin    time.Time        `json:"begin"`
	End      time.Time        `json:"end"`
}

// Contains reports whether the other restriction's range lies entirely
// within this one. Variables must match.
func (cr ContinuousRestriction) Contains(other ContinuousRestriction) bool {
	if cr.Variable != other.Variable {
		return false
	}
	return !other.Begin.Before(cr.Begin) && !other.End.After(cr.End)
}

// DiscreteRestriction restricts a variable to an explicit value set.
// An empty value set means the restriction matches any value; this is a
// load-bearing convention, not an omission.
type DiscreteRestriction struct {
	Variable StandardVariable `json:"variable"`
	Values   []string         `json:"values"`
}

// Contains reports whether every value required by other is covered by this
// restriction. Variables must match.
func (dr DiscreteRestriction) Contains(other DiscreteRestriction) bool {
	if dr.Variable != other.Variable {
		return false
	}
	if len(dr.Values) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(dr.Values))
	for _, v := range dr.Values {
		have[v] = struct{}{}
	}
	for _, v := range other.Values {
		if _, ok := have[v]; !ok {
			return false
		}
	}
	return true
}

// DataDomain describes what a dataset covers or a requirement needs: a data
// format plus continuous and discrete restrictions keyed by variable.
type DataDomain struct {
	Format                 DataFormat              `json:"data_format"`
	ContinuousRestrictions []ContinuousRestriction `json:"continuous,omitempty"`
	DiscreteRestrictions   []DiscreteRestriction   `json:"discrete,omitempty"`
}

// Validate checks the domain invariant: a recognized format and at least one
// restriction of either kind.
func (d DataDomain) Validate() error {
	if d.Format == FormatUnknown {
		return errors.WrapInvalid(errors.ErrInvalidDomain, "DataDomain", "Validate", "unrecognized data format")
	}
	if len(d.ContinuousRestrictions) == 0 && len(d.DiscreteRestrictions) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidDomain, "DataDomain", "Validate", "domain without restrictions")
	}
	return nil
}

// continuous returns the continuous restriction for a variable, if present.
func (d DataDomain) continuous(v StandardVariable) (ContinuousRestriction, bool) {
	for _, cr := range d.ContinuousRestrictions {
		if cr.Variable == v {
			return cr, true
		}
	}
	return ContinuousRestriction{}, false
}

// Discrete returns the discrete restriction for a variable, if present.
func (d DataDomain) Discrete(v StandardVariable) (DiscreteRestriction, bool) {
	for _, dr := range d.DiscreteRestrictions {
		if dr.Variable == v {
			return dr, true
		}
	}
	return DiscreteRestriction{}, false
}

// Contains reports whether this domain covers everything the other domain
// asks for: every continuous restriction of other falls inside this domain's
// range for that variable, and every discrete restriction's values are a
// subset of this domain's values (an empty value set on this side covers
// any request). Formats are compared by the caller, not here, so the same
// containment test serves both exact-format and compatible-format checks.
func (d DataDomain) Contains(other DataDomain) bool {
	for _, need := range other.ContinuousRestrictions {
		have, ok := d.continuous(need.Variable)
		if !ok || !have.Contains(need) {
			return false
		}
	}
	for _, need := range other.DiscreteRestrictions {
		have, ok := d.Discrete(need.Variable)
		if !ok || !have.Contains(need) {
			return false
		}
	}
	return true
}
