package datasets

import (
	"fmt"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
)

// DataRequirement is a job's declared need for data matching a domain.
// It is created unfulfilled at job submission and mutated exactly once, when
// the inquiry engine resolves it to a concrete dataset.
type DataRequirement struct {
	Category DataCategory `json:"category"`
	Domain   DataDomain   `json:"domain"`
	IsInput  bool         `json:"is_input"`

	// Fulfillment fields, set together by Fulfill and never unset.
	FulfilledBy       string `json:"fulfilled_by,omitempty"`
	FulfilledAccessAt string `json:"fulfilled_access_at,omitempty"`
}

// IsFulfilled reports whether the requirement has been resolved to a dataset.
func (r *DataRequirement) IsFulfilled() bool {
	return r.FulfilledBy != ""
}

// Fulfill records the resolving dataset and its concrete access string.
// Both fields are recorded together; callers must compute the access
// location before calling, so a requirement never shows FulfilledBy set
// without a usable FulfilledAccessAt. Re-fulfilling is an error.
func (r *DataRequirement) Fulfill(datasetName, accessAt string) error {
	if r.IsFulfilled() {
		return errors.WrapFatal(
			fmt.Errorf("requirement already fulfilled by %q", r.FulfilledBy),
			"DataRequirement", "Fulfill", "re-fulfillment check")
	}
	if datasetName == "" || accessAt == "" {
		return errors.WrapFatal(
			fmt.Errorf("dataset name and access location are both required"),
			"DataRequirement", "Fulfill", "fulfillment validation")
	}
	r.FulfilledBy = datasetName
	r.FulfilledAccessAt = accessAt
	return nil
}
