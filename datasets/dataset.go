package datasets

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/google/uuid"
)

// Dataset is a named, versioned collection of data objects with a declared
// category and domain. Names are globally unique and double as the backing
// store bucket name.
type Dataset struct {
	Name           string       `json:"name"`
	Category       DataCategory `json:"category"`
	Domain         DataDomain   `json:"data_domain"`
	AccessLocation string       `json:"access_location"`
	IsReadOnly     bool         `json:"is_read_only"`
	UUID           string       `json:"uuid"`

	// Expires is set only on temporary datasets, typically ones the
	// derivation engine synthesized for a single job.
	Expires *time.Time `json:"expires,omitempty"`

	// Provenance edges. DerivedFrom names the source datasets this one was
	// synthesized from; Derivations names datasets synthesized from this
	// one. The graph is expected acyclic by construction.
	DerivedFrom []string `json:"derived_from,omitempty"`
	Derivations []string `json:"derivations,omitempty"`

	CreatedOn   time.Time `json:"created_on"`
	LastUpdated time.Time `json:"last_updated"`
}

// New constructs a Dataset with a fresh UUID and creation timestamps,
// validating the name and domain.
func New(name string, category DataCategory, domain DataDomain, accessLocation string, readOnly bool) (*Dataset, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := domain.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Dataset{
		Name:           name,
		Category:       category,
		Domain:         domain,
		AccessLocation: accessLocation,
		IsReadOnly:     readOnly,
		UUID:           uuid.New().String(),
		CreatedOn:      now,
		LastUpdated:    now,
	}, nil
}

// IsExpired reports whether a temporary dataset's expiry has passed.
// Datasets without an expiry never expire.
func (d *Dataset) IsExpired(now time.Time) bool {
	return d.Expires != nil && now.After(*d.Expires)
}

// Touch bumps the last-updated timestamp.
func (d *Dataset) Touch() {
	d.LastUpdated = time.Now().UTC()
}

var nameCharsRe = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

// ValidateName enforces object-store bucket naming rules for dataset names:
// 3-63 characters, lowercase alphanumerics plus hyphen and dot, alphanumeric
// at both ends, no empty dot-delimited labels, no dot adjacent to a hyphen,
// and not shaped like an IPv4 address.
func ValidateName(name string) error {
	fail := func(detail string) error {
		return errors.WrapInvalid(errors.ErrInvalidDatasetName, "Dataset", "ValidateName",
			fmt.Sprintf("%q: %s", name, detail))
	}

	if len(name) < 3 || len(name) > 63 {
		return fail("length must be 3-63 characters")
	}
	if !nameCharsRe.MatchString(name) {
		return fail("allowed characters are lowercase alphanumerics, '-' and '.', alphanumeric at both ends")
	}
	if strings.Contains(name, "..") {
		return fail("empty dot-delimited label")
	}
	if strings.Contains(name, ".-") || strings.Contains(name, "-.") {
		return fail("dot adjacent to hyphen")
	}
	if net.ParseIP(name) != nil {
		return fail("must not be formatted as an IP address")
	}
	return nil
}
