package datasets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

func TestContinuousRestrictionContains(t *testing.T) {
	outer := ContinuousRestriction{
		Variable: VariableTime,
		Begin:    mustTime(t, "2023-01-01T00:00:00Z"),
		End:      mustTime(t, "2023-12-31T00:00:00Z"),
	}

	tests := []struct {
		name  string
		other ContinuousRestriction
		want  bool
	}{
		{
			name: "fully inside",
			other: ContinuousRestriction{
				Variable: VariableTime,
				Begin:    mustTime(t, "2023-06-01T00:00:00Z"),
				End:      mustTime(t, "2023-07-01T00:00:00Z"),
			},
			want: true,
		},
		{
			name:  "identical range",
			other: outer,
			want:  true,
		},
		{
			name: "starts before",
			other: ContinuousRestriction{
				Variable: VariableTime,
				Begin:    mustTime(t, "2022-12-31T00:00:00Z"),
				End:      mustTime(t, "2023-07-01T00:00:00Z"),
			},
			want: false,
		},
		{
			name: "ends after",
			other: ContinuousRestriction{
				Variable: VariableTime,
				Begin:    mustTime(t, "2023-06-01T00:00:00Z"),
				End:      mustTime(t, "2024-01-01T00:00:00Z"),
			},
			want: false,
		},
		{
			name: "different variable",
			other: ContinuousRestriction{
				Variable: StandardVariable("OTHER"),
				Begin:    mustTime(t, "2023-06-01T00:00:00Z"),
				End:      mustTime(t, "2023-07-01T00:00:00Z"),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outer.Contains(tt.other))
		})
	}
}

func TestDiscreteRestrictionContains(t *testing.T) {
	tests := []struct {
		name   string
		have   DiscreteRestriction
		needed DiscreteRestriction
		want   bool
	}{
		{
			name:   "superset covers subset",
			have:   DiscreteRestriction{Variable: VariableCatchmentID, Values: []string{"cat-1", "cat-2", "cat-3"}},
			needed: DiscreteRestriction{Variable: VariableCatchmentID, Values: []string{"cat-2"}},
			want:   true,
		},
		{
			name:   "missing value fails",
			have:   DiscreteRestriction{Variable: VariableCatchmentID, Values: []string{"cat-1"}},
			needed: DiscreteRestriction{Variable: VariableCatchmentID, Values: []string{"cat-1", "cat-9"}},
			want:   false,
		},
		{
			name:   "empty dataset-side values match anything",
			have:   DiscreteRestriction{Variable: VariableCatchmentID},
			needed: DiscreteRestriction{Variable: VariableCatchmentID, Values: []string{"cat-1", "cat-2"}},
			want:   true,
		},
		{
			name:   "variable mismatch fails even with empty values",
			have:   DiscreteRestriction{Variable: VariableDataID},
			needed: DiscreteRestriction{Variable: VariableCatchmentID, Values: []string{"cat-1"}},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.have.Contains(tt.needed))
		})
	}
}

func TestDataDomainContains(t *testing.T) {
	dataset := DataDomain{
		Format: FormatAorcCSV,
		ContinuousRestrictions: []ContinuousRestriction{
			{
				Variable: VariableTime,
				Begin:    mustTime(t, "2023-01-01T00:00:00Z"),
				End:      mustTime(t, "2024-01-01T00:00:00Z"),
			},
		},
		DiscreteRestrictions: []DiscreteRestriction{
			{Variable: VariableCatchmentID, Values: []string{"cat-1", "cat-2"}},
		},
	}

	t.Run("covered requirement", func(t *testing.T) {
		req := DataDomain{
			Format: FormatAorcCSV,
			ContinuousRestrictions: []ContinuousRestriction{
				{
					Variable: VariableTime,
					Begin:    mustTime(t, "2023-03-01T00:00:00Z"),
					End:      mustTime(t, "2023-04-01T00:00:00Z"),
				},
			},
			DiscreteRestrictions: []DiscreteRestriction{
				{Variable: VariableCatchmentID, Values: []string{"cat-1"}},
			},
		}
		assert.True(t, dataset.Contains(req))
	})

	t.Run("requirement on undeclared variable fails", func(t *testing.T) {
		req := DataDomain{
			Format: FormatAorcCSV,
			DiscreteRestrictions: []DiscreteRestriction{
				{Variable: VariableDataID, Values: []string{"some-id"}},
			},
		}
		assert.False(t, dataset.Contains(req))
	})

	t.Run("requirement without restrictions on a variable passes", func(t *testing.T) {
		req := DataDomain{
			Format: FormatAorcCSV,
			DiscreteRestrictions: []DiscreteRestriction{
				{Variable: VariableCatchmentID, Values: []string{"cat-2"}},
			},
		}
		assert.True(t, dataset.Contains(req))
	})

	t.Run("time range outside coverage fails", func(t *testing.T) {
		req := DataDomain{
			Format: FormatAorcCSV,
			ContinuousRestrictions: []ContinuousRestriction{
				{
					Variable: VariableTime,
					Begin:    mustTime(t, "2022-01-01T00:00:00Z"),
					End:      mustTime(t, "2022-02-01T00:00:00Z"),
				},
			},
		}
		assert.False(t, dataset.Contains(req))
	})
}

func TestDataDomainValidate(t *testing.T) {
	t.Run("unknown format rejected", func(t *testing.T) {
		d := DataDomain{
			DiscreteRestrictions: []DiscreteRestriction{{Variable: VariableDataID, Values: []string{"x"}}},
		}
		require.Error(t, d.Validate())
	})
	t.Run("no restrictions rejected", func(t *testing.T) {
		d := DataDomain{Format: FormatAorcCSV}
		require.Error(t, d.Validate())
	})
	t.Run("valid", func(t *testing.T) {
		d := DataDomain{
			Format:               FormatAorcCSV,
			DiscreteRestrictions: []DiscreteRestriction{{Variable: VariableCatchmentID, Values: []string{"cat-1"}}},
		}
		require.NoError(t, d.Validate())
	})
}
