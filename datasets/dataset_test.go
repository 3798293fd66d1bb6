package datasets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		dataset string
		wantErr bool
	}{
		{"simple name", "forcing-2023", false},
		{"dots allowed", "huc01.forcing.v2", false},
		{"minimum length", "abc", false},
		{"too short", "ab", true},
		{"too long", "a123456789a123456789a123456789a123456789a123456789a123456789abcd", true},
		{"uppercase rejected", "Forcing", true},
		{"underscore rejected", "forcing_2023", true},
		{"leading hyphen rejected", "-forcing", true},
		{"trailing dot rejected", "forcing.", true},
		{"empty label rejected", "forcing..v2", true},
		{"dot adjacent to hyphen rejected", "forcing.-v2", true},
		{"hyphen adjacent to dot rejected", "forcing-.v2", true},
		{"ip address shape rejected", "192.168.0.1", true},
		{"empty rejected", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.dataset)
			if tt.wantErr {
				assert.Error(t, err, "name %q", tt.dataset)
			} else {
				assert.NoError(t, err, "name %q", tt.dataset)
			}
		})
	}
}

func TestNewDataset(t *testing.T) {
	domain := DataDomain{
		Format:               FormatAorcCSV,
		DiscreteRestrictions: []DiscreteRestriction{{Variable: VariableCatchmentID, Values: []string{"cat-1"}}},
	}

	ds, err := New("forcing-2023", CategoryForcing, domain, "store/forcing-2023", false)
	require.NoError(t, err)
	assert.Equal(t, "forcing-2023", ds.Name)
	assert.NotEmpty(t, ds.UUID)
	assert.False(t, ds.CreatedOn.IsZero())
	assert.Equal(t, ds.CreatedOn, ds.LastUpdated)

	t.Run("bad name rejected", func(t *testing.T) {
		_, err := New("Bad_Name", CategoryForcing, domain, "", false)
		require.Error(t, err)
	})
	t.Run("bad domain rejected", func(t *testing.T) {
		_, err := New("forcing-2024", CategoryForcing, DataDomain{}, "", false)
		require.Error(t, err)
	})
}

func TestDatasetExpiry(t *testing.T) {
	ds := &Dataset{Name: "tmp-1"}
	now := time.Now()
	assert.False(t, ds.IsExpired(now), "dataset without expiry never expires")

	past := now.Add(-time.Hour)
	ds.Expires = &past
	assert.True(t, ds.IsExpired(now))

	future := now.Add(time.Hour)
	ds.Expires = &future
	assert.False(t, ds.IsExpired(now))
}

func TestRequirementFulfill(t *testing.T) {
	req := &DataRequirement{Category: CategoryForcing, IsInput: true}
	assert.False(t, req.IsFulfilled())

	require.NoError(t, req.Fulfill("forcing-2023", "store/forcing-2023"))
	assert.True(t, req.IsFulfilled())
	assert.Equal(t, "forcing-2023", req.FulfilledBy)
	assert.Equal(t, "store/forcing-2023", req.FulfilledAccessAt)

	t.Run("re-fulfillment rejected", func(t *testing.T) {
		err := req.Fulfill("other", "store/other")
		require.Error(t, err)
		assert.Equal(t, "forcing-2023", req.FulfilledBy)
	})
	t.Run("empty access location rejected", func(t *testing.T) {
		fresh := &DataRequirement{}
		require.Error(t, fresh.Fulfill("ds", ""))
		assert.False(t, fresh.IsFulfilled())
	})
}
