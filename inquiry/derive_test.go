package inquiry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NOAA-OWP/DMOD-sub002/datasets"
	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/job"
)

func realizationRequirement(catchments ...string) *datasets.DataRequirement {
	return &datasets.DataRequirement{
		Category: datasets.CategoryConfig,
		IsInput:  true,
		Domain: datasets.DataDomain{
			Format: datasets.FormatNGENRealizationConfig,
			DiscreteRestrictions: []datasets.DiscreteRestriction{
				{Variable: datasets.VariableCatchmentID, Values: catchments},
			},
		},
	}
}

func TestDeriveRealization(t *testing.T) {
	e, c := newEngine(t)
	ctx := context.Background()

	jb := &job.Job{
		ID:     "AB12",
		Status: job.StepAwaitingData,
		Request: &job.ModelRequest{
			JobType:        "ngen",
			TimeRangeBegin: "2023-01-01 00:00:00",
			TimeRangeEnd:   "2023-02-01 00:00:00",
			PartialRealization: &job.PartialRealizationConfig{
				GlobalFormulations: []job.Formulation{
					{Name: "bmi_c", Params: json.RawMessage(`{"model_type_name":"cfe"}`)},
				},
				ForcingPattern: "{{id}}.csv",
			},
		},
		DataRequirements: []*datasets.DataRequirement{realizationRequirement("cat-1")},
	}

	require.NoError(t, e.DeriveForJob(ctx, jb))

	req := jb.DataRequirements[0]
	require.True(t, req.IsFulfilled())
	assert.Equal(t, "job-ab12-realization", req.FulfilledBy)

	ds, ok := c.GetDataset("job-ab12-realization")
	require.True(t, ok)
	require.NotNil(t, ds.Expires, "derived datasets are temporary")
	assert.WithinDuration(t, time.Now().UTC().Add(DerivedDatasetTTL), *ds.Expires, time.Minute)

	content, err := c.GetData(ctx, ds.Name, RealizationConfigItem)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(content, &doc))
	global, ok := doc["global"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, global["formulations"])
	timeBlock, ok := doc["time"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2023-01-01 00:00:00", timeBlock["start_time"])
}

func TestDeriveRequiresAwaitingData(t *testing.T) {
	e, _ := newEngine(t)
	jb := &job.Job{
		ID:     "j1",
		Status: job.StepAwaitingDataCheck,
		Request: &job.ModelRequest{
			JobType:            "ngen",
			PartialRealization: &job.PartialRealizationConfig{},
		},
		DataRequirements: []*datasets.DataRequirement{realizationRequirement("cat-1")},
	}
	err := e.DeriveForJob(context.Background(), jb)
	require.Error(t, err)
	assert.False(t, jb.DataRequirements[0].IsFulfilled())
}

func TestDeriveUnknownShapeIsFatal(t *testing.T) {
	e, _ := newEngine(t)
	jb := &job.Job{
		ID:      "j1",
		Status:  job.StepAwaitingData,
		Request: &job.ModelRequest{JobType: "ngen"},
		DataRequirements: []*datasets.DataRequirement{
			{
				Category: datasets.CategoryForcing,
				Domain:   forcingDomain("cat-1"),
			},
		},
	}
	err := e.DeriveForJob(context.Background(), jb)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDerivationUnknown))
	assert.True(t, errors.IsFatal(err))
}

// seedHydrofabric provisions a geopackage hydrofabric dataset carrying the
// items BMI derivation depends on.
func seedHydrofabric(t *testing.T, c *ManagerCollection, name, dataID string) {
	t.Helper()
	ctx := context.Background()
	mustCreate(t, c, name, datasets.CategoryHydrofabric, datasets.DataDomain{
		Format: datasets.FormatNGENGeoPackageHydrofabricV2,
		DiscreteRestrictions: []datasets.DiscreteRestriction{
			{Variable: datasets.VariableDataID, Values: []string{dataID}},
		},
	})
	require.NoError(t, c.AddData(ctx, name, "hydrofabric.gpkg", []byte("gpkg")))
	require.NoError(t, c.AddData(ctx, name, "conus_model_attributes.parquet", []byte("attrs")))
}

func seedRealization(t *testing.T, c *ManagerCollection, name, dataID string) {
	t.Helper()
	mustCreate(t, c, name, datasets.CategoryConfig, configDomain(datasets.FormatNGENRealizationConfig, dataID))
	require.NoError(t, c.AddData(context.Background(), name, RealizationConfigItem, []byte("{}")))
}

func bmiRequirement(catchments ...string) *datasets.DataRequirement {
	return &datasets.DataRequirement{
		Category: datasets.CategoryConfig,
		IsInput:  true,
		Domain: datasets.DataDomain{
			Format: datasets.FormatBMIConfig,
			DiscreteRestrictions: []datasets.DiscreteRestriction{
				{Variable: datasets.VariableCatchmentID, Values: catchments},
			},
		},
	}
}

func TestDeriveBMIConfigs(t *testing.T) {
	e, c := newEngine(t)
	ctx := context.Background()
	seedHydrofabric(t, c, "hydrofabric-conus", "hf-1")
	seedRealization(t, c, "realization-x", "cfg-1")

	jb := &job.Job{
		ID:     "j2",
		Status: job.StepAwaitingData,
		Request: &job.ModelRequest{
			JobType:           "ngen",
			HydrofabricDataID: "hf-1",
			ConfigDataID:      "cfg-1",
			CatchmentIDs:      []string{"cat-1", "cat-2"},
		},
		DataRequirements: []*datasets.DataRequirement{bmiRequirement("cat-1", "cat-2")},
	}

	require.NoError(t, e.DeriveForJob(ctx, jb))
	require.True(t, jb.DataRequirements[0].IsFulfilled())

	ds, ok := c.GetDataset("job-j2-bmi-configs")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"hydrofabric-conus", "realization-x"}, ds.DerivedFrom)

	items, err := c.ListItems(ctx, ds.Name)
	require.NoError(t, err)
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
	}
	assert.ElementsMatch(t, []string{"cat-1_bmi_config.json", "cat-2_bmi_config.json"}, names)
}

func TestDeriveBMIConfigsFailsClosed(t *testing.T) {
	t.Run("missing hydrofabric", func(t *testing.T) {
		e, c := newEngine(t)
		seedRealization(t, c, "realization-x", "cfg-1")
		jb := &job.Job{
			ID:     "j3",
			Status: job.StepAwaitingData,
			Request: &job.ModelRequest{
				JobType:      "ngen",
				ConfigDataID: "cfg-1",
				CatchmentIDs: []string{"cat-1"},
			},
			DataRequirements: []*datasets.DataRequirement{bmiRequirement("cat-1")},
		}
		require.Error(t, e.DeriveForJob(context.Background(), jb))
	})

	t.Run("hydrofabric without model attributes", func(t *testing.T) {
		e, c := newEngine(t)
		ctx := context.Background()
		mustCreate(t, c, "bare-hydrofabric", datasets.CategoryHydrofabric, datasets.DataDomain{
			Format: datasets.FormatNGENGeoPackageHydrofabricV2,
			DiscreteRestrictions: []datasets.DiscreteRestriction{
				{Variable: datasets.VariableDataID, Values: []string{"hf-1"}},
			},
		})
		require.NoError(t, c.AddData(ctx, "bare-hydrofabric", "hydrofabric.gpkg", []byte("gpkg")))
		seedRealization(t, c, "realization-x", "cfg-1")

		jb := &job.Job{
			ID:     "j4",
			Status: job.StepAwaitingData,
			Request: &job.ModelRequest{
				JobType:           "ngen",
				HydrofabricDataID: "hf-1",
				ConfigDataID:      "cfg-1",
				CatchmentIDs:      []string{"cat-1"},
			},
			DataRequirements: []*datasets.DataRequirement{bmiRequirement("cat-1")},
		}
		require.Error(t, e.DeriveForJob(ctx, jb))
	})

	t.Run("missing realization", func(t *testing.T) {
		e, c := newEngine(t)
		seedHydrofabric(t, c, "hydrofabric-conus", "hf-1")
		jb := &job.Job{
			ID:     "j5",
			Status: job.StepAwaitingData,
			Request: &job.ModelRequest{
				JobType:           "ngen",
				HydrofabricDataID: "hf-1",
				CatchmentIDs:      []string{"cat-1"},
			},
			DataRequirements: []*datasets.DataRequirement{bmiRequirement("cat-1")},
		}
		require.Error(t, e.DeriveForJob(context.Background(), jb))
	})
}

func TestDeriveOrdersByDependency(t *testing.T) {
	e, c := newEngine(t)
	ctx := context.Background()
	seedHydrofabric(t, c, "hydrofabric-conus", "hf-1")

	// The BMI requirement is declared before the realization requirement it
	// depends on; derivation must still produce the realization first.
	jb := &job.Job{
		ID:     "j8",
		Status: job.StepAwaitingData,
		Request: &job.ModelRequest{
			JobType:           "ngen",
			HydrofabricDataID: "hf-1",
			CatchmentIDs:      []string{"cat-1"},
			PartialRealization: &job.PartialRealizationConfig{
				GlobalFormulations: []job.Formulation{
					{Name: "bmi_c", Params: json.RawMessage(`{"model_type_name":"cfe"}`)},
				},
			},
		},
		DataRequirements: []*datasets.DataRequirement{
			bmiRequirement("cat-1"),
			realizationRequirement("cat-1"),
		},
	}

	require.NoError(t, e.DeriveForJob(ctx, jb))
	for _, req := range jb.DataRequirements {
		assert.True(t, req.IsFulfilled(), "requirement %s unfulfilled", req.Domain.Format)
	}

	bmi, ok := c.GetDataset("job-j8-bmi-configs")
	require.True(t, ok)
	assert.Contains(t, bmi.DerivedFrom, "job-j8-realization",
		"BMI configs read the realization derived in the same pass")
}

func compositeRequirement() *datasets.DataRequirement {
	return &datasets.DataRequirement{
		Category: datasets.CategoryConfig,
		IsInput:  true,
		Domain: datasets.DataDomain{
			Format: datasets.FormatNGENJobCompositeConfig,
			DiscreteRestrictions: []datasets.DiscreteRestriction{
				{Variable: datasets.VariableCatchmentID, Values: []string{"cat-1"}},
			},
		},
	}
}

func TestDeriveComposite(t *testing.T) {
	e, c := newEngine(t)
	ctx := context.Background()
	seedRealization(t, c, "realization-x", "cfg-1")

	jb := &job.Job{
		ID:     "j6",
		Status: job.StepAwaitingData,
		Request: &job.ModelRequest{
			JobType:           "ngen",
			ConfigDataID:      "cfg-1",
			HydrofabricDataID: "hf-1",
		},
		DataRequirements: []*datasets.DataRequirement{compositeRequirement()},
	}

	require.NoError(t, e.DeriveForJob(ctx, jb))

	ds, ok := c.GetDataset("job-j6-composite-config")
	require.True(t, ok)
	assert.Contains(t, ds.DerivedFrom, "realization-x")

	dr, ok := ds.Domain.Discrete(datasets.VariableHydrofabricID)
	require.True(t, ok, "composite domain declares the hydrofabric id")
	assert.Equal(t, []string{"hf-1"}, dr.Values)

	// Source items are copied under a per-source prefix.
	data, err := c.GetData(ctx, ds.Name, "realization-x/"+RealizationConfigItem)
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), data)
}

func TestDeriveCompositeRequiresTRouteWhenRouted(t *testing.T) {
	e, c := newEngine(t)
	seedRealization(t, c, "realization-x", "cfg-1")

	jb := &job.Job{
		ID:     "j7",
		Status: job.StepAwaitingData,
		Request: &job.ModelRequest{
			JobType:      "ngen",
			ConfigDataID: "cfg-1",
			UseTRoute:    true,
		},
		DataRequirements: []*datasets.DataRequirement{compositeRequirement()},
	}
	require.Error(t, e.DeriveForJob(context.Background(), jb))

	t.Run("succeeds once a t-route config exists", func(t *testing.T) {
		ctx := context.Background()
		mustCreate(t, c, "troute-cfg", datasets.CategoryConfig,
			configDomain(datasets.FormatTRouteConfig, "tr-1"))
		require.NoError(t, c.AddData(ctx, "troute-cfg", "troute.yaml", []byte("routing: {}")))

		jb.Request.TRouteConfigDataID = "tr-1"
		require.NoError(t, e.DeriveForJob(ctx, jb))

		ds, ok := c.GetDataset("job-j7-composite-config")
		require.True(t, ok)
		assert.Contains(t, ds.DerivedFrom, "troute-cfg")
	})
}
