package inquiry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/NOAA-OWP/DMOD-sub002/datasets"
	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/job"
)

// DerivedDatasetTTL is how long a derived dataset outlives its creation
// before the purge task may remove it. Long enough for the job that needed
// it plus post-hoc inspection.
const DerivedDatasetTTL = 72 * time.Hour

// RealizationConfigItem is the item name a derived realization dataset
// stores its config under.
const RealizationConfigItem = "realization_config.json"

// modelAttributesSuffix names the hydrofabric item BMI config generation
// reads per-catchment attributes from.
const modelAttributesSuffix = "_model_attributes.parquet"

// DeriveForJob resolves every unfulfilled requirement of a job by
// synthesizing datasets, in dependency order rather than declaration order:
// a realization config feeds BMI config generation and both feed the
// composite, so those shapes derive first regardless of how the job lists
// them. Only jobs awaiting data may derive. Requirement shapes without a
// recipe fail the whole call with ErrDerivationUnknown; prerequisites
// missing for a known recipe fail closed rather than producing a partial
// dataset.
func (e *Engine) DeriveForJob(ctx context.Context, jb *job.Job) error {
	if jb == nil || jb.Request == nil {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Engine", "DeriveForJob", "job validation")
	}
	if jb.Status != job.StepAwaitingData {
		return errors.WrapInvalid(
			fmt.Errorf("job %s is in step %s, not %s", jb.ID, jb.Status, job.StepAwaitingData),
			"Engine", "DeriveForJob", "job step check")
	}

	unfulfilled := jb.UnfulfilledRequirements()
	sort.SliceStable(unfulfilled, func(i, j int) bool {
		return derivationRank(unfulfilled[i].Domain.Format) < derivationRank(unfulfilled[j].Domain.Format)
	})

	for _, req := range unfulfilled {
		ds, err := e.deriveRequirement(ctx, jb, req)
		if err != nil {
			return err
		}
		if err := resolveAccessAndFulfill(req, ds); err != nil {
			return err
		}
		e.logger.Info("requirement fulfilled by derivation",
			"job", jb.ID, "format", req.Domain.Format, "dataset", ds.Name)
	}
	return nil
}

// derivationRank orders requirement shapes so each recipe's prerequisites
// are produced before the recipes that read them.
func derivationRank(format datasets.DataFormat) int {
	switch format {
	case datasets.FormatNGENRealizationConfig:
		return 0
	case datasets.FormatBMIConfig:
		return 1
	case datasets.FormatNGENJobCompositeConfig:
		return 2
	default:
		return 3
	}
}

func (e *Engine) deriveRequirement(ctx context.Context, jb *job.Job, req *datasets.DataRequirement) (*datasets.Dataset, error) {
	switch req.Domain.Format {
	case datasets.FormatNGENRealizationConfig:
		return e.deriveRealization(ctx, jb, req)
	case datasets.FormatBMIConfig:
		return e.deriveBMIConfigs(ctx, jb, req)
	case datasets.FormatNGENJobCompositeConfig:
		return e.deriveComposite(ctx, jb, req)
	default:
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: no recipe for %s requirements", errors.ErrDerivationUnknown, req.Domain.Format),
			"Engine", "deriveRequirement", "recipe lookup")
	}
}

// derivedName builds a storage-legal dataset name scoped to the job.
func derivedName(jb *job.Job, kind string) string {
	id := strings.ToLower(strings.ReplaceAll(jb.ID, "_", "-"))
	return fmt.Sprintf("job-%s-%s", id, kind)
}

// createDerived provisions a temporary dataset for a derivation and records
// provenance edges against its sources.
func (e *Engine) createDerived(
	ctx context.Context,
	name string,
	category datasets.DataCategory,
	domain datasets.DataDomain,
	sources []*datasets.Dataset,
) (*datasets.Dataset, error) {
	expires := e.now().UTC().Add(DerivedDatasetTTL)
	ds, err := e.collection.CreateDataset(ctx, name, category, domain, false, &expires)
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		ds.DerivedFrom = append(ds.DerivedFrom, src.Name)
		src.Derivations = append(src.Derivations, ds.Name)
	}
	return ds, nil
}

// realizationDocument is the structural shape of a synthesized ngen
// realization config. Formulation params pass through untouched.
type realizationDocument struct {
	Global struct {
		Formulations []job.Formulation `json:"formulations"`
		Forcing      struct {
			Pattern string `json:"file_pattern,omitempty"`
		} `json:"forcing"`
	} `json:"global"`
	Time struct {
		StartTime string `json:"start_time,omitempty"`
		EndTime   string `json:"end_time,omitempty"`
	} `json:"time"`
	Catchments map[string]json.RawMessage `json:"catchments,omitempty"`
}

// deriveRealization synthesizes a full realization config dataset from the
// partial realization config carried by the model request.
func (e *Engine) deriveRealization(ctx context.Context, jb *job.Job, req *datasets.DataRequirement) (*datasets.Dataset, error) {
	partial := jb.Request.PartialRealization
	if partial == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("job %s carries no partial realization config", jb.ID),
			"Engine", "deriveRealization", "prerequisite check")
	}

	var doc realizationDocument
	doc.Global.Formulations = partial.GlobalFormulations
	doc.Global.Forcing.Pattern = partial.ForcingPattern
	doc.Time.StartTime = jb.Request.TimeRangeBegin
	doc.Time.EndTime = jb.Request.TimeRangeEnd
	doc.Catchments = partial.CatchmentConfigs

	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.WrapInvalid(err, "Engine", "deriveRealization", "marshal realization config")
	}

	ds, err := e.createDerived(ctx, derivedName(jb, "realization"), datasets.CategoryConfig, req.Domain, nil)
	if err != nil {
		return nil, err
	}
	if err := e.collection.AddData(ctx, ds.Name, RealizationConfigItem, content); err != nil {
		return nil, err
	}
	return ds, nil
}

// deriveBMIConfigs generates per-catchment BMI module init configs. It
// needs a located hydrofabric geopackage dataset carrying the per-region
// model attributes, plus a realization config to read formulations from;
// missing either fails the derivation outright.
func (e *Engine) deriveBMIConfigs(ctx context.Context, jb *job.Job, req *datasets.DataRequirement) (*datasets.Dataset, error) {
	hydrofabric, attrsItem, err := e.locateHydrofabric(ctx, jb)
	if err != nil {
		return nil, err
	}

	realization, err := e.locateRealization(ctx, jb)
	if err != nil {
		return nil, err
	}

	catchments := jb.Request.CatchmentIDs
	if len(catchments) == 0 {
		if dr, ok := req.Domain.Discrete(datasets.VariableCatchmentID); ok {
			catchments = dr.Values
		}
	}
	if len(catchments) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("job %s names no catchments to generate BMI configs for", jb.ID),
			"Engine", "deriveBMIConfigs", "prerequisite check")
	}

	ds, err := e.createDerived(ctx, derivedName(jb, "bmi-configs"), datasets.CategoryConfig, req.Domain,
		[]*datasets.Dataset{hydrofabric, realization})
	if err != nil {
		return nil, err
	}

	for _, catchment := range catchments {
		entry := map[string]string{
			"catchment":        catchment,
			"hydrofabric":      hydrofabric.Name,
			"model_attributes": attrsItem,
			"realization":      realization.Name,
			"realization_item": RealizationConfigItem,
			"hydrofabric_uid":  jb.Request.HydrofabricUID,
		}
		content, err := json.MarshalIndent(entry, "", "  ")
		if err != nil {
			return nil, errors.WrapInvalid(err, "Engine", "deriveBMIConfigs", "marshal init config")
		}
		item := fmt.Sprintf("%s_bmi_config.json", catchment)
		if err := e.collection.AddData(ctx, ds.Name, item, content); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// locateHydrofabric finds the geopackage hydrofabric dataset the job names
// and verifies it carries a model-attributes item.
func (e *Engine) locateHydrofabric(ctx context.Context, jb *job.Job) (*datasets.Dataset, string, error) {
	need := &datasets.DataRequirement{
		Category: datasets.CategoryHydrofabric,
		Domain: datasets.DataDomain{
			Format:               datasets.FormatNGENGeoPackageHydrofabricV2,
			DiscreteRestrictions: dataIDRestrictions(jb.Request.HydrofabricDataID),
		},
		IsInput: true,
	}

	hydrofabric, found := e.FindDatasetForRequirement(need)
	if !found {
		return nil, "", errors.WrapInvalid(
			fmt.Errorf("no geopackage hydrofabric dataset available for job %s", jb.ID),
			"Engine", "locateHydrofabric", "prerequisite check")
	}

	items, err := e.collection.ListItems(ctx, hydrofabric.Name)
	if err != nil {
		return nil, "", err
	}
	attrsItem := ""
	hasGeoPackage := false
	for _, item := range items {
		if strings.HasSuffix(item.Name, modelAttributesSuffix) {
			attrsItem = item.Name
		}
		if strings.HasSuffix(item.Name, ".gpkg") {
			hasGeoPackage = true
		}
	}
	if !hasGeoPackage || attrsItem == "" {
		return nil, "", errors.WrapInvalid(
			fmt.Errorf("hydrofabric dataset %q lacks geopackage or model attributes", hydrofabric.Name),
			"Engine", "locateHydrofabric", "content check")
	}
	return hydrofabric, attrsItem, nil
}

// locateRealization finds the job's realization config dataset, either one
// already fulfilling a requirement or one matching the request's config
// data id.
func (e *Engine) locateRealization(ctx context.Context, jb *job.Job) (*datasets.Dataset, error) {
	for _, req := range jb.DataRequirements {
		if req.Domain.Format == datasets.FormatNGENRealizationConfig && req.IsFulfilled() {
			if ds, ok := e.collection.GetDataset(req.FulfilledBy); ok {
				return ds, nil
			}
		}
	}

	need := &datasets.DataRequirement{
		Category: datasets.CategoryConfig,
		Domain: datasets.DataDomain{
			Format:               datasets.FormatNGENRealizationConfig,
			DiscreteRestrictions: dataIDRestrictions(jb.Request.ConfigDataID),
		},
		IsInput: true,
	}
	if ds, found := e.FindDatasetForRequirement(need); found {
		return ds, nil
	}
	return nil, errors.WrapInvalid(
		fmt.Errorf("no realization config dataset available for job %s", jb.ID),
		"Engine", "locateRealization", "prerequisite check")
}

// deriveComposite assembles the job's config datasets into one composite
// dataset, copying each source's items under a per-source prefix.
func (e *Engine) deriveComposite(ctx context.Context, jb *job.Job, req *datasets.DataRequirement) (*datasets.Dataset, error) {
	realization, err := e.locateRealization(ctx, jb)
	if err != nil {
		return nil, err
	}

	sources := []*datasets.Dataset{realization}

	if bmi := e.findByFormat(datasets.CategoryConfig, datasets.FormatBMIConfig, jb.Request.BMIConfigDataID); bmi != nil {
		sources = append(sources, bmi)
	}
	if jb.Request.PartitionConfigID != "" {
		if part := e.findByFormat(datasets.CategoryConfig, datasets.FormatNGENPartitionConfig, jb.Request.PartitionConfigID); part != nil {
			sources = append(sources, part)
		}
	}
	if jb.Request.UseTRoute {
		troute := e.findByFormat(datasets.CategoryConfig, datasets.FormatTRouteConfig, jb.Request.TRouteConfigDataID)
		if troute == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("job %s requires t-route but no t-route config dataset exists", jb.ID),
				"Engine", "deriveComposite", "prerequisite check")
		}
		sources = append(sources, troute)
	}
	if jb.Request.NGENCalConfigID != "" {
		if cal := e.findByFormat(datasets.CategoryConfig, datasets.FormatNGENCalConfig, jb.Request.NGENCalConfigID); cal != nil {
			sources = append(sources, cal)
		}
	}

	domain := req.Domain
	if _, ok := domain.Discrete(datasets.VariableHydrofabricID); !ok && jb.Request.HydrofabricDataID != "" {
		domain.DiscreteRestrictions = append(domain.DiscreteRestrictions, datasets.DiscreteRestriction{
			Variable: datasets.VariableHydrofabricID,
			Values:   []string{jb.Request.HydrofabricDataID},
		})
	}

	ds, err := e.createDerived(ctx, derivedName(jb, "composite-config"), datasets.CategoryConfig, domain, sources)
	if err != nil {
		return nil, err
	}

	for _, src := range sources {
		items, err := e.collection.ListItems(ctx, src.Name)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			data, err := e.collection.GetData(ctx, src.Name, item.Name)
			if err != nil {
				return nil, err
			}
			dest := fmt.Sprintf("%s/%s", src.Name, item.Name)
			if err := e.collection.AddData(ctx, ds.Name, dest, data); err != nil {
				return nil, err
			}
		}
	}
	return ds, nil
}

// findByFormat returns the first dataset of the given category/format whose
// DATA_ID restriction covers dataID, or any matching dataset when dataID is
// empty.
func (e *Engine) findByFormat(category datasets.DataCategory, format datasets.DataFormat, dataID string) *datasets.Dataset {
	need := &datasets.DataRequirement{
		Category: category,
		Domain: datasets.DataDomain{
			Format:               format,
			DiscreteRestrictions: dataIDRestrictions(dataID),
		},
		IsInput: true,
	}
	ds, found := e.FindDatasetForRequirement(need)
	if !found {
		return nil
	}
	return ds
}

// dataIDRestrictions turns an optional data id into requirement-side
// restrictions. An empty id adds no restriction, since requiring a variable
// the dataset never declared would rule every dataset out.
func dataIDRestrictions(dataID string) []datasets.DiscreteRestriction {
	if dataID == "" {
		return nil
	}
	return []datasets.DiscreteRestriction{
		{Variable: datasets.VariableDataID, Values: []string{dataID}},
	}
}
