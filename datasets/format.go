package datasets

import (
	"encoding/json"
	"fmt"
)

// DataCategory classifies what role a dataset plays for a job.
type DataCategory int

const (
	// CategoryUnknown is the zero value for unrecognized categories.
	CategoryUnknown DataCategory = iota
	// CategoryConfig covers model and job configuration datasets.
	CategoryConfig
	// CategoryForcing covers meteorological forcing datasets.
	CategoryForcing
	// CategoryHydrofabric covers hydrofabric geometry datasets.
	CategoryHydrofabric
	// CategoryObservation covers observed time series used for evaluation.
	CategoryObservation
	// CategoryOutput covers model output datasets.
	CategoryOutput
)

var categoryNames = map[DataCategory]string{
	CategoryConfig:      "CONFIG",
	CategoryForcing:     "FORCING",
	CategoryHydrofabric: "HYDROFABRIC",
	CategoryObservation: "OBSERVATION",
	CategoryOutput:      "OUTPUT",
}

var categoryValues = map[string]DataCategory{
	"CONFIG":      CategoryConfig,
	"FORCING":     CategoryForcing,
	"HYDROFABRIC": CategoryHydrofabric,
	"OBSERVATION": CategoryObservation,
	"OUTPUT":      CategoryOutput,
}

// String returns the canonical wire name of the category.
func (c DataCategory) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseCategory converts a wire name into a DataCategory.
func ParseCategory(name string) (DataCategory, bool) {
	c, ok := categoryValues[name]
	return c, ok
}

// MarshalJSON encodes the category as its canonical name.
func (c DataCategory) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a category from its canonical name.
func (c *DataCategory) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if name == "" || name == "UNKNOWN" {
		*c = CategoryUnknown
		return nil
	}
	parsed, ok := ParseCategory(name)
	if !ok {
		return fmt.Errorf("unrecognized data category %q", name)
	}
	*c = parsed
	return nil
}

// DataFormat identifies the concrete serialization and layout of a dataset's
// contents. Formats act as opaque requirement targets; the protocol and
// inquiry layers only compare them and consult declared compatibility.
type DataFormat int

const (
	// FormatUnknown is the zero value for unrecognized formats.
	FormatUnknown DataFormat = iota
	// FormatAorcCSV is per-catchment AORC forcing CSV.
	FormatAorcCSV
	// FormatNetCDFForcingCanonical is the canonical NetCDF forcing layout.
	FormatNetCDFForcingCanonical
	// FormatNGENRealizationConfig is an ngen realization configuration.
	FormatNGENRealizationConfig
	// FormatNGENGeoJSONHydrofabric is GeoJSON catchment/nexus hydrofabric.
	FormatNGENGeoJSONHydrofabric
	// FormatNGENGeoPackageHydrofabricV2 is v2 geopackage hydrofabric.
	FormatNGENGeoPackageHydrofabricV2
	// FormatNGENPartitionConfig is an ngen partitioning configuration.
	FormatNGENPartitionConfig
	// FormatBMIConfig is a collection of BMI module init configs.
	FormatBMIConfig
	// FormatNWMConfig is an NWM run configuration.
	FormatNWMConfig
	// FormatNWMOutput is NWM model output.
	FormatNWMOutput
	// FormatNGENOutput is ngen model output.
	FormatNGENOutput
	// FormatNGENCalConfig is an ngen-cal calibration configuration.
	FormatNGENCalConfig
	// FormatNGENJobCompositeConfig bundles realization, BMI, t-route and
	// calibration configs for one job into a single dataset.
	FormatNGENJobCompositeConfig
	// FormatTRouteConfig is a t-route routing configuration.
	FormatTRouteConfig
)

var formatNames = map[DataFormat]string{
	FormatAorcCSV:                     "AORC_CSV",
	FormatNetCDFForcingCanonical:      "NETCDF_FORCING_CANONICAL",
	FormatNGENRealizationConfig:       "NGEN_REALIZATION_CONFIG",
	FormatNGENGeoJSONHydrofabric:      "NGEN_GEOJSON_HYDROFABRIC",
	FormatNGENGeoPackageHydrofabricV2: "NGEN_GEOPACKAGE_HYDROFABRIC_V2",
	FormatNGENPartitionConfig:         "NGEN_PARTITION_CONFIG",
	FormatBMIConfig:                   "BMI_CONFIG",
	FormatNWMConfig:                   "NWM_CONFIG",
	FormatNWMOutput:                   "NWM_OUTPUT",
	FormatNGENOutput:                  "NGEN_OUTPUT",
	FormatNGENCalConfig:               "NGEN_CAL_CONFIG",
	FormatNGENJobCompositeConfig:      "NGEN_JOB_COMPOSITE_CONFIG",
	FormatTRouteConfig:                "TROUTE_CONFIG",
}

var formatValues = func() map[string]DataFormat {
	m := make(map[string]DataFormat, len(formatNames))
	for f, name := range formatNames {
		m[name] = f
	}
	return m
}()

// String returns the canonical wire name of the format.
func (f DataFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseFormat converts a wire name into a DataFormat.
func ParseFormat(name string) (DataFormat, bool) {
	f, ok := formatValues[name]
	return f, ok
}

// MarshalJSON encodes the format as its canonical name.
func (f DataFormat) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON decodes a format from its canonical name.
func (f *DataFormat) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if name == "" || name == "UNKNOWN" {
		*f = FormatUnknown
		return nil
	}
	parsed, ok := ParseFormat(name)
	if !ok {
		return fmt.Errorf("unrecognized data format %q", name)
	}
	*f = parsed
	return nil
}

// formatCompatibility declares which alternate formats can stand in for a
// needed format. Keyed by the needed format; a dataset whose format appears
// in the value set is re-tested for domain containment during inquiry.
var formatCompatibility = map[DataFormat][]DataFormat{
	// A composite job config physically contains the realization config,
	// BMI configs and calibration config it was assembled from.
	FormatNGENRealizationConfig: {FormatNGENJobCompositeConfig},
	FormatBMIConfig:             {FormatNGENJobCompositeConfig},
	FormatNGENCalConfig:         {FormatNGENJobCompositeConfig},
	FormatTRouteConfig:          {FormatNGENJobCompositeConfig},
	// Canonical NetCDF forcings carry a superset of the AORC CSV content.
	FormatAorcCSV: {FormatNetCDFForcingCanonical},
}

// CanFormatFulfill reports whether a dataset in alternate format can satisfy
// a requirement for the needed format. Every format fulfills itself.
func CanFormatFulfill(needed, alternate DataFormat) bool {
	if needed == alternate {
		return true
	}
	for _, f := range formatCompatibility[needed] {
		if f == alternate {
			return true
		}
	}
	return false
}
