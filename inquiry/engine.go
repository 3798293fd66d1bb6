package inquiry

import (
	"context"
	"log/slog"
	"time"

	"github.com/NOAA-OWP/DMOD-sub002/datasets"
	"github.com/NOAA-OWP/DMOD-sub002/job"
)

// Engine answers requirement inquiries over a dataset collection and, where
// nothing suitable exists, derives datasets from what a job carries.
type Engine struct {
	collection *ManagerCollection
	logger     *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewEngine builds an inquiry engine over a collection.
func NewEngine(collection *ManagerCollection, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		collection: collection,
		logger:     logger,
		now:        time.Now,
	}
}

// FindDatasetForRequirement returns the first dataset, in lexicographic
// name order, whose category matches, whose domain contains the
// requirement's domain, and whose format either equals the required format
// or can stand in for it. Exact-format matches are preferred: the alternate
// formats are only considered once no exact match exists anywhere.
func (e *Engine) FindDatasetForRequirement(req *datasets.DataRequirement) (*datasets.Dataset, bool) {
	candidates := e.collection.All()
	now := e.now().UTC()

	for _, ds := range candidates {
		if e.matches(ds, req, now, true) {
			return ds, true
		}
	}
	for _, ds := range candidates {
		if e.matches(ds, req, now, false) {
			return ds, true
		}
	}
	return nil, false
}

func (e *Engine) matches(ds *datasets.Dataset, req *datasets.DataRequirement, now time.Time, exactFormat bool) bool {
	if ds.IsExpired(now) || ds.Category != req.Category {
		return false
	}
	if exactFormat {
		if ds.Domain.Format != req.Domain.Format {
			return false
		}
	} else {
		if ds.Domain.Format == req.Domain.Format ||
			!datasets.CanFormatFulfill(req.Domain.Format, ds.Domain.Format) {
			return false
		}
	}
	return ds.Domain.Contains(req.Domain)
}

// CanBeFulfilled reports whether a requirement is satisfiable: either a
// known dataset covers it, or the job carries enough to derive one. The
// returned dataset is non-nil only for the former case.
func (e *Engine) CanBeFulfilled(ctx context.Context, req *datasets.DataRequirement, jb *job.Job) (bool, *datasets.Dataset) {
	if ds, found := e.FindDatasetForRequirement(req); found {
		return true, ds
	}
	return e.canDerive(ctx, req, jb), nil
}

// canDerive reports whether a recipe exists for the requirement's shape AND
// the recipe's prerequisites are in reach, so a positive answer here means
// the later derivation will not fail on missing inputs.
func (e *Engine) canDerive(ctx context.Context, req *datasets.DataRequirement, jb *job.Job) bool {
	if jb == nil || jb.Request == nil {
		return false
	}
	switch req.Domain.Format {
	case datasets.FormatNGENRealizationConfig:
		return jb.Request.PartialRealization != nil
	case datasets.FormatBMIConfig:
		if _, _, err := e.locateHydrofabric(ctx, jb); err != nil {
			return false
		}
		return e.realizationInReach(ctx, jb)
	case datasets.FormatNGENJobCompositeConfig:
		if !e.realizationInReach(ctx, jb) {
			return false
		}
		if jb.Request.UseTRoute &&
			e.findByFormat(datasets.CategoryConfig, datasets.FormatTRouteConfig, jb.Request.TRouteConfigDataID) == nil {
			return false
		}
		return true
	default:
		return false
	}
}

// realizationInReach reports whether a realization config can be located for
// the job or derived from its partial realization config.
func (e *Engine) realizationInReach(ctx context.Context, jb *job.Job) bool {
	if jb.Request.PartialRealization != nil {
		return true
	}
	_, err := e.locateRealization(ctx, jb)
	return err == nil
}

// resolveAccessAndFulfill records the dataset against the requirement. The
// access location is read from the dataset first so fulfillment never
// stores a name without a usable address.
func resolveAccessAndFulfill(req *datasets.DataRequirement, ds *datasets.Dataset) error {
	accessAt := ds.AccessLocation
	return req.Fulfill(ds.Name, accessAt)
}

// Fulfill records a located dataset against a requirement.
func (e *Engine) Fulfill(req *datasets.DataRequirement, ds *datasets.Dataset) error {
	return resolveAccessAndFulfill(req, ds)
}
