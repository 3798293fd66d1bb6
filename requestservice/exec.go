package requestservice

import (
	"context"
	"fmt"
	"time"

	"github.com/NOAA-OWP/DMOD-sub002/datasets"
	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/job"
	"github.com/NOAA-OWP/DMOD-sub002/message"
	"github.com/NOAA-OWP/DMOD-sub002/server"
)

// HandleModelExec runs the full submission flow for an external model
// execution request: build the job and its data requirements, verify every
// requirement is satisfiable, fulfill them by lookup or derivation,
// provision the output dataset and hand the job to scheduling.
func (s *Service) HandleModelExec(ctx context.Context, req message.Request, rc *server.RequestContext) (message.ResponseMessage, error) {
	exec, ok := req.(*message.ModelExecRequest)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnsupportedType, "requestservice", "HandleModelExec", "request type check")
	}

	jb := &job.Job{
		ID:               newJobID(),
		User:             requestUser(rc),
		Status:           job.StepAwaitingDataCheck,
		Request:          &exec.Model,
		DataRequirements: buildRequirements(&exec.Model),
	}

	// Every requirement must be satisfiable before anything is mutated, so
	// a rejected job leaves no half-fulfilled state behind.
	for _, dataReq := range jb.DataRequirements {
		if fulfillable, _ := s.engine.CanBeFulfilled(ctx, dataReq, jb); !fulfillable {
			s.logger.Info("job rejected: unsatisfiable requirement",
				"job", jb.ID, "category", dataReq.Category, "format", dataReq.Domain.Format)
			return message.NewModelExecResponse(false, message.ReasonRejected,
				fmt.Sprintf("no dataset satisfies the %s requirement in format %s and none can be derived",
					dataReq.Category, dataReq.Domain.Format), nil)
		}
	}

	jb.Status = job.StepAwaitingData

	// Fulfill by lookup first; whatever remains is derived.
	for _, dataReq := range jb.DataRequirements {
		if ds, found := s.engine.FindDatasetForRequirement(dataReq); found {
			if err := s.engine.Fulfill(dataReq, ds); err != nil {
				return nil, err
			}
		}
	}
	if err := s.engine.DeriveForJob(ctx, jb); err != nil {
		s.logger.Warn("derivation failed", "job", jb.ID, "error", err)
		jb.Status = job.StepFailed
		s.track(jb)
		return message.NewModelExecResponse(false, message.ReasonRejected,
			fmt.Sprintf("required data could not be derived: %v", err), nil)
	}

	outputID, err := s.createOutputDataset(ctx, jb)
	if err != nil {
		s.logger.Error("output dataset creation failed", "job", jb.ID, "error", err)
		jb.Status = job.StepFailed
		s.track(jb)
		return message.NewModelExecResponse(false, message.ReasonRejected,
			"could not provision output dataset", nil)
	}

	jb.Status = job.StepAwaitingScheduled
	s.track(jb)
	s.logger.Info("model execution accepted",
		"job", jb.ID, "user", jb.User, "job_type", exec.Model.JobType, "output", outputID)
	return message.NewModelExecResponse(true, message.ReasonAccepted, "",
		&message.ModelExecPayload{JobID: jb.ID, OutputDataID: outputID})
}

// createOutputDataset provisions the dataset the job's results will land
// in. The dataset name doubles as its data id.
func (s *Service) createOutputDataset(ctx context.Context, jb *job.Job) (string, error) {
	name := fmt.Sprintf("job-%s-output", jb.ID)
	format := datasets.FormatNGENOutput
	if jb.Request != nil && jb.Request.JobType == "nwm" {
		format = datasets.FormatNWMOutput
	}
	domain := datasets.DataDomain{
		Format: format,
		DiscreteRestrictions: []datasets.DiscreteRestriction{
			{Variable: datasets.VariableDataID, Values: []string{name}},
		},
	}
	ds, err := s.collection.CreateDataset(ctx, name, datasets.CategoryOutput, domain, false, nil)
	if err != nil {
		return "", err
	}
	return ds.Name, nil
}

// Accepted layouts for request time bounds.
var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseRequestTime(value string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// buildRequirements derives the job's data requirements from its model
// request, in a fixed declaration order: forcing, hydrofabric, realization
// config, BMI configs, composite config.
func buildRequirements(model *job.ModelRequest) []*datasets.DataRequirement {
	var reqs []*datasets.DataRequirement

	catchments := datasets.DiscreteRestriction{
		Variable: datasets.VariableCatchmentID,
		Values:   model.CatchmentIDs,
	}

	if model.TimeRangeBegin != "" && model.TimeRangeEnd != "" {
		begin, okBegin := parseRequestTime(model.TimeRangeBegin)
		end, okEnd := parseRequestTime(model.TimeRangeEnd)
		if okBegin && okEnd {
			reqs = append(reqs, &datasets.DataRequirement{
				Category: datasets.CategoryForcing,
				IsInput:  true,
				Domain: datasets.DataDomain{
					Format: datasets.FormatAorcCSV,
					ContinuousRestrictions: []datasets.ContinuousRestriction{
						{Variable: datasets.VariableTime, Begin: begin, End: end},
					},
					DiscreteRestrictions: []datasets.DiscreteRestriction{catchments},
				},
			})
		}
	}

	if model.HydrofabricDataID != "" {
		reqs = append(reqs, &datasets.DataRequirement{
			Category: datasets.CategoryHydrofabric,
			IsInput:  true,
			Domain: datasets.DataDomain{
				Format: datasets.FormatNGENGeoPackageHydrofabricV2,
				DiscreteRestrictions: []datasets.DiscreteRestriction{
					{Variable: datasets.VariableDataID, Values: []string{model.HydrofabricDataID}},
				},
			},
		})
	}

	realizationRestrictions := []datasets.DiscreteRestriction{catchments}
	if model.ConfigDataID != "" {
		realizationRestrictions = append(realizationRestrictions, datasets.DiscreteRestriction{
			Variable: datasets.VariableDataID,
			Values:   []string{model.ConfigDataID},
		})
	}
	reqs = append(reqs, &datasets.DataRequirement{
		Category: datasets.CategoryConfig,
		IsInput:  true,
		Domain: datasets.DataDomain{
			Format:               datasets.FormatNGENRealizationConfig,
			DiscreteRestrictions: realizationRestrictions,
		},
	})

	if model.BMIConfigDataID != "" {
		reqs = append(reqs, &datasets.DataRequirement{
			Category: datasets.CategoryConfig,
			IsInput:  true,
			Domain: datasets.DataDomain{
				Format: datasets.FormatBMIConfig,
				DiscreteRestrictions: []datasets.DiscreteRestriction{
					{Variable: datasets.VariableDataID, Values: []string{model.BMIConfigDataID}},
				},
			},
		})
	}

	if model.JobType == "ngen" || model.JobType == "ngen-cal" {
		compositeRestrictions := []datasets.DiscreteRestriction{catchments}
		if model.CompositeConfigID != "" {
			compositeRestrictions = append(compositeRestrictions, datasets.DiscreteRestriction{
				Variable: datasets.VariableDataID,
				Values:   []string{model.CompositeConfigID},
			})
		}
		reqs = append(reqs, &datasets.DataRequirement{
			Category: datasets.CategoryConfig,
			IsInput:  true,
			Domain: datasets.DataDomain{
				Format:               datasets.FormatNGENJobCompositeConfig,
				DiscreteRestrictions: compositeRestrictions,
			},
		})
	}

	return reqs
}
