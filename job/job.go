// Package job defines the job types the protocol and inquiry layers operate
// on. Scheduling and execution of jobs are owned by external services; this
// package only models the fields those collaborators exchange.
package job

import (
	"encoding/json"

	"github.com/NOAA-OWP/DMOD-sub002/datasets"
)

// StatusStep is the fine-grained step of a job within its lifecycle phase.
type StatusStep string

// Steps relevant to data-requirement resolution. The full lifecycle is owned
// by the external scheduler.
const (
	StepAwaitingDataCheck StatusStep = "AWAITING_DATA_CHECK"
	StepAwaitingData      StatusStep = "AWAITING_DATA"
	StepAwaitingScheduled StatusStep = "AWAITING_SCHEDULING"
	StepRunning           StatusStep = "RUNNING"
	StepCompleted         StatusStep = "COMPLETED"
	StepFailed            StatusStep = "FAILED"
)

// Formulation is an opaque ngen formulation fragment embedded in a model
// request. The derivation engine copies fragments structurally into a
// realization config without interpreting model internals.
type Formulation struct {
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params"`
}

// PartialRealizationConfig carries the formulation fragments and global
// defaults from which a full realization config can be synthesized.
type PartialRealizationConfig struct {
	GlobalFormulations []Formulation              `json:"global_formulations,omitempty"`
	CatchmentConfigs   map[string]json.RawMessage `json:"catchment_configs,omitempty"`
	ForcingPattern     string                     `json:"forcing_pattern,omitempty"`
	IsEnvCanSpecify    bool                       `json:"is_env_workaround,omitempty"`
}

// ModelRequest is the execution-request portion of a job: what to run,
// where, and over which window. It is treated as data by this platform.
type ModelRequest struct {
	JobType            string                    `json:"job_type"`
	ConfigDataID       string                    `json:"config_data_id"`
	BMIConfigDataID    string                    `json:"bmi_config_data_id,omitempty"`
	HydrofabricDataID  string                    `json:"hydrofabric_data_id,omitempty"`
	HydrofabricUID     string                    `json:"hydrofabric_uid,omitempty"`
	CompositeConfigID  string                    `json:"composite_config_data_id,omitempty"`
	PartitionConfigID  string                    `json:"partition_cfg_data_id,omitempty"`
	CatchmentIDs       []string                  `json:"catchments,omitempty"`
	TimeRangeBegin     string                    `json:"time_range_begin,omitempty"`
	TimeRangeEnd       string                    `json:"time_range_end,omitempty"`
	PartialRealization *PartialRealizationConfig `json:"partial_realization_config,omitempty"`
	UseTRoute          bool                      `json:"t_route,omitempty"`
	TRouteConfigDataID string                    `json:"t_route_config_data_id,omitempty"`
	NGENCalConfigID    string                    `json:"ngen_cal_config_data_id,omitempty"`
}

// Job couples a model request with its resolved resources and data
// requirements. The inquiry engine mutates only DataRequirements and Status.
type Job struct {
	ID               string                      `json:"job_id"`
	User             string                      `json:"user_id"`
	Status           StatusStep                  `json:"status_step"`
	CPUCount         int                         `json:"cpu_count,omitempty"`
	MemoryBytes      int64                       `json:"memory,omitempty"`
	Request          *ModelRequest               `json:"model_request"`
	DataRequirements []*datasets.DataRequirement `json:"data_requirements"`
}

// UnfulfilledRequirements returns the requirements not yet resolved to a
// dataset, in declaration order.
func (j *Job) UnfulfilledRequirements() []*datasets.DataRequirement {
	var out []*datasets.DataRequirement
	for _, r := range j.DataRequirements {
		if !r.IsFulfilled() {
			out = append(out, r)
		}
	}
	return out
}
