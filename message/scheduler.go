package message

import (
	"encoding/json"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/job"
)

// AllocationParadigm selects how the scheduler spreads a job's cpus over
// nodes. The value set is owned by the scheduler collaborator.
type AllocationParadigm string

// Allocation paradigms accepted by the scheduler.
const (
	AllocateFillNodes    AllocationParadigm = "FILL_NODES"
	AllocateRoundRobin   AllocationParadigm = "ROUND_ROBIN"
	AllocateSingleNode   AllocationParadigm = "SINGLE_NODE"
	AllocateDefaultEmpty AllocationParadigm = ""
)

// SchedulerRequestMessage asks the scheduler collaborator to allocate and
// launch a job for an already-validated model request.
type SchedulerRequestMessage struct {
	Model              job.ModelRequest   `json:"model_request"`
	UserID             string             `json:"user_id"`
	CPUs               int                `json:"cpus,omitempty"`
	Memory             int64              `json:"mem,omitempty"`
	AllocationParadigm AllocationParadigm `json:"allocation_paradigm,omitempty"`
}

// Event returns EventSchedulerRequest.
func (m *SchedulerRequestMessage) Event() EventType { return EventSchedulerRequest }

func (m *SchedulerRequestMessage) isRequest() {}

// DecodeSchedulerRequest accepts frames carrying both a model_request object
// and a user_id.
func DecodeSchedulerRequest(data []byte) (Request, bool) {
	var probe struct {
		Model  json.RawMessage `json:"model_request"`
		UserID string          `json:"user_id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, false
	}
	if len(probe.Model) == 0 || probe.UserID == "" {
		return nil, false
	}
	var req SchedulerRequestMessage
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, false
	}
	if req.Model.JobType == "" {
		return nil, false
	}
	return &req, true
}

// SchedulerPayload is the data payload of a successful scheduling reply.
type SchedulerPayload struct {
	JobID        string `json:"job_id"`
	OutputDataID string `json:"output_data_id,omitempty"`
}

// SchedulerRequestResponse replies to a SchedulerRequestMessage.
type SchedulerRequestResponse struct {
	Response
}

// Event returns EventSchedulerRequest.
func (r *SchedulerRequestResponse) Event() EventType { return EventSchedulerRequest }

// NewSchedulerRequestResponse builds a scheduling reply under the envelope
// invariant: success requires a job id, failure forbids one.
func NewSchedulerRequestResponse(success bool, reason, detail string, payload *SchedulerPayload) (*SchedulerRequestResponse, error) {
	if success && (payload == nil || payload.JobID == "") {
		return nil, errors.WrapFatal(errors.ErrInvalidMessage,
			"SchedulerRequestResponse", "New", "successful response requires a job id")
	}
	if !success && payload != nil {
		return nil, errors.WrapFatal(errors.ErrInvalidMessage,
			"SchedulerRequestResponse", "New", "failed response must not carry a job id")
	}
	data, err := marshalData(payload)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		data = nil
	}
	return &SchedulerRequestResponse{Response: Response{
		Success: success,
		Reason:  reason,
		Message: detail,
		Data:    data,
	}}, nil
}

// Payload extracts the scheduling payload from a successful response.
func (r *SchedulerRequestResponse) Payload() (*SchedulerPayload, error) {
	if !r.Success || len(r.Data) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidMessage,
			"SchedulerRequestResponse", "Payload", "no scheduling payload present")
	}
	var payload SchedulerPayload
	if err := json.Unmarshal(r.Data, &payload); err != nil {
		return nil, errors.WrapInvalid(err, "SchedulerRequestResponse", "Payload", "unmarshal payload")
	}
	return &payload, nil
}
