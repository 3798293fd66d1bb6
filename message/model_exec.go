package message

import (
	"encoding/json"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/job"
)

// ModelExecRequest submits a model execution job. It composes session
// authentication with the job-request core; the job_type field is the
// discriminator selecting concrete decode logic.
type ModelExecRequest struct {
	Model  job.ModelRequest
	Secret string
}

// Event returns EventModelExecRequest.
func (m *ModelExecRequest) Event() EventType { return EventModelExecRequest }

func (m *ModelExecRequest) isRequest() {}

// SessionSecret returns the attached session secret.
func (m *ModelExecRequest) SessionSecret() string { return m.Secret }

// ApplySecret attaches session credentials.
func (m *ModelExecRequest) ApplySecret(secret string) { m.Secret = secret }

// modelExecWire is the JSON frame; this family writes the modern
// "session_secret" key.
type modelExecWire struct {
	Model  job.ModelRequest `json:"model_request"`
	Secret string           `json:"session_secret"`
	sessionSecretWire
}

// MarshalJSON renders the canonical frame.
func (m *ModelExecRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(modelExecWire{Model: m.Model, Secret: m.Secret})
}

// UnmarshalJSON parses a canonical frame, accepting the secret under either key.
func (m *ModelExecRequest) UnmarshalJSON(data []byte) error {
	var wire modelExecWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Model = wire.Model
	m.Secret = wire.Secret
	if m.Secret == "" {
		m.Secret = wire.value()
	}
	return nil
}

// DecodeModelExecRequest accepts frames whose model_request carries a known
// job_type.
func DecodeModelExecRequest(data []byte) (Request, bool) {
	var req ModelExecRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, false
	}
	switch req.Model.JobType {
	case "ngen", "ngen-cal", "nwm":
		return &req, true
	default:
		return nil, false
	}
}

// ModelExecPayload is the data payload of a successful execution submission.
type ModelExecPayload struct {
	JobID        string `json:"job_id"`
	OutputDataID string `json:"output_data_id,omitempty"`
}

// ModelExecResponse replies to a ModelExecRequest.
type ModelExecResponse struct {
	Response
}

// Event returns EventModelExecRequest.
func (r *ModelExecResponse) Event() EventType { return EventModelExecRequest }

// NewModelExecResponse builds an execution reply. A successful reply must
// name the job it created; a failed reply must not.
func NewModelExecResponse(success bool, reason, detail string, payload *ModelExecPayload) (*ModelExecResponse, error) {
	if success && (payload == nil || payload.JobID == "") {
		return nil, errors.WrapFatal(errors.ErrInvalidMessage,
			"ModelExecResponse", "New", "successful response requires a job id")
	}
	if !success && payload != nil {
		return nil, errors.WrapFatal(errors.ErrInvalidMessage,
			"ModelExecResponse", "New", "failed response must not carry a job id")
	}
	data, err := marshalData(payload)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		data = nil
	}
	return &ModelExecResponse{Response: Response{
		Success: success,
		Reason:  reason,
		Message: detail,
		Data:    data,
	}}, nil
}

// Payload extracts the job payload from a successful response.
func (r *ModelExecResponse) Payload() (*ModelExecPayload, error) {
	if !r.Success || len(r.Data) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidMessage,
			"ModelExecResponse", "Payload", "no job payload present")
	}
	var payload ModelExecPayload
	if err := json.Unmarshal(r.Data, &payload); err != nil {
		return nil, errors.WrapInvalid(err, "ModelExecResponse", "Payload", "unmarshal payload")
	}
	return &payload, nil
}
