package message

import (
	"encoding/json"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
)

// PartitionRequest asks the partitioner collaborator for an ngen partition
// configuration over a hydrofabric. This family writes the legacy secret key.
type PartitionRequest struct {
	PartitionCount    int    `json:"partition_count"`
	HydrofabricDataID string `json:"hydrofabric_data_id"`
	HydrofabricUID    string `json:"hydrofabric_uid,omitempty"`
	Description       string `json:"description,omitempty"`
	Secret            string `json:"-"`
}

// Event returns EventPartitionRequest.
func (m *PartitionRequest) Event() EventType { return EventPartitionRequest }

func (m *PartitionRequest) isRequest() {}

// SessionSecret returns the attached session secret.
func (m *PartitionRequest) SessionSecret() string { return m.Secret }

// ApplySecret attaches session credentials.
func (m *PartitionRequest) ApplySecret(secret string) { m.Secret = secret }

type partitionWire struct {
	PartitionCount    int    `json:"partition_count"`
	HydrofabricDataID string `json:"hydrofabric_data_id"`
	HydrofabricUID    string `json:"hydrofabric_uid,omitempty"`
	Description       string `json:"description,omitempty"`
	Secret            string `json:"session-secret,omitempty"`
	ModernKey         string `json:"session_secret,omitempty"`
}

// MarshalJSON renders the canonical frame.
func (m *PartitionRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(partitionWire{
		PartitionCount:    m.PartitionCount,
		HydrofabricDataID: m.HydrofabricDataID,
		HydrofabricUID:    m.HydrofabricUID,
		Description:       m.Description,
		Secret:            m.Secret,
	})
}

// UnmarshalJSON parses a canonical frame, accepting the secret under either key.
func (m *PartitionRequest) UnmarshalJSON(data []byte) error {
	var wire partitionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.PartitionCount = wire.PartitionCount
	m.HydrofabricDataID = wire.HydrofabricDataID
	m.HydrofabricUID = wire.HydrofabricUID
	m.Description = wire.Description
	m.Secret = wire.Secret
	if m.Secret == "" {
		m.Secret = wire.ModernKey
	}
	return nil
}

// DecodePartitionRequest accepts frames carrying a partition count and a
// hydrofabric data id.
func DecodePartitionRequest(data []byte) (Request, bool) {
	var req PartitionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, false
	}
	if req.PartitionCount <= 0 || req.HydrofabricDataID == "" {
		return nil, false
	}
	return &req, true
}

// PartitionResponse replies to a PartitionRequest; on success Data carries
// the data id of the dataset holding the partition config.
type PartitionResponse struct {
	Response
}

// Event returns EventPartitionRequest.
func (r *PartitionResponse) Event() EventType { return EventPartitionRequest }

// PartitionPayload is the data payload of a successful partition reply.
type PartitionPayload struct {
	DataID string `json:"data_id"`
}

// NewPartitionResponse builds a partition reply under the envelope invariant.
func NewPartitionResponse(success bool, reason, detail string, payload *PartitionPayload) (*PartitionResponse, error) {
	if success && (payload == nil || payload.DataID == "") {
		return nil, errors.WrapFatal(errors.ErrInvalidMessage,
			"PartitionResponse", "New", "successful response requires a data id")
	}
	if !success && payload != nil {
		return nil, errors.WrapFatal(errors.ErrInvalidMessage,
			"PartitionResponse", "New", "failed response must not carry a data id")
	}
	data, err := marshalData(payload)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		data = nil
	}
	return &PartitionResponse{Response: Response{
		Success: success,
		Reason:  reason,
		Message: detail,
		Data:    data,
	}}, nil
}

// Payload extracts the partition payload from a successful response.
func (r *PartitionResponse) Payload() (*PartitionPayload, error) {
	if !r.Success || len(r.Data) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidMessage,
			"PartitionResponse", "Payload", "no partition payload present")
	}
	var payload PartitionPayload
	if err := json.Unmarshal(r.Data, &payload); err != nil {
		return nil, errors.WrapInvalid(err, "PartitionResponse", "Payload", "unmarshal payload")
	}
	return &payload, nil
}

// EvaluationRequest submits an evaluation job naming the evaluation spec by
// data id.
type EvaluationRequest struct {
	EvaluationName string `json:"evaluation_name"`
	SpecDataID     string `json:"evaluation_spec_data_id"`
	Secret         string `json:"session_secret,omitempty"`
}

// Event returns EventEvaluationRequest.
func (m *EvaluationRequest) Event() EventType { return EventEvaluationRequest }

func (m *EvaluationRequest) isRequest() {}

// SessionSecret returns the attached session secret.
func (m *EvaluationRequest) SessionSecret() string { return m.Secret }

// ApplySecret attaches session credentials.
func (m *EvaluationRequest) ApplySecret(secret string) { m.Secret = secret }

// DecodeEvaluationRequest accepts frames naming an evaluation and its spec.
func DecodeEvaluationRequest(data []byte) (Request, bool) {
	var req EvaluationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, false
	}
	if req.EvaluationName == "" || req.SpecDataID == "" {
		return nil, false
	}
	if req.Secret == "" {
		var legacy sessionSecretWire
		if err := json.Unmarshal(data, &legacy); err == nil {
			req.Secret = legacy.value()
		}
	}
	return &req, true
}

// CalibrationRequest submits an ngen-cal calibration job naming its
// calibration config by data id.
type CalibrationRequest struct {
	CalConfigDataID string `json:"ngen_cal_config_data_id"`
	Iterations      int    `json:"iterations,omitempty"`
	Secret          string `json:"session_secret,omitempty"`
}

// Event returns EventCalibrationRequest.
func (m *CalibrationRequest) Event() EventType { return EventCalibrationRequest }

func (m *CalibrationRequest) isRequest() {}

// SessionSecret returns the attached session secret.
func (m *CalibrationRequest) SessionSecret() string { return m.Secret }

// ApplySecret attaches session credentials.
func (m *CalibrationRequest) ApplySecret(secret string) { m.Secret = secret }

// DecodeCalibrationRequest accepts frames naming a calibration config.
func DecodeCalibrationRequest(data []byte) (Request, bool) {
	var req CalibrationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, false
	}
	if req.CalConfigDataID == "" {
		return nil, false
	}
	if req.Secret == "" {
		var legacy sessionSecretWire
		if err := json.Unmarshal(data, &legacy); err == nil {
			req.Secret = legacy.value()
		}
	}
	return &req, true
}

// MetadataPurpose says why a metadata frame was sent.
type MetadataPurpose string

// Metadata purposes.
const (
	MetadataConnect    MetadataPurpose = "CONNECT"
	MetadataDisconnect MetadataPurpose = "DISCONNECT"
	MetadataPrompt     MetadataPurpose = "PROMPT"
	MetadataUnchanged  MetadataPurpose = "UNCHANGED"
)

// MetadataMessage negotiates connection-level metadata, such as announcing
// an intent to keep the connection open across multiple exchanges.
type MetadataMessage struct {
	Purpose     MetadataPurpose `json:"purpose"`
	Description string          `json:"description,omitempty"`
	Additional  json.RawMessage `json:"additional_metadata,omitempty"`
}

// Event returns EventMetadata.
func (m *MetadataMessage) Event() EventType { return EventMetadata }

func (m *MetadataMessage) isRequest() {}

// DecodeMetadataMessage accepts frames carrying a known metadata purpose.
func DecodeMetadataMessage(data []byte) (Request, bool) {
	var req MetadataMessage
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, false
	}
	switch req.Purpose {
	case MetadataConnect, MetadataDisconnect, MetadataPrompt, MetadataUnchanged:
		return &req, true
	default:
		return nil, false
	}
}

// MetadataResponse acknowledges a MetadataMessage.
type MetadataResponse struct {
	Response
}

// Event returns EventMetadata.
func (r *MetadataResponse) Event() EventType { return EventMetadata }

// NewMetadataResponse builds a metadata acknowledgment.
func NewMetadataResponse(success bool, reason, detail string) *MetadataResponse {
	return &MetadataResponse{Response: Response{
		Success: success,
		Reason:  reason,
		Message: detail,
	}}
}
