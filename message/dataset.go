package message

import (
	"encoding/json"

	"github.com/NOAA-OWP/DMOD-sub002/datasets"
	"github.com/NOAA-OWP/DMOD-sub002/errors"
)

// ManagementAction is the dataset-management operation a client requests.
type ManagementAction string

// Dataset management actions mirroring the storage backend surface.
const (
	ActionCreate      ManagementAction = "CREATE"
	ActionAddData     ManagementAction = "ADD_DATA"
	ActionQuery       ManagementAction = "QUERY"
	ActionDelete      ManagementAction = "DELETE"
	ActionListAll     ManagementAction = "LIST_ALL"
	ActionRequestData ManagementAction = "REQUEST_DATA"
)

var managementActions = map[ManagementAction]struct{}{
	ActionCreate: {}, ActionAddData: {}, ActionQuery: {},
	ActionDelete: {}, ActionListAll: {}, ActionRequestData: {},
}

// DatasetManagementMessage manages datasets over the protocol. This family
// predates the modern secret key and still writes "session-secret".
type DatasetManagementMessage struct {
	Action      ManagementAction      `json:"action"`
	DatasetName string                `json:"dataset_name,omitempty"`
	Category    datasets.DataCategory `json:"category,omitempty"`
	Domain      *datasets.DataDomain  `json:"data_domain,omitempty"`
	ReadOnly    bool                  `json:"is_read_only,omitempty"`
	ItemName    string                `json:"item_name,omitempty"`
	PendingData bool                  `json:"is_pending_data,omitempty"`
	Secret      string                `json:"-"`
}

// Event returns EventDatasetManagement.
func (m *DatasetManagementMessage) Event() EventType { return EventDatasetManagement }

func (m *DatasetManagementMessage) isRequest() {}

// SessionSecret returns the attached session secret.
func (m *DatasetManagementMessage) SessionSecret() string { return m.Secret }

// ApplySecret attaches session credentials.
func (m *DatasetManagementMessage) ApplySecret(secret string) { m.Secret = secret }

type datasetManagementWire struct {
	Action      ManagementAction      `json:"action"`
	DatasetName string                `json:"dataset_name,omitempty"`
	Category    datasets.DataCategory `json:"category,omitempty"`
	Domain      *datasets.DataDomain  `json:"data_domain,omitempty"`
	ReadOnly    bool                  `json:"is_read_only,omitempty"`
	ItemName    string                `json:"item_name,omitempty"`
	PendingData bool                  `json:"is_pending_data,omitempty"`
	Secret      string                `json:"session-secret,omitempty"`
	ModernKey   string                `json:"session_secret,omitempty"`
}

// MarshalJSON renders the canonical frame, writing the legacy secret key.
func (m *DatasetManagementMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(datasetManagementWire{
		Action:      m.Action,
		DatasetName: m.DatasetName,
		Category:    m.Category,
		Domain:      m.Domain,
		ReadOnly:    m.ReadOnly,
		ItemName:    m.ItemName,
		PendingData: m.PendingData,
		Secret:      m.Secret,
	})
}

// UnmarshalJSON parses a canonical frame, accepting the secret under either key.
func (m *DatasetManagementMessage) UnmarshalJSON(data []byte) error {
	var wire datasetManagementWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Action = wire.Action
	m.DatasetName = wire.DatasetName
	m.Category = wire.Category
	m.Domain = wire.Domain
	m.ReadOnly = wire.ReadOnly
	m.ItemName = wire.ItemName
	m.PendingData = wire.PendingData
	m.Secret = wire.Secret
	if m.Secret == "" {
		m.Secret = wire.ModernKey
	}
	return nil
}

// DecodeDatasetManagement accepts frames carrying a recognized management
// action.
func DecodeDatasetManagement(data []byte) (Request, bool) {
	var req DatasetManagementMessage
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, false
	}
	if _, ok := managementActions[req.Action]; !ok {
		return nil, false
	}
	return &req, true
}

// DatasetManagementPayload is the data payload of a management reply.
type DatasetManagementPayload struct {
	DatasetName string   `json:"dataset_name,omitempty"`
	ItemName    string   `json:"item_name,omitempty"`
	Datasets    []string `json:"datasets,omitempty"`
	Items       []string `json:"items,omitempty"`
	IsAwaiting  bool     `json:"is_awaiting,omitempty"`
	// SeriesUUID identifies the transfer series opened for a pending
	// upload; subsequent DATA_TRANSMISSION chunks must echo it.
	SeriesUUID string `json:"series_uuid,omitempty"`
	// Data carries item content inline for REQUEST_DATA replies, base64
	// encoded.
	Data string `json:"data,omitempty"`
}

// DatasetManagementResponse replies to a DatasetManagementMessage.
type DatasetManagementResponse struct {
	Response
}

// Event returns EventDatasetManagement.
func (r *DatasetManagementResponse) Event() EventType { return EventDatasetManagement }

// NewDatasetManagementResponse builds a management reply. A successful
// CREATE/QUERY style reply carries its payload; a failed reply carries none.
func NewDatasetManagementResponse(success bool, reason, detail string, payload *DatasetManagementPayload) (*DatasetManagementResponse, error) {
	if !success && payload != nil {
		return nil, errors.WrapFatal(errors.ErrInvalidMessage,
			"DatasetManagementResponse", "New", "failed response must not carry a payload")
	}
	data, err := marshalData(payload)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		data = nil
	}
	return &DatasetManagementResponse{Response: Response{
		Success: success,
		Reason:  reason,
		Message: detail,
		Data:    data,
	}}, nil
}

// Payload extracts the management payload, if present.
func (r *DatasetManagementResponse) Payload() (*DatasetManagementPayload, error) {
	if len(r.Data) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidMessage,
			"DatasetManagementResponse", "Payload", "no payload present")
	}
	var payload DatasetManagementPayload
	if err := json.Unmarshal(r.Data, &payload); err != nil {
		return nil, errors.WrapInvalid(err, "DatasetManagementResponse", "Payload", "unmarshal payload")
	}
	return &payload, nil
}

// DataTransmitMessage carries one chunk of a dataset item being uploaded
// over the protocol. Chunks in one transfer share a series UUID; the final
// chunk sets IsLast.
type DataTransmitMessage struct {
	SeriesUUID string `json:"series_uuid"`
	Data       string `json:"data"`
	IsLast     bool   `json:"is_last"`
	Secret     string `json:"-"`
}

// Event returns EventDataTransmission.
func (m *DataTransmitMessage) Event() EventType { return EventDataTransmission }

func (m *DataTransmitMessage) isRequest() {}

// SessionSecret returns the attached session secret.
func (m *DataTransmitMessage) SessionSecret() string { return m.Secret }

// ApplySecret attaches session credentials.
func (m *DataTransmitMessage) ApplySecret(secret string) { m.Secret = secret }

type dataTransmitWire struct {
	SeriesUUID string `json:"series_uuid"`
	Data       string `json:"data"`
	IsLast     bool   `json:"is_last"`
	Secret     string `json:"session-secret,omitempty"`
	ModernKey  string `json:"session_secret,omitempty"`
}

// MarshalJSON renders the canonical frame, writing the legacy secret key.
func (m *DataTransmitMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(dataTransmitWire{
		SeriesUUID: m.SeriesUUID,
		Data:       m.Data,
		IsLast:     m.IsLast,
		Secret:     m.Secret,
	})
}

// UnmarshalJSON parses a canonical frame, accepting the secret under either key.
func (m *DataTransmitMessage) UnmarshalJSON(data []byte) error {
	var wire dataTransmitWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.SeriesUUID = wire.SeriesUUID
	m.Data = wire.Data
	m.IsLast = wire.IsLast
	m.Secret = wire.Secret
	if m.Secret == "" {
		m.Secret = wire.ModernKey
	}
	return nil
}

// DecodeDataTransmit accepts frames carrying a series UUID and a data chunk.
func DecodeDataTransmit(data []byte) (Request, bool) {
	var req DataTransmitMessage
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, false
	}
	if req.SeriesUUID == "" || req.Data == "" {
		return nil, false
	}
	return &req, true
}

// DataTransmitResponse acknowledges one transmitted chunk.
type DataTransmitResponse struct {
	Response
}

// Event returns EventDataTransmission.
func (r *DataTransmitResponse) Event() EventType { return EventDataTransmission }

// NewDataTransmitResponse builds a chunk acknowledgment.
func NewDataTransmitResponse(success bool, reason, detail string) *DataTransmitResponse {
	return &DataTransmitResponse{Response: Response{
		Success: success,
		Reason:  reason,
		Message: detail,
	}}
}
