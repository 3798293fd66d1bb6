package message

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates message families for routing and dispatch.
type EventType int

const (
	// EventInvalid marks a frame that matched no registered request type.
	EventInvalid EventType = iota
	// EventSessionInit starts an authenticated session.
	EventSessionInit
	// EventModelExecRequest submits a model execution job.
	EventModelExecRequest
	// EventSchedulerRequest asks the scheduler collaborator to allocate a job.
	EventSchedulerRequest
	// EventInformationUpdate carries asynchronous status updates.
	EventInformationUpdate
	// EventMetadata negotiates connection-level metadata.
	EventMetadata
	// EventPartitionRequest asks for an ngen partition configuration.
	EventPartitionRequest
	// EventEvaluationRequest submits an evaluation job.
	EventEvaluationRequest
	// EventCalibrationRequest submits an ngen-cal calibration job.
	EventCalibrationRequest
	// EventDatasetManagement manages datasets over the protocol.
	EventDatasetManagement
	// EventDataTransmission carries chunked dataset item payloads.
	EventDataTransmission
)

var eventTypeNames = map[EventType]string{
	EventInvalid:            "INVALID",
	EventSessionInit:        "SESSION_INIT",
	EventModelExecRequest:   "MODEL_EXEC_REQUEST",
	EventSchedulerRequest:   "SCHEDULER_REQUEST",
	EventInformationUpdate:  "INFORMATION_UPDATE",
	EventMetadata:           "METADATA",
	EventPartitionRequest:   "PARTITION_REQUEST",
	EventEvaluationRequest:  "EVALUATION_REQUEST",
	EventCalibrationRequest: "CALIBRATION_REQUEST",
	EventDatasetManagement:  "DATASET_MANAGEMENT",
	EventDataTransmission:   "DATA_TRANSMISSION",
}

var eventTypeValues = func() map[string]EventType {
	m := make(map[string]EventType, len(eventTypeNames))
	for et, name := range eventTypeNames {
		m[name] = et
	}
	return m
}()

// String returns the canonical wire name of the event type.
func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "INVALID"
}

// ParseEventType converts a wire name into an EventType.
func ParseEventType(name string) (EventType, bool) {
	et, ok := eventTypeValues[name]
	return et, ok
}

// MarshalJSON encodes the event type as its canonical name.
func (et EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(et.String())
}

// UnmarshalJSON decodes an event type from its canonical name.
func (et *EventType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, ok := ParseEventType(name)
	if !ok {
		return fmt.Errorf("unrecognized event type %q", name)
	}
	*et = parsed
	return nil
}
