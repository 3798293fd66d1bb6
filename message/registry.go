package message

import (
	"encoding/json"
	"fmt"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
)

// DecodeFunc attempts to build a concrete Request from a raw JSON frame.
// It returns ok=false when the frame does not belong to this type; decoders
// never panic and never treat a mismatch as an error.
type DecodeFunc func(data []byte) (Request, bool)

// RegistryEntry pairs a request type name with its decoder.
type RegistryEntry struct {
	Name   string
	Event  EventType
	Decode DecodeFunc
}

// Registry holds the ordered set of request types a listener can parse.
// Frames are decoded by trying each entry in registration order; the first
// decoder that accepts the frame wins, so more specific types must be
// registered before structurally weaker ones.
type Registry struct {
	entries []RegistryEntry
	byName  map[string]struct{}
}

// NewRegistry creates an empty request-type registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]struct{})}
}

// Register appends a request type. Registering the same name twice is a
// configuration error surfaced eagerly at startup.
func (r *Registry) Register(entry RegistryEntry) error {
	if entry.Name == "" || entry.Decode == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "entry validation")
	}
	if _, exists := r.byName[entry.Name]; exists {
		return errors.WrapFatal(
			fmt.Errorf("request type %q already registered", entry.Name),
			"Registry", "Register", "duplicate type check")
	}
	r.byName[entry.Name] = struct{}{}
	r.entries = append(r.entries, entry)
	return nil
}

// Entries returns the registered types in registration order.
func (r *Registry) Entries() []RegistryEntry {
	out := make([]RegistryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// DecodeStatus classifies the outcome of decoding a frame.
type DecodeStatus int

const (
	// DecodeMatched means a registered type accepted the frame.
	DecodeMatched DecodeStatus = iota
	// DecodeNotJSON means the frame is not even a JSON object; decoders
	// were never consulted.
	DecodeNotJSON
	// DecodeUnrecognized means the frame is a JSON object that no
	// registered type accepted.
	DecodeUnrecognized
)

// Decode parses a frame against every registered type in order. The status
// separates a frame that is not a JSON object from one that is valid JSON
// but matches no registered type; callers treat the two differently.
func (r *Registry) Decode(data []byte) (Request, DecodeStatus) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, DecodeNotJSON
	}
	for _, entry := range r.entries {
		if req, ok := entry.Decode(data); ok {
			return req, DecodeMatched
		}
	}
	return nil, DecodeUnrecognized
}

// DefaultRegistry returns a registry holding every concrete request type in
// canonical order. Types with strong discriminators come first; the
// structurally weakest (session init) comes last.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	entries := []RegistryEntry{
		{Name: "ModelExecRequest", Event: EventModelExecRequest, Decode: DecodeModelExecRequest},
		{Name: "SchedulerRequestMessage", Event: EventSchedulerRequest, Decode: DecodeSchedulerRequest},
		{Name: "DatasetManagementMessage", Event: EventDatasetManagement, Decode: DecodeDatasetManagement},
		{Name: "DataTransmitMessage", Event: EventDataTransmission, Decode: DecodeDataTransmit},
		{Name: "PartitionRequest", Event: EventPartitionRequest, Decode: DecodePartitionRequest},
		{Name: "EvaluationRequest", Event: EventEvaluationRequest, Decode: DecodeEvaluationRequest},
		{Name: "CalibrationRequest", Event: EventCalibrationRequest, Decode: DecodeCalibrationRequest},
		{Name: "MetadataMessage", Event: EventMetadata, Decode: DecodeMetadataMessage},
		{Name: "SessionInitMessage", Event: EventSessionInit, Decode: DecodeSessionInit},
	}
	for _, e := range entries {
		// Entries are compile-time constants; a duplicate here is a bug.
		if err := r.Register(e); err != nil {
			panic(err)
		}
	}
	return r
}
