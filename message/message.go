package message

import (
	"encoding/json"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
)

// Message is the common contract of every protocol envelope. Messages are
// immutable once constructed and round-trip to a canonical JSON object.
type Message interface {
	// Event returns the fixed event-type discriminator of this message family.
	Event() EventType
}

// Request is a message that expects exactly one Response.
type Request interface {
	Message
	isRequest()
}

// ExternalRequest is a Request that must prove possession of a session
// secret before it is dispatched server-side.
type ExternalRequest interface {
	Request
	// SessionSecret returns the secret attached to the request.
	SessionSecret() string
	// ApplySecret attaches session credentials; used by the auth client
	// before the request leaves the process.
	ApplySecret(secret string)
}

// ResponseMessage is the contract of every reply envelope.
type ResponseMessage interface {
	Message
	// Envelope exposes the common success/reason/message/data fields.
	Envelope() *Response
}

// Response is the envelope common to all replies. Concrete response types
// embed it and add typed payload accessors over Data.
type Response struct {
	Success bool            `json:"success"`
	Reason  string          `json:"reason"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Envelope returns the response itself, satisfying ResponseMessage for
// embedding types.
func (r *Response) Envelope() *Response { return r }

// Short reason codes drawn from the closed vocabulary used across services.
const (
	ReasonUnrecognizedSecret = "UNRECOGNIZED_SESSION_SECRET"
	ReasonExpiredSession     = "EXPIRED_SESSION"
	ReasonUnauthorized       = "UNAUTHORIZED"
	ReasonSessionCreated     = "SESSION_CREATED"
	ReasonInvalidMessage     = "INVALID_MESSAGE"
	ReasonUnsupportedType    = "UNSUPPORTED_MESSAGE_TYPE"
	ReasonHandlerError       = "HANDLER_ERROR"
	ReasonTransportError     = "TRANSPORT_ERROR"
	ReasonMalformedResponse  = "MALFORMED_RESPONSE"
	ReasonEmptyResponse      = "EMPTY_RESPONSE"
	ReasonAuthFailure        = "AUTH_FAILURE"
	ReasonAccepted           = "ACCEPTED"
	ReasonRejected           = "REJECTED"
)

// Serialize renders a message as its canonical JSON frame.
func Serialize(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.WrapInvalid(err, "message", "Serialize", "marshal message")
	}
	return data, nil
}

// marshalData marshals a typed payload into the envelope Data field.
func marshalData(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapInvalid(err, "message", "marshalData", "marshal payload")
	}
	return data, nil
}

// sessionSecretWire reads a session secret from either of the two accepted
// wire keys. Message families differ in which key they write, but both must
// be accepted on read.
type sessionSecretWire struct {
	Secret       string `json:"session_secret,omitempty"`
	LegacySecret string `json:"session-secret,omitempty"`
}

func (w sessionSecretWire) value() string {
	if w.Secret != "" {
		return w.Secret
	}
	return w.LegacySecret
}
