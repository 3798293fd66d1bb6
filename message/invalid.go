package message

import (
	"encoding/json"
	"fmt"
)

// InvalidMessage stands in for a frame that parsed as JSON but matched no
// registered request type. The original content is retained for logging.
type InvalidMessage struct {
	Content json.RawMessage `json:"content"`
}

// Event returns EventInvalid.
func (m *InvalidMessage) Event() EventType { return EventInvalid }

func (m *InvalidMessage) isRequest() {}

// InvalidMessageResponse is the fixed reply to an InvalidMessage.
type InvalidMessageResponse struct {
	Response
}

// Event returns EventInvalid.
func (r *InvalidMessageResponse) Event() EventType { return EventInvalid }

// NewInvalidMessageResponse builds the fixed unrecognized-message reply.
func NewInvalidMessageResponse() *InvalidMessageResponse {
	return &InvalidMessageResponse{Response: Response{
		Success: false,
		Reason:  ReasonInvalidMessage,
		Message: "message content did not match any known request type",
	}}
}

// UnsupportedMessageTypeResponse replies when a frame decoded to a known
// request type that the listening service has no handler for. It names both
// the offending type and the listener so clients can tell a wrong-service
// submission from a malformed one.
type UnsupportedMessageTypeResponse struct {
	Response
	ActualEvent  EventType `json:"actual_event_type"`
	ListenerType string    `json:"listener_type"`
}

// Event returns the event of the unsupported request.
func (r *UnsupportedMessageTypeResponse) Event() EventType { return r.ActualEvent }

// NewUnsupportedMessageTypeResponse builds an unsupported-type reply.
func NewUnsupportedMessageTypeResponse(actual EventType, listenerType string) *UnsupportedMessageTypeResponse {
	return &UnsupportedMessageTypeResponse{
		Response: Response{
			Success: false,
			Reason:  ReasonUnsupportedType,
			Message: fmt.Sprintf("listener %s does not handle %s messages", listenerType, actual),
		},
		ActualEvent:  actual,
		ListenerType: listenerType,
	}
}

// ErrorResponse is the generic reply for a handler failure. Detail sent to
// the client is the error's string form; full context stays in server logs.
type ErrorResponse struct {
	Response
}

// Event returns EventInvalid.
func (r *ErrorResponse) Event() EventType { return EventInvalid }

// NewErrorResponse builds a generic failure reply.
func NewErrorResponse(detail string) *ErrorResponse {
	return &ErrorResponse{Response: Response{
		Success: false,
		Reason:  ReasonHandlerError,
		Message: detail,
	}}
}
