package message

// GenericResponse is a reply envelope used where no family-specific payload
// applies, such as access denials issued before a handler runs. It echoes
// the event type of the request it answers.
type GenericResponse struct {
	Response
	event EventType
}

// NewGenericResponse builds a payload-free reply for the given event family.
func NewGenericResponse(event EventType, success bool, reason, detail string) *GenericResponse {
	return &GenericResponse{
		Response: Response{Success: success, Reason: reason, Message: detail},
		event:    event,
	}
}

// Event returns the event family this response answers.
func (r *GenericResponse) Event() EventType { return r.event }
