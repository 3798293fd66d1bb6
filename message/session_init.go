package message

import (
	"encoding/json"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
)

// SessionInitMessage requests a new authenticated session for a username and
// user secret. It is the only request that does not itself carry a session
// secret.
type SessionInitMessage struct {
	Username   string `json:"username"`
	UserSecret string `json:"user_secret"`
}

// Event returns EventSessionInit.
func (m *SessionInitMessage) Event() EventType { return EventSessionInit }

func (m *SessionInitMessage) isRequest() {}

// DecodeSessionInit accepts frames carrying both a username and user secret
// and nothing marking them as another family.
func DecodeSessionInit(data []byte) (Request, bool) {
	var wire struct {
		Username   string          `json:"username"`
		UserSecret string          `json:"user_secret"`
		Action     json.RawMessage `json:"action"`
		ModelReq   json.RawMessage `json:"model_request"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, false
	}
	if wire.Username == "" || wire.UserSecret == "" {
		return nil, false
	}
	// Frames with stronger discriminators belong to other families.
	if len(wire.Action) > 0 || len(wire.ModelReq) > 0 {
		return nil, false
	}
	return &SessionInitMessage{Username: wire.Username, UserSecret: wire.UserSecret}, true
}

// SessionPayload is the data payload of a successful session init: the
// serialized session record the client must retain.
type SessionPayload struct {
	SessionID     int    `json:"session_id"`
	SessionSecret string `json:"session_secret"`
	User          string `json:"user"`
	Created       string `json:"created"`
}

// SessionInitResponse replies to a SessionInitMessage.
type SessionInitResponse struct {
	Response
}

// Event returns EventSessionInit.
func (r *SessionInitResponse) Event() EventType { return EventSessionInit }

// NewSessionInitResponse builds a session-init reply, enforcing the envelope
// invariant: a successful reply must carry a session payload with a secret,
// and a failed reply must not carry one.
func NewSessionInitResponse(success bool, reason, detail string, session *SessionPayload) (*SessionInitResponse, error) {
	if success && (session == nil || session.SessionSecret == "") {
		return nil, errors.WrapFatal(errors.ErrInvalidMessage,
			"SessionInitResponse", "New", "successful response requires a session payload")
	}
	if !success && session != nil {
		return nil, errors.WrapFatal(errors.ErrInvalidMessage,
			"SessionInitResponse", "New", "failed response must not carry a session payload")
	}
	data, err := marshalData(session)
	if err != nil {
		return nil, err
	}
	if session == nil {
		data = nil
	}
	return &SessionInitResponse{Response: Response{
		Success: success,
		Reason:  reason,
		Message: detail,
		Data:    data,
	}}, nil
}

// Session extracts the session payload from a successful response.
func (r *SessionInitResponse) Session() (*SessionPayload, error) {
	if !r.Success || len(r.Data) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidMessage,
			"SessionInitResponse", "Session", "no session payload present")
	}
	var payload SessionPayload
	if err := json.Unmarshal(r.Data, &payload); err != nil {
		return nil, errors.WrapInvalid(err, "SessionInitResponse", "Session", "unmarshal payload")
	}
	return &payload, nil
}
