package ws

import "encoding/json"

// MessageType constants for WebSocket protocol.
const (
	// Client -> Server
	TypeStart           = "start"
	TypeSelectAnswer    = "select_answer"
	TypeSubmitAnswer    = "submit_answer"
	TypeRequestHint     = "request_hint"
	TypeAddHint         = "add_hint"
	TypeUpvoteHint      = "upvote_hint"
	TypeAdvanceQuestion = "advance_question"
	TypeLeave           = "leave"

	// Server -> Client. Session events are sent with their own event type.
	// A reply (ack, hint, error) follows every event its request caused.
	TypeState      = "state"
	TypeRoomUpdate = "room_update"
	TypeHint       = "hint"
	TypeAck        = "ack"
	TypeError      = "error"
)

// Message wraps all WebSocket payloads with type and optional request ID.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"request_id,omitempty"`
}

// NewMessage marshals payload into a message of the given type.
func NewMessage(msgType string, payload interface{}) (Message, error) {
	msg := Message{Type: msgType}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = data
	return msg, nil
}

// Client Messages (incoming)

type SelectAnswerPayload struct {
	Answer string `json:"answer"`
}

// SubmitAnswerPayload submits Answer, or the selected answer when empty.
type SubmitAnswerPayload struct {
	Answer string `json:"answer,omitempty"`
}

type AddHintPayload struct {
	Text string `json:"text"`
}

type UpvoteHintPayload struct {
	HintID string `json:"hint_id"`
}

// Server Messages (outgoing)

type HintPayload struct {
	Hint string `json:"hint"`
}

type AckPayload struct {
	Type string `json:"type"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
