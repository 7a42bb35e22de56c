package network

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks a frame that is not a valid envelope. The socket
// stays usable.
var ErrMalformed = errors.New("malformed message")

// Client to server.
const (
	MsgTypePing         = "ping"
	MsgTypeSubmitAnswer = "submit_answer"
	MsgTypeAdvanceRound = "advance_round"
	MsgTypeForceClose   = "force_close_round"
	MsgTypeReveal       = "reveal_final_scores"
	MsgTypeLeaveRoom    = "leave_room"
)

// Server to client.
const (
	MsgTypePong        = "pong"
	MsgTypeRoomState   = "room_state"
	MsgTypeRoundResult = "round_result"
	MsgTypePhase       = "phase"
	MsgTypeAnswer      = "answer_accepted"
	MsgTypeKicked      = "kicked"
	MsgTypeRoomDeleted = "room_deleted"
	MsgTypeError       = "error"
)

// Envelope is every frame on the socket: {"type": ..., "payload": {...}}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps payload into an envelope.
func Encode(msgType string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode parses a frame into an envelope.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &env, nil
}

// Bind unmarshals the payload into v.
func (e *Envelope) Bind(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	return json.Unmarshal(e.Payload, v)
}

type SubmitAnswerPayload struct {
	Round       int    `json:"round"`
	Answer      string `json:"answer"`
	ElapsedTime int    `json:"elapsedTime"`
}

type PhasePayload struct {
	RoomID string `json:"roomId"`
	From   string `json:"from"`
	Phase  string `json:"phase"`
}

type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
