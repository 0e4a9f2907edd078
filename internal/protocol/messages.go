// Package protocol defines the websocket message types between the server
// and browser or CLI clients. All messages are JSON-encoded and wrapped in
// an Envelope for uniform routing.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of message in the websocket protocol.
type MessageType string

const (
	// Client → Server
	MsgQuerySubmit MessageType = "query.submit"
	MsgPong        MessageType = "client.pong"

	// Server → Client
	MsgQueryAccepted MessageType = "query.accepted"
	MsgCrewEvent     MessageType = "crew.event"
	MsgQueryResult   MessageType = "query.result"
	MsgQueryFailed   MessageType = "query.failed"
	MsgPing          MessageType = "server.ping"

	// Bidirectional
	MsgError MessageType = "error"
)

// Envelope is the top-level message wrapper for all websocket communication.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"` // Message ID for correlation and deduplication.
	RunID     string          `json:"run_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope creates an Envelope with a fresh ID and current timestamp.
func NewEnvelope(msgType MessageType, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Envelope{
		Type:      msgType,
		ID:        uuid.New().String(),
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the Payload into the given target.
func (e *Envelope) Decode(target any) error {
	return json.Unmarshal(e.Payload, target)
}

// ClientMessage is what a client sends. Either the envelope form
// {"type":"query.submit","payload":{"query":"..."}} or the bare form
// {"query":"..."} is accepted.
type ClientMessage struct {
	Type    MessageType     `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Query   string          `json:"query,omitempty"`
}

// ParseClientMessage decodes data and normalizes the bare form into a
// query.submit message.
func ParseClientMessage(data []byte) (MessageType, *QuerySubmitPayload, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", nil, err
	}
	if msg.Type == "" {
		return MsgQuerySubmit, &QuerySubmitPayload{Query: msg.Query}, nil
	}
	if msg.Type != MsgQuerySubmit {
		return msg.Type, nil, nil
	}
	var p QuerySubmitPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return "", nil, err
		}
	}
	if p.Query == "" {
		p.Query = msg.Query
	}
	return MsgQuerySubmit, &p, nil
}

// --- Client → Server payloads ---

// QuerySubmitPayload asks the crew to run on a query.
type QuerySubmitPayload struct {
	Query string `json:"query"`
}

// --- Server → Client payloads ---

// QueryAcceptedPayload confirms a run has started.
type QueryAcceptedPayload struct {
	Query string `json:"query"`
}

// CrewEventPayload mirrors one crew progress event.
type CrewEventPayload struct {
	Event   string `json:"event"` // task_started, tool_call, task_completed
	Task    string `json:"task,omitempty"`
	Agent   string `json:"agent,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Content string `json:"content,omitempty"`
	Tokens  int    `json:"tokens,omitempty"`
}

// QueryResultPayload carries the crew's final answer.
type QueryResultPayload struct {
	Result       string `json:"result"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	DurationMS   int64  `json:"duration_ms"`
}

// QueryFailedPayload is sent when a run fails.
type QueryFailedPayload struct {
	Error string `json:"error"`
}

// ErrorPayload is sent with MsgError for protocol-level errors.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
