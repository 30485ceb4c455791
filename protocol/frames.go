package protocol

import "encoding/json"

// Frame type discriminators for the websocket wire format.
const (
	FrameCommand = "command"
	FrameResult  = "result"
	FrameEvent   = "event"
)

// Frame is the envelope for every websocket message in either direction. The
// Type field selects which of the remaining fields are meaningful.
type Frame struct {
	Type string `json:"type"`

	// Command fields (client to server). ID correlates the single result the
	// server must send back.
	ID   string          `json:"id,omitempty"`
	Op   string          `json:"op,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`

	// Result fields (server to client, exactly one per command).
	Result *Result `json:"result,omitempty"`

	// Event fields (server to client, fire-and-forget).
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CommandFrame builds a command envelope for op with pre-encoded args.
func CommandFrame(id, op string, args json.RawMessage) Frame {
	return Frame{Type: FrameCommand, ID: id, Op: op, Args: args}
}

// ResultFrame builds the reply envelope for the command identified by id.
func ResultFrame(id string, result Result) Frame {
	return Frame{Type: FrameResult, ID: id, Result: &result}
}

// EventFrame builds a broadcast envelope.
func EventFrame(event string, payload any) (Frame, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameEvent, Event: event, Payload: buf}, nil
}
