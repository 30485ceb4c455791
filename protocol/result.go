package protocol

import "encoding/json"

// Result is the tagged outcome of a command: exactly one of the success or
// error variants, never both. The zero value is not a valid result; use Ok or
// Fail.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Kind    ErrorKind       `json:"kind,omitempty"`
}

// Ok creates a success result carrying data. A nil data is valid and encodes
// operations with no payload, such as delete.
func Ok(data any) Result {
	if data == nil {
		return Result{Success: true}
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return Fail(Errorf(KindInternal, "failed to encode result: %v", err))
	}
	return Result{Success: true, Data: buf}
}

// Fail creates an error result from err, preserving its kind tag.
func Fail(err error) Result {
	return Result{Success: false, Error: err.Error(), Kind: KindOf(err)}
}

// Err converts a failed result back into a kind-tagged error. It returns nil
// for successful results.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	kind := r.Kind
	if kind == "" {
		kind = KindInternal
	}
	return &Error{Kind: kind, Message: r.Error}
}
