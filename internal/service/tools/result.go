package tools

import "encoding/json"

// Status classifies a capability outcome.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result is the tagged outcome of one capability invocation: exactly one of
// Text, Data or Err carries the payload.
type Result struct {
	Status Status
	Text   string
	Data   map[string]any
	Err    string
}

// TextResult wraps a plain-text payload.
func TextResult(text string) Result {
	return Result{Status: StatusOK, Text: text}
}

// DataResult wraps a structured payload.
func DataResult(data map[string]any) Result {
	return Result{Status: StatusOK, Data: data}
}

// ErrorResult wraps a failure. The detail still flows back to the model as a
// tool message so it can react.
func ErrorResult(detail string) Result {
	return Result{Status: StatusError, Err: detail}
}

// Serialize renders the result as the tool-role message content fed back to
// the model.
func (r Result) Serialize() string {
	switch {
	case r.Status == StatusError:
		out, _ := json.Marshal(map[string]any{"error": r.Err})
		return string(out)
	case r.Data != nil:
		out, err := json.Marshal(r.Data)
		if err != nil {
			fallback, _ := json.Marshal(map[string]any{"error": "unserializable tool result"})
			return string(fallback)
		}
		return string(out)
	default:
		return r.Text
	}
}
