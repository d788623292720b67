// Package tools implements the lookup tools offered to the model and
// the dispatcher that routes tool calls to them.
package tools

import "github.com/rxdesk/rxdesk-agent/internal/pharmacy"

// Error codes carried by failed envelopes.
const (
	CodeUnknownUser = "UNKNOWN_USER"
	CodeNotFound    = "NOT_FOUND"
	CodeUnknownTool = "UNKNOWN_TOOL"
	CodeToolError   = "TOOL_ERROR"
)

// Error is the failure half of a tool envelope.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is the discriminated result of every tool operation: either
// a success payload or an Error, never both. The found/ok discriminator
// mirrors the wire contract the model is prompted against — lookups
// report "found", the combined prescription check reports "ok".
// Callers branch on Error only.
type Envelope struct {
	Found *bool `json:"found,omitempty"`
	OK    *bool `json:"ok,omitempty"`

	User       *pharmacy.User       `json:"user,omitempty"`
	Medication *pharmacy.Medication `json:"medication,omitempty"`

	// Name is the canonical medication name for check_stock and
	// check_prescription successes.
	Name  string `json:"name,omitempty"`
	Stock *int   `json:"stock,omitempty"`

	RequiresPrescription *bool `json:"requires_prescription,omitempty"`
	UserHasPrescription  *bool `json:"user_has_prescription,omitempty"`

	Error *Error `json:"error,omitempty"`
}

// ErrorCode returns the envelope's error code, or "" for successes.
func (e Envelope) ErrorCode() string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Code
}

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }

// foundErr builds a failed lookup envelope (found=false).
func foundErr(code, message string) Envelope {
	return Envelope{
		Found: boolPtr(false),
		Error: &Error{Code: code, Message: message},
	}
}

// okErr builds a failed check envelope (ok=false).
func okErr(code, message string) Envelope {
	return Envelope{
		OK:    boolPtr(false),
		Error: &Error{Code: code, Message: message},
	}
}
