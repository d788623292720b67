// Package llm provides the model backend client for the OpenAI
// Responses API.
package llm

import (
	"encoding/json"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Item is one element of a conversation input or response output.
//
// Input items are built with the exported fields: role/content for
// message items, or type/call_id/name/arguments/output for function
// call plumbing. Items decoded from a response additionally retain
// their verbatim wire form; feeding such an item back into a request
// re-emits that form byte for byte, so the final call carries the
// decision call's output items unchanged.
type Item struct {
	Type      string `json:"type,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   any    `json:"content,omitempty"`
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments any    `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`

	raw json.RawMessage
}

// itemAlias avoids marshal/unmarshal recursion on Item.
type itemAlias Item

// SystemItem builds a system-role message item.
func SystemItem(content string) Item {
	return Item{Role: "system", Content: content}
}

// UserItem builds a user-role message item.
func UserItem(content string) Item {
	return Item{Role: "user", Content: content}
}

// FunctionOutputItem builds a function_call_output item binding a tool
// result to the function call identified by callID.
func FunctionOutputItem(callID, output string) Item {
	return Item{Type: "function_call_output", CallID: callID, Output: output}
}

// MarshalJSON re-emits the verbatim wire form for items decoded from a
// response, and the structured fields for locally built items.
func (it Item) MarshalJSON() ([]byte, error) {
	if it.raw != nil {
		return it.raw, nil
	}
	return json.Marshal(itemAlias(it))
}

// UnmarshalJSON decodes the structured fields and captures the raw wire
// form for verbatim passthrough.
func (it *Item) UnmarshalJSON(b []byte) error {
	var a itemAlias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*it = Item(a)
	it.raw = append(json.RawMessage(nil), b...)
	return nil
}

// Tool is a function schema offered to the model.
type Tool struct {
	Type        string         `json:"type"` // always "function"
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is a Responses API request.
type Request struct {
	Model      string `json:"model"`
	Input      []Item `json:"input"`
	Tools      []Tool `json:"tools,omitempty"`
	ToolChoice string `json:"tool_choice,omitempty"`
	Stream     bool   `json:"stream,omitempty"`
}

// APIError is the error object the backend attaches to failed responses.
type APIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Response is a Responses API response. Output holds the model's
// output items in the order the backend produced them.
type Response struct {
	ID     string    `json:"id"`
	Model  string    `json:"model,omitempty"`
	Status string    `json:"status,omitempty"`
	Output []Item    `json:"output"`
	Error  *APIError `json:"error,omitempty"`
}

// FunctionCall is one tool invocation requested by the model.
// Arguments is the raw payload as decoded from the wire: usually a JSON
// string, occasionally an already-structured object.
type FunctionCall struct {
	CallID    string
	Name      string
	Arguments any
}

// FunctionCalls extracts every function_call output item, in response
// order.
func (r *Response) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, item := range r.Output {
		if item.Type != "function_call" {
			continue
		}
		calls = append(calls, FunctionCall{
			CallID:    item.CallID,
			Name:      item.Name,
			Arguments: item.Arguments,
		})
	}
	return calls
}

// StreamEvent is a single event of a streaming response. Consumers
// switch on Kind to determine what data is available.
type StreamEvent struct {
	Kind StreamEventKind

	// Delta is set for KindTextDelta events.
	Delta string

	// Err is set for KindError events: the backend-reported message,
	// if any. An error event terminates the stream.
	Err string

	// Response is set for KindDone events (final summary).
	Response *Response
}

// StreamEventKind identifies the type of stream event.
type StreamEventKind int

const (
	// KindTextDelta is an incremental text fragment from the model.
	KindTextDelta StreamEventKind = iota

	// KindError is a stream-level backend error. No further events follow.
	KindError

	// KindDone signals normal stream completion.
	KindDone
)

// StreamCallback receives streaming events in arrival order.
type StreamCallback func(event StreamEvent)
