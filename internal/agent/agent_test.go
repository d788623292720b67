package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/rxdesk/rxdesk-agent/internal/llm"
	"github.com/rxdesk/rxdesk-agent/internal/pharmacy"
	"github.com/rxdesk/rxdesk-agent/internal/prompts"
	"github.com/rxdesk/rxdesk-agent/internal/tools"
)

// fakeClient scripts the backend: the first CreateResponse returns the
// decision, StreamResponse replays the scripted events and records
// every request for inspection.
type fakeClient struct {
	decision     *llm.Response
	decisionErr  error
	streamEvents []llm.StreamEvent
	streamErr    error

	createReqs []*llm.Request
	streamReqs []*llm.Request
}

func (f *fakeClient) CreateResponse(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	f.createReqs = append(f.createReqs, req)
	if f.decisionErr != nil {
		return nil, f.decisionErr
	}
	return f.decision, nil
}

func (f *fakeClient) StreamResponse(ctx context.Context, req *llm.Request, cb llm.StreamCallback) error {
	f.streamReqs = append(f.streamReqs, req)
	if f.streamErr != nil {
		return f.streamErr
	}
	for _, ev := range f.streamEvents {
		cb(ev)
	}
	return nil
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }

// decisionFromWire builds a decision response by decoding wire JSON, so
// output items carry their raw form exactly as a real backend response
// would.
func decisionFromWire(t *testing.T, wire string) *llm.Response {
	t.Helper()
	var resp llm.Response
	if err := json.Unmarshal([]byte(wire), &resp); err != nil {
		t.Fatalf("decode decision fixture: %v", err)
	}
	return &resp
}

func textDeltas(fragments ...string) []llm.StreamEvent {
	events := make([]llm.StreamEvent, 0, len(fragments)+1)
	for _, f := range fragments {
		events = append(events, llm.StreamEvent{Kind: llm.KindTextDelta, Delta: f})
	}
	return append(events, llm.StreamEvent{Kind: llm.KindDone})
}

func newTestAgent(t *testing.T, client llm.Client) *Agent {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := pharmacy.NewStore("", "", logger)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(logger, store, tools.NewRegistry(store, logger), client, "gpt-5")
}

func collect(out *[]string) EmitFunc {
	return func(fragment string) { *out = append(*out, fragment) }
}

func TestStreamReplyUnknownUser(t *testing.T) {
	client := &fakeClient{}
	a := newTestAgent(t, client)

	var got []string
	err := a.StreamReply(context.Background(), "u999", "do you have paracetamol?", collect(&got))
	if err != nil {
		t.Fatalf("StreamReply: %v", err)
	}
	if len(got) != 1 || got[0] != prompts.UserNotFound("u999", false) {
		t.Errorf("unexpected fragments: %q", got)
	}
	if len(client.createReqs)+len(client.streamReqs) != 0 {
		t.Error("unknown user must not reach the backend")
	}
}

func TestStreamReplyUnknownUserHebrew(t *testing.T) {
	client := &fakeClient{}
	a := newTestAgent(t, client)

	var got []string
	if err := a.StreamReply(context.Background(), "u999", "יש לכם פרצטמול?", collect(&got)); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != prompts.UserNotFound("u999", true) {
		t.Errorf("unexpected fragments: %q", got)
	}
}

func TestStreamReplyNoTools(t *testing.T) {
	client := &fakeClient{
		decision: decisionFromWire(t, `{"id":"r1","output":[
			{"type":"message","role":"assistant","content":"Hello!"}
		]}`),
		streamEvents: textDeltas("Hello", ", how can I help?"),
	}
	a := newTestAgent(t, client)

	var got []string
	if err := a.StreamReply(context.Background(), "u001", "hi there", collect(&got)); err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, "") != "Hello, how can I help?" {
		t.Errorf("unexpected reply: %q", got)
	}

	if len(client.createReqs) != 1 {
		t.Fatalf("expected one decision call, got %d", len(client.createReqs))
	}
	decision := client.createReqs[0]
	if decision.ToolChoice != "auto" || len(decision.Tools) != 3 {
		t.Errorf("decision call must offer all tools with auto choice: %+v", decision)
	}

	if len(client.streamReqs) != 1 {
		t.Fatalf("expected one streaming call, got %d", len(client.streamReqs))
	}
	final := client.streamReqs[0]
	if len(final.Tools) != 0 || final.ToolChoice != "" {
		t.Errorf("no-tool streaming call must not carry tools: %+v", final)
	}
	if len(final.Input) != 3 {
		t.Fatalf("expected the base conversation only, got %d items", len(final.Input))
	}
	if final.Input[2].Role != "user" || final.Input[2].Content != "hi there" {
		t.Errorf("unexpected user item: %+v", final.Input[2])
	}
}

func TestStreamReplySystemContext(t *testing.T) {
	client := &fakeClient{
		decision:     decisionFromWire(t, `{"id":"r1","output":[]}`),
		streamEvents: textDeltas("hi"),
	}
	a := newTestAgent(t, client)

	if err := a.StreamReply(context.Background(), "u001", "hi", func(string) {}); err != nil {
		t.Fatal(err)
	}

	input := client.createReqs[0].Input
	if len(input) != 3 {
		t.Fatalf("expected 3 input items, got %d", len(input))
	}
	if input[0].Role != "system" || input[0].Content != prompts.System {
		t.Error("first item must be the system prompt")
	}
	ctxItem, _ := input[1].Content.(string)
	if input[1].Role != "system" || !strings.Contains(ctxItem, "user_id=u001") || !strings.Contains(ctxItem, "Einat Shvartz") {
		t.Errorf("unexpected user context item: %+v", input[1])
	}
	if !strings.Contains(ctxItem, "Amoxicillin") || !strings.Contains(ctxItem, "Metformin") {
		t.Errorf("context must list prescriptions: %q", ctxItem)
	}
}

func TestStreamReplyToolFlow(t *testing.T) {
	decisionWire := `{"id":"r1","output":[
		{"type":"reasoning","id":"rs_1","summary":[]},
		{"type":"function_call","id":"fc_1","call_id":"call_1","name":"check_stock","arguments":"{\"name\":\"Paracetamol\"}"}
	]}`
	client := &fakeClient{
		decision:     decisionFromWire(t, decisionWire),
		streamEvents: textDeltas("We have 42 packs in stock."),
	}
	a := newTestAgent(t, client)

	var got []string
	if err := a.StreamReply(context.Background(), "u001", "how much paracetamol do you have?", collect(&got)); err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, "") != "We have 42 packs in stock." {
		t.Errorf("unexpected reply: %q", got)
	}

	if len(client.streamReqs) != 1 {
		t.Fatalf("expected one streaming call, got %d", len(client.streamReqs))
	}
	final := client.streamReqs[0]
	if final.ToolChoice != "none" {
		t.Errorf("final call must disable tools, got %q", final.ToolChoice)
	}
	if len(final.Tools) != 3 {
		t.Errorf("final call still declares the schemas, got %d", len(final.Tools))
	}

	// base(3) + decision output(2) + one tool output.
	if len(final.Input) != 6 {
		t.Fatalf("expected 6 input items, got %d", len(final.Input))
	}

	// The decision output is replayed verbatim, unknown fields included.
	data, err := json.Marshal(final.Input[3])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"summary":[]`) {
		t.Errorf("reasoning item not replayed verbatim: %s", data)
	}

	out := final.Input[5]
	if out.Type != "function_call_output" || out.CallID != "call_1" {
		t.Errorf("unexpected tool output item: %+v", out)
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(out.Output), &env); err != nil {
		t.Fatal(err)
	}
	if env["found"] != true || env["stock"] != float64(42) {
		t.Errorf("unexpected tool result payload: %s", out.Output)
	}
}

func TestStreamReplyInjectsUserID(t *testing.T) {
	decisionWire := `{"id":"r1","output":[
		{"type":"function_call","call_id":"call_1","name":"check_prescription","arguments":"{\"name\":\"Amoxicillin\"}"}
	]}`
	client := &fakeClient{
		decision:     decisionFromWire(t, decisionWire),
		streamEvents: textDeltas("You have a prescription on file."),
	}
	a := newTestAgent(t, client)

	if err := a.StreamReply(context.Background(), "u001", "can I get amoxicillin?", func(string) {}); err != nil {
		t.Fatal(err)
	}

	out := client.streamReqs[0].Input[4]
	var env map[string]any
	if err := json.Unmarshal([]byte(out.Output), &env); err != nil {
		t.Fatal(err)
	}
	// Only the gated user holds this prescription, so a true result
	// proves the inbound user id was injected.
	if env["ok"] != true || env["user_has_prescription"] != true {
		t.Errorf("expected prescription check for u001, got %s", out.Output)
	}
}

func TestStreamReplyNotFoundShortCircuit(t *testing.T) {
	decisionWire := `{"id":"r1","output":[
		{"type":"function_call","call_id":"call_1","name":"check_stock","arguments":"{\"name\":\"Paracetamol\"}"},
		{"type":"function_call","call_id":"call_2","name":"get_medication_by_name","arguments":"{\"name\":\"Unicornol\"}"}
	]}`
	client := &fakeClient{decision: decisionFromWire(t, decisionWire)}
	a := newTestAgent(t, client)

	var got []string
	if err := a.StreamReply(context.Background(), "u001", "do you carry unicornol?", collect(&got)); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != prompts.MedicationNotFound(false) {
		t.Errorf("unexpected fragments: %q", got)
	}
	if len(client.streamReqs) != 0 {
		t.Error("a failed lookup must suppress the final streaming call")
	}
}

func TestStreamReplyNotFoundShortCircuitHebrew(t *testing.T) {
	decisionWire := `{"id":"r1","output":[
		{"type":"function_call","call_id":"call_1","name":"get_medication_by_name","arguments":"{\"name\":\"אקמולין\"}"}
	]}`
	client := &fakeClient{decision: decisionFromWire(t, decisionWire)}
	a := newTestAgent(t, client)

	var got []string
	if err := a.StreamReply(context.Background(), "u001", "יש לכם אקמולין?", collect(&got)); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != prompts.MedicationNotFound(true) {
		t.Errorf("unexpected fragments: %q", got)
	}
}

func TestStreamReplyToolErrorDoesNotShortCircuit(t *testing.T) {
	// An unknown tool and a missing argument both yield TOOL_ERROR
	// envelopes; unlike NOT_FOUND they are passed to the model.
	decisionWire := `{"id":"r1","output":[
		{"type":"function_call","call_id":"call_1","name":"levitate","arguments":"{}"},
		{"type":"function_call","call_id":"call_2","name":"check_stock","arguments":"{}"}
	]}`
	client := &fakeClient{
		decision:     decisionFromWire(t, decisionWire),
		streamEvents: textDeltas("Something went wrong with the lookup."),
	}
	a := newTestAgent(t, client)

	var got []string
	if err := a.StreamReply(context.Background(), "u001", "levitate please", collect(&got)); err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, "") != "Something went wrong with the lookup." {
		t.Errorf("unexpected reply: %q", got)
	}

	final := client.streamReqs[0]
	// base(3) + decision output(2) + two tool outputs.
	if len(final.Input) != 7 {
		t.Fatalf("expected 7 input items, got %d", len(final.Input))
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(final.Input[5].Output), &env); err != nil {
		t.Fatal(err)
	}
	errObj, _ := env["error"].(map[string]any)
	if errObj == nil || errObj["code"] != tools.CodeUnknownTool {
		t.Errorf("expected UNKNOWN_TOOL envelope, got %s", final.Input[5].Output)
	}
}

func TestStreamReplyStructuredArguments(t *testing.T) {
	// Arguments may arrive as an already-decoded object rather than a
	// JSON string.
	decisionWire := `{"id":"r1","output":[
		{"type":"function_call","call_id":"call_1","name":"check_stock","arguments":{"name":"Cetirizine"}}
	]}`
	client := &fakeClient{
		decision:     decisionFromWire(t, decisionWire),
		streamEvents: textDeltas("Out of stock."),
	}
	a := newTestAgent(t, client)

	if err := a.StreamReply(context.Background(), "u001", "any cetirizine?", func(string) {}); err != nil {
		t.Fatal(err)
	}

	var env map[string]any
	if err := json.Unmarshal([]byte(client.streamReqs[0].Input[4].Output), &env); err != nil {
		t.Fatal(err)
	}
	if env["found"] != true || env["stock"] != float64(0) {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestStreamReplyDecisionError(t *testing.T) {
	client := &fakeClient{decisionErr: errors.New("connection refused")}
	a := newTestAgent(t, client)

	var got []string
	err := a.StreamReply(context.Background(), "u001", "hi", collect(&got))
	if err == nil || !strings.Contains(err.Error(), "decision call") {
		t.Fatalf("expected wrapped decision error, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("nothing should be emitted on a failed decision call: %q", got)
	}
}

func TestStreamReplyStreamErrorEvent(t *testing.T) {
	client := &fakeClient{
		decision: decisionFromWire(t, `{"id":"r1","output":[]}`),
		streamEvents: []llm.StreamEvent{
			{Kind: llm.KindTextDelta, Delta: "Parace"},
			{Kind: llm.KindError, Err: "upstream failure"},
		},
	}
	a := newTestAgent(t, client)

	var got []string
	if err := a.StreamReply(context.Background(), "u001", "hi", collect(&got)); err != nil {
		t.Fatal(err)
	}
	want := []string{"Parace", prompts.StreamFailure}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStreamReplyTransportError(t *testing.T) {
	client := &fakeClient{
		decision:  decisionFromWire(t, `{"id":"r1","output":[]}`),
		streamErr: fmt.Errorf("dial tcp: connection refused"),
	}
	a := newTestAgent(t, client)

	err := a.StreamReply(context.Background(), "u001", "hi", func(string) {})
	if err == nil || !strings.Contains(err.Error(), "streaming call") {
		t.Fatalf("expected wrapped streaming error, got %v", err)
	}
}

func TestStreamReplyIndependentRequests(t *testing.T) {
	client := &fakeClient{
		decision:     decisionFromWire(t, `{"id":"r1","output":[]}`),
		streamEvents: textDeltas("hi"),
	}
	a := newTestAgent(t, client)

	for _, id := range []string{"u001", "u002"} {
		if err := a.StreamReply(context.Background(), id, "hello", func(string) {}); err != nil {
			t.Fatal(err)
		}
	}

	// Each request rebuilds its own conversation; nothing leaks across.
	if len(client.createReqs) != 2 {
		t.Fatalf("expected 2 decision calls, got %d", len(client.createReqs))
	}
	for i, req := range client.createReqs {
		if len(req.Input) != 3 {
			t.Errorf("request %d: expected 3 input items, got %d", i, len(req.Input))
		}
	}
	first, _ := client.createReqs[0].Input[1].Content.(string)
	second, _ := client.createReqs[1].Input[1].Content.(string)
	if !strings.Contains(first, "u001") || !strings.Contains(second, "u002") {
		t.Error("user context must reflect each request's own user")
	}
}

func TestNormalizeArguments(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want map[string]any
	}{
		{"nil", nil, map[string]any{}},
		{"map", map[string]any{"name": "x"}, map[string]any{"name": "x"}},
		{"json string", `{"name":"x"}`, map[string]any{"name": "x"}},
		{"invalid json", `{name`, map[string]any{}},
		{"json null", `null`, map[string]any{}},
		{"wrong type", 42, map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeArguments(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("key %s: got %v, want %v", k, got[k], v)
				}
			}
		})
	}
}
