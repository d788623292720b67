// Package agent implements the per-request orchestration: identity
// gate, tool-decision call, tool dispatch with deterministic
// short-circuiting, and the final streaming answer.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rxdesk/rxdesk-agent/internal/llm"
	"github.com/rxdesk/rxdesk-agent/internal/pharmacy"
	"github.com/rxdesk/rxdesk-agent/internal/prompts"
	"github.com/rxdesk/rxdesk-agent/internal/tools"
)

// EmitFunc receives reply fragments in order, exactly once each. The
// caller must relay them without buffering assumptions.
type EmitFunc func(fragment string)

// Agent orchestrates one stateless chat request at a time. It holds no
// per-request state; concurrent invocations are fully independent.
type Agent struct {
	logger *slog.Logger
	store  *pharmacy.Store
	tools  *tools.Registry
	llm    llm.Client
	model  string
}

// New creates an agent. The llm.Client is injected and reused across
// requests; it is stateless and needs no teardown.
func New(logger *slog.Logger, store *pharmacy.Store, registry *tools.Registry, client llm.Client, model string) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		logger: logger,
		store:  store,
		tools:  registry,
		llm:    client,
		model:  model,
	}
}

// StreamReply processes one (userID, message) request and emits the
// reply as a sequence of text fragments.
//
// Every user-visible terminal condition — unknown user, medication not
// found, stream failure, missing tool context — is emitted as text and
// returns nil. A non-nil error means the backend could not be reached
// at all; nothing readable was produced for the user in that case
// unless fragments were already emitted.
func (a *Agent) StreamReply(ctx context.Context, userID, message string, emit EmitFunc) error {
	logger := a.logger.With("user_id", userID)
	logger.Info("chat request", "message_len", len(message))

	hebrew := prompts.LooksHebrew(message)

	// Step 0: identity gate. Always first, never a model call.
	user, found, err := a.store.FindUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("identity gate: %w", err)
	}
	if !found {
		logger.Warn("unknown user")
		emit(prompts.UserNotFound(userID, hebrew))
		return nil
	}
	logger.Info("user identified", "name", user.Name, "prescriptions", len(user.Prescriptions))

	// Step 1: base conversation input, reused verbatim by every
	// subsequent call in this request.
	baseInput := []llm.Item{
		llm.SystemItem(prompts.System),
		llm.SystemItem(prompts.UserContext(user.ID, user.Name, user.Prescriptions)),
		llm.UserItem(message),
	}

	// Step 2: non-streaming decision call. The model chooses freely
	// which tools, if any, to invoke.
	decision, err := a.llm.CreateResponse(ctx, &llm.Request{
		Model:      a.model,
		Input:      baseInput,
		Tools:      a.tools.Schemas(),
		ToolChoice: "auto",
	})
	if err != nil {
		return fmt.Errorf("decision call: %w", err)
	}

	calls := decision.FunctionCalls()
	logger.Info("model tool calls", "count", len(calls))

	// Step 3: no tools requested — stream the answer directly.
	if len(calls) == 0 {
		return a.relay(ctx, &llm.Request{Model: a.model, Input: baseInput}, emit)
	}

	// Step 4: execute every call in model order. One call's failure
	// never aborts its siblings; each produces exactly one output item.
	var (
		outputs []llm.Item
		results []tools.Envelope
	)
	for _, call := range calls {
		args := normalizeArguments(call.Arguments)

		// The model never has to repeat the gated user id.
		if call.Name == tools.NameCheckPrescription {
			if _, ok := args["user_id"]; !ok {
				args["user_id"] = userID
			}
		}

		logger.Info("tool start", "tool", call.Name, "call_id", call.CallID)
		result := a.tools.Dispatch(ctx, call.Name, args)
		logger.Info("tool end", "tool", call.Name, "error_code", result.ErrorCode())

		payload, err := json.Marshal(result)
		if err != nil {
			// Envelopes are plain data; this cannot happen in practice.
			return fmt.Errorf("marshal tool result: %w", err)
		}

		outputs = append(outputs, llm.FunctionOutputItem(call.CallID, string(payload)))
		results = append(results, result)
	}

	// Deterministic override: a missing medication is answered with a
	// fixed message, never a model improvisation over a failed lookup.
	for _, result := range results {
		if result.ErrorCode() == tools.CodeNotFound {
			logger.Info("medication not found, short-circuiting")
			emit(prompts.MedicationNotFound(hebrew))
			return nil
		}
	}

	logger.Info("flow summary", "tools_used", toolNames(calls))

	// Step 5: final streaming call. The decision output is replayed
	// verbatim so every function_call_output item finds its call id.
	if len(decision.Output) == 0 {
		// Tool calls were extracted from this very output, so an empty
		// sequence here is an internal consistency fault.
		logger.Error("decision output missing at final call")
		emit(prompts.MissingToolContext)
		return nil
	}

	finalInput := make([]llm.Item, 0, len(baseInput)+len(decision.Output)+len(outputs))
	finalInput = append(finalInput, baseInput...)
	finalInput = append(finalInput, decision.Output...)
	finalInput = append(finalInput, outputs...)

	return a.relay(ctx, &llm.Request{
		Model:      a.model,
		Input:      finalInput,
		Tools:      a.tools.Schemas(),
		ToolChoice: "none",
	}, emit)
}

// relay streams a backend response to emit. A stream-level backend
// error becomes one fixed apology line and ends the stream; there is no
// retry.
func (a *Agent) relay(ctx context.Context, req *llm.Request, emit EmitFunc) error {
	err := a.llm.StreamResponse(ctx, req, func(event llm.StreamEvent) {
		switch event.Kind {
		case llm.KindTextDelta:
			emit(event.Delta)
		case llm.KindError:
			emit(prompts.StreamFailure)
		}
	})
	if err != nil {
		return fmt.Errorf("streaming call: %w", err)
	}
	return nil
}

// normalizeArguments resolves the model's raw argument payload into one
// canonical map. Structured payloads pass through; JSON strings are
// parsed; anything unparseable becomes an empty map, never an error.
func normalizeArguments(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil || parsed == nil {
			return map[string]any{}
		}
		return parsed
	default:
		return map[string]any{}
	}
}

func toolNames(calls []llm.FunctionCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}
