package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rxdesk/rxdesk-agent/internal/llm"
	"github.com/rxdesk/rxdesk-agent/internal/pharmacy"
)

// Tool names exposed to the model. GetUser backs the identity gate
// only and is deliberately absent from Schemas.
const (
	NameGetMedicationByName = "get_medication_by_name"
	NameCheckStock          = "check_stock"
	NameCheckPrescription   = "check_prescription"
)

// Registry routes tool calls to the catalog-backed lookup operations.
type Registry struct {
	store  *pharmacy.Store
	logger *slog.Logger
}

// NewRegistry creates a tool registry over the given catalog.
func NewRegistry(store *pharmacy.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, logger: logger}
}

// Schemas returns the function schemas offered to the model, in the
// order they are documented in the system prompt.
func (r *Registry) Schemas() []llm.Tool {
	return []llm.Tool{
		{
			Type:        "function",
			Name:        NameGetMedicationByName,
			Description: "Fetch full factual medication record by exact name (case-insensitive).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
				},
				"required": []string{"name"},
			},
		},
		{
			Type:        "function",
			Name:        NameCheckStock,
			Description: "Check current stock quantity for a medication by name (case-insensitive).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
				},
				"required": []string{"name"},
			},
		},
		{
			Type:        "function",
			Name:        NameCheckPrescription,
			Description: "Combined check: whether medication requires a prescription and whether user has it on file.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_id": map[string]any{"type": "string"},
					"name":    map[string]any{"type": "string"},
				},
				"required": []string{"user_id", "name"},
			},
		},
	}
}

// Dispatch routes a tool call by name. It always returns an envelope:
// unknown names become UNKNOWN_TOOL, and any fault during execution —
// including a panic — becomes TOOL_ERROR for this call only.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (env Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", rec)
			env = okErr(CodeToolError, fmt.Sprint(rec))
		}
	}()

	switch name {
	case NameGetMedicationByName:
		arg, err := stringArg(args, "name")
		if err != nil {
			return okErr(CodeToolError, err.Error())
		}
		return r.GetMedicationByName(ctx, arg)

	case NameCheckStock:
		arg, err := stringArg(args, "name")
		if err != nil {
			return okErr(CodeToolError, err.Error())
		}
		return r.CheckStock(ctx, arg)

	case NameCheckPrescription:
		userID, err := stringArg(args, "user_id")
		if err != nil {
			return okErr(CodeToolError, err.Error())
		}
		medName, err := stringArg(args, "name")
		if err != nil {
			return okErr(CodeToolError, err.Error())
		}
		return r.CheckPrescription(ctx, userID, medName)

	default:
		return okErr(CodeUnknownTool, fmt.Sprintf("Tool '%s' not implemented", name))
	}
}

// stringArg extracts a required string argument from a normalized
// argument map.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument '%s'", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument '%s' must be a string", key)
	}
	return s, nil
}

// GetUser fetches a user record by id. Used by the identity gate; not
// exposed to the model.
func (r *Registry) GetUser(ctx context.Context, userID string) Envelope {
	user, found, err := r.store.FindUser(ctx, userID)
	if err != nil {
		return foundErr(CodeToolError, err.Error())
	}
	if !found {
		return foundErr(CodeUnknownUser, fmt.Sprintf("User '%s' not found", userID))
	}
	return Envelope{Found: boolPtr(true), User: user}
}

// GetMedicationByName fetches the full medication record by exact name
// (case-insensitive, whitespace-trimmed).
func (r *Registry) GetMedicationByName(ctx context.Context, name string) Envelope {
	med, found, err := r.store.FindMedicationByName(ctx, name)
	if err != nil {
		return foundErr(CodeToolError, err.Error())
	}
	if !found {
		return foundErr(CodeNotFound, fmt.Sprintf("Medication '%s' not found", name))
	}
	return Envelope{Found: boolPtr(true), Medication: med}
}

// CheckStock reports the current stock count for a medication.
func (r *Registry) CheckStock(ctx context.Context, name string) Envelope {
	med, found, err := r.store.FindMedicationByName(ctx, name)
	if err != nil {
		return foundErr(CodeToolError, err.Error())
	}
	if !found {
		return foundErr(CodeNotFound, fmt.Sprintf("Medication '%s' not found", name))
	}
	return Envelope{
		Found: boolPtr(true),
		Name:  med.Name,
		Stock: intPtr(med.Stock),
	}
}

// CheckPrescription is the combined check: does the medication require
// a prescription, and does the user hold one for it. Always stamps both
// booleans on success.
func (r *Registry) CheckPrescription(ctx context.Context, userID, name string) Envelope {
	user, found, err := r.store.FindUser(ctx, userID)
	if err != nil {
		return okErr(CodeToolError, err.Error())
	}
	if !found {
		return okErr(CodeUnknownUser, fmt.Sprintf("User '%s' not found", userID))
	}

	med, found, err := r.store.FindMedicationByName(ctx, name)
	if err != nil {
		return okErr(CodeToolError, err.Error())
	}
	if !found {
		return okErr(CodeNotFound, fmt.Sprintf("Medication '%s' not found", name))
	}

	// Prescription entries are compared case-insensitively against the
	// canonical medication name for robustness.
	userHas := false
	canonical := strings.ToLower(strings.TrimSpace(med.Name))
	for _, p := range user.Prescriptions {
		if strings.ToLower(strings.TrimSpace(p)) == canonical {
			userHas = true
			break
		}
	}

	return Envelope{
		OK:                   boolPtr(true),
		Name:                 med.Name,
		RequiresPrescription: boolPtr(med.RequiresPrescription),
		UserHasPrescription:  boolPtr(userHas),
	}
}
