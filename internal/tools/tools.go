// Package tools defines the pharmacy tools available to the agent.
//
// Tool results are structured JSON with machine-readable error codes
// rather than free text, so the model can branch on them. A handler
// returns a Go error only for infrastructure failures (database down);
// every domain outcome, including validation failures, is a result.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/farmalink/rxagent/internal/events"
	"github.com/farmalink/rxagent/internal/store"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                                 `json:"name"`
	Description string                                                                 `json:"description"`
	Parameters  map[string]any                                                         `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (map[string]any, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools  map[string]*Tool
	store  *store.Store
	bus    *events.Bus
	logger *slog.Logger
}

// NewRegistry creates a tool registry backed by the pharmacy store.
// bus may be nil.
func NewRegistry(st *store.Store, bus *events.Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]*Tool),
		store:  st,
		bus:    bus,
		logger: logger,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "get_medication_by_name",
		Description: "Resolve a user-provided medication name (English/Hebrew) to a medication record in the catalog.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Medication name query (EN/HE).",
				},
			},
			"required":             []string{"query"},
			"additionalProperties": false,
		},
		Handler: r.handleGetMedicationByName,
	})

	r.Register(&Tool{
		Name:        "check_inventory",
		Description: "Check stock availability for a medication, optionally for a specific store.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"medication_id": map[string]any{"type": "string"},
				"store_name": map[string]any{
					"type":        "string",
					"description": "Optional store name.",
				},
			},
			"required":             []string{"medication_id"},
			"additionalProperties": false,
		},
		Handler: r.handleCheckInventory,
	})

	r.Register(&Tool{
		Name:        "check_prescription_requirement",
		Description: "Return whether a medication requires a prescription (Rx) or is OTC.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"medication_id": map[string]any{"type": "string"},
			},
			"required":             []string{"medication_id"},
			"additionalProperties": false,
		},
		Handler: r.handleCheckPrescriptionRequirement,
	})

	r.Register(&Tool{
		Name:        "get_user_by_phone",
		Description: "Look up a user by phone number to continue prescription workflows.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"phone": map[string]any{"type": "string"},
			},
			"required":             []string{"phone"},
			"additionalProperties": false,
		},
		Handler: r.handleGetUserByPhone,
	})

	r.Register(&Tool{
		Name:        "get_current_user",
		Description: "Get information about the currently authenticated user. Use this for prescription requests instead of asking for phone number.",
		Parameters: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{},
			"additionalProperties": false,
		},
		Handler: r.handleGetCurrentUser,
	})

	r.Register(&Tool{
		Name:        "create_prescription_request",
		Description: "Create a prescription fulfillment/request ticket for a user and medication (no medical advice).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user_id":       map[string]any{"type": "string"},
				"medication_id": map[string]any{"type": "string"},
				"pickup_store":  map[string]any{"type": "string"},
			},
			"required":             []string{"user_id", "medication_id"},
			"additionalProperties": false,
		},
		Handler: r.handleCreatePrescriptionRequest,
	})

	r.Register(&Tool{
		Name:        "reserve_inventory",
		Description: "Reserve inventory for pickup at a specific store. Decrements stock if successful.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"medication_id": map[string]any{"type": "string"},
				"store_name":    map[string]any{"type": "string"},
				"quantity":      map[string]any{"type": "integer", "minimum": 1},
			},
			"required":             []string{"medication_id", "store_name", "quantity"},
			"additionalProperties": false,
		},
		Handler: r.handleReserveInventory,
	})
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns all tools in the function-calling wire format.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, t := range r.tools {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name and returns its result as a JSON string.
// Unknown tools and unparsable arguments produce structured error
// results, not Go errors, so the conversation can continue; a non-nil
// error means an infrastructure failure the caller should abort on.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		r.logger.Warn("unknown tool requested", "tool", name)
		return marshalResult(map[string]any{"error": ErrCodeUnknownTool, "tool": name})
	}

	args := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			r.logger.Warn("unparsable tool arguments", "tool", name, "error", err)
			return marshalResult(map[string]any{"error": ErrCodeInvalidArguments})
		}
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}
	return marshalResult(result)
}

func marshalResult(result map[string]any) (string, error) {
	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(out), nil
}
