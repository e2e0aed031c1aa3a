package agent

import (
	"strings"
	"testing"

	"github.com/farmalink/rxagent/internal/llm"
)

func TestAccumulatorSingleFragment(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(llm.ToolCallFragment{
		Index:     0,
		ID:        "call_1",
		Name:      "check_inventory",
		Arguments: `{"medication_id": "m1"}`,
	})

	calls := acc.Resolve()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	c := calls[0]
	if c.ID != "call_1" || c.Name != "check_inventory" || c.Invalid {
		t.Errorf("unexpected call: %+v", c)
	}
	if c.Arguments != `{"medication_id": "m1"}` {
		t.Errorf("arguments = %q", c.Arguments)
	}
}

func TestAccumulatorRechunkingIdempotent(t *testing.T) {
	argsJSON := `{"medication_id": "m1", "store_name": "Haifa - Carmel", "quantity": 2}`

	// One delivery as a single fragment.
	whole := NewAccumulator()
	whole.Add(llm.ToolCallFragment{Index: 0, ID: "c1", Name: "reserve_inventory", Arguments: argsJSON})

	// Same payload split at awkward boundaries, name only on the first.
	chunked := NewAccumulator()
	chunked.Add(llm.ToolCallFragment{Index: 0, ID: "c1", Name: "reserve_inventory"})
	for i := 0; i < len(argsJSON); i += 7 {
		end := min(i+7, len(argsJSON))
		chunked.Add(llm.ToolCallFragment{Index: 0, Arguments: argsJSON[i:end]})
	}

	a, b := whole.Resolve(), chunked.Resolve()
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("resolved %d/%d calls, want 1/1", len(a), len(b))
	}
	if a[0] != b[0] {
		t.Errorf("chunked resolution differs:\n one = %+v\nmany = %+v", a[0], b[0])
	}
}

func TestAccumulatorNameSetOnce(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(llm.ToolCallFragment{Index: 0, Name: "get_medication_by_name"})
	acc.Add(llm.ToolCallFragment{Index: 0, Name: "ignored_later_name", Arguments: "{}"})

	calls := acc.Resolve()
	if calls[0].Name != "get_medication_by_name" {
		t.Errorf("name = %q, want first-seen name", calls[0].Name)
	}
}

func TestAccumulatorIndexOrder(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(llm.ToolCallFragment{Index: 1, ID: "c_b", Name: "second", Arguments: "{}"})
	acc.Add(llm.ToolCallFragment{Index: 0, ID: "c_a", Name: "first", Arguments: "{}"})

	calls := acc.Resolve()
	if len(calls) != 2 || calls[0].Name != "first" || calls[1].Name != "second" {
		t.Errorf("calls out of index order: %+v", calls)
	}
}

func TestAccumulatorUnparsableArguments(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(llm.ToolCallFragment{Index: 0, ID: "c1", Name: "check_inventory", Arguments: `{"medication_id": `})

	calls := acc.Resolve()
	if !calls[0].Invalid {
		t.Error("never-closed arguments should resolve as invalid")
	}
}

func TestAccumulatorDefaults(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(llm.ToolCallFragment{Index: 0, Name: "get_current_user"})

	calls := acc.Resolve()
	c := calls[0]
	if c.Arguments != "{}" {
		t.Errorf("empty arguments = %q, want {}", c.Arguments)
	}
	if c.Invalid {
		t.Error("empty arguments should not be invalid")
	}
	if !strings.HasPrefix(c.ID, "call_") {
		t.Errorf("generated id = %q, want call_ prefix", c.ID)
	}
}
