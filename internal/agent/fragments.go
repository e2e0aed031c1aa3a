package agent

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/farmalink/rxagent/internal/llm"
)

// Accumulator reconstructs complete tool calls from the fragmented
// stream the provider emits. Fragments for the same index concatenate
// their argument pieces in arrival order; the name is taken from the
// first fragment that carries one. Nothing is validated until Resolve,
// because a fragment boundary can land mid-token and make a perfectly
// good arguments object look broken partway through.
type Accumulator struct {
	calls map[int]*partialCall
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

// ResolvedCall is a tool call ready for dispatch. Invalid means the
// accumulated arguments never became well-formed JSON; the dispatcher
// substitutes a structured error result instead of invoking a handler.
type ResolvedCall struct {
	llm.ToolCall
	Invalid bool
}

// NewAccumulator creates an empty accumulator for one round.
func NewAccumulator() *Accumulator {
	return &Accumulator{calls: make(map[int]*partialCall)}
}

// Add feeds one fragment into the accumulator.
func (a *Accumulator) Add(f llm.ToolCallFragment) {
	pc := a.calls[f.Index]
	if pc == nil {
		pc = &partialCall{}
		a.calls[f.Index] = pc
	}
	if pc.id == "" && f.ID != "" {
		pc.id = f.ID
	}
	if pc.name == "" && f.Name != "" {
		pc.name = f.Name
	}
	pc.args.WriteString(f.Arguments)
}

// Len returns the number of distinct tool calls seen so far.
func (a *Accumulator) Len() int {
	return len(a.calls)
}

// Resolve returns the accumulated calls in index order. Calls whose id
// never arrived get a generated one so the tool-calling protocol stays
// well-formed. Empty arguments resolve to an empty object.
func (a *Accumulator) Resolve() []ResolvedCall {
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]ResolvedCall, 0, len(indexes))
	for _, i := range indexes {
		pc := a.calls[i]
		call := ResolvedCall{ToolCall: llm.ToolCall{
			ID:        pc.id,
			Name:      pc.name,
			Arguments: pc.args.String(),
		}}
		if call.ID == "" {
			call.ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		if call.Arguments == "" {
			call.Arguments = "{}"
		}
		if !json.Valid([]byte(call.Arguments)) {
			call.Invalid = true
		}
		out = append(out, call)
	}
	return out
}
