// Package agent implements the streaming conversation loop: it drives
// bounded rounds against the completion provider, reassembles tool
// calls from the fragment stream, dispatches them against the pharmacy
// registry, and feeds results back until the model produces a final
// answer. The client stream always terminates with exactly one done
// event, whatever fails along the way.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/farmalink/rxagent/internal/events"
	"github.com/farmalink/rxagent/internal/llm"
	"github.com/farmalink/rxagent/internal/tools"
)

// DefaultMaxRounds bounds how many completion rounds one request may
// consume before the loop force-terminates.
const DefaultMaxRounds = 8

// Loop is the round controller. One Loop serves many concurrent
// requests; all per-request state lives in Run's frame.
type Loop struct {
	client    llm.Client
	registry  *tools.Registry
	bus       *events.Bus
	logger    *slog.Logger
	maxRounds int
}

// New creates a loop. bus may be nil; maxRounds <= 0 selects
// DefaultMaxRounds.
func New(client llm.Client, registry *tools.Registry, bus *events.Bus, logger *slog.Logger, maxRounds int) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Loop{
		client:    client,
		registry:  registry,
		bus:       bus,
		logger:    logger,
		maxRounds: maxRounds,
	}
}

// Run drives one request to completion, streaming events to em. The
// message list must already include the system prompt and the user's
// turn; Run never mutates the caller's slice. The authenticated user
// id, if any, travels in ctx (tools.WithUserID).
func (l *Loop) Run(ctx context.Context, messages []llm.Message, em Emitter) {
	guard := newOnceEmitter(em)
	defer guard.Done()

	requestID := uuid.NewString()
	started := time.Now()
	logger := l.logger.With("request_id", requestID)

	l.bus.Publish(events.Event{
		Timestamp: started,
		Source:    events.SourceAgent,
		Kind:      events.KindRequestStart,
		Data: map[string]any{
			"request_id": requestID,
			"user_id":    tools.UserIDFromContext(ctx),
			"rounds_max": l.maxRounds,
		},
	})

	working := make([]llm.Message, len(messages))
	copy(working, messages)
	declaredTools := l.registry.List()

	for round := 0; round < l.maxRounds; round++ {
		logger.Debug("round start", "round", round, "messages", len(working))
		l.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceAgent,
			Kind:      events.KindRoundStart,
			Data:      map[string]any{"request_id": requestID, "round": round},
		})

		acc := NewAccumulator()
		var endReason llm.RoundEndReason
		var upstreamErr string

		l.client.ChatStream(ctx, working, declaredTools, func(ev llm.StreamEvent) {
			switch ev.Kind {
			case llm.KindTextFragment:
				guard.Delta(ev.Text)
			case llm.KindToolCallFragment:
				acc.Add(ev.Fragment)
			case llm.KindRoundEnd:
				endReason = ev.Reason
			case llm.KindUpstreamError:
				upstreamErr = ev.Err
			}
		})

		if upstreamErr != "" {
			logger.Error("upstream failure", "round", round, "error", upstreamErr)
			guard.Error(fmt.Sprintf("Agent error: %s", upstreamErr))
			l.publishComplete(requestID, round, started, false)
			return
		}

		if endReason != llm.RoundEndToolCalls || acc.Len() == 0 {
			// Final answer: all text already streamed as deltas.
			logger.Info("request complete", "rounds", round+1,
				"elapsed_ms", time.Since(started).Milliseconds())
			l.publishComplete(requestID, round+1, started, true)
			return
		}

		calls := acc.Resolve()
		working = append(working, llm.Message{
			Role:      llm.RoleAssistant,
			ToolCalls: toolCalls(calls),
		})

		for _, call := range calls {
			result, err := l.dispatch(ctx, requestID, call, guard)
			if err != nil {
				logger.Error("tool dispatch failed", "tool", call.Name, "error", err)
				guard.Error(fmt.Sprintf("Agent error: tool %s failed", call.Name))
				l.publishComplete(requestID, round+1, started, false)
				return
			}
			working = append(working, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	logger.Warn("round limit reached", "rounds", l.maxRounds)
	l.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindRoundLimit,
		Data:      map[string]any{"request_id": requestID, "rounds": l.maxRounds},
	})
	guard.Error(fmt.Sprintf("Round limit reached (%d) before the model produced a final answer.", l.maxRounds))
	l.publishComplete(requestID, l.maxRounds, started, false)
}

// dispatch runs one resolved call and returns the structured result to
// append as a tool message. Invalid argument payloads short-circuit to
// an error result without touching an executor. A non-nil error means
// an infrastructure failure that terminates the request.
func (l *Loop) dispatch(ctx context.Context, requestID string, call ResolvedCall, em Emitter) (string, error) {
	em.ToolStatus(call.Name, ToolStatusRunning)
	l.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindToolCall,
		Data:      map[string]any{"request_id": requestID, "tool": call.Name},
	})

	started := time.Now()
	var result string
	var err error
	if call.Invalid {
		result = fmt.Sprintf(`{"error": %q}`, tools.ErrCodeInvalidArguments)
	} else {
		result, err = l.registry.Execute(ctx, call.Name, call.Arguments)
	}

	em.ToolStatus(call.Name, ToolStatusDone)
	l.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindToolDone,
		Data: map[string]any{
			"request_id":  requestID,
			"tool":        call.Name,
			"ok":          err == nil,
			"duration_ms": time.Since(started).Milliseconds(),
		},
	})
	return result, err
}

func (l *Loop) publishComplete(requestID string, rounds int, started time.Time, ok bool) {
	l.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindRequestComplete,
		Data: map[string]any{
			"request_id": requestID,
			"rounds":     rounds,
			"ok":         ok,
			"elapsed_ms": time.Since(started).Milliseconds(),
		},
	})
}

func toolCalls(calls []ResolvedCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = c.ToolCall
	}
	return out
}
