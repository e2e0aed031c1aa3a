package llm

import "context"

// Client is the interface the agent loop uses to talk to a provider.
type Client interface {
	// ChatStream opens one streaming completion request and delivers
	// events to the callback in arrival order. It never returns an
	// error: every failure mode, from connection errors and non-2xx provider
	// responses to mid-stream disconnects, is delivered as a single
	// terminal KindUpstreamError event so the caller can convert it
	// into a client-visible error without special-casing transport
	// faults. ChatStream returns after the terminal event is emitted.
	ChatStream(ctx context.Context, messages []Message, tools []map[string]any, callback StreamCallback)

	// Ping checks if the provider is reachable with the configured
	// credentials.
	Ping(ctx context.Context) error
}
