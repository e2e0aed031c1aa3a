package agent

// Tool status values carried by tool_status events.
const (
	ToolStatusRunning = "running"
	ToolStatusDone    = "done"
)

// Emitter delivers the client-facing event stream for one request.
// Implementations write to a transport (SSE response, terminal, test
// recorder); they do not need to enforce ordering or termination, the
// loop wraps every emitter so that done is sent exactly once and
// nothing follows it.
type Emitter interface {
	// Delta delivers an incremental piece of assistant text.
	Delta(text string)
	// ToolStatus reports a tool transitioning to running or done.
	ToolStatus(tool, status string)
	// Error delivers a client-visible error message.
	Error(message string)
	// Done marks the end of the stream.
	Done()
}

// onceEmitter enforces the terminal contract: Done passes through
// exactly once, and every event after Done is dropped.
type onceEmitter struct {
	inner Emitter
	done  bool
}

func newOnceEmitter(inner Emitter) *onceEmitter {
	return &onceEmitter{inner: inner}
}

func (e *onceEmitter) Delta(text string) {
	if e.done {
		return
	}
	e.inner.Delta(text)
}

func (e *onceEmitter) ToolStatus(tool, status string) {
	if e.done {
		return
	}
	e.inner.ToolStatus(tool, status)
}

func (e *onceEmitter) Error(message string) {
	if e.done {
		return
	}
	e.inner.Error(message)
}

func (e *onceEmitter) Done() {
	if e.done {
		return
	}
	e.done = true
	e.inner.Done()
}
