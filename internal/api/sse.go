package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const writeDeadline = 120 * time.Second

// sseEmitter streams loop events to the client as server-sent events,
// one named frame per event. Write failures are logged and swallowed:
// a vanished client must not break the loop, which still needs to wind
// down through its own terminal path.
type sseEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	logger  *slog.Logger
}

// newSSEEmitter prepares the response for streaming and returns the
// emitter. ok is false when the ResponseWriter cannot flush.
func newSSEEmitter(w http.ResponseWriter, logger *slog.Logger) (*sseEmitter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &sseEmitter{
		w:       w,
		flusher: flusher,
		rc:      http.NewResponseController(w),
		logger:  logger,
	}, true
}

func (e *sseEmitter) Delta(text string) {
	e.send("delta", map[string]any{"type": "delta", "text": text})
}

func (e *sseEmitter) ToolStatus(tool, status string) {
	e.send("tool_status", map[string]any{"type": "tool_status", "status": status, "tool": tool})
}

func (e *sseEmitter) Error(message string) {
	e.send("error", map[string]any{"type": "error", "message": message})
}

func (e *sseEmitter) Done() {
	e.send("done", map[string]any{"type": "done"})
}

func (e *sseEmitter) send(event string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Debug("failed to marshal SSE payload", "event", event, "error", err)
		return
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		e.logger.Debug("failed to write SSE frame", "event", event, "error", err)
		return
	}
	e.flusher.Flush()

	// Push the write deadline forward after every frame so long tool
	// rounds do not trip the server's timeout mid-stream.
	if err := e.rc.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		e.logger.Debug("failed to reset write deadline", "error", err)
	}
}
