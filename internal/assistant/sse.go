package assistant

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coverdesk/coverdesk/pkg/models"
)

// EventWriter serializes stream events onto an HTTP response as
// newline-delimited frames, flushing after every write. It is safe for
// concurrent use so keep-alive frames can interleave with events.
type EventWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewEventWriter prepares w for event streaming and writes the stream
// headers. It fails when the response writer cannot flush.
func NewEventWriter(w http.ResponseWriter) (*EventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &EventWriter{w: w, flusher: flusher}, nil
}

// WriteEvent writes one content frame: the event marker, the JSON
// payload, and a blank line.
func (ew *EventWriter) WriteEvent(ev models.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode stream event: %w", err)
	}
	return ew.writeFrame(models.EventMarker + " " + string(payload))
}

// WriteDone writes the completion sentinel frame.
func (ew *EventWriter) WriteDone() error {
	return ew.writeFrame(models.EventMarker + " " + models.DoneSentinel)
}

// WriteKeepAlive writes a comment frame that consumers discard.
func (ew *EventWriter) WriteKeepAlive() error {
	return ew.writeFrame(models.CommentPrefix + " keep-alive")
}

func (ew *EventWriter) writeFrame(frame string) error {
	ew.mu.Lock()
	defer ew.mu.Unlock()

	if _, err := fmt.Fprintf(ew.w, "%s\n\n", frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	ew.flusher.Flush()
	return nil
}
