package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// ErrNoFlusher is returned when the response writer cannot stream.
var ErrNoFlusher = errors.New("sse: response writer does not support flushing")

// SetHeaders writes the event-stream headers expected by the chat client,
// including the permissive CORS headers the browser client relies on.
func SetHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "POST")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
}

// Writer emits events in the form:
//
//	data: <json>\n\n
//
// Writes are serialized so a keep-alive ticker can share the writer with
// the relay loop.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter sets the SSE headers and a 200 status on c and returns a writer
// bound to its response.
func NewWriter(c *gin.Context) (*Writer, error) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, ErrNoFlusher
	}
	SetHeaders(c)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	return &Writer{w: c.Writer, flusher: flusher}, nil
}

// WriteJSON marshals v and writes it as a single data event.
func (s *Writer) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.WriteData(b)
}

// WriteData writes one data event. The payload must not contain newlines;
// compact JSON never does.
func (s *Writer) WriteData(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if _, err := s.w.Write(payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// KeepAlive writes an SSE comment; clients ignore it but proxies see traffic.
func (s *Writer) KeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write([]byte(": ping\n\n")); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	s.flusher.Flush()
	return nil
}
