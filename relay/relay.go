// Package relay turns the medical backend's newline-delimited JSON stream
// into the normalized SSE frames the chat client consumes.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"medchat-backend/frames"
	"medchat-backend/metrics"
)

const defaultChunkSize = 32 * 1024

// Emitter receives normalized frames. sse.Writer satisfies it.
type Emitter interface {
	WriteJSON(v any) error
}

// Outcome classifies one upstream line.
type Outcome int

const (
	Blank Outcome = iota
	Forward
	Dropped
	Malformed
)

// ParseLine decodes one upstream line and decides whether it is forwarded.
func ParseLine(line []byte) (frames.Frame, Outcome) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return frames.Frame{}, Blank
	}
	var u frames.Upstream
	if err := json.Unmarshal(line, &u); err != nil {
		return frames.Frame{}, Malformed
	}
	if frames.IsMetadata(u.ResponseType) {
		return frames.Frame{}, Dropped
	}
	return frames.Normalize(u), Forward
}

// MaxLineSize caps one upstream line. Longer lines are discarded.
const MaxLineSize = 4 << 20

// LineBuffer splits a byte stream into lines across arbitrary chunk
// boundaries. The trailing, possibly incomplete segment is held back until
// the next Push or Flush. A line growing past Max (MaxLineSize when zero) is
// dropped up to its newline and counted in Overflows.
type LineBuffer struct {
	Max int

	pending   []byte
	skipping  bool
	overflows int
}

// Push consumes chunk and returns every completed line (without the
// newline). Returned lines do not alias chunk.
func (b *LineBuffer) Push(chunk []byte) [][]byte {
	var lines [][]byte
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			b.hold(chunk)
			break
		}
		b.hold(chunk[:i])
		if !b.skipping {
			lines = append(lines, b.pending)
		}
		b.pending, b.skipping = nil, false
		chunk = chunk[i+1:]
	}
	return lines
}

func (b *LineBuffer) hold(p []byte) {
	if b.skipping {
		return
	}
	limit := b.Max
	if limit <= 0 {
		limit = MaxLineSize
	}
	if len(b.pending)+len(p) > limit {
		b.pending, b.skipping = nil, true
		b.overflows++
		return
	}
	b.pending = append(b.pending, p...)
}

// Flush returns and clears whatever is still buffered.
func (b *LineBuffer) Flush() []byte {
	rest := b.pending
	b.pending, b.skipping = nil, false
	return rest
}

// Overflows returns the number of lines dropped for length since the last
// call.
func (b *LineBuffer) Overflows() int {
	n := b.overflows
	b.overflows = 0
	return n
}

// Relay runs one read loop per request. It holds no per-stream state, so a
// single Relay can serve concurrent requests.
type Relay struct {
	log       *zap.Logger
	metrics   *metrics.Metrics
	chunkSize int
	maxLine   int
}

type Option func(*Relay)

func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) { r.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithChunkSize sets the upstream read size; tests use tiny values to force
// lines across chunk boundaries.
func WithChunkSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// WithMaxLineSize overrides MaxLineSize.
func WithMaxLineSize(n int) Option {
	return func(r *Relay) { r.maxLine = n }
}

func New(opts ...Option) *Relay {
	r := &Relay{log: zap.NewNop(), chunkSize: defaultChunkSize}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run copies upstream to out until EOF, then writes the complete
// terminator. A read or write failure writes an error frame instead. When
// ctx is cancelled (the client went away) the loop stops quietly and Run
// returns nil.
func (r *Relay) Run(ctx context.Context, upstream io.Reader, out Emitter) error {
	started := time.Now()
	finish := r.metrics.StreamStarted()
	outcome := metrics.OutcomeComplete
	defer func() { finish(outcome, time.Since(started).Seconds()) }()

	lines := LineBuffer{Max: r.maxLine}
	buf := make([]byte, r.chunkSize)
	for {
		if ctx.Err() != nil {
			outcome = metrics.OutcomeAborted
			r.log.Info("relay aborted by client", zap.Error(ctx.Err()))
			return nil
		}
		n, readErr := upstream.Read(buf)
		if n > 0 {
			for _, line := range lines.Push(buf[:n]) {
				if err := r.forward(line, out); err != nil {
					return r.fail(ctx, out, err, &outcome)
				}
			}
			for i := lines.Overflows(); i > 0; i-- {
				r.metrics.Dropped(metrics.DropMalformed)
				r.log.Warn("dropping oversized upstream line")
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return r.fail(ctx, out, fmt.Errorf("read upstream: %w", readErr), &outcome)
		}
	}

	if rest := lines.Flush(); len(rest) > 0 {
		if err := r.forward(rest, out); err != nil {
			return r.fail(ctx, out, err, &outcome)
		}
	}
	if err := out.WriteJSON(frames.Control{Type: frames.ControlComplete}); err != nil {
		outcome = metrics.OutcomeError
		return fmt.Errorf("write terminator: %w", err)
	}
	return nil
}

func (r *Relay) forward(line []byte, out Emitter) error {
	frame, outcome := ParseLine(line)
	switch outcome {
	case Dropped:
		r.metrics.Dropped(metrics.DropMetadata)
		return nil
	case Malformed:
		r.metrics.Dropped(metrics.DropMalformed)
		r.log.Debug("skipping malformed upstream line", zap.Int("bytes", len(line)))
		return nil
	case Blank:
		return nil
	}
	if err := out.WriteJSON(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	r.metrics.Forwarded(frame.ResponseType)
	return nil
}

func (r *Relay) fail(ctx context.Context, out Emitter, err error, outcome *string) error {
	if ctx.Err() != nil {
		*outcome = metrics.OutcomeAborted
		r.log.Info("relay aborted by client", zap.Error(err))
		return nil
	}
	*outcome = metrics.OutcomeError
	r.log.Error("stream processing error", zap.Error(err))
	_ = out.WriteJSON(frames.Control{Type: frames.ControlError, Content: frames.GenericStreamError})
	return err
}
