package sse

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

const maxEventSize = 4 * 1024 * 1024

// ReadData scans an event stream and calls fn with the payload of every
// "data: " line, in arrival order. Other lines (comments, blank separators,
// event names) are skipped. It stops at EOF, on ctx cancellation, or when fn
// returns an error.
func ReadData(ctx context.Context, r io.Reader, fn func(data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimPrefix(line[len("data:"):], []byte(" "))
		if len(data) == 0 {
			continue
		}
		if err := fn(data); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("scan event stream: %w", err)
	}
	return nil
}
