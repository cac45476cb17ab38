package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterFramesEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rr := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rr)

	w, err := NewWriter(c)
	require.NoError(t, err)
	require.NoError(t, w.WriteJSON(map[string]string{"type": "complete"}))
	require.NoError(t, w.KeepAlive())

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rr.Header().Get("Connection"))
	assert.Equal(t, "data: {\"type\":\"complete\"}\n\n: ping\n\n", rr.Body.String())
}

func TestReadDataSkipsNonDataLines(t *testing.T) {
	in := ": ping\n\ndata: {\"a\":1}\n\nevent: x\ndata:{\"b\":2}\r\n\ndata: \n\n"
	var got []string
	err := ReadData(context.Background(), strings.NewReader(in), func(d []byte) error {
		got = append(got, string(d))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, got)
}

func TestReadDataStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := ReadData(context.Background(), strings.NewReader("data: 1\n\ndata: 2\n\n"), func([]byte) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestReadDataHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ReadData(ctx, strings.NewReader("data: 1\n\n"), func([]byte) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
