package chat

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medchat-backend/metrics"
	"medchat-backend/relay"
	"medchat-backend/sse"
)

const defaultModelType = "auto"

type Handler struct {
	up        Upstream
	relay     *relay.Relay
	metrics   *metrics.Metrics
	log       *zap.Logger
	keepAlive time.Duration
}

type Option func(*Handler)

func WithLogger(l *zap.Logger) Option { return func(h *Handler) { h.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(h *Handler) { h.metrics = m } }

// WithKeepAlive sets the interval of SSE comment pings; zero disables them.
func WithKeepAlive(d time.Duration) Option { return func(h *Handler) { h.keepAlive = d } }

func NewHandler(up Upstream, opts ...Option) *Handler {
	h := &Handler{up: up, log: zap.NewNop()}
	for _, o := range opts {
		o(h)
	}
	h.relay = relay.New(relay.WithLogger(h.log), relay.WithMetrics(h.metrics))
	return h
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/api/chat", h.Message)
	r.OPTIONS("/api/chat", h.Preflight)
}

func (h *Handler) Preflight(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "POST")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
	c.Status(http.StatusNoContent)
}

// Message relays one answer stream as SSE. Upstream failures before the
// stream starts are returned as plain JSON errors with the upstream status.
func (h *Handler) Message(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("invalid chat request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Question is required"})
		return
	}
	if req.ModelType == "" {
		req.ModelType = defaultModelType
	}

	ctx := c.Request.Context()
	body, err := h.up.Open(ctx, req)
	if err != nil {
		var upErr *UpstreamError
		if errors.As(err, &upErr) {
			h.metrics.UpstreamError(strconv.Itoa(upErr.StatusCode))
			h.log.Error("external API error", zap.Int("status", upErr.StatusCode), zap.String("body", upErr.Body))
			c.JSON(upErr.StatusCode, gin.H{"error": upErr.Body})
			return
		}
		h.metrics.UpstreamError("transport")
		h.log.Error("external API unreachable", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	defer body.Close()

	w, err := sse.NewWriter(c)
	if err != nil {
		h.log.Error("streaming unsupported", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	stop := h.startKeepAlive(w)
	defer stop()
	if err := h.relay.Run(ctx, body, w); err != nil {
		h.log.Warn("relay ended with error", zap.Error(err))
	}
}

func (h *Handler) startKeepAlive(w *sse.Writer) func() {
	if h.keepAlive <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t := time.NewTicker(h.keepAlive)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := w.KeepAlive(); err != nil {
					return
				}
				h.metrics.KeepAlive()
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}
