package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"medchat-backend/chat"
	"medchat-backend/messages"
	"medchat-backend/metrics"
	"medchat-backend/openai"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP relay and chat history API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			up, err := a.upstream()
			if err != nil {
				return err
			}
			if a.cfg.Production() {
				gin.SetMode(gin.ReleaseMode)
			}
			r := a.router(up, store, prometheus.NewRegistry())

			srv := &http.Server{Addr: ":" + a.cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
			errCh := make(chan error, 1)
			go func() {
				a.log.Info("listening", zap.String("addr", srv.Addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// upstream picks the external medical backend when configured and the
// OpenAI fallback otherwise.
func (a *app) upstream() (chat.Upstream, error) {
	switch {
	case a.cfg.ExternalAPIURL != "":
		a.log.Info("using external medical backend", zap.String("url", a.cfg.ExternalAPIURL))
		return chat.NewHTTPUpstream(a.cfg.ExternalAPIURL, a.cfg.UpstreamTimeout), nil
	case a.cfg.OpenAIKey != "":
		a.log.Info("using OpenAI fallback", zap.String("model", a.cfg.OpenAIModel))
		return openai.NewClient(a.cfg.OpenAIKey, a.cfg.OpenAIModel, a.cfg.OpenAIBaseURL, a.log), nil
	}
	return nil, fmt.Errorf("set EXTERNAL_API_URL or OPENAI_API_KEY")
}

func (a *app) router(up chat.Upstream, store messages.Store, reg *prometheus.Registry) *gin.Engine {
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(a.log))

	chat.NewHandler(up,
		chat.WithLogger(a.log),
		chat.WithMetrics(m),
		chat.WithKeepAlive(a.cfg.KeepAlive),
	).RegisterRoutes(r)
	messages.NewHandler(store, a.cfg.SectionsCacheTTL, a.log).RegisterRoutes(r)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
