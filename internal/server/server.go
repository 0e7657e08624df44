package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/IliaW/site-bot/config"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine. Client ips, which key the chat rate limit, come from forwarding
// headers only when the peer is one of cfg.TrustedProxies or when cfg.TrustedPlatform is set.
func NewRouter(env string, cfg *config.ServerConfig, h *Handler) (*gin.Engine, error) {
	if env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("set trusted proxies: %w", err)
	}
	router.TrustedPlatform = trustedPlatform(cfg.TrustedPlatform)
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	api := router.Group("/api")
	api.POST("/bot/create", h.CreateBot)
	api.POST("/bot/extract", h.ExtractBot)
	api.POST("/bot/chat", h.BotChat)
	api.GET("/bot/:id", h.GetBot)
	api.POST("/ai/chat", h.GeneralChat)

	return router, nil
}

// Any other value is used as the client ip header name.
func trustedPlatform(name string) string {
	switch name {
	case "cloudflare":
		return gin.PlatformCloudflare
	case "google_app_engine":
		return gin.PlatformGoogleAppEngine
	default:
		return name
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("request handled.",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)))
	}
}

type HttpServer struct {
	srv *http.Server
	cfg *config.ServerConfig
}

// NewHttpServer derives every request context from baseCtx, so cancelling it aborts running
// extractions before Shutdown gives up on them.
func NewHttpServer(baseCtx context.Context, port string, cfg *config.ServerConfig, handler http.Handler) *HttpServer {
	return &HttpServer{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			BaseContext:  func(net.Listener) context.Context { return baseCtx },
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		cfg: cfg,
	}
}

// Run blocks until the server is shut down.
func (s *HttpServer) Run() {
	slog.Info("starting http server.", slog.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error.", slog.String("err", err.Error()))
	}
}

// Shutdown stops accepting requests and waits for running ones up to the shutdown timeout.
func (s *HttpServer) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		slog.Error("http server forced to shutdown.", slog.String("err", err.Error()))
		return
	}
	slog.Info("http server stopped.")
}
