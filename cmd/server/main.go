// Command server is a minimal, runnable host for the session authentication
// core: it wires configuration, logging, a Redis-backed session store and a
// Gin engine together, and exposes the handful of routes an application
// would build on top of internal/session.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/blitzauth/sessioncore/internal/cache"
	"github.com/blitzauth/sessioncore/internal/ginsession"
	"github.com/blitzauth/sessioncore/internal/logger"
	"github.com/blitzauth/sessioncore/internal/session"
	"github.com/blitzauth/sessioncore/internal/sessionredis"
)

// serverConfig holds the process's own settings, layered around the
// embedded session.Config the core itself needs.
type serverConfig struct {
	session.Config

	Port            string        `env:"PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty       bool          `env:"LOG_PRETTY" envDefault:"false"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     string `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

func main() {
	_ = godotenv.Load()

	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	logger.Initialize(cfg.LogLevel, cfg.LogPretty)

	if err := cfg.Config.Validate(); err != nil {
		logger.Log.Fatal().Err(err).Msg("invalid session configuration")
	}

	engine, closeStore, err := buildEngine(&cfg)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("failed to build session engine")
	}
	defer closeStore()

	router := buildRouter(engine)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Log.Info().Str("port", cfg.Port).Msg("session core server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Warn().Err(err).Msg("server forced to shutdown")
	} else {
		logger.Log.Info().Msg("server stopped gracefully")
	}
}

func buildEngine(cfg *serverConfig) (*session.Engine, func(), error) {
	client, err := cache.New(cache.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Enabled:  cfg.RedisEnabled,
	})
	if err != nil {
		return nil, func() {}, err
	}

	var store session.Store
	if client.Enabled() {
		store = sessionredis.New(client)
	} else {
		logger.Log.Warn().Msg("REDIS_ENABLED=false, using in-memory session store (not for production)")
		store = session.NewMemoryStore()
	}

	engine, err := session.NewEngine(&cfg.Config, store)
	if err != nil {
		return nil, func() { _ = client.Close() }, err
	}
	return engine, func() { _ = client.Close() }, nil
}

func buildRouter(engine *session.Engine) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ginsession.Middleware(engine))

	r.GET("/api/whoami", func(c *gin.Context) {
		sctx := ginsession.FromContext(c)
		c.JSON(http.StatusOK, gin.H{
			"authenticated": sctx.IsAuthenticated(),
			"userId":        sctx.UserID(),
			"role":          sctx.Role(),
		})
	})

	r.POST("/api/login", func(c *gin.Context) {
		var body struct {
			UserID string `json:"userId" binding:"required"`
			Role   string `json:"role"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST", "message": err.Error()})
			return
		}
		sctx := ginsession.FromContext(c)
		public := session.PublicData{}
		if body.Role != "" {
			public["role"] = body.Role
		}
		if err := sctx.Authorize(c.Request.Context(), body.UserID, public, nil); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_SERVER_ERROR", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	r.POST("/api/logout", func(c *gin.Context) {
		sctx := ginsession.FromContext(c)
		if err := sctx.Revoke(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_SERVER_ERROR", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	r.GET("/api/public-data", func(c *gin.Context) {
		sctx := ginsession.FromContext(c)
		c.JSON(http.StatusOK, sctx.PublicData())
	})

	private := r.Group("/api/private-data", ginsession.RequireAuth())
	private.GET("", func(c *gin.Context) {
		sctx := ginsession.FromContext(c)
		data, err := sctx.GetPrivateData(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_SERVER_ERROR", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, data)
	})
	private.POST("", func(c *gin.Context) {
		var patch session.PrivateData
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "BAD_REQUEST", "message": err.Error()})
			return
		}
		sctx := ginsession.FromContext(c)
		if err := sctx.SetPrivateData(c.Request.Context(), patch); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_SERVER_ERROR", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	return r
}
