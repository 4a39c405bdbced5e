package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/retirementsolutions/raymondo/config"
	"github.com/retirementsolutions/raymondo/internal/chat"
	"github.com/retirementsolutions/raymondo/internal/ingest"
	"github.com/retirementsolutions/raymondo/internal/llm"
	"github.com/retirementsolutions/raymondo/internal/session"
	"github.com/retirementsolutions/raymondo/internal/session/inmemory"
	redis_session "github.com/retirementsolutions/raymondo/internal/session/redis"
	"github.com/retirementsolutions/raymondo/internal/store"
	"github.com/retirementsolutions/raymondo/internal/structured"
	"github.com/retirementsolutions/raymondo/internal/telemetry"
)

// Run wires the full service and serves the HTTP API until the listener
// stops. All shared dependencies are built once, here.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	if cfg.Telemetry.Enabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	ctx := context.Background()
	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return err
	}

	if err := cfg.LLM.Validate(); err != nil {
		return err
	}
	provider := llm.NewOpenAIClient(cfg.LLM)
	tele := telemetry.New()

	// The cases source stays dark unless its database is configured.
	caseLogger := log.New(log.Writer(), "[CASES] ", log.LstdFlags)
	caseTool, err := structured.New(ctx, cfg.CaseDB, provider, caseLogger)
	if err != nil {
		return fmt.Errorf("case database: %w", err)
	}

	var sessions session.Store
	if cfg.Storage.Redis.Configured() {
		sessions = redis_session.NewRedisTranscriptStore(cfg.Storage.Redis.Addr(), cfg.Storage.Redis.Password, cfg.Storage.Redis.DB)
	} else {
		sessions = inmemory.NewInMemoryTranscriptStore()
	}

	ingestLogger := log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	pipeline := ingest.NewPipeline(st, provider, cfg.Ingest, ingestLogger, tele)

	chatLogger := log.New(log.Writer(), "[CHAT] ", log.LstdFlags)
	router := chat.NewRouter(provider, st, caseTool, sessions, cfg.Retrieval, chatLogger, tele)

	api := e.Group("/api")

	ch := &ChatHandler{Router: router}
	ch.Register(api)

	dh := &DocumentsHandler{Store: st, Pipeline: pipeline, Logger: ingestLogger}
	dh.Register(api.Group("/documents"))

	if cfg.Ingest.SweepCron != "" {
		go func() {
			if err := pipeline.RunSweepSchedule(ctx, cfg.Ingest.SweepCron, cfg.CaseDB.Table); err != nil && err != context.Canceled {
				ingestLogger.Printf("sweep scheduler stopped: %v", err)
			}
		}()
	}

	if addr == "" {
		addr = cfg.Server.Address
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
