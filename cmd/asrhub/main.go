// Command asrhub is the single binary entrypoint: it loads configuration,
// wires the core (store, queue, timer, pool, coordinator) and the
// reference transport bindings, then serves until an interrupt signal,
// grounded on the teacher's cmd/api/main.go startServer pattern.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/asrhub/asrhub/internal/app"
	"github.com/asrhub/asrhub/internal/collab"
	"github.com/asrhub/asrhub/internal/config"
	"github.com/asrhub/asrhub/internal/transport/httpsse"
	"github.com/asrhub/asrhub/internal/transport/redispubsub"
	"github.com/asrhub/asrhub/internal/transport/ws"
	"github.com/asrhub/asrhub/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.Build(cfg.Debug)
	logger.Info("logger initialized")

	collabs := app.Collaborators{
		WakeWord:  collab.NewKeywordWakeDetector(float32(cfg.WakeWord.Threshold), cfg.WakeWord.Keyword),
		VAD:       collab.NewEnergyVAD(cfg.VAD.Threshold),
		Recorder:  collab.NewMemoryRecorder(),
		Converter: collab.NopConverter{},
	}
	providerFactory := func() (collab.ASRProvider, error) {
		return collab.NewStubASRProvider(""), nil
	}

	application, err := app.New(cfg, logger, collabs, providerFactory)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	ctx, cancelRun := context.WithCancel(context.Background())
	go application.Run(ctx)

	redisServer := redispubsub.New(cfg.Redis, application.Store, logger)
	redisCtx, cancelRedis := context.WithCancel(ctx)
	go func() {
		if err := redisServer.Run(redisCtx); err != nil && err != context.Canceled {
			logger.Errorf("redis pub/sub transport stopped: %v", err)
		}
	}()

	router := gin.Default()
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	httpsse.New(application.Store, logger).Register(router)
	ws.New(application.Store, logger).Register(router)

	logger.Info("application initialized successfully")

	startServer(router, logger)

	cancelRedis()
	cancelRun()
	application.Shutdown()
}

func startServer(router *gin.Engine, logger *logging.Logger) {
	port := 8088
	if p := os.Getenv("PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	addr := ":" + strconv.Itoa(port)
	srv := &http.Server{Addr: addr, Handler: router.Handler()}

	go func() {
		logger.Infof("server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("server forced to shutdown: %v", err)
	} else {
		logger.Info("server shutdown complete")
	}
}
