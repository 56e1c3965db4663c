package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chanrelay/work/buffer"
	"chanrelay/work/cache"
	"chanrelay/work/client"
	"chanrelay/work/config"
	"chanrelay/work/database"
	"chanrelay/work/directory"
	"chanrelay/work/handlers"
	"chanrelay/work/logger"
	"chanrelay/work/middleware"
	"chanrelay/work/refresh"
	"chanrelay/work/relay"
	"chanrelay/work/validator"
)

var (
	Version = "v0.1.0" // default version
)

// segment copy buffer size
const copyBufferSize = 32 * 1024

// app holds everything the HTTP layer needs.
type app struct {
	dir       *directory.Directory
	relay     *relay.Relay
	refresher *refresh.Refresher
	responses *cache.Cache
	snapshot  *database.DB // nil when the mirror is disabled
	prefix    string       // relay endpoint advertised in stream URLs
}

// newRouter registers every route on a fresh mux router.
func newRouter(a *app) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestID)

	// relay endpoint
	router.HandleFunc("/stream", handlers.HandleStream(a.relay)).Methods("GET")

	// directory api
	router.HandleFunc("/api/channels", middleware.CompressionMiddleware(handlers.HandleChannels(a.dir, a.responses, a.prefix))).Methods("GET")
	router.HandleFunc("/api/channels/{id}", middleware.CompressionMiddleware(handlers.HandleChannel(a.dir, a.prefix))).Methods("GET")
	router.HandleFunc("/api/status", middleware.CompressionMiddleware(handlers.HandleStatus(a.dir, a.refresher, a.snapshot))).Methods("GET")

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/healthz", handlers.HandleHealthz).Methods("GET")
	router.HandleFunc("/favicon.ico", handlers.HandleFavicon).Methods("GET")

	return router
}

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()
	logger.SetLogLevel(cfg.LogLevel)

	// Initialize buffer pool
	bufferPool := buffer.NewBufferPool(copyBufferSize)

	// Initialize worker pool
	workerPool, err := ants.NewPool(cfg.ValidateWorkers, ants.WithPreAlloc(true))
	if err != nil {
		logger.Error("{main - main} Failed to create worker pool: %v", err)
		os.Exit(1)
	}
	defer workerPool.Release()

	dir := directory.New()
	responses := cache.NewCache(cfg.CacheDuration)

	refresher := refresh.New(cfg, dir, client.NewHeaderSettingClient(), validator.New(cfg.ValidateTimeout, cfg.ValidateRate), workerPool)
	refresher.OnPublish = func(*directory.Generation) {
		responses.Clear()
	}

	a := &app{
		dir:       dir,
		relay:     relay.New(cfg, dir, client.NewHeaderSettingClient(), bufferPool),
		refresher: refresher,
		responses: responses,
		prefix:    cfg.ProxyPrefix(),
	}

	// optional on-disk mirror of each published generation
	if cfg.SnapshotPath != "" {
		db, err := database.Open(cfg.SnapshotPath)
		if err != nil {
			logger.Error("{main - main} Failed to open snapshot database: %v", err)
			os.Exit(1)
		}
		defer db.Close()
		refresher.Mirror = db
		a.snapshot = db
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// initial refresh happens inside the loop
	go refresher.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// show info
	logger.Info("Starting chanrelay %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Listen Address: %s", cfg.ListenAddr)
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Refresh Interval: %s", cfg.RefreshInterval)
	logger.Info("  - Validate Workers: %d", cfg.ValidateWorkers)
	logger.Info("  - Validate Rate: %d/s per host", cfg.ValidateRate)
	logger.Info("  - Cache Duration: %s", cfg.CacheDuration)
	logger.Info("  - Snapshot Path: %s", cfg.SnapshotPath)
	logger.Info("  - Log Level: %s", logger.GetLogLevel())
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)
	for _, line := range cfg.Describe() {
		logger.Info("  - %s", line)
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("{main - main} Graceful shutdown failed: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("{main - main} Server failed: %v", err)
		os.Exit(1)
	}
}
