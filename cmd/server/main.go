package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/me/reflow/internal/clock"
	"github.com/me/reflow/internal/config"
	"github.com/me/reflow/internal/engine"
	"github.com/me/reflow/internal/expr"
	"github.com/me/reflow/internal/logging"
	"github.com/me/reflow/internal/scene"
	"github.com/me/reflow/internal/server"
	"github.com/me/reflow/internal/store"
)

func main() {
	configFile := flag.String("config", "", "Path to server config file (YAML)")

	cfg := config.DefaultServerConfig()
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Database path (default ~/.reflow/reflow.db)")
	flag.StringVar(&cfg.SceneDir, "scenes", cfg.SceneDir, "Directory of scene files loaded into the library at startup")
	flag.IntVar(&cfg.TickMS, "tick-ms", cfg.TickMS, "Virtual milliseconds per wall tick (0 for virtual mode)")
	flag.IntVar(&cfg.LatencyMS, "latency-ms", cfg.LatencyMS, "Default fetch latency for catalog rows without one")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")

	flag.Parse()

	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
		// Flags were already parsed over the defaults; parse again so
		// explicit flags win over the file.
		flag.Parse()
	}

	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	// Resolve database path.
	dbPath := cfg.DBPath
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine home directory: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".reflow")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
			os.Exit(1)
		}
		dbPath = filepath.Join(dir, "reflow.db")
	}

	// Open store and run migrations.
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", dbPath)

	// Load scene files into the library.
	if cfg.SceneDir != "" {
		scenes, err := scene.New(logger).LoadDir(cfg.SceneDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load scenes: %v\n", err)
			os.Exit(1)
		}
		for _, sc := range scenes {
			if err := st.PutScene(context.Background(), sc); err != nil {
				fmt.Fprintf(os.Stderr, "store scene %s: %v\n", sc.Name, err)
				os.Exit(1)
			}
		}
		logger.Info("scene library loaded", "dir", cfg.SceneDir, "scenes", len(scenes))
	}

	// Assemble the engine: catalog-backed fetcher over a shared virtual
	// clock, ticked forward by wall time when tick-ms is set.
	clk := clock.New()
	eng := engine.New(engine.Config{
		Clock:     clk,
		Fetcher:   store.NewCatalogFetcher(st, clk, cfg.Latency()),
		Evaluator: expr.New(cfg.Prelude),
		Tick:      cfg.Tick(),
	}, logger)

	srv := server.New(cfg, st, eng, logger)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the tick loop when configured; virtual mode moves only through
	// the expire endpoint.
	if cfg.TickMS > 0 {
		go func() {
			if err := eng.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("engine stopped", "error", err)
			}
		}()
	} else {
		logger.Info("engine in virtual mode", "hint", "advance time with POST /api/v1/time/expire")
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop the engine before the HTTP server.
	if err := eng.Stop(); err != nil {
		logger.Error("engine stop error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
