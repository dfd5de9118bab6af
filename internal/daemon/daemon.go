// Package daemon runs mallard's admin process: it assembles the exchanger
// chain's shared infrastructure (cache backend, circuit breaker registry,
// tracing, metrics), serves /healthz and /metrics, and manages the PID
// lifecycle for start/stop/status.
package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/mallard/cachekey"
	"github.com/allaspectsdev/mallard/cachemw"
	"github.com/allaspectsdev/mallard/exchange"
	"github.com/allaspectsdev/mallard/internal/config"
	"github.com/allaspectsdev/mallard/internal/tracing"
	"github.com/allaspectsdev/mallard/internal/version"
	"github.com/allaspectsdev/mallard/memorycache"
	"github.com/allaspectsdev/mallard/metricsmw"
	"github.com/allaspectsdev/mallard/resilience"
	"github.com/allaspectsdev/mallard/sqlitecache"
	"github.com/allaspectsdev/mallard/tracingmw"
)

// Run is the main daemon orchestrator. It initialises shared infrastructure,
// starts the admin server, and blocks until a shutdown signal is received.
// The cache backend, resilience registry, tracer and metrics it builds here
// are the pieces a caller wires into its own exchanger chain (see
// buildProbeExchanger for an example); mallard itself stays a library, not
// a proxy.
func Run(cfg *config.Config, foreground bool) error {
	dataDir := cfg.Admin.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logLevel := parseLogLevel(cfg.Admin.LogLevel)
	zerolog.SetGlobalLevel(logLevel)

	var writers []io.Writer

	logPath := filepath.Join(dataDir, "mallard.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	if foreground {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "mallard").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("mallard starting")

	if IsRunning(dataDir) {
		return fmt.Errorf("mallard is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()
	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// Config hot-reload: only the log level is actually live-adjustable
	// today, mirroring what the rest of the config drives at construction
	// time only.
	configFile := config.ConfigFilePath()
	var watcher *config.Watcher
	if configFile != "" {
		if w, watchErr := config.Watch(configFile); watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			watcher = w
			defer watcher.Close()
			watcher.OnChange(func(old, newCfg *config.Config) {
				log.Info().Msg("configuration reloaded")
				zerolog.SetGlobalLevel(parseLogLevel(newCfg.Admin.LogLevel))
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// Cache backend.
	var cacheBackend cachemw.Backend
	var sqliteBackend *sqlitecache.Backend
	switch cfg.Cache.Backend {
	case "sqlite":
		sqliteBackend, err = sqlitecache.Open(cfg.Cache.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening sqlite cache at %s: %w", cfg.Cache.SQLitePath, err)
		}
		defer sqliteBackend.Close()
		cacheBackend = sqliteBackend
		log.Info().Str("path", cfg.Cache.SQLitePath).Msg("sqlite cache backend opened")
	default:
		mem, memErr := memorycache.New(cfg.Cache.MaxEntries)
		if memErr != nil {
			return fmt.Errorf("creating memory cache: %w", memErr)
		}
		cacheBackend = mem
		log.Info().Int("max_entries", cfg.Cache.MaxEntries).Msg("memory cache backend created")
	}

	// Periodic sqlite purge loop.
	purgeCtx, purgeCancel := context.WithCancel(context.Background())
	defer purgeCancel()
	purgerDone := make(chan struct{})
	go func() {
		defer close(purgerDone)
		if sqliteBackend != nil {
			runPurger(purgeCtx, sqliteBackend, cfg.Cache.PurgeInterval)
		}
	}()

	// Circuit breaker registry.
	var cbRegistry *resilience.Registry
	if cfg.Resilience.Enabled {
		cbRegistry = resilience.NewRegistry(
			cfg.Resilience.FailureThreshold,
			time.Duration(cfg.Resilience.ResetTimeoutSec)*time.Second,
			cfg.Resilience.HalfOpenMax,
		)
		log.Info().Msg("circuit breaker registry enabled")
	}

	// Tracing.
	shutdownTracing, err := tracing.Bootstrap(context.Background(), tracing.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version.Version,
		Exporter:    tracingExporter(cfg),
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutCtx); err != nil {
			log.Error().Err(err).Msg("tracer shutdown error")
		}
	}()

	// Metrics.
	reg := prometheus.NewRegistry()
	m := metricsmw.New(reg)

	// Probe exchanger: the same cache/resilience/tracing/metrics stack a
	// caller would build around exchange.HTTPClient, exercised here by the
	// admin server's /selfcheck route. authmw, netfailmw, failsinkmw and
	// bodyerrormw are left out of this chain: they need an application's
	// own token type and failure shapes, so callers assemble those
	// themselves around exchange.HTTPClient the way this function does.
	probe, err := buildProbeExchanger(cfg, cacheBackend, cbRegistry, m)
	if err != nil {
		return fmt.Errorf("assembling probe exchanger: %w", err)
	}

	log.Info().
		Str("cache_backend", cfg.Cache.Backend).
		Bool("resilience_enabled", cfg.Resilience.Enabled).
		Bool("tracing_enabled", cfg.Tracing.Enabled).
		Msg("mallard infrastructure ready")

	// Admin HTTP server.
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Get("/healthz", handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/selfcheck", handleSelfcheck(probe))

	adminAddr := fmt.Sprintf("%s:%d", cfg.Admin.BindAddress, cfg.Admin.Port)
	adminSrv := &http.Server{
		Addr:              adminAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", adminAddr).Msg("admin server starting")
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin server: %w", err)
		}
	}()

	if foreground {
		fmt.Printf("\n  mallard is running!\n")
		fmt.Printf("  Admin: http://%s\n\n", adminAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down...")
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin server shutdown error")
	}

	purgeCancel()
	<-purgerDone

	log.Info().Msg("mallard stopped")
	return nil
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop(dataDir string) error {
	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("mallard does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("mallard is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to mallard (PID %d)\n", pid)

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}
	return nil
}

// Status checks if the daemon is running and prints a summary.
func Status(dataDir string, adminAddr string) error {
	if !IsRunning(dataDir) {
		fmt.Println("mallard is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("mallard is running (PID %d)\n", pid)

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/healthz", adminAddr))
	if err != nil {
		fmt.Println("  (admin server unreachable)")
		return nil
	}
	defer resp.Body.Close()
	fmt.Printf("  Admin:  http://%s (status %d)\n", adminAddr, resp.StatusCode)
	return nil
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// buildProbeExchanger assembles the cache/resilience/tracing/metrics stack
// around a base exchange.HTTPClient, in the same order a caller would wire
// it around their own exchanger chain.
func buildProbeExchanger(cfg *config.Config, cacheBackend cachemw.Backend, cbRegistry *resilience.Registry, m *metricsmw.Metrics) (exchange.Exchanger, error) {
	var ex exchange.Exchanger = exchange.NewHTTPClient()

	if cbRegistry != nil {
		rmw, err := resilience.New(ex, cbRegistry)
		if err != nil {
			return nil, fmt.Errorf("wiring resilience middleware: %w", err)
		}
		ex = rmw
	}

	tmw, err := tracingmw.New(ex)
	if err != nil {
		return nil, fmt.Errorf("wiring tracing middleware: %w", err)
	}
	ex = tmw

	mmw, err := metricsmw.Wrap(ex, m)
	if err != nil {
		return nil, fmt.Errorf("wiring metrics middleware: %w", err)
	}
	ex = mmw

	var keys cachemw.KeyProvider = cachekey.URIOnly{}
	if cfg.Cache.KeyPolicy == "uri_with_auth_hash" {
		keys = cachekey.URIWithAuthHash{}
	}
	cmw, err := cachemw.New(ex, cacheBackend, keys)
	if err != nil {
		return nil, fmt.Errorf("wiring cache middleware: %w", err)
	}
	ex = cmw.WithHitCounter(m)

	return ex, nil
}

// handleSelfcheck exercises the full probe exchanger chain against a
// caller-supplied ?url= target, returning the outcome as plain text. It
// exists to give operators a way to confirm the cache/resilience/tracing
// wiring works end to end without having to write a client.
func handleSelfcheck(probe exchange.Exchanger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		if target == "" {
			http.Error(w, "missing ?url= query parameter", http.StatusBadRequest)
			return
		}

		targetURL, err := url.Parse(target)
		if err != nil {
			http.Error(w, fmt.Sprintf("parsing url: %v", err), http.StatusBadRequest)
			return
		}
		req := exchange.NewRequest(http.MethodGet, targetURL)

		resp, err := probe.Exchange(r.Context(), req)
		if err != nil {
			http.Error(w, fmt.Sprintf("exchange failed: %v", err), http.StatusBadGateway)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "status=%d bytes=%d\n", resp.StatusCode, len(resp.Body))
	}
}

// runPurger periodically removes expired entries from the sqlite cache.
func runPurger(ctx context.Context, backend *sqlitecache.Backend, intervalSeconds int) {
	if intervalSeconds <= 0 {
		intervalSeconds = 300
	}
	ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("cache purger: recovered from panic")
					}
				}()
				n, err := backend.Purge(ctx)
				if err != nil {
					log.Error().Err(err).Msg("cache purge failed")
				} else if n > 0 {
					log.Info().Int64("rows", n).Msg("purged expired cache entries")
				}
			}()
		}
	}
}

func tracingExporter(cfg *config.Config) string {
	if !cfg.Tracing.Enabled {
		return "none"
	}
	return cfg.Tracing.Exporter
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
