package main

import (
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // profiling endpoints alongside the metrics server
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rustbase/rustbase/pkg/auth"
	"github.com/rustbase/rustbase/pkg/cache"
	"github.com/rustbase/rustbase/pkg/config"
	"github.com/rustbase/rustbase/pkg/log"
	"github.com/rustbase/rustbase/pkg/metrics"
	"github.com/rustbase/rustbase/pkg/router"
	"github.com/rustbase/rustbase/pkg/security"
	"github.com/rustbase/rustbase/pkg/session"
	"github.com/rustbase/rustbase/pkg/storage"
	"github.com/rustbase/rustbase/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rustbased",
	Short: "Rustbase - a networked key/document database server",
	Long: `Rustbase is a networked key/document database server.

Clients connect over TCP (optionally TLS), authenticate via a
SCRAM-SHA-256 challenge/response handshake, and submit textual queries
over a length-framed BSON wire protocol.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"rustbased version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	serveCmd.Flags().String("config", "", "Path to YAML configuration file")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus /metrics and pprof endpoints")
	serveCmd.Flags().Bool("enable-pprof", false, "Expose pprof profiling endpoints on the metrics server")

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rustbase server",
	Long: `serve boots the full request pipeline: it opens the database
router and cache, loads the authentication store, starts the worker
pool, and accepts client connections on the configured listen
address.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	r := router.New(cfg.Storage.Path, cfg.Storage.Dustdata.FlushThreshold)
	if err := r.Initialize(); err != nil {
		return fmt.Errorf("initialize router at %s: %w", cfg.Storage.Path, err)
	}
	defer func() {
		if err := r.CloseAll(); err != nil {
			log.Errorf("serve: close storage handles", err)
		}
	}()

	c := cache.New(cfg.CacheSize)
	st := storage.New(r, c)

	authSrv, err := auth.NewServer(st.LookupCredentials)
	if err != nil {
		return fmt.Errorf("initialize scram server: %w", err)
	}

	pool := worker.New(cfg.Threads)
	defer pool.Stop()

	srv, err := buildSessionServer(st, authSrv, pool, cfg)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Net.Host, strconv.Itoa(cfg.Net.Port))
	if err := srv.Listen(addr); err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	log.Info(fmt.Sprintf("rustbased listening on %s", addr))

	go serveMetrics(metricsAddr, pprofEnabled)
	log.Info(fmt.Sprintf("metrics endpoint: http://%s/metrics", metricsAddr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("received shutdown signal, flushing stores")
	case err := <-errCh:
		log.Errorf("serve: accept loop error", err)
	}

	if err := srv.Close(); err != nil {
		log.Errorf("serve: close listener", err)
	}
	if err := r.FlushAll(); err != nil {
		log.Errorf("serve: flush stores", err)
	}

	log.Info("shutdown complete")
	return nil
}

// loadConfig reads the YAML file at path, or falls back to documented
// defaults when no --config flag was supplied.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func buildSessionServer(st *storage.Storage, authSrv *auth.Server, pool *worker.Pool, cfg config.Config) (*session.Server, error) {
	if !cfg.Net.TLS.Enabled() {
		return session.New(st, authSrv, pool, nil), nil
	}
	tc, err := security.LoadServerTLSConfig(cfg.Net.TLS)
	if err != nil {
		return nil, fmt.Errorf("load TLS material: %w", err)
	}
	return session.New(st, authSrv, pool, tc), nil
}

func serveMetrics(addr string, pprofEnabled bool) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if pprofEnabled {
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
	}
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Errorf("serve: metrics server error", err)
	}
}
