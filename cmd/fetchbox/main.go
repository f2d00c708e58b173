package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oiwn/fetchbox/pkg/api"
	"github.com/oiwn/fetchbox/pkg/appstate"
	"github.com/oiwn/fetchbox/pkg/config"
	"github.com/oiwn/fetchbox/pkg/log"
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
	Use:   "fetchbox",
	Short: "FetchBox - multi-tenant HTTP download manifest orchestrator",
	Long: `FetchBox accepts client-submitted download manifests, persists
each as a durable job, decomposes it into per-resource download tasks,
and distributes those tasks to a pool of concurrent workers.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"FetchBox version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

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
	Short: "Start the FetchBox ingest API and background maintenance loops",
	Long: `serve loads the configuration document, opens the ledger and
queue stores, resolves the proxy pool graph, and starts the HTTP
ingest API. It runs until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "./fetchbox.yaml", "Path to the configuration document")
	serveCmd.Flags().String("bind-addr", "", "Override server.bind_addr from the configuration document")
	serveCmd.Flags().Duration("prune-interval", 10*time.Minute, "Interval between ledger retention prune cycles")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	bindAddrOverride, _ := cmd.Flags().GetString("bind-addr")
	pruneInterval, _ := cmd.Flags().GetDuration("prune-interval")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if bindAddrOverride != "" {
		cfg.Server.BindAddr = bindAddrOverride
	}

	state, err := appstate.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application state: %w", err)
	}
	defer state.Close()

	retention := appstate.NewRetentionLoop(state, pruneInterval)
	retention.Start()
	defer retention.Stop()

	server := api.NewServer(state.Controller, Version)

	errCh := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("fetchbox: listening on %s", cfg.Server.BindAddr))
		errCh <- server.ListenAndServe(cfg.Server.BindAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("fetchbox: shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server stopped: %w", err)
		}
	}

	return nil
}

// loadConfig reads the configuration document at path, falling back to
// documented defaults if path does not exist yet (first-run ergonomics
// for local development).
func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Info(fmt.Sprintf("fetchbox: %s not found, using built-in defaults", path))
		cfg := config.Default()
		return cfg, config.Validate(cfg)
	}
	return config.Load(path)
}
