// Package cli builds OctopusDB's command-line front end: a small Cobra
// tree over the embedded façade, configured from YAML. Grounded on
// raft-recovery's own internal/cli — BuildCLI/buildXCommand shape,
// persistent --config flag, YAML-to-struct config — trimmed to the
// run/demo surface this repository actually has (no distributed
// master/worker modes, no WAL/snapshot settings).
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/octopusdb/octopus/octopus"
	"github.com/octopusdb/octopus/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var log = slog.Default()

// Config is OctopusDB's on-disk configuration (spec.md's core contract has
// no file formats of its own; this shape is this CLI's own ambient
// concern, in the teacher's YAML-config idiom).
type Config struct {
	Worker struct {
		MaxWorkers uint32 `yaml:"max_workers"`
	} `yaml:"worker"`
	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

var configFile string

// BuildCLI assembles the root octopus command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "octopus",
		Short:   "OctopusDB: an in-process, in-memory key-value store",
		Long:    "OctopusDB embeds a multi-core worker pool, an advanced task queue, and OCC-guarded execution contexts behind a single-process key-value API.",
		Version: "0.1.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildDemoCommand())

	return rootCmd
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return &cfg, nil
}

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start OctopusDB and block until a shutdown signal arrives",
		Long:  "Builds the singleton instance, optionally starts the Prometheus endpoint, and waits for SIGINT/SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSystem()
		},
	}
	return cmd
}

func runSystem() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db := octopus.Instance(cfg.Worker.MaxWorkers)
	log.Info("octopus started", "workers", db.WorkerCount())

	var srv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", db.Metrics())
		srv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
		go func() {
			log.Info("metrics listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	if srv != nil {
		_ = srv.Shutdown(context.Background())
	}
	db.Shutdown()
	log.Info("octopus stopped")
	return nil
}

func buildDemoCommand() *cobra.Command {
	var workers uint32
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a short scripted walk through the command surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(workers)
		},
	}
	cmd.Flags().Uint32Var(&workers, "workers", 4, "worker count for the demo instance")
	return cmd
}

func runDemo(workers uint32) error {
	db := octopus.Instance(workers)
	defer db.Shutdown()

	db.On("operation", func(kind types.Kind, key string, value any) {
		fmt.Printf("event: %s %s -> %v\n", kind, key, value)
	})

	if _, err := db.Set("greeting", "hello octopus"); err != nil {
		return err
	}
	v, err := db.Get("greeting")
	if err != nil {
		return err
	}
	fmt.Printf("get greeting -> %v\n", v)

	if _, err := db.Incr("visits"); err != nil {
		return err
	}
	v, _ = db.Incr("visits")
	fmt.Printf("visits -> %v\n", v)

	if _, err := db.RPush("queue", "first"); err != nil {
		return err
	}
	if _, err := db.RPush("queue", "second"); err != nil {
		return err
	}
	v, _ = db.LPop("queue")
	fmt.Printf("queue pop -> %v\n", v)

	if _, err := db.Expire("greeting", 30); err != nil {
		return err
	}
	v, _ = db.TTL("greeting")
	fmt.Printf("greeting ttl -> %vs\n", v)

	fmt.Printf("workers: %d\n", db.WorkerCount())
	return nil
}
