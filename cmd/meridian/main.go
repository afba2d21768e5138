// Package main implements the meridian binary. It opens the configured
// database file and keeps it maintained (auto-trim) until the process is
// asked to stop. Applications embed the session package directly; this
// binary exists for standalone and operational use.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/meridiandb/meridian/internal/app"
	"github.com/meridiandb/meridian/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		dbName      string
		schemaMode  string
		readOnly    bool
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for database files")
	flag.StringVar(&dbName, "db-name", "", "Database file name inside the data directory")
	flag.StringVar(&schemaMode, "schema-mode", "", "Schema mode: automatic, readonly, resetfile, additive, manual")
	flag.BoolVar(&readOnly, "read-only", false, "Open the database read-only")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Meridian - Versioned Embedded Database Engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage: meridian [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  meridian --data-dir /data/meridian\n")
		fmt.Fprintf(os.Stderr, "  meridian --config /etc/meridian/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  MERIDIAN_DATA_DIR               Base directory for database files\n")
		fmt.Fprintf(os.Stderr, "  MERIDIAN_DB_NAME                Database file name\n")
		fmt.Fprintf(os.Stderr, "  MERIDIAN_DB_SCHEMA_MODE         Schema mode\n")
		fmt.Fprintf(os.Stderr, "  MERIDIAN_HISTORY_AUTO_TRIM      Enable periodic history trimming\n")
		fmt.Fprintf(os.Stderr, "  MERIDIAN_HISTORY_KEEP_VERSIONS  Versions kept below the latest\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("meridian version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, dataDir, dbName, schemaMode, readOnly)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner(cfg)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("Received signal: %v", sig)

	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, dataDir, dbName, schemaMode string, readOnly bool) (*config.Config, error) {
	var cfg *config.Config
	var err error

	// Start with defaults or load from file
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	// Apply environment variables
	config.LoadDotEnv()
	config.LoadFromEnv(cfg)

	// Apply command line flags (highest priority)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if dbName != "" {
		cfg.Database.Name = dbName
	}
	if schemaMode != "" {
		cfg.Database.SchemaMode = config.SchemaModeName(schemaMode)
	}
	if readOnly {
		cfg.Database.ReadOnly = true
	}

	return cfg, nil
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("╔═══════════════════════════════════════════════════════════╗")
	log.Printf("║                       MERIDIAN                            ║")
	log.Printf("║           Versioned Embedded Database Engine              ║")
	log.Printf("╚═══════════════════════════════════════════════════════════╝")
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Data Dir:    %s", cfg.DataDir)
	log.Printf("  Database:    %s", cfg.Database.Name)
	log.Printf("  Schema Mode: %s", cfg.Database.SchemaMode)
	if cfg.Database.ReadOnly {
		log.Printf("  Read-only:   true")
	}
	if cfg.History.AutoTrim {
		log.Printf("  Auto-trim:   every %v, keeping %d versions", cfg.History.TrimInterval, cfg.History.KeepVersions)
	}
	log.Printf("")
}
