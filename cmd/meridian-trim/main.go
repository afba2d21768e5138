// Package main implements the meridian-trim maintenance binary.
// It opens a database file, reclaims commit history older than the retention
// window in one pass, and exits. Intended for cron jobs and operators.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/meridiandb/meridian/internal/history"
	"github.com/meridiandb/meridian/internal/session"
	"github.com/meridiandb/meridian/pkg/types"
)

// Config holds the tool configuration.
type Config struct {
	DBPath       string
	KeepVersions int
	Timeout      time.Duration
	DryRun       bool
}

func main() {
	cfg := parseFlags()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	s, err := session.Open(ctx, session.Config{Path: cfg.DBPath})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer s.Close()

	latest := s.Version()
	keep := types.Version(cfg.KeepVersions)
	log.Printf("Database opened: %s (version %d)", cfg.DBPath, latest)

	if latest <= history.BaseVersion+keep {
		log.Printf("Nothing to trim: only %d versions above base", latest-history.BaseVersion)
		return
	}

	upTo := latest - keep
	if cfg.DryRun {
		log.Printf("Dry run: would trim history up to version %d", upTo)
		return
	}

	floor, err := s.TrimTo(ctx, upTo)
	if err != nil {
		log.Fatalf("Trim failed: %v", err)
	}
	log.Printf("History trimmed: floor=%d, latest=%d", floor, latest)
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.DBPath, "db", "", "Path to the database file (required)")
	flag.IntVar(&cfg.KeepVersions, "keep-versions", 16, "Versions below the latest left untrimmed")
	flag.DurationVar(&cfg.Timeout, "timeout", time.Minute, "Overall operation timeout")
	flag.BoolVar(&cfg.DryRun, "dry-run", false, "Report what would be trimmed without trimming")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: meridian-trim --db <path> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if cfg.DBPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if cfg.KeepVersions < 0 {
		log.Fatalf("keep-versions must not be negative, got %d", cfg.KeepVersions)
	}

	return cfg
}
