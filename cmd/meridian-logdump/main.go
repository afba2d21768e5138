// Package main implements meridian-logdump, a debugging tool that prints the
// decoded transaction logs stored in a Meridian history file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/meridiandb/meridian/internal/history"
	"github.com/meridiandb/meridian/internal/instr"
	"github.com/meridiandb/meridian/pkg/types"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		dbPath      string
		fromVersion uint64
		toVersion   uint64
		showSchema  bool
		showVersion bool
	)

	flag.StringVar(&dbPath, "db", "", "Path to the history database file")
	flag.Uint64Var(&fromVersion, "from", 0, "Dump changesets after this version (default: everything retained)")
	flag.Uint64Var(&toVersion, "to", 0, "Dump changesets up to this version (default: latest)")
	flag.BoolVar(&showSchema, "schema", false, "Print the stamped schema instead of changesets")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "meridian-logdump - decode the transaction logs of a Meridian file\n\n")
		fmt.Fprintf(os.Stderr, "Usage: meridian-logdump --db <file> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  meridian-logdump --db /data/meridian/meridian.db\n")
		fmt.Fprintf(os.Stderr, "  meridian-logdump --db meridian.db --from 10 --to 20\n")
		fmt.Fprintf(os.Stderr, "  meridian-logdump --db meridian.db --schema\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("meridian-logdump version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}
	if dbPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(dbPath, fromVersion, toVersion, showSchema); err != nil {
		log.Fatalf("logdump failed: %v", err)
	}
}

func run(dbPath string, from, to uint64, showSchema bool) error {
	ctx := context.Background()

	hist, err := history.Open(dbPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	latest, err := hist.LatestVersion(ctx)
	if err != nil {
		return err
	}

	if showSchema {
		return dumpSchema(ctx, hist)
	}

	if to == 0 || types.Version(to) > latest {
		to = uint64(latest)
	}
	if from == 0 {
		// Everything still retained; bootstrap yields the oldest commits.
		return dumpBootstrap(ctx, hist, latest)
	}

	src, err := hist.ChangesetsBetween(ctx, types.Version(from), types.Version(to))
	if err != nil {
		return err
	}
	v := from
	for {
		block, err := src.NextBlock()
		if err != nil {
			return err
		}
		if block == nil {
			return nil
		}
		v++
		if err := dumpChangeset(types.Version(v), block); err != nil {
			return err
		}
	}
}

func dumpBootstrap(ctx context.Context, hist history.History, latest types.Version) error {
	src, _, err := hist.Bootstrap(ctx)
	if err != nil {
		return err
	}
	n := 0
	var blocks [][]byte
	for {
		block, err := src.NextBlock()
		if err != nil {
			return err
		}
		if block == nil {
			break
		}
		blocks = append(blocks, block)
		n++
	}
	// The newest retained changeset produced the latest version.
	v := latest - types.Version(n) + 1
	for _, block := range blocks {
		if err := dumpChangeset(v, block); err != nil {
			return err
		}
		v++
	}
	return nil
}

func dumpChangeset(v types.Version, changeset []byte) error {
	fmt.Printf("=== version %d (%d bytes) ===\n", v, len(changeset))
	dec := instr.NewDecoder(changeset)
	for {
		in, err := dec.Next()
		if err != nil {
			return fmt.Errorf("version %d: %w", v, err)
		}
		if in == nil {
			return nil
		}
		fmt.Printf("  %s\n", in)
	}
}

func dumpSchema(ctx context.Context, hist history.History) error {
	sch, ver, stamped, err := hist.StampedSchema(ctx)
	if err != nil {
		return err
	}
	if !stamped {
		fmt.Println("no schema stamped")
		return nil
	}
	fmt.Printf("schema version %d\n%s\n", ver, sch)
	return nil
}
