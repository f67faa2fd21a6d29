package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/bryanwahyu/contract-review/internal/application/reviews"
	"github.com/bryanwahyu/contract-review/internal/bootstrap"
	"github.com/bryanwahyu/contract-review/internal/config"
	"github.com/bryanwahyu/contract-review/internal/logger"
)

func main() {
	var (
		configFile = flag.String("config", config.Path(), "Path to config YAML (optional)")
		inDir      = flag.String("dir", "", "Directory of contracts to review (required)")
		outDir     = flag.String("out", "out", "Directory for per-document reports and state files")
		tenant     = flag.String("tenant", "local", "Tenant recorded on the reviews")
		verbose    = flag.Bool("verbose", false, "Enable debug logging to stderr")
	)
	flag.Parse()

	if *inDir == "" {
		fmt.Fprintln(os.Stderr, "Usage: batch -dir <contracts> [-out <dir>]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	log := logger.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, log, bootstrap.LocalOnly())
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(2)
	}
	defer app.Close()

	res, batchErr := app.Reviews.Batch(ctx, *tenant, *inDir)
	for _, it := range res.Items {
		if err := reviews.WriteArtifacts(*outDir, it); err != nil {
			fmt.Fprintf(os.Stderr, "%s: write artifacts: %v\n", it.Name(), err)
		}
		status := "ok"
		if it.Err != nil {
			status = "FAILED"
		}
		fmt.Printf("%-8s %s\n", status, it.Path)
	}

	failed := res.Failed()
	fmt.Printf("\n%d reviewed, %d failed\n", len(res.Items), len(failed))
	for _, it := range failed {
		fmt.Printf("  %s: %v\n", it.Name(), it.Err)
	}
	if batchErr != nil {
		fmt.Fprintf(os.Stderr, "batch stopped: %v\n", batchErr)
	}
	if len(failed) > 0 || batchErr != nil {
		app.Close()
		os.Exit(1)
	}
}
