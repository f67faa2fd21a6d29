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
		file       = flag.String("file", "", "Contract to review: .pdf, .txt or .md (required)")
		outDir     = flag.String("out", "", "Directory for <name>.md and <name>.json (default: print the report)")
		tenant     = flag.String("tenant", "local", "Tenant recorded on the review")
		verbose    = flag.Bool("verbose", false, "Enable debug logging to stderr")
	)
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Usage: review -file <contract> [-out <dir>]")
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

	res, err := app.Reviews.Review(ctx, reviews.ReviewCommand{TenantID: *tenant, Path: *file})
	item := reviews.BatchItem{Path: *file, Review: res.Review, State: res.State, Err: err}

	if *outDir != "" {
		if werr := reviews.WriteArtifacts(*outDir, item); werr != nil {
			fmt.Fprintf(os.Stderr, "write artifacts: %v\n", werr)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "review failed: %v\n", err)
		app.Close()
		os.Exit(1)
	}
	if *outDir == "" {
		fmt.Println(res.State.Report)
		return
	}
	fmt.Printf("report: %s\n", res.Review.ReportURL)
}
