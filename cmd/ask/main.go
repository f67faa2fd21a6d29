package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/bryanwahyu/contract-review/internal/application/qa"
	"github.com/bryanwahyu/contract-review/internal/bootstrap"
	"github.com/bryanwahyu/contract-review/internal/config"
	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
	"github.com/bryanwahyu/contract-review/internal/logger"
)

func main() {
	var (
		configFile = flag.String("config", config.Path(), "Path to config YAML (optional)")
		stateFile  = flag.String("state", "", "State file written by review or batch (required)")
		question   = flag.String("q", "", "Question to ask; omit to read questions from stdin")
	)
	flag.Parse()

	if *stateFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: ask -state <name>.json [-q <question>]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := logger.Init(cfg.Log.Level, cfg.Log.Format)

	raw, err := os.ReadFile(*stateFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read state: %v\n", err)
		os.Exit(2)
	}
	var state contracts.AnalysisState
	if err := json.Unmarshal(raw, &state); err != nil {
		fmt.Fprintf(os.Stderr, "decode state: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, log, bootstrap.LocalOnly())
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(2)
	}
	defer app.Close()

	session, err := app.QA.Start(ctx, qa.StartCommand{
		TenantID:     "local",
		ContractText: state.Document.Text,
		Report:       state.Report,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start session: %v\n", err)
		os.Exit(1)
	}

	if *question != "" {
		if err := ask(ctx, app.QA, session.ID, *question); err != nil {
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "Ask about %s (Ctrl-D to quit)\n", state.Document.Source)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			break
		}
		q := strings.TrimSpace(scanner.Text())
		if q == "" {
			continue
		}
		// a failed turn is not recorded; keep the session open
		_ = ask(ctx, app.QA, session.ID, q)
		if ctx.Err() != nil {
			break
		}
	}
}

func ask(ctx context.Context, svc *qa.Service, sessionID, q string) error {
	turn, err := svc.Ask(ctx, sessionID, q)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	fmt.Println(turn.Answer)
	return nil
}
