package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/autoapply/internal/adapter/httpserver"
	"github.com/pscheid92/autoapply/internal/app"
	"github.com/pscheid92/autoapply/internal/platform/config"
	"github.com/pscheid92/autoapply/internal/platform/logging"
	"github.com/pscheid92/autoapply/internal/platform/version"
)

const (
	shutdownTimeout    = 10 * time.Second
	defaultReportRange = 7 * 24 * time.Hour
)

const usage = `usage: autoapply <command> [flags]

commands:
  run        execute one pipeline run and print its summary
  serve      serve the HTTP API and run the pipeline on RUN_SCHEDULE
  reconcile  mark submissions interrupted by a crash for review
  report     print application statistics for a time range
  version    print build information
`

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	if cmd == "version" {
		fmt.Println(version.Get())
		return
	}

	cfg := setupConfig()
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	version.RecordBuildInfo()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "run":
		err = runOnce(ctx, cfg, os.Stdout)
	case "serve":
		err = serve(ctx, cfg)
	case "reconcile":
		err = reconcile(ctx, cfg, os.Stdout)
	case "report":
		err = report(ctx, cfg, args, os.Stdout)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("Command failed", "command", cmd, "error", err)
		stop()
		os.Exit(1)
	}
}

func runOnce(ctx context.Context, cfg *config.Config, out io.Writer) error {
	clock := clockwork.NewRealClock()
	d, err := setupDeps(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer d.close()

	p, err := d.setupPipeline()
	if err != nil {
		return err
	}
	defer p.registry.CloseAll()

	if len(p.targets) == 0 {
		return errNoTargets
	}
	profile, answers, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return err
	}

	req := app.RunRequest{Targets: p.targets, Profile: profile, Answers: answers, Limit: cfg.RunLimit}

	var (
		summary app.RunSummary
		ran     bool
	)
	job := func(ctx context.Context) error {
		var err error
		summary, err = p.orchestrator.Run(ctx, req)
		ran = true
		return err
	}

	// The scheduler is only used for its run lock handling here.
	sched, err := app.NewScheduler("@yearly", d.runLock, clock, job)
	if err != nil {
		return err
	}
	if _, runErr := sched.Trigger(ctx); !ran {
		if runErr != nil {
			return runErr
		}
		return errors.New("another process holds the run lock")
	} else if runErr != nil {
		if err := writeJSON(out, summary); err != nil {
			slog.Error("Failed to write summary", "error", err)
		}
		return runErr
	}

	return writeJSON(out, summary)
}

func serve(ctx context.Context, cfg *config.Config) error {
	clock := clockwork.NewRealClock()
	d, err := setupDeps(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer d.close()

	p, err := d.setupPipeline()
	if err != nil {
		return err
	}
	defer p.registry.CloseAll()

	opts := []httpserver.Option{
		httpserver.WithHealthChecks(d.healthChecks()...),
		httpserver.WithBudgets(p.governor),
	}
	if d.companyRepo != nil {
		opts = append(opts, httpserver.WithCompanyFilters(d.companyRepo))
	}

	job, err := d.runJob(p)
	switch {
	case errors.Is(err, errNoTargets):
		slog.Warn("Pipeline runs disabled", "reason", err)
	case err != nil:
		return err
	default:
		schedule := cfg.RunSchedule
		if schedule == "" {
			// Only reachable through the API trigger.
			schedule = "@yearly"
		}
		sched, err := app.NewScheduler(schedule, d.runLock, clock, job)
		if err != nil {
			return err
		}
		opts = append(opts, httpserver.WithRunTrigger(sched))
		if cfg.RunSchedule != "" {
			go sched.Run(ctx)
		}
	}

	srv := httpserver.NewServer(ctx, cfg.Port, clock,
		app.NewStatusService(d.store, d.machine, clock),
		app.NewReporter(d.store),
		opts...,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutdown signal received, cleaning up...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
	return nil
}

func reconcile(ctx context.Context, cfg *config.Config, out io.Writer) error {
	d, err := setupDeps(ctx, cfg, clockwork.NewRealClock())
	if err != nil {
		return err
	}
	defer d.close()

	p, err := d.setupPipeline()
	if err != nil {
		return err
	}

	ids, err := p.orchestrator.Reconcile(ctx)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Reconciliation complete", "needs_review", len(ids))
	return writeJSON(out, map[string]any{"needs_review": ids})
}

func report(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	clock := clockwork.NewRealClock()
	now := clock.Now().UTC()

	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	from := fs.String("from", now.Add(-defaultReportRange).Format(time.RFC3339), "start of the range (RFC 3339)")
	to := fs.String("to", now.Format(time.RFC3339), "end of the range (RFC 3339)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fromT, err := time.Parse(time.RFC3339, *from)
	if err != nil {
		return fmt.Errorf("invalid -from: %w", err)
	}
	toT, err := time.Parse(time.RFC3339, *to)
	if err != nil {
		return fmt.Errorf("invalid -to: %w", err)
	}

	d, err := setupDeps(ctx, cfg, clock)
	if err != nil {
		return err
	}
	defer d.close()

	rep, err := app.NewReporter(d.store).Report(ctx, fromT.UTC(), toT.UTC())
	if err != nil {
		return err
	}
	return writeJSON(out, rep)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
