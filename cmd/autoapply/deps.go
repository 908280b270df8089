package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/autoapply/internal/adapter/dryrun"
	"github.com/pscheid92/autoapply/internal/adapter/httpserver"
	"github.com/pscheid92/autoapply/internal/adapter/memory"
	"github.com/pscheid92/autoapply/internal/adapter/openai"
	"github.com/pscheid92/autoapply/internal/adapter/postgres"
	"github.com/pscheid92/autoapply/internal/adapter/redis"
	"github.com/pscheid92/autoapply/internal/app"
	"github.com/pscheid92/autoapply/internal/content"
	"github.com/pscheid92/autoapply/internal/domain"
	"github.com/pscheid92/autoapply/internal/lifecycle"
	"github.com/pscheid92/autoapply/internal/matching"
	"github.com/pscheid92/autoapply/internal/platform/config"
	"github.com/pscheid92/autoapply/internal/platform/retry"
	"github.com/pscheid92/autoapply/internal/ratelimit"
	"github.com/pscheid92/autoapply/internal/session"
	goredis "github.com/redis/go-redis/v9"
)

const connectTimeout = 10 * time.Second

// deps holds the wired collaborators. Postgres and Redis are optional; without
// them records and budgets live in process memory.
type deps struct {
	cfg   *config.Config
	clock clockwork.Clock

	pool  *pgxpool.Pool
	redis *goredis.Client

	store       domain.Store
	artifacts   domain.ArtifactStore
	companies   domain.CompanyFilter
	companyRepo *postgres.CompanyFilterRepo
	ledger      domain.BudgetLedger
	runLock     domain.RunLock
	machine     *lifecycle.Machine
}

func startupRetry(clock clockwork.Clock) retry.Policy {
	return retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Clock:          clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Dependency not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
}

func setupDeps(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (*deps, error) {
	d := &deps{
		cfg:     cfg,
		clock:   clock,
		machine: lifecycle.NewMachine(lifecycle.DefaultPolicy()),
	}

	if err := d.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err := d.setupRedis(ctx); err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

func (d *deps) setupStorage(ctx context.Context) error {
	if d.cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, records are kept in memory")
		d.store = memory.NewStore()
		d.artifacts = content.NewMemoryArtifacts()
		d.companies = memory.NewCompanyBlocklist(d.cfg.BlockedCompanyList())
		return nil
	}

	pool, err := retry.Do(ctx, startupRetry(d.clock), retry.Transient, func(ctx context.Context) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return postgres.Connect(ctx, d.cfg.DatabaseURL)
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		pool.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.pool = pool
	d.store = postgres.NewStore(pool)
	d.artifacts = postgres.NewArtifactRepo(pool)
	d.companyRepo = postgres.NewCompanyFilterRepo(pool)
	d.companies = companyFilters{
		configured: memory.NewCompanyBlocklist(d.cfg.BlockedCompanyList()),
		persisted:  d.companyRepo,
	}
	return nil
}

func (d *deps) setupRedis(ctx context.Context) error {
	if d.cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set, rate budgets are tracked per process")
		d.ledger = ratelimit.NewMemoryLedger()
		return nil
	}

	client, err := retry.Do(ctx, startupRetry(d.clock), retry.Transient, func(ctx context.Context) (*goredis.Client, error) {
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return redis.NewClient(ctx, d.cfg.RedisURL)
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	instanceID := d.cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	d.redis = client
	d.ledger = redis.NewBudgetLedger(client)
	d.runLock = redis.NewRunLock(client, instanceID)
	return nil
}

func (d *deps) close() {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			slog.Warn("Failed to close redis client", "error", err)
		}
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

func (d *deps) healthChecks() []httpserver.HealthCheck {
	var checks []httpserver.HealthCheck
	if d.pool != nil {
		checks = append(checks, httpserver.HealthCheck{Name: "postgres", Check: d.pool.Ping})
	}
	if d.redis != nil {
		checks = append(checks, httpserver.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return d.redis.Ping(ctx).Err()
		}})
	}
	return checks
}

func (d *deps) contentService() domain.ContentService {
	template := content.NewTemplateGenerator(d.artifacts, d.clock)
	if d.cfg.OpenAIAPIKey == "" {
		return template
	}

	model := d.cfg.OpenAIModel
	if model == "" {
		model = openai.DefaultModel
	}
	generator := openai.NewContentService(openai.NewClient(d.cfg.OpenAIAPIKey, d.cfg.OpenAIBaseURL), model, d.artifacts, d.clock)
	return content.Fallback{Primary: generator, Secondary: template}
}

// pipeline is everything a run needs beyond storage.
type pipeline struct {
	orchestrator *app.Orchestrator
	governor     *ratelimit.Governor
	registry     *session.Registry
	targets      []app.Target
}

func (d *deps) setupPipeline() (*pipeline, error) {
	limits, err := config.ParsePlatformLimits(d.cfg.PlatformLimits)
	if err != nil {
		return nil, err
	}
	governor, err := ratelimit.NewGovernor(limits, d.ledger, d.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate governor: %w", err)
	}

	accounts, err := d.cfg.ParseAccounts()
	if err != nil {
		return nil, err
	}

	var drivers []domain.PlatformDriver
	if d.cfg.DryRunCatalog != "" {
		catalog, err := dryrun.LoadCatalog(d.cfg.DryRunCatalog, d.clock)
		if err != nil {
			return nil, err
		}
		drivers = catalog.Drivers()
	}

	registry := session.NewRegistry(drivers, accounts, governor, d.clock, session.Config{
		ActionTimeout: d.cfg.ActionTimeout,
		IdleTimeout:   d.cfg.SessionIdleTimeout,
	})

	orchestrator := app.NewOrchestrator(
		d.store,
		d.machine,
		app.RegistryLanes{Registry: registry},
		governor,
		matching.NewKeywordScorer(),
		d.contentService(),
		d.companies,
		d.clock,
		app.Config{
			MatchThreshold:      d.cfg.MatchThreshold,
			CollaboratorTimeout: d.cfg.CollaboratorTimeout,
			MaxInRunRetryWait:   d.cfg.MaxInRunRetryWait,
			RequireEasyApply:    d.cfg.EasyApplyOnly,
			MaxConcurrency:      d.cfg.MaxConcurrency,
		},
	)

	return &pipeline{
		orchestrator: orchestrator,
		governor:     governor,
		registry:     registry,
		targets:      buildTargets(accounts, drivers, d.cfg.Criteria()),
	}, nil
}

// buildTargets pairs every account that has a driver with the configured search.
func buildTargets(accounts []domain.Account, drivers []domain.PlatformDriver, criteria domain.Criteria) []app.Target {
	supported := make(map[string]bool, len(drivers))
	for _, drv := range drivers {
		supported[drv.Platform()] = true
	}

	var targets []app.Target
	for _, a := range accounts {
		if !supported[a.Platform] {
			slog.Warn("No driver for account platform, skipping", "platform", a.Platform, "account", a.Username)
			continue
		}
		targets = append(targets, app.Target{
			Lane:     domain.LaneKey{Platform: a.Platform, Account: a.Username},
			Criteria: criteria,
		})
	}
	return targets
}

var errNoTargets = errors.New("no runnable targets: set ACCOUNTS and DRY_RUN_CATALOG")

// runJob returns the scheduler job for one pipeline run.
func (d *deps) runJob(p *pipeline) (func(ctx context.Context) error, error) {
	if len(p.targets) == 0 {
		return nil, errNoTargets
	}
	profile, answers, err := config.LoadProfile(d.cfg.ProfilePath)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		summary, err := p.orchestrator.Run(ctx, app.RunRequest{
			Targets: p.targets,
			Profile: profile,
			Answers: answers,
			Limit:   d.cfg.RunLimit,
		})
		slog.InfoContext(ctx, "Run finished",
			"submitted", summary.Submitted,
			"skipped", summary.Skipped,
			"duplicates", summary.Duplicates,
			"deferred", summary.Deferred,
			"needs_review", len(summary.NeedsReview),
			"aborted", summary.Aborted,
		)
		return err
	}, nil
}

// companyFilters blocks a company listed in configuration or in the
// persisted blacklist.
type companyFilters struct {
	configured domain.CompanyFilter
	persisted  domain.CompanyFilter
}

func (f companyFilters) IsBlocked(ctx context.Context, company string) (bool, string, error) {
	if blocked, reason, err := f.configured.IsBlocked(ctx, company); blocked || err != nil {
		return blocked, reason, err
	}
	return f.persisted.IsBlocked(ctx, company)
}
