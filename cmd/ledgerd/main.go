package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/ledger/cmd/ledgerd/cli"
	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/app"
	"github.com/odyssey-erp/ledger/internal/observability"
	"github.com/odyssey-erp/ledger/internal/platform/cache"
	"github.com/odyssey-erp/ledger/internal/platform/db"
	"github.com/odyssey-erp/ledger/jobs"
)

const usage = `usage: ledgerd [command] [flags]

commands:
  serve            run migrations, bootstrap tenants and serve ops endpoints (default)
  trial-balance    print a tenant trial balance (-tenant, -as-of, -json)
  close-period     queue a full period close (-period, -actor)
  integrity        queue a trial balance integrity check (-tenant, -as-of)
  queues           show queue depth`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping ledgerd startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg, "ledgerd")

	command, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}
	code := run(ctx, command, args, cfg, logger)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, command string, args []string, cfg *app.Config, logger *slog.Logger) int {
	switch command {
	case "serve":
		if err := serve(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("ledgerd stopped", slog.Any("error", err))
			return 1
		}
		return 0
	case "trial-balance":
		return trialBalance(ctx, args, cfg, logger)
	case "close-period", "integrity", "queues":
		return queueCommand(ctx, command, args, cfg)
	default:
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
}

func connect(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*pgxpool.Pool, *redis.Client, *accounting.Service, *observability.Metrics, error) {
	pool, err := db.New(ctx, cfg.DBOptions("ledgerd"))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	rdb, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		// The ledger stays correct without Redis; only caching and close locks degrade.
		logger.Warn("redis unavailable, running without balance cache", slog.Any("error", err))
		rdb = nil
	}
	metrics := observability.NewMetrics()
	ledger, err := accounting.New(pool, rdb, cfg.LedgerConfig(metrics.Registerer()), logger)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}
	return pool, rdb, ledger, metrics, nil
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, rdb, ledger, metrics, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	if rdb != nil {
		defer rdb.Close()
	}

	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", slog.Int("count", applied))

	if report := ledger.Bootstrap(ctx); !report.OK() {
		logger.Warn("bootstrap incomplete", slog.Int("failed_tenants", len(report.Failures)))
	}

	inspector := asynq.NewInspector(cfg.AsynqRedis())
	defer inspector.Close()

	checks := map[string]app.Pinger{"postgres": app.PingFunc(db.Pinger(pool))}
	if rdb != nil {
		checks["redis"] = app.PingFunc(cache.Pinger(rdb))
	}
	srv := &http.Server{
		Addr: cfg.OpsAddr,
		Handler: app.NewRouter(app.RouterParams{
			Logger:   logger,
			Config:   cfg,
			Metrics:  metrics,
			Checks:   checks,
			Jobs:     jobs.NewHandler(inspector, logger),
			Balances: ledger.Balances,
		}),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", slog.String("addr", cfg.OpsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func trialBalance(ctx context.Context, args []string, cfg *app.Config, logger *slog.Logger) int {
	fs := flag.NewFlagSet("trial-balance", flag.ContinueOnError)
	tenant := fs.Int64("tenant", 0, "tenant id")
	asOf := fs.String("as-of", "", "date YYYY-MM-DD, defaults to today")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	pool, rdb, ledger, _, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("connect", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	if rdb != nil {
		defer rdb.Close()
	}
	reports, err := cli.NewReportsCLI(ledger.Balances)
	if err != nil {
		logger.Error("reports cli", slog.Any("error", err))
		return 1
	}
	return reports.TrialBalanceCommand(ctx, cli.TrialBalanceOptions{TenantID: *tenant, AsOf: *asOf, JSONOutput: *asJSON})
}

func queueCommand(ctx context.Context, command string, args []string, cfg *app.Config) int {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	tenant := fs.Int64("tenant", 0, "tenant id, zero for all tenants")
	asOf := fs.String("as-of", "", "date YYYY-MM-DD")
	period := fs.Int64("period", 0, "period id")
	actor := fs.Int64("actor", 0, "user id recorded on the closing voucher")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	jobsCLI := cli.NewJobsCLI(cfg.AsynqRedis())
	defer jobsCLI.Close()

	var (
		info *asynq.TaskInfo
		err  error
	)
	switch command {
	case "close-period":
		info, err = jobsCLI.TriggerClose(ctx, *period, *actor)
	case "integrity":
		info, err = jobsCLI.TriggerIntegrity(ctx, *tenant, *asOf)
	case "queues":
		stats, qerr := jobsCLI.InspectQueues(ctx)
		if qerr != nil {
			fmt.Fprintf(os.Stderr, "queues: %v\n", qerr)
			return 1
		}
		for _, s := range stats {
			fmt.Printf("%-9s pending=%d active=%d scheduled=%d retry=%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
		}
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		return 1
	}
	fmt.Printf("queued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	return 0
}
