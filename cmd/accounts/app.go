package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/graph-accounts/internal/config"
	"github.com/and161185/graph-accounts/internal/engine"
	"github.com/and161185/graph-accounts/internal/engine/cypher"
	"github.com/and161185/graph-accounts/internal/engine/memory"
	"github.com/and161185/graph-accounts/internal/engine/postgres"
	"github.com/and161185/graph-accounts/internal/limiter"
	"github.com/and161185/graph-accounts/internal/logging"
	"github.com/and161185/graph-accounts/internal/migrate"
	"github.com/and161185/graph-accounts/internal/repository"
	"github.com/and161185/graph-accounts/internal/repository/graph"
	"github.com/and161185/graph-accounts/internal/service"
)

// processEngine backs the memory engine for the lifetime of the process.
var processEngine = memory.New()

const usageText = `accounts - graph account store tool
Usage:
  accounts [-engine neo4j|postgres|memory] [flags] <cmd> [args]

Commands:
  version
  migrate                                     (schema and constraints)
  create         -u <username> -e <email> -p <password> [-l <locales>]
  find           -u <username> | -e <email>
  exists         -u <username> | -e <email>
  login          -e <email> -p <password> [-ip <addr>]
  search         -q <prefix> -as <username>
  reset-request  -e <email> [-ip <addr>]
  reset          -e <email> -t <token> -p <password>
  locales        -u <username> -l <locales>

Run "accounts -h" for global flags; every flag can also be set through
ACCOUNTS_<NAME> environment variables.
`

// app wires the configured engine, limiter and service.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	run    cypher.Runner
	db     *postgres.DB
	users  repository.UserRepository
	svc    service.AccountService
	closer []func()
}

func run(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	cfg, rest, err := config.Load(args, getenv, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(stderr, usageText)
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}
	if len(rest) < 1 {
		fmt.Fprint(stderr, usageText)
		return 2
	}
	if rest[0] == "version" {
		fmt.Fprintf(stdout, "accounts %s (%s)\n", version, buildDate)
		return 0
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	log, err := logging.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	a, err := open(ctx, cfg, log)
	if err != nil {
		log.Error("open engine", zap.String("engine", cfg.Engine), zap.Error(err))
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer a.close()

	if err := a.dispatch(ctx, rest[0], rest[1:], stdout, stderr); err != nil {
		var uerr usageError
		if errors.As(err, &uerr) {
			fmt.Fprintln(stderr, uerr)
			return 2
		}
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	var eng engine.Engine
	switch cfg.Engine {
	case config.EngineNeo4j:
		driver, err := cypher.Connect(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return nil, err
		}
		a.closer = append(a.closer, func() { _ = driver.Close(context.Background()) })
		a.run = cypher.NewDriverRunner(driver, cfg.Neo4jDatabase)
		eng = cypher.New(a.run, log)
	case config.EnginePostgres:
		db, err := postgres.New(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		a.closer = append(a.closer, db.Close)
		a.db = db
		eng = postgres.NewEngine(db)
	default:
		eng = processEngine
	}

	policy := limiter.Policy{
		Window:   cfg.LimiterWindow,
		MaxFails: cfg.LimiterMaxFails,
		BlockFor: cfg.LimiterBlockFor,
	}
	var lim limiter.Limiter = limiter.Noop{}
	switch {
	case cfg.RedisAddr != "":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			a.close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closer = append(a.closer, func() { _ = rdb.Close() })
		lim = limiter.NewRedis(rdb, "accounts:limiter", policy)
	case a.db != nil:
		lim = limiter.NewPG(a.db.Pool, policy)
	}

	a.users = graph.NewUserRepo(eng, log)
	a.svc = service.NewAccountService(a.users, lim, service.Options{
		SignKey:   []byte(cfg.JWTKey),
		AccessTTL: cfg.AccessTTL,
		ResetTTL:  cfg.ResetTTL,
	}, log)
	log.Debug("engine ready", zap.String("engine", cfg.Engine))
	return a, nil
}

func (a *app) close() {
	for i := len(a.closer) - 1; i >= 0; i-- {
		a.closer[i]()
	}
	a.closer = nil
}

// migrateUp prepares the selected engine's schema.
func (a *app) migrateUp(ctx context.Context) error {
	switch a.cfg.Engine {
	case config.EnginePostgres:
		return migrate.Up(ctx, a.cfg.DatabaseDSN, a.log)
	case config.EngineNeo4j:
		return cypher.EnsureConstraints(ctx, a.run)
	default:
		return nil
	}
}
