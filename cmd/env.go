package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/finlake/internal/cache"
	"github.com/sells-group/finlake/internal/cvm"
	"github.com/sells-group/finlake/internal/etl"
	"github.com/sells-group/finlake/internal/fetcher"
	"github.com/sells-group/finlake/internal/objstore"
	"github.com/sells-group/finlake/internal/runlog"
)

// etlEnv holds the clients wired into the pipeline by the etl command.
type etlEnv struct {
	Gateway  *objstore.Gateway
	Runs     runlog.Log
	Redis    *redis.Client // may be nil
	Pipeline *etl.FinancialStatements
}

// Close releases resources held by the environment.
func (e *etlEnv) Close() {
	if e.Runs != nil {
		_ = e.Runs.Close()
	}
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
}

// initBackend returns the configured S3 backend, or an in-memory one for
// dry runs.
func initBackend(ctx context.Context, dryRun bool) (objstore.Backend, error) {
	if dryRun {
		return objstore.NewMemoryBackend(), nil
	}
	return objstore.NewS3Backend(ctx, objstore.S3Options{
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		PathStyle: cfg.Storage.PathStyle,
	})
}

// initETL builds the pipeline and everything it depends on. A dry run uses
// an in-memory bucket and skips the run log and cache. Callers should defer
// env.Close().
func initETL(ctx context.Context, dryRun bool) (*etlEnv, error) {
	if err := cfg.Validate("etl"); err != nil {
		return nil, err
	}
	env := &etlEnv{Runs: runlog.Noop{}}

	var (
		pub    etl.Publisher
		gwOpts []objstore.Option
	)
	if !dryRun && cfg.Cache.RedisURL != "" {
		client, err := cache.NewClient(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, err
		}
		env.Redis = client
		pub = cache.NewPublisher(client, cfg.Cache.TTL())
		if cfg.Cache.DistributedLock {
			gwOpts = append(gwOpts, objstore.WithLocker(cache.NewRedisFolderLocker(client, cfg.Cache.LockTTL())))
		}
	}

	backend, err := initBackend(ctx, dryRun)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Gateway = objstore.NewGateway(backend, gwOpts...)
	if dryRun {
		if err := env.Gateway.Init(ctx); err != nil {
			env.Close()
			return nil, err
		}
	}

	if !dryRun {
		runs, err := runlog.Open(ctx, cfg.RunLog.Driver, cfg.RunLog.DSN)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "open run log")
		}
		env.Runs = runs
	}

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  cfg.CVM.UserAgent,
		Timeout:    cfg.CVM.Timeout(),
		MaxRetries: cfg.CVM.MaxRetries,
	})
	retriever := cvm.NewRetriever(env.Gateway, f, cfg.CVM.Datasets())

	p, err := etl.New(env.Gateway, retriever, pub, env.Runs, etl.Config{
		CNPJ:         cfg.Company.CNPJ,
		YearsToFetch: cfg.ETL.YearsToFetch,
		Scale:        cfg.ETL.ScaleTable(),
		Concurrency:  cfg.ETL.Concurrency,
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Pipeline = p
	return env, nil
}
