package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/catalog"
	"github.com/sells-group/catalog-ingest/internal/config"
	"github.com/sells-group/catalog-ingest/internal/docparse"
	"github.com/sells-group/catalog-ingest/internal/family"
	"github.com/sells-group/catalog-ingest/internal/metrics"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/objectstore"
	"github.com/sells-group/catalog-ingest/internal/oracle"
	"github.com/sells-group/catalog-ingest/internal/pipeline"
	"github.com/sells-group/catalog-ingest/internal/resilience"
	"github.com/sells-group/catalog-ingest/internal/runlog"
	anthropicpkg "github.com/sells-group/catalog-ingest/pkg/anthropic"
)

// ingestEnv holds the initialized store, sinks and Ingestor used by the
// ingest and worker commands.
type ingestEnv struct {
	Store      catalog.Store
	RunLog     runlog.Sink
	Metrics    *metrics.Metrics
	Ingestor   *pipeline.Ingestor
	Blueprints []model.Family

	closers []func()
}

// Close drains background work and releases resources.
func (e *ingestEnv) Close() {
	if e.Ingestor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := e.Ingestor.Drain(ctx); err != nil {
			zap.L().Warn("background work did not finish", zap.Error(err))
		}
		cancel()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initEnv builds the ingestion environment. With dryRun the catalog lives
// in memory and nothing is written to the database.
func initEnv(ctx context.Context, c *config.Config, dryRun bool) (*ingestEnv, error) {
	env := &ingestEnv{Metrics: metrics.New()}

	blueprints, err := family.LoadBlueprints(c.Ingest.BlueprintsPath)
	if err != nil {
		return nil, err
	}
	env.Blueprints = blueprints

	if dryRun {
		env.Store = catalog.NewMemory()
		env.RunLog = runlog.Nop{}
	} else {
		st, err := initStore(ctx, c)
		if err != nil {
			return nil, err
		}
		env.Store = st
		env.closers = append(env.closers, func() { _ = st.Close() })

		sink, closeSink, err := initRunLog(ctx, c, st)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.RunLog = sink
		if closeSink != nil {
			env.closers = append(env.closers, closeSink)
		}
	}

	objects, err := initObjects(ctx, c.ObjectStore)
	if err != nil {
		env.Close()
		return nil, err
	}

	parser := docparse.NewLayout(docparse.NewPdfToText(c.DocParse.PdfToTextPath), docparse.Config{
		MaxPages: c.DocParse.MaxPages,
		Timeout:  time.Duration(c.DocParse.TimeoutSecs) * time.Second,
	})

	env.Ingestor = pipeline.New(pipelineConfig(c.Ingest), pipeline.Deps{
		Store:      env.Store,
		Objects:    objects,
		Parser:     parser,
		Oracle:     initOracle(c, env.Metrics),
		RunLog:     env.RunLog,
		Metrics:    env.Metrics,
		Blueprints: blueprints,
	})

	zap.L().Info("ingestion environment ready",
		zap.Bool("dry_run", dryRun),
		zap.Int("blueprints", len(blueprints)),
		zap.String("objectstore", c.ObjectStore.Driver),
		zap.Bool("oracle", c.Anthropic.Key != ""),
	)
	return env, nil
}

func pipelineConfig(ic config.IngestConfig) pipeline.Config {
	return pipeline.Config{
		DefaultFamily:     ic.DefaultFamily,
		MinAttributes:     ic.MinAttributes,
		CanonThreshold:    ic.CanonThreshold,
		TemplateThreshold: ic.TemplateThreshold,
		ClassifyThreshold: ic.ClassifyThreshold,
		MaxVariantKeys:    ic.MaxVariantKeys,
		RunBudget:         ic.RunBudget(),
		OracleTimeout:     ic.OracleTimeout(),
		LockWait:          ic.LockWait(),
		BackfillLimit:     ic.BackfillLimit,
		TextSampleBytes:   ic.TextSampleBytes,
	}
}

func initStore(ctx context.Context, c *config.Config) (*catalog.PostgresStore, error) {
	st, err := catalog.NewPostgres(ctx, c.Store.DatabaseURL, c.Store.MaxConns)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate catalog")
	}
	return st, nil
}

// runLogReader is a sink that can also list entries.
type runLogReader interface {
	runlog.Sink
	runlog.Reader
}

// initRunLog opens the configured run-log sink. The returned closer may be nil.
func initRunLog(ctx context.Context, c *config.Config, st *catalog.PostgresStore) (runLogReader, func(), error) {
	switch c.RunLog.Driver {
	case "", "postgres":
		pg := runlog.NewPostgres(st.Pool())
		if err := pg.Migrate(ctx); err != nil {
			return nil, nil, eris.Wrap(err, "migrate run log")
		}
		return pg, nil, nil
	case "sqlite":
		lite, err := runlog.NewSQLite(c.RunLog.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := lite.Migrate(ctx); err != nil {
			_ = lite.Close()
			return nil, nil, eris.Wrap(err, "migrate run log")
		}
		return lite, func() { _ = lite.Close() }, nil
	case "none":
		return noopReader{}, nil, nil
	default:
		return nil, nil, eris.Errorf("unsupported runlog driver: %s", c.RunLog.Driver)
	}
}

type noopReader struct {
	runlog.Nop
}

func (noopReader) Recent(context.Context, string, int) ([]runlog.Entry, error) {
	return nil, nil
}

func initObjects(ctx context.Context, oc config.ObjectStoreConfig) (objectstore.Store, error) {
	timeout := time.Duration(oc.TimeoutSecs) * time.Second
	switch oc.Driver {
	case "", "fs":
		return objectstore.NewFS(oc.Root, timeout)
	case "s3":
		return objectstore.NewS3(ctx, objectstore.S3Config{
			Bucket:    oc.Bucket,
			Region:    oc.Region,
			Endpoint:  oc.Endpoint,
			PathStyle: oc.PathStyle,
			AccessKey: oc.AccessKey,
			SecretKey: oc.SecretKey,
			Timeout:   timeout,
		})
	default:
		return nil, eris.Errorf("unsupported objectstore driver: %s", oc.Driver)
	}
}

// initOracle returns nil when no API key is configured; the pipeline then
// runs on heuristics alone.
func initOracle(c *config.Config, m *metrics.Metrics) oracle.Oracle {
	if c.Anthropic.Key == "" {
		zap.L().Debug("CATALOG_ANTHROPIC_KEY not set, extraction oracle disabled")
		return nil
	}
	guard := resilience.NewGuard(resilience.GuardConfig{
		Name:       "anthropic",
		Timeout:    c.Ingest.OracleTimeout(),
		RatePerSec: c.Anthropic.RatePerSec,
		Burst:      c.Anthropic.Burst,
		Breaker: resilience.BreakerConfig{
			FailureThreshold: c.Anthropic.BreakerFailures,
			Cooldown:         time.Duration(c.Anthropic.BreakerCooldownSecs) * time.Second,
		},
		Retry: resilience.RetryPolicy{
			MaxAttempts: c.Anthropic.MaxAttempts,
			OnRetry:     resilience.LogRetry("anthropic", "messages"),
		},
	})
	return oracle.NewClaude(anthropicpkg.NewClient(c.Anthropic.Key), oracle.ClaudeConfig{
		Model:       c.Anthropic.Model,
		MaxTokens:   c.Anthropic.MaxTokens,
		SampleBytes: c.Ingest.TextSampleBytes,
		Guard:       guard,
		OnCall:      m.ObserveOracle,
	})
}
