// Package app builds a harvest run from configuration and owns every
// long-lived service it needs.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/media-harvester/internal/api"
	"github.com/JakeFAU/media-harvester/internal/browser"
	"github.com/JakeFAU/media-harvester/internal/clock/system"
	"github.com/JakeFAU/media-harvester/internal/config"
	"github.com/JakeFAU/media-harvester/internal/crawler"
	memorydedup "github.com/JakeFAU/media-harvester/internal/dedup/memory"
	redisdedup "github.com/JakeFAU/media-harvester/internal/dedup/redis"
	"github.com/JakeFAU/media-harvester/internal/dispatcher"
	"github.com/JakeFAU/media-harvester/internal/enrich/tmdb"
	"github.com/JakeFAU/media-harvester/internal/id/uuid"
	"github.com/JakeFAU/media-harvester/internal/listing"
	"github.com/JakeFAU/media-harvester/internal/normalize"
	"github.com/JakeFAU/media-harvester/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/media-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/media-harvester/internal/queue"
	"github.com/JakeFAU/media-harvester/internal/sink"
	gcsstorage "github.com/JakeFAU/media-harvester/internal/storage/gcs"
	pgstore "github.com/JakeFAU/media-harvester/internal/storage/postgres"
	"github.com/JakeFAU/media-harvester/internal/worker"
)

// Option overrides a dependency, mainly for tests.
type Option func(*options)

type options struct {
	browser    crawler.Browser
	httpClient *http.Client
	clock      crawler.Clock
	ids        crawler.IDGenerator
	extraSinks []sink.Target
}

// WithBrowser uses b instead of launching the configured driver.
func WithBrowser(b crawler.Browser) Option {
	return func(o *options) { o.browser = b }
}

// WithHTTPClient uses c for the metadata API. The rate limiter still wraps it.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithClock overrides the record timestamp source.
func WithClock(c crawler.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(g crawler.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithSink adds a target after the configured ones.
func WithSink(name string, s crawler.Sink) Option {
	return func(o *options) { o.extraSinks = append(o.extraSinks, sink.Target{Name: name, Sink: s}) }
}

// App is one configured harvest run.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	runID    string
	clock    crawler.Clock
	units    *queue.Queue
	browser  crawler.Browser
	sink     *sink.Multi
	store    *pgstore.Store
	pool     *dispatcher.Pool
	stats    *crawler.Stats
	server   *http.Server
	running  atomic.Bool
	sinkOnce sync.Once
	closers  []func(context.Context) error
}

// New wires every component. On error, anything already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: system.New(), ids: uuid.New()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, clock: o.clock, stats: &crawler.Stats{}}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if a.runID, err = o.ids.NewID(); err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	a.logger = logger.With(zap.String("run_id", a.runID))

	start, end, err := cfg.Range()
	if err != nil {
		return nil, err
	}
	a.units = queue.Populate(start, end, a.clock.Now())
	a.logger.Info("work units queued", zap.Int("units", a.units.Len()))

	dedup, err := a.buildDedup(ctx)
	if err != nil {
		return nil, err
	}
	enricher, err := a.buildEnricher(o.httpClient)
	if err != nil {
		return nil, err
	}
	if a.sink, err = a.buildSinks(ctx, o.extraSinks); err != nil {
		return nil, err
	}

	a.browser = o.browser
	if a.browser == nil {
		a.browser, err = browser.New(browser.Config{
			Driver:            cfg.Browser.Driver,
			Headless:          cfg.Browser.Headless,
			UserAgent:         cfg.Browser.UserAgent,
			ExecPath:          cfg.Browser.ExecPath,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
			ActionTimeout:     cfg.Browser.ActionTimeout,
		}, a.logger.Named("browser"))
		if err != nil {
			return nil, fmt.Errorf("start browser: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return a.browser.Close() })
	}

	extractor := listing.NewExtractor(listing.Config{
		BaseURL:       cfg.Crawl.ListingURL,
		TitleTypes:    cfg.Crawl.TitleTypes,
		PageSize:      cfg.Crawl.PageSize,
		IncludeAdult:  cfg.Crawl.IncludeAdult,
		ExpandTimeout: cfg.Crawl.ExpandTimeout,
		SettleDelay:   cfg.Crawl.SettleDelay,
		MaxExpansions: cfg.Crawl.MaxExpansions,
		ItemsTimeout:  cfg.Crawl.ItemsTimeout,
	}, a.logger.Named("listing"))

	deps := worker.Deps{
		Units:      a.units,
		Browser:    a.browser,
		Extractor:  extractor,
		Dedup:      dedup,
		Enricher:   enricher,
		Normalizer: normalize.New(cfg.Enrichment.ImageBase, a.clock, a.runID),
		Sink:       a.sink,
		Slots:      semaphore.NewWeighted(int64(cfg.Enrichment.Parallelism)),
		Stats:      a.stats,
		Budget:     worker.NewBudget(cfg.Crawl.MaxItems),
	}
	runners := make([]dispatcher.Runner, 0, cfg.Crawl.Workers)
	for i := range cfg.Crawl.Workers {
		runners = append(runners, worker.New(i, deps, a.logger.Named("worker")))
	}
	a.pool = dispatcher.New(a.stats, a.logger.Named("pool"), runners...)

	if cfg.Server.Addr != "" {
		srv := api.NewServer(a, a.readiness, a.logger.Named("api"))
		a.server = &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a, nil
}

func (a *App) buildDedup(ctx context.Context) (crawler.DedupIndex, error) {
	if a.cfg.Redis.Addr == "" {
		return memorydedup.New(), nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", a.cfg.Redis.Addr, err)
	}
	idx, err := redisdedup.New(client, redisdedup.Config{
		Prefix: a.cfg.Redis.Prefix,
		RunID:  a.runID,
		TTL:    a.cfg.Redis.TTL,
	}, a.logger.Named("dedup"))
	if err != nil {
		return nil, fmt.Errorf("redis dedup: %w", err)
	}
	a.logger.Info("using redis dedup", zap.String("addr", a.cfg.Redis.Addr))
	return idx, nil
}

func (a *App) buildEnricher(client *http.Client) (*tmdb.Client, error) {
	if client == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.MaxIdleConns = a.cfg.HTTP.MaxIdleConns
		base.MaxIdleConnsPerHost = a.cfg.HTTP.MaxIdleConnsPerHost
		client = &http.Client{Transport: base}
	}
	limited := *client
	limited.Timeout = a.cfg.HTTP.Timeout
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Enrichment.RateLimitRPS,
		DefaultBurst: a.cfg.Enrichment.RateBurst,
	})
	limited.Transport = limiter.Transport(client.Transport)

	retry := crawler.NewExponentialRetryPolicy(crawler.RetryConfig{
		MaxAttempts: a.cfg.Enrichment.MaxAttempts,
		BaseDelay:   a.cfg.Enrichment.BackoffBase,
		MaxDelay:    a.cfg.Enrichment.BackoffMax,
	})
	enricher, err := tmdb.New(tmdb.Config{
		BaseURL: a.cfg.Enrichment.BaseURL,
		APIKey:  a.cfg.Enrichment.APIKey,
	}, &limited, retry, a.logger.Named("tmdb"))
	if err != nil {
		return nil, fmt.Errorf("metadata client: %w", err)
	}
	return enricher, nil
}

func (a *App) buildSinks(ctx context.Context, extra []sink.Target) (_ *sink.Multi, err error) {
	var targets []sink.Target
	defer func() {
		if err != nil {
			for _, t := range targets {
				_ = t.Sink.Close(ctx)
			}
		}
	}()
	add := func(name string, s crawler.Sink) {
		targets = append(targets, sink.Target{Name: name, Sink: s})
	}

	if path := a.cfg.Output.JSONPath; path != "" {
		s, err := sink.NewJSONL(path)
		if err != nil {
			return nil, fmt.Errorf("json sink: %w", err)
		}
		add("jsonl", s)
	}
	if path := a.cfg.Output.CSVPath; path != "" {
		s, err := sink.NewCSV(path)
		if err != nil {
			return nil, fmt.Errorf("csv sink: %w", err)
		}
		add("csv", s)
	}
	if a.cfg.DB.DSN != "" {
		store, err := pgstore.New(ctx, pgstore.Config{DSN: a.cfg.DB.DSN, Table: a.cfg.DB.Table})
		if err != nil {
			return nil, fmt.Errorf("postgres sink: %w", err)
		}
		add("postgres", store)
		if a.cfg.DB.Migrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		a.store = store
	}
	if a.cfg.Storage.Bucket != "" {
		blobs, err := gcsstorage.Dial(ctx, a.cfg.Storage.Bucket)
		if err != nil {
			return nil, fmt.Errorf("gcs sink: %w", err)
		}
		// Closed after the sinks, so the run object is uploaded first.
		a.closers = append(a.closers, func(context.Context) error { return blobs.Close() })
		runSink, err := gcsstorage.NewRunSink(blobs, a.cfg.Storage.Prefix, a.runID, a.logger.Named("gcs"))
		if err != nil {
			return nil, fmt.Errorf("gcs sink: %w", err)
		}
		add("gcs", runSink)
	}
	if a.cfg.PubSub.Topic != "" {
		pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
		if err != nil {
			return nil, fmt.Errorf("pubsub sink: %w", err)
		}
		add("pubsub", pub)
	}
	targets = append(targets, extra...)
	if len(targets) == 0 {
		return nil, errors.New("no output configured: set output.json_path, output.csv_path, db.dsn, storage.bucket or pubsub.topic")
	}
	return sink.NewMulti(a.logger.Named("sink"), targets...), nil
}

// closeSinks flushes every sink exactly once.
func (a *App) closeSinks(ctx context.Context) error {
	var err error
	a.sinkOnce.Do(func() {
		if a.sink != nil {
			err = a.sink.Close(ctx)
		}
	})
	return err
}

// RunID returns this run's identifier.
func (a *App) RunID() string { return a.runID }

// Summary returns the live run counters.
func (a *App) Summary() crawler.Summary {
	s := a.stats.Snapshot()
	s.RunID = a.runID
	s.UnitsTotal = a.units.Len()
	return s
}

func (a *App) readiness() error {
	if !a.running.Load() {
		return errors.New("harvest not running")
	}
	return nil
}

// Run harvests every queued unit and returns the final summary. It only
// fails when the status server cannot start; worker failures are
// reported in the summary.
func (a *App) Run(ctx context.Context) (crawler.Summary, error) {
	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return crawler.Summary{}, fmt.Errorf("listen %s: %w", a.server.Addr, err)
		}
		go func() {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("status server failed", zap.Error(err))
			}
		}()
		a.logger.Info("status server listening", zap.String("addr", ln.Addr().String()))
	}

	started := a.clock.Now()
	if a.store != nil {
		if err := a.store.StartRun(ctx, a.runID, started); err != nil {
			a.logger.Warn("record run start failed", zap.Error(err))
		}
	}

	a.running.Store(true)
	a.logger.Info("starting workers", zap.Int("workers", a.pool.Size()), zap.String("run_id", a.runID))
	a.pool.Run(ctx)
	a.running.Store(false)

	// Flushing must outlive a canceled run context.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	summary := a.Summary()
	if a.store != nil {
		if err := a.store.FinishRun(finishCtx, summary, a.clock.Now()); err != nil {
			a.logger.Warn("record run finish failed", zap.Error(err))
		}
	}
	if err := a.closeSinks(finishCtx); err != nil {
		a.logger.Error("closing sinks failed", zap.Error(err))
	}
	a.logger.Info("harvest finished",
		zap.Int("units_total", summary.UnitsTotal),
		zap.Int64("units_done", summary.UnitsDone),
		zap.Int64("units_failed", summary.UnitsFailed),
		zap.Int64("records", summary.RecordsEmitted),
		zap.Int64("enrich_absent", summary.EnrichAbsent),
		zap.Int64("duplicates", summary.ItemsDuplicate),
		zap.Int64("workers_failed", summary.WorkersFailed),
		zap.Duration("elapsed", a.clock.Now().Sub(started)),
	)
	return summary, nil
}

// Close stops the status server and releases sinks, clients and the
// browser in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown status server: %w", err))
		}
	}
	if err := a.closeSinks(ctx); err != nil {
		errs = append(errs, err)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
