// Package app wires configuration, transport, storage, the registry and the
// feed watchers into one running bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"watchbot/internal/appdata"
	"watchbot/internal/config"
	"watchbot/internal/feed"
	"watchbot/internal/kv"
	"watchbot/internal/metrics"
	"watchbot/internal/notifier"
	"watchbot/internal/observability/httpsrv"
	"watchbot/internal/registry"
	"watchbot/internal/runtime/supervisor"
	"watchbot/internal/transport"
	telegram "watchbot/internal/transport/telegram/adapter"
	"watchbot/internal/watcher"
	"watchbot/pkg/httpx"
	logx "watchbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	metrics *metrics.Metrics
	store   kv.Store

	adapter transport.Adapter
	subs    registry.Lookup[int64, string]
	notif   *notifier.Service
	httpsrv *httpsrv.Service

	data     *appdata.Data
	watchers []*watcher.Watcher[feed.State]

	updates  chan transport.Update
	stopOnce sync.Once
}

type Option func(*options)

type options struct {
	adapter transport.Adapter
}

// WithAdapter replaces the Telegram adapter.
func WithAdapter(a transport.Adapter) Option {
	return func(o *options) { o.adapter = a }
}

// New loads the config at cfgPath and builds every component. A persisted
// registry that cannot be seeded is fatal.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	ad := o.adapter
	if ad == nil {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout},
			logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		ad = tg
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return config.Validate(c) })

	m := metrics.New()
	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		metrics: m,
		adapter: ad,
		updates: make(chan transport.Update, 256),
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.store, err = kv.Open(sc, log.With(logx.String("comp", "kv")), kv.WithObserver(m.ObserveStoreOp))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if a.store != nil {
		a.log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	a.subs, err = buildSubscriptions(ctx, cfg, a.store, m, log.With(logx.String("comp", "registry")))
	if err != nil {
		a.closeStore()
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.notif = notifier.New(ncfg, ad, log, m)

	hcfg, err := mapMetricsConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.httpsrv = httpsrv.New(hcfg, m.Registry(), a.health, log)

	a.data = &appdata.Data{
		HTTP:          httpx.New(httpx.WithUserAgent("watchbot/1")),
		Notifier:      a.notif,
		Store:         a.store,
		Subscriptions: a.subs,
		Metrics:       m,
		Log:           log,
	}
	for _, wc := range cfg.Watchers {
		w, err := a.newFeedWatcher(wc)
		if err != nil {
			a.closeStore()
			return nil, err
		}
		a.watchers = append(a.watchers, w)
	}
	return a, nil
}

func buildSubscriptions(ctx context.Context, cfg *config.Config, store kv.Store, m *metrics.Metrics, log logx.Logger) (registry.Lookup[int64, string], error) {
	relation, err := cfg.Registry.Relation()
	if err != nil {
		return nil, err
	}
	name := cfg.Registry.RegistryName()

	if cfg.Registry.BackendName() == config.BackendPersisted {
		p, err := registry.NewPersisted[int64, string](name, store, registry.Int64Codec{}, eventCodec(cfg.Registry.EventCodec), log)
		if err != nil {
			return nil, err
		}
		if err := p.SetupSubscribeRegistry(ctx, maps.All(relation)); err != nil {
			return nil, err
		}
		return p, nil
	}

	reg := registry.New[int64, string](relation,
		registry.WithCacheSize(cfg.Registry.CacheSize),
		registry.WithLookupHook(func(hit bool) { m.ObserveLookup(name, hit) }),
	)
	log.Info("registry ready", logx.String("registry", name), logx.Int("events", len(reg.Pool())))
	return registry.NewShared(reg), nil
}

func (a *App) newFeedWatcher(wc config.WatcherConfig) (*watcher.Watcher[feed.State], error) {
	cfg, err := mapWatcherConfig(wc)
	if err != nil {
		return nil, err
	}
	var seen feed.SeenSet
	if a.store != nil {
		seen = feed.NewKVSeen(a.store, cfg.Name)
	} else {
		seen = feed.NewMemorySeen(0)
	}
	return watcher.New(cfg, a.adapter, a.data, feed.State{
		URL:         wc.URL,
		Priority:    wc.Priority,
		SkipBacklog: wc.SkipBacklog,
		Seen:        seen,
	}, a.log.With(logx.String("comp", "watcher")))
}

// Start runs every component. It returns once they are launched; a fatal
// component error cancels Done.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)
	sctx := a.sup.Context()

	if err := a.adapter.Start(sctx, a.updates); err != nil {
		return fmt.Errorf("start telegram adapter: %w", err)
	}
	a.notif.Start(sctx)
	a.httpsrv.Start(sctx)

	for _, w := range a.watchers {
		if err := w.Start(sctx, feed.Poll); err != nil {
			return err
		}
	}

	a.sup.Go0("commands", a.commandLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	cfgCh := a.cfgm.Subscribe(1)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(cfgCh)
		a.applyLoop(c, cfgCh)
	})

	a.log.Info("watchbot started", logx.Int("watchers", len(a.watchers)))
	return nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err reports the fatal error that canceled the app, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Stop shuts every component down in dependency order, bounded by ctx.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		for _, w := range a.watchers {
			w.Stop("app stop")
		}
		for _, w := range a.watchers {
			if err := w.Wait(ctx); err != nil {
				errs = append(errs, fmt.Errorf("watcher %s: %w", w.Name(), err))
			}
		}
		a.notif.Stop(ctx)
		if err := a.adapter.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telegram adapter: %w", err))
		}
		a.httpsrv.Stop(ctx)
		if a.sup != nil {
			if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		}
		if err := a.closeStore(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
		a.log.Info("watchbot stopped")
		_ = a.logs.Close()
	})
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *App) applyLoop(ctx context.Context, ch <-chan *config.Config) {
	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.apply(ctx, prev, cfg)
			prev = cfg
		}
	}
}

func (a *App) apply(ctx context.Context, prev, cfg *config.Config) {
	ch := config.SummarizeChange(prev, cfg)
	if ch.Empty() {
		return
	}
	a.log.Info("config change applied", append([]logx.Field{logx.Strs("sections", ch.Sections)}, ch.Fields...)...)
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strs("sections", ch.RestartRequired))
	}

	a.logs.Apply(mapLogConfig(cfg))
	if ncfg, err := mapNotifierConfig(cfg); err == nil {
		a.notif.Apply(ncfg)
	} else {
		a.log.Warn("notifier config not applied", logx.Err(err))
	}
	if hcfg, err := mapMetricsConfig(cfg); err == nil {
		a.httpsrv.Reconfigure(ctx, hcfg)
	} else {
		a.log.Warn("metrics config not applied", logx.Err(err))
	}
}

func (a *App) health(ctx context.Context) error {
	if a.sup != nil {
		if err := a.sup.Err(); err != nil {
			return err
		}
	}
	if a.store != nil {
		if _, err := a.store.SetIsMember(ctx, []byte("HEALTHCHECK"), []byte("x")); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
	}
	return nil
}
