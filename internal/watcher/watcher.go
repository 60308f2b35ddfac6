package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"watchbot/internal/appdata"
	"watchbot/internal/metrics"
	"watchbot/internal/runtime/supervisor"
	"watchbot/internal/transport"
	logx "watchbot/pkg/logx"
)

var (
	ErrRunning = errors.New("watcher already running")
	ErrStopped = errors.New("watcher stopped")
)

// Task is invoked once per tick with a copy of the watcher. The copy shares
// Bot, Data and State with every other copy.
type Task[S any] func(ctx context.Context, w Watcher[S]) error

type Config struct {
	Name     string
	Schedule string
	Timezone string
	// Timeout bounds a single tick. Zero means unbounded.
	Timeout time.Duration
}

type Option func(*options)

type options struct {
	ticker    Ticker
	interrupt <-chan os.Signal
}

// WithTicker replaces the schedule-derived tick source.
func WithTicker(t Ticker) Option {
	return func(o *options) { o.ticker = t }
}

// WithInterrupt replaces the SIGINT/SIGTERM subscription of the shutdown
// listener.
func WithInterrupt(ch <-chan os.Signal) Option {
	return func(o *options) { o.interrupt = ch }
}

// Watcher runs a task on a schedule until it is told to stop.
type Watcher[S any] struct {
	Bot   transport.Sender
	Data  *appdata.Data
	State *S

	ctl *control
}

type lifecycle int

const (
	stateIdle lifecycle = iota
	stateRunning
	stateStopped
)

type control struct {
	name    string
	spec    ParsedSpec
	loc     *time.Location
	timeout time.Duration
	opts    options
	log     logx.Logger

	mu    sync.Mutex
	state lifecycle
	sup   *supervisor.Supervisor
	stop  *Signal[string]

	stopOnce sync.Once
	ticks    atomic.Uint64
}

func New[S any](cfg Config, bot transport.Sender, data *appdata.Data, state S, log logx.Logger, opts ...Option) (*Watcher[S], error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, errors.New("watcher name is required")
	}
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("watcher %s: %w", name, err)
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("watcher %s: load timezone %q: %w", name, tz, err)
		}
	}
	if spec.Kind == SpecCron {
		if _, err := cronParser.Parse(spec.Cron); err != nil {
			return nil, fmt.Errorf("watcher %s: parse cron %q: %w", name, spec.Cron, err)
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return &Watcher[S]{
		Bot:   bot,
		Data:  data,
		State: &state,
		ctl: &control{
			name:    name,
			spec:    spec,
			loc:     loc,
			timeout: cfg.Timeout,
			opts:    o,
			log:     log.With(logx.String("watcher", name)),
			stop:    NewSignal[string](),
		},
	}, nil
}

func (w *Watcher[S]) Name() string { return w.ctl.name }

// Schedule is the normalized schedule, e.g. "1m0s" or "*/5 * * * *".
func (w *Watcher[S]) Schedule() string { return w.ctl.spec.String() }

func (w *Watcher[S]) Logger() logx.Logger { return w.ctl.log }

// Ticks reports how many ticks have completed.
func (w *Watcher[S]) Ticks() uint64 { return w.ctl.ticks.Load() }

func (w *Watcher[S]) Running() bool {
	w.ctl.mu.Lock()
	defer w.ctl.mu.Unlock()
	return w.ctl.state == stateRunning
}

// Start spawns the scheduler loop and the shutdown listener and returns
// immediately. A stopped watcher cannot be started again.
func (w *Watcher[S]) Start(ctx context.Context, task Task[S]) error {
	if task == nil {
		return errors.New("watcher task is nil")
	}
	c := w.ctl
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateRunning:
		return ErrRunning
	case stateStopped:
		return ErrStopped
	}

	ticker := c.opts.ticker
	if ticker == nil {
		t, err := NewTicker(c.spec, c.loc)
		if err != nil {
			return fmt.Errorf("watcher %s: %w", c.name, err)
		}
		ticker = t
	}

	// subscribe before any goroutine can send
	rx := c.stop.Subscribe()
	c.sup = supervisor.New(ctx, supervisor.WithLogger(c.log))
	c.state = stateRunning
	metricsOf(w.Data).SetRunning(c.name, true)

	snapshot := *w
	c.sup.Go0("watcher."+c.name+".loop", func(context.Context) {
		c.loop(ctx, rx, ticker, func(tctx context.Context) error { return task(tctx, snapshot) }, w.Data)
	})
	c.sup.Go0("watcher."+c.name+".shutdown", c.listen)

	c.log.Info("watcher started", logx.String("schedule", c.spec.String()))
	return nil
}

// Stop asks the loop to exit after the current tick. It is safe to call
// more than once and before Start.
func (w *Watcher[S]) Stop(reason string) {
	w.ctl.requestStop(reason)
}

// Wait blocks until both goroutines returned or ctx is done.
func (w *Watcher[S]) Wait(ctx context.Context) error {
	w.ctl.mu.Lock()
	sup := w.ctl.sup
	w.ctl.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Wait(ctx)
}

func (c *control) requestStop(reason string) {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		sup := c.sup
		if c.state == stateIdle {
			c.state = stateStopped
		}
		c.mu.Unlock()

		if err := c.stop.Send(reason); err != nil {
			c.log.Warn("stop signal not delivered", logx.String("reason", reason), logx.Err(err))
		}
		if sup != nil {
			sup.Cancel()
		}
	})
}

func (c *control) listen(ctx context.Context) {
	interrupt := c.opts.interrupt
	if interrupt == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		interrupt = ch
	}

	var reason string
	select {
	case sig := <-interrupt:
		reason = "signal: " + sig.String()
		c.log.Info("shutdown signal received", logx.String("signal", sig.String()))
	case <-ctx.Done():
		reason = "context: " + context.Cause(ctx).Error()
		c.log.Debug("watcher context done", logx.Err(context.Cause(ctx)))
	}
	c.requestStop(reason)
}

func (c *control) loop(parent context.Context, rx *Receiver[string], ticker Ticker, run func(context.Context) error, data *appdata.Data) {
	defer func() {
		rx.Close()
		ticker.Stop()
		c.mu.Lock()
		c.state = stateStopped
		c.mu.Unlock()
		metricsOf(data).SetRunning(c.name, false)
	}()

	for {
		select {
		case <-rx.Changed():
			c.log.Info("watcher stopped", logx.String("reason", rx.Value()), logx.Uint64("ticks", c.ticks.Load()))
			return
		case <-ticker.C():
			// a stop that is already pending wins over the tick
			select {
			case <-rx.Changed():
				c.log.Info("watcher stopped", logx.String("reason", rx.Value()), logx.Uint64("ticks", c.ticks.Load()))
				return
			default:
			}
			c.tick(parent, run, data)
		}
	}
}

func (c *control) tick(parent context.Context, run func(context.Context) error, data *appdata.Data) {
	ctx := context.WithoutCancel(parent)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("watcher task panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return run(ctx)
	}()
	took := time.Since(start)
	n := c.ticks.Add(1)

	metricsOf(data).ObserveTick(c.name, took, err)
	if err != nil {
		c.log.Error("watcher task failed", logx.Uint64("tick", n), logx.Duration("took", took), logx.Err(err))
		return
	}
	c.log.Debug("watcher tick done", logx.Uint64("tick", n), logx.Duration("took", took))
}

func metricsOf(data *appdata.Data) *metrics.Metrics {
	if data == nil {
		return nil
	}
	return data.Metrics
}
