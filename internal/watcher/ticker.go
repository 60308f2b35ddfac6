package watcher

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Ticker is a source of ticks. C must not be closed on Stop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewTicker starts a ticker for spec. The first tick arrives one period
// after the call.
func NewTicker(spec ParsedSpec, loc *time.Location) (Ticker, error) {
	switch spec.Kind {
	case SpecInterval:
		if spec.Every <= 0 {
			return nil, fmt.Errorf("interval must be > 0")
		}
		return intervalTicker{t: time.NewTicker(spec.Every)}, nil
	case SpecCron:
		sched, err := cronParser.Parse(spec.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron %q: %w", spec.Cron, err)
		}
		if loc == nil {
			loc = time.Local
		}
		return newCronTicker(sched, loc), nil
	default:
		return nil, fmt.Errorf("unknown schedule kind %d", spec.Kind)
	}
}

type intervalTicker struct{ t *time.Ticker }

func (t intervalTicker) C() <-chan time.Time { return t.t.C }
func (t intervalTicker) Stop() { t.t.Stop() }

// cronTicker fires at the times produced by a cron schedule. Like
// time.Ticker it drops ticks for a slow receiver.
type cronTicker struct {
	c    chan time.Time
	stop chan struct{}
	once sync.Once
}

func newCronTicker(sched cron.Schedule, loc *time.Location) *cronTicker {
	t := &cronTicker{c: make(chan time.Time, 1), stop: make(chan struct{})}
	go t.run(sched, loc)
	return t
}

func (t *cronTicker) run(sched cron.Schedule, loc *time.Location) {
	for {
		now := time.Now().In(loc)
		next := sched.Next(now)
		if next.IsZero() {
			return
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-t.stop:
			timer.Stop()
			return
		case fired := <-timer.C:
			select {
			case t.c <- fired:
			default:
			}
		}
	}
}

func (t *cronTicker) C() <-chan time.Time { return t.c }

func (t *cronTicker) Stop() {
	t.once.Do(func() { close(t.stop) })
}
