package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/outreach-engine/internal/model"
	"github.com/nimasrn/outreach-engine/internal/processor"
	"github.com/nimasrn/outreach-engine/internal/ratelimit"
	"github.com/nimasrn/outreach-engine/pkg/clock"
	"github.com/nimasrn/outreach-engine/pkg/logger"
	"github.com/nimasrn/outreach-engine/pkg/prom"
)

const (
	TaskDispatch   = "dispatch"
	TaskGeneration = "generation"
	TaskHealth     = "health"
	TaskCounter    = "counter"
)

var ErrUnknownTask = errors.New("unknown scheduler task")

type Dispatcher interface {
	Run(ctx context.Context) (model.DispatchReport, error)
}

type Generator interface {
	Run(ctx context.Context) ([]model.GenerationReport, error)
}

type Monitor interface {
	Run(ctx context.Context) (model.HealthReport, error)
}

type RateCounter interface {
	Rollover(ctx context.Context) (bool, error)
	Snapshot() ratelimit.Snapshot
}

type Config struct {
	DispatchInterval   time.Duration
	GenerationInterval time.Duration
	HealthInterval     time.Duration
	// CounterInterval is how often hour/day boundaries are checked.
	CounterInterval time.Duration
	// TaskTimeout bounds a single tick; zero means no bound.
	TaskTimeout time.Duration
}

// Scheduler is the single worker loop. Each named task has its own ticker
// and an {Idle, Running} guard: a tick that fires while the previous run
// of the same task is still going is skipped, never queued.
type Scheduler struct {
	clock      clock.Clock
	lock       *processor.TickLock
	dispatcher Dispatcher
	generator  Generator
	monitor    Monitor
	counter    RateCounter
	config     Config

	tasks map[string]*task
	order []string

	mu             sync.RWMutex
	lastDispatch   *model.DispatchReport
	lastGeneration []model.GenerationReport
	lastHealth     *model.HealthReport
	startedAt      time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(
	clk clock.Clock,
	dispatcher Dispatcher,
	generator Generator,
	monitor Monitor,
	counter RateCounter,
	config Config,
) *Scheduler {
	if clk == nil {
		clk = clock.System{}
	}
	s := &Scheduler{
		clock:      clk,
		dispatcher: dispatcher,
		generator:  generator,
		monitor:    monitor,
		counter:    counter,
		config:     config,
		tasks:      make(map[string]*task, 4),
	}
	s.register(TaskDispatch, config.DispatchInterval, s.DispatchTick)
	s.register(TaskGeneration, config.GenerationInterval, s.GenerationTick)
	s.register(TaskHealth, config.HealthInterval, s.HealthTick)
	s.register(TaskCounter, config.CounterInterval, s.CounterTick)
	return s
}

// WithLock makes every task take a redis lease before running, so only one
// replica runs a given task at a time.
func (s *Scheduler) WithLock(l *processor.TickLock) *Scheduler {
	s.lock = l
	return s
}

func (s *Scheduler) register(name string, interval time.Duration, fn func(ctx context.Context) error) {
	s.tasks[name] = &task{name: name, interval: interval, fn: fn}
	s.order = append(s.order, name)
}

func (s *Scheduler) DispatchTick(ctx context.Context) error {
	report, err := s.dispatcher.Run(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lastDispatch = &report
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) GenerationTick(ctx context.Context) error {
	reports, err := s.generator.Run(ctx)
	s.mu.Lock()
	s.lastGeneration = reports
	s.mu.Unlock()
	return err
}

func (s *Scheduler) HealthTick(ctx context.Context) error {
	report, err := s.monitor.Run(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lastHealth = &report
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) CounterTick(ctx context.Context) error {
	_, err := s.counter.Rollover(ctx)
	return err
}

// RunTask runs the named task now unless it is already running here or on
// another replica. It reports whether the task ran.
func (s *Scheduler) RunTask(ctx context.Context, name string) (bool, error) {
	t, ok := s.tasks[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	log := logger.With("task", name)
	if !t.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		t.skipped.Add(1)
		prom.IncTickSkipped(name, "running")
		log.Info("scheduler tick skipped, previous run still active")
		return false, nil
	}
	defer t.state.Store(int32(StateIdle))

	if s.lock != nil {
		lease, err := s.lock.Acquire(ctx, name)
		if errors.Is(err, processor.ErrLockHeld) {
			t.skipped.Add(1)
			prom.IncTickSkipped(name, "locked")
			log.Debug("scheduler tick skipped, held by another instance")
			return false, nil
		}
		if err != nil {
			t.recordFailure(err)
			return false, err
		}
		defer func() { _ = lease.Release(context.WithoutCancel(ctx)) }()

		var stop func()
		ctx, stop = s.keepAlive(ctx, lease, log)
		defer stop()
	}

	if s.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.TaskTimeout)
		defer cancel()
	}

	started := time.Now()
	err := s.safeRun(ctx, t)
	elapsed := time.Since(started)

	t.runs.Add(1)
	t.lastRun.Store(s.clock.Now().UnixNano())
	t.lastDuration.Store(int64(elapsed))
	prom.ObserveTickDuration(name, elapsed.Seconds())

	if err != nil {
		t.recordFailure(err)
		log.Error("scheduler task failed", "duration", elapsed, "error", err)
		return true, err
	}
	t.lastError.Store("")
	return true, nil
}

// keepAlive extends the lease every half TTL while the task runs. Losing
// the lease cancels the task, since another replica may now run it.
func (s *Scheduler) keepAlive(ctx context.Context, lease *processor.Lease, log *logger.ZapLogger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	ticker := s.clock.NewTicker(s.lock.TTL() / 2)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C():
				err := lease.Extend(ctx)
				if errors.Is(err, processor.ErrLockLost) {
					log.Warn("tick lock lost, cancelling task")
					cancel()
					return
				}
				if err != nil {
					log.Warn("failed to extend tick lock", "error", err)
				}
			}
		}
	}()
	return ctx, func() {
		close(done)
		wg.Wait()
		cancel()
	}
}

// safeRun keeps a panicking task from taking the loop down.
func (s *Scheduler) safeRun(ctx context.Context, t *task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task %s panic: %v", t.name, rec)
		}
	}()
	return t.fn(ctx)
}

// Start launches one ticker per task with a non-zero interval.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Lock()
	s.startedAt = s.clock.Now()
	s.mu.Unlock()

	for _, name := range s.order {
		t := s.tasks[name]
		if t.interval <= 0 {
			logger.Info("scheduler task disabled", "task", name)
			continue
		}
		ticker := s.clock.NewTicker(t.interval)
		s.wg.Add(1)
		go s.loop(ctx, t, ticker)
		logger.Info("scheduler task started", "task", name, "interval", t.interval)
	}
}

func (s *Scheduler) loop(ctx context.Context, t *task, ticker clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				_, _ = s.RunTask(ctx, t.name)
			}()
		}
	}
}

// Stop cancels running ticks and waits for them to return.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	logger.Info("stopping scheduler")
	s.cancel()
	s.wg.Wait()
	logger.Info("scheduler stopped")
}
