package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type TickFunc func(context.Context) error

type Scheduler struct {
	name     string
	interval time.Duration
	tickFn   TickFunc
	log      *slog.Logger

	running atomic.Bool
	ticks   atomic.Int64
	tickMu  sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	statMu  sync.Mutex
	lastRun time.Time
	lastErr string
}

// Status is a point-in-time view of the scheduler for operators.
type Status struct {
	Name      string     `json:"name"`
	Running   bool       `json:"running"`
	Interval  string     `json:"interval"`
	Ticks     int64      `json:"ticks"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

func New(name string, interval time.Duration, tickFn TickFunc, log *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		tickFn:   tickFn,
		log:      log.With("scheduler", name),
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info("scheduler started", "interval", s.interval.String())

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				s.log.Info("scheduler stopping")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.log.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// RunOnce runs a single tick on the caller's goroutine, whether or not the
// loop is running. Ticks never overlap.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.safeTick(ctx)
}

func (s *Scheduler) Status() Status {
	s.statMu.Lock()
	defer s.statMu.Unlock()

	st := Status{
		Name:      s.name,
		Running:   s.running.Load(),
		Interval:  s.interval.String(),
		Ticks:     s.ticks.Load(),
		LastError: s.lastErr,
	}
	if !s.lastRun.IsZero() {
		at := s.lastRun
		st.LastRunAt = &at
	}
	return st
}

func (s *Scheduler) safeTick(ctx context.Context) (err error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler tick panic recovered", "panic", r)
			err = fmt.Errorf("tick panic: %v", r)
		}
		s.record(err)
	}()

	start := time.Now()
	err = s.tickFn(ctx)
	if err != nil {
		s.log.Error("scheduler tick failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return err
	}
	s.log.Debug("scheduler tick completed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *Scheduler) record(err error) {
	s.ticks.Add(1)

	s.statMu.Lock()
	defer s.statMu.Unlock()
	s.lastRun = time.Now().UTC()
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
}
