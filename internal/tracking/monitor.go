package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"bus-tracking-backend/config"
	"bus-tracking-backend/internal/lease"
)

// Evaluator runs one tick for a bus.
type Evaluator interface {
	EvaluateOnce(ctx context.Context, busID int64) (Report, error)
}

// MonitoredBuses lists the buses whose monitoring flag is set.
type MonitoredBuses interface {
	MonitoredBusIDs(ctx context.Context) ([]int64, error)
}

// Monitor runs one long-lived loop per monitored bus. A loop ends by itself once
// the bus disappears or its monitoring flag is found off.
type Monitor struct {
	engine      Evaluator
	locker      lease.Locker
	interval    time.Duration
	tickTimeout time.Duration
	leaseTTL    time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	loops map[int64]*loop
	wg    sync.WaitGroup
}

// loop is one generation of a bus's monitor loop. A stopped generation stays in
// the map until it exits unless a newer one replaces it.
type loop struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *loop) active() bool { return l.ctx.Err() == nil }

// NewMonitor creates a monitor whose loops live until ctx is done or Shutdown is called.
func NewMonitor(ctx context.Context, engine Evaluator, locker lease.Locker, cfg config.TrackingConfig) *Monitor {
	ctx, cancel := context.WithCancel(ctx)
	m := &Monitor{
		engine:      engine,
		locker:      locker,
		interval:    cfg.Interval,
		tickTimeout: cfg.TickTimeout,
		leaseTTL:    cfg.LeaseTTL,
		ctx:         ctx,
		cancel:      cancel,
		loops:       make(map[int64]*loop),
	}
	if m.interval <= 0 {
		m.interval = 15 * time.Second
	}
	if m.tickTimeout <= 0 {
		m.tickTimeout = 2 * m.interval
	}
	if m.leaseTTL <= 0 {
		m.leaseTTL = 3 * m.interval
	}
	return m
}

// Start launches the loop for busID. It reports false if this process already
// runs a loop for the bus or the monitor is shut down. A loop that was stopped
// but is still finishing its tick is replaced; the new one waits for it to exit.
func (m *Monitor) Start(busID int64) bool {
	m.mu.Lock()
	prev := m.loops[busID]
	if (prev != nil && prev.active()) || m.ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(m.ctx)
	l := &loop{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	m.loops[busID] = l
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(l, prev, busID)
	return true
}

// Stop ends the local loop for busID after its current tick. It does not touch
// the monitoring flag, so another replica may pick the bus up.
func (m *Monitor) Stop(busID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loops[busID]
	if !ok || !l.active() {
		return false
	}
	l.cancel()
	return true
}

// Running reports whether a loop for busID is active in this process.
func (m *Monitor) Running(busID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loops[busID]
	return ok && l.active()
}

// Resume starts loops for every bus whose monitoring flag survived a restart.
func (m *Monitor) Resume(ctx context.Context, buses MonitoredBuses) (int, error) {
	ids, err := buses.MonitoredBusIDs(ctx)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, id := range ids {
		if m.Start(id) {
			started++
		}
	}
	return started, nil
}

// Shutdown stops all loops and waits for in-flight ticks to finish.
func (m *Monitor) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// forget drops l from the map unless a newer generation already took its place.
func (m *Monitor) forget(busID int64, l *loop) {
	l.cancel()
	m.mu.Lock()
	if m.loops[busID] == l {
		delete(m.loops, busID)
	}
	m.mu.Unlock()
}

func leaseKey(busID int64) string {
	return fmt.Sprintf("monitor:bus:%d", busID)
}

func (m *Monitor) run(l, prev *loop, busID int64) {
	defer m.wg.Done()
	defer close(l.done)
	defer m.forget(busID, l)

	ctx := l.ctx
	if prev != nil {
		// The previous generation still holds the lease until it exits.
		select {
		case <-prev.done:
		case <-ctx.Done():
			return
		}
	}

	key := leaseKey(busID)
	held, err := m.locker.Acquire(ctx, key, m.leaseTTL)
	if err != nil {
		log.Printf("Monitor for bus %d not started: %v", busID, err)
		return
	}
	if !held {
		log.Printf("Bus %d is already monitored elsewhere", busID)
		return
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.locker.Release(ctx, key); err != nil {
			log.Printf("Monitor for bus %d: %v", busID, err)
		}
	}()

	log.Printf("Starting monitor for bus %d", busID)
	if !m.tick(ctx, busID) {
		return
	}

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Monitor for bus %d shutting down.", busID)
			return
		case <-timer.C:
			held, err := m.locker.Refresh(ctx, key, m.leaseTTL)
			if err != nil {
				log.Printf("Monitor for bus %d: %v", busID, err)
			} else if !held {
				log.Printf("Monitor for bus %d lost its lease; stopping", busID)
				return
			}
			if !m.tick(ctx, busID) {
				return
			}
			timer.Reset(m.interval)
		}
	}
}

// tick runs one evaluation and reports whether the loop should go on. The tick
// is not cancelled by Stop or Shutdown; it is bounded by the tick timeout instead.
func (m *Monitor) tick(loopCtx context.Context, busID int64) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(loopCtx), m.tickTimeout)
	defer cancel()

	report, err := m.engine.EvaluateOnce(ctx, busID)
	switch {
	case errors.Is(err, ErrBusNotFound), errors.Is(err, ErrMonitoringDisabled):
		log.Printf("Stopping monitor for bus %d: %v", busID, err)
		return false
	case err != nil:
		log.Printf("Monitor tick for bus %d failed: %v", busID, err)
		return true
	}
	if report.Notified > 0 || report.Failed > 0 {
		log.Printf("Bus %d (%s): %d evaluated, %d skipped, %d failed, %d notifications",
			busID, report.Mode, report.Evaluated, report.Skipped, report.Failed, report.Notified)
	}
	return true
}
