package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shortontech/trafficgate/internal/policy"
)

const (
	defaultInterval = time.Second
	defaultDebounce = 100 * time.Millisecond
)

// Monitor re-runs a Guard on a fixed interval and after viewport changes,
// since emulation can be switched on after the first check. Checks never
// overlap, and the monitor stops for good once a check has suppressed.
type Monitor struct {
	guard    *Guard
	interval time.Duration
	debounce time.Duration

	running    atomic.Bool
	suppressed atomic.Bool
	viewport   chan struct{}

	// OnCheck, when set, receives every completed check.
	OnCheck func(Outcome)
}

// NewMonitor builds a monitor for g. Zero durations in cfg fall back to a
// one second interval and a 100ms debounce.
func NewMonitor(g *Guard, cfg policy.MonitorConfig) *Monitor {
	m := &Monitor{
		guard:    g,
		interval: cfg.Interval,
		debounce: cfg.Debounce,
		viewport: make(chan struct{}, 1),
	}
	if m.interval <= 0 {
		m.interval = defaultInterval
	}
	if m.debounce <= 0 {
		m.debounce = defaultDebounce
	}
	return m
}

// Suppressed reports whether a check has suppressed the page.
func (m *Monitor) Suppressed() bool { return m.suppressed.Load() }

// Check runs one check unless another is in progress or the page is
// already suppressed; ran is false when the call was skipped. A started
// check always runs to completion, suppression included.
func (m *Monitor) Check() (out Outcome, ran bool) {
	if m.suppressed.Load() || !m.running.CompareAndSwap(false, true) {
		return Outcome{}, false
	}
	defer m.running.Store(false)

	out = m.guard.Check()
	if out.Suppressed() {
		m.suppressed.Store(true)
	}
	if m.OnCheck != nil {
		m.OnCheck(out)
	}
	return out, true
}

// ViewportChanged reports a resize or orientation change. It never blocks;
// bursts collapse into one debounced check.
func (m *Monitor) ViewportChanged() {
	select {
	case m.viewport <- struct{}{}:
	default:
	}
}

// Run performs the initial check synchronously, then keeps checking until
// ctx is cancelled or the page is suppressed.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var (
		debounce  *time.Timer
		debounceC <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for !m.suppressed.Load() {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check()
		case <-m.viewport:
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(m.debounce)
			debounceC = debounce.C
		case <-debounceC:
			debounceC = nil
			m.Check()
		}
	}
	return nil
}
