// Package timer tracks elapsed and remaining time of a consultation and fires
// threshold, time-up and grace-expiry callbacks exactly once per lifetime.
package timer

import (
	"sort"
	"sync"
	"time"

	"github.com/counselhub/room-server-go/internal/clock"
	"github.com/counselhub/room-server-go/internal/config"
)

type Phase string

const (
	PhaseRunning Phase = "running"
	PhaseGrace   Phase = "grace"
	PhaseExpired Phase = "expired"
)

type Config struct {
	Start    time.Time
	Duration time.Duration
	// Grace is how long the session may run past Duration before it is
	// force-ended. Zero disables the grace phase and OnGraceExpired.
	Grace time.Duration
	// Thresholds are remaining-time marks, e.g. 5m and 1m.
	Thresholds   []time.Duration
	TickInterval time.Duration
}

type Callbacks struct {
	OnTick         func(State)
	OnThreshold    func(threshold time.Duration, s State)
	OnTimeUp       func(State)
	OnGraceExpired func(State)
}

// State is the timer evaluated at one instant.
type State struct {
	Start     time.Time     `json:"start"`
	Duration  time.Duration `json:"duration"`
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
	Phase     Phase         `json:"phase"`
	EndsAt    time.Time     `json:"endsAt"`
	// GraceEndsAt is zero when no grace period is configured.
	GraceEndsAt time.Time `json:"graceEndsAt,omitempty"`
	Running     bool      `json:"running"`
}

type Timer struct {
	clock     clock.Clock
	callbacks Callbacks

	mu          sync.Mutex
	cfg         Config
	fired       map[time.Duration]bool
	timeUpFired bool
	graceFired  bool
	running     bool
	gen         uint64
	pending     clock.Timer
}

func New(c clock.Clock, cfg Config, callbacks Callbacks) *Timer {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = config.TimerTickInterval
	}
	cfg.Thresholds = normalize(cfg.Thresholds)
	return &Timer{
		clock:     c,
		cfg:       cfg,
		callbacks: callbacks,
		fired:     make(map[time.Duration]bool),
	}
}

// normalize drops non-positive and duplicate thresholds and orders them from
// largest to smallest so they fire in chronological order.
func normalize(thresholds []time.Duration) []time.Duration {
	seen := make(map[time.Duration]bool, len(thresholds))
	out := make([]time.Duration, 0, len(thresholds))
	for _, th := range thresholds {
		if th <= 0 || seen[th] {
			continue
		}
		seen[th] = true
		out = append(out, th)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

// Evaluate computes the state at now and fires every callback that became due
// and has not fired in this lifetime. It is safe to call with non-monotonic
// instants.
func (t *Timer) Evaluate(now time.Time) State {
	t.mu.Lock()
	s := t.stateLocked(now)

	var thresholds []time.Duration
	if s.Elapsed < t.cfg.Duration {
		for _, th := range t.cfg.Thresholds {
			if th >= t.cfg.Duration || t.fired[th] {
				continue
			}
			if s.Remaining <= th {
				t.fired[th] = true
				thresholds = append(thresholds, th)
			}
		}
	}

	timeUp := false
	if s.Elapsed >= t.cfg.Duration && !t.timeUpFired {
		t.timeUpFired = true
		timeUp = true
	}

	graceExpired := false
	if t.cfg.Grace > 0 && s.Elapsed >= t.cfg.Duration+t.cfg.Grace && !t.graceFired {
		t.graceFired = true
		graceExpired = true
	}
	cb := t.callbacks
	t.mu.Unlock()

	if cb.OnTick != nil {
		cb.OnTick(s)
	}
	if cb.OnThreshold != nil {
		for _, th := range thresholds {
			cb.OnThreshold(th, s)
		}
	}
	if timeUp && cb.OnTimeUp != nil {
		cb.OnTimeUp(s)
	}
	if graceExpired && cb.OnGraceExpired != nil {
		cb.OnGraceExpired(s)
	}
	return s
}

// Snapshot returns the state at the clock's current time without firing
// callbacks.
func (t *Timer) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked(t.clock.Now())
}

// Start evaluates immediately and then on every tick until Stop or until the
// timer expires.
func (t *Timer) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.gen++
	t.armLocked()
	t.mu.Unlock()

	t.Evaluate(t.clock.Now())
}

func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.gen++
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

// Reset starts a new lifetime with the given start and duration. Fired
// bookkeeping is cleared; grace, thresholds and the running flag are kept.
func (t *Timer) Reset(start time.Time, duration time.Duration) {
	t.mu.Lock()
	t.cfg.Start = start
	t.cfg.Duration = duration
	t.fired = make(map[time.Duration]bool)
	t.timeUpFired = false
	t.graceFired = false
	running := t.running
	if running && t.pending == nil {
		t.gen++
		t.armLocked()
	}
	t.mu.Unlock()

	if running {
		t.Evaluate(t.clock.Now())
	}
}

func (t *Timer) armLocked() {
	gen := t.gen
	t.pending = t.clock.AfterFunc(t.cfg.TickInterval, func() { t.tick(gen) })
}

func (t *Timer) tick(gen uint64) {
	t.mu.Lock()
	if !t.running || t.gen != gen {
		t.mu.Unlock()
		return
	}
	t.pending = nil
	t.mu.Unlock()

	s := t.Evaluate(t.clock.Now())

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || t.gen != gen || t.pending != nil {
		return
	}
	if s.Phase == PhaseExpired && t.timeUpFired && (t.cfg.Grace <= 0 || t.graceFired) {
		return
	}
	t.armLocked()
}

func (t *Timer) stateLocked(now time.Time) State {
	elapsed := now.Sub(t.cfg.Start)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := t.cfg.Duration - elapsed
	if remaining < 0 {
		remaining = 0
	}

	s := State{
		Start:     t.cfg.Start,
		Duration:  t.cfg.Duration,
		Elapsed:   elapsed,
		Remaining: remaining,
		EndsAt:    t.cfg.Start.Add(t.cfg.Duration),
		Running:   t.running,
	}
	if t.cfg.Grace > 0 {
		s.GraceEndsAt = s.EndsAt.Add(t.cfg.Grace)
	}

	switch {
	case elapsed < t.cfg.Duration:
		s.Phase = PhaseRunning
	case t.cfg.Grace > 0 && elapsed < t.cfg.Duration+t.cfg.Grace:
		s.Phase = PhaseGrace
	default:
		s.Phase = PhaseExpired
	}
	return s
}
