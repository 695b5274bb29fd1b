package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // normal operation, requests pass through
	StateOpen                  // tripped, requests fail fast
	StateHalfOpen              // probing whether the service recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrOpen is returned while the breaker is open.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTooManyProbes is returned in half-open state once the permitted
	// probe budget is in flight.
	ErrTooManyProbes = errors.New("too many probes in half-open state")
)

// Counts is a snapshot of the sliding window.
type Counts struct {
	Calls    int
	Failures int
	Slow     int
}

// FailureRate is failures over window calls; 0 on an empty window.
func (c Counts) FailureRate() float64 {
	if c.Calls == 0 {
		return 0
	}
	return float64(c.Failures) / float64(c.Calls)
}

// SlowRate is slow calls over window calls; 0 on an empty window.
func (c Counts) SlowRate() float64 {
	if c.Calls == 0 {
		return 0
	}
	return float64(c.Slow) / float64(c.Calls)
}

// window is a count-based ring of the last N call outcomes.
type window struct {
	records  []callRecord
	next     int
	filled   int
	failures int
	slow     int
}

type callRecord struct {
	failed bool
	slow   bool
}

func newWindow(size int) *window {
	return &window{records: make([]callRecord, size)}
}

func (w *window) record(failed, slow bool) {
	if w.filled == len(w.records) {
		old := w.records[w.next]
		if old.failed {
			w.failures--
		}
		if old.slow {
			w.slow--
		}
	} else {
		w.filled++
	}
	w.records[w.next] = callRecord{failed: failed, slow: slow}
	w.next = (w.next + 1) % len(w.records)
	if failed {
		w.failures++
	}
	if slow {
		w.slow++
	}
}

func (w *window) counts() Counts {
	return Counts{Calls: w.filled, Failures: w.failures, Slow: w.slow}
}

func (w *window) reset() {
	for i := range w.records {
		w.records[i] = callRecord{}
	}
	w.next = 0
	w.filled = 0
	w.failures = 0
	w.slow = 0
}

// CircuitBreaker guards one downstream service for one tenant. Trip
// decisions look at a sliding window of the last WindowSize calls: the
// breaker opens when, with at least MinimumCalls recorded, the failure rate
// or the slow-call rate reaches its threshold. After WaitDuration it half
// opens and admits PermittedProbes calls; that many successes close it, any
// failure re-opens it.
//
// Cancelled calls are not recorded: a caller giving up says nothing about
// the health of the downstream service.
type CircuitBreaker struct {
	name     string
	settings CircuitBreakerSettings

	// onStateChange is invoked outside the hot path but under the breaker
	// mutex; keep it cheap.
	onStateChange func(name string, from, to State)

	mu            sync.Mutex
	state         State
	generation    uint64
	window        *window
	probesStarted int
	probeHits     int
	expiry        time.Time
}

// NewCircuitBreaker builds a breaker from validated settings. A WindowSize
// of 0 yields a breaker that admits everything and never trips.
func NewCircuitBreaker(name string, s CircuitBreakerSettings, onStateChange func(name string, from, to State)) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:          name,
		settings:      s,
		onStateChange: onStateChange,
		state:         StateClosed,
	}
	if s.WindowSize > 0 {
		cb.window = newWindow(s.WindowSize)
	}
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

func (cb *CircuitBreaker) disabled() bool { return cb.window == nil }

// State reports the current state, applying any pending OPEN→HALF_OPEN
// transition first.
func (cb *CircuitBreaker) State() State {
	if cb.disabled() {
		return StateClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state, _ := cb.currentState(time.Now())
	return state
}

// Counts snapshots the sliding window.
func (cb *CircuitBreaker) Counts() Counts {
	if cb.disabled() {
		return Counts{}
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.window.counts()
}

// Execute runs op under the breaker. The call duration feeds slow-call
// tracking; a cancelled context leaves the window untouched.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	if cb.disabled() {
		return op(ctx)
	}
	generation, err := cb.beforeRequest()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(generation, false, time.Since(start), nil)
			panic(r)
		}
	}()

	result, err := op(ctx)
	cb.afterRequest(generation, err == nil, time.Since(start), err)
	return result, err
}

func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, generation := cb.currentState(now)

	switch state {
	case StateOpen:
		return generation, ErrOpen
	case StateHalfOpen:
		if cb.probesStarted >= cb.settings.PermittedProbes {
			return generation, ErrTooManyProbes
		}
		cb.probesStarted++
	}
	return generation, nil
}

func (cb *CircuitBreaker) afterRequest(generation uint64, success bool, took time.Duration, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, currentGeneration := cb.currentState(now)
	if generation != currentGeneration {
		// The breaker moved on while this call was in flight.
		return
	}

	if !success && errors.Is(err, context.Canceled) {
		// Cancellation must not transition the breaker; return the probe
		// slot so half-open probing is not starved.
		if state == StateHalfOpen && cb.probesStarted > 0 {
			cb.probesStarted--
		}
		return
	}

	slow := cb.settings.SlowCallDuration > 0 && took >= cb.settings.SlowCallDuration
	if success {
		cb.onSuccess(state, slow, now)
	} else {
		cb.onFailure(state, slow, now)
	}
}

func (cb *CircuitBreaker) onSuccess(state State, slow bool, now time.Time) {
	switch state {
	case StateClosed:
		cb.window.record(false, slow)
		cb.evaluate(now)
	case StateHalfOpen:
		cb.probeHits++
		if cb.probeHits >= cb.settings.PermittedProbes {
			cb.setState(StateClosed, now)
		}
	}
}

func (cb *CircuitBreaker) onFailure(state State, slow bool, now time.Time) {
	switch state {
	case StateClosed:
		cb.window.record(true, slow)
		cb.evaluate(now)
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

// evaluate trips the breaker when a window rate breaches its threshold.
func (cb *CircuitBreaker) evaluate(now time.Time) {
	c := cb.window.counts()
	if c.Calls < cb.settings.MinimumCalls {
		return
	}
	if c.FailureRate() >= cb.settings.FailureRateThreshold {
		cb.setState(StateOpen, now)
		return
	}
	if cb.settings.SlowRateThreshold > 0 && c.SlowRate() >= cb.settings.SlowRateThreshold {
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) currentState(now time.Time) (State, uint64) {
	if cb.state == StateOpen && cb.expiry.Before(now) {
		cb.setState(StateHalfOpen, now)
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state
	cb.toNewGeneration(now)
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}
}

// toNewGeneration invalidates in-flight results and resets window state.
func (cb *CircuitBreaker) toNewGeneration(now time.Time) {
	cb.generation++
	cb.window.reset()
	cb.probesStarted = 0
	cb.probeHits = 0
	if cb.state == StateOpen {
		cb.expiry = now.Add(cb.settings.WaitDuration)
	} else {
		cb.expiry = time.Time{}
	}
}

func (cb *CircuitBreaker) String() string {
	c := cb.Counts()
	return fmt.Sprintf("CircuitBreaker[%s: state=%s, calls=%d, failures=%d, slow=%d]",
		cb.name, cb.State(), c.Calls, c.Failures, c.Slow)
}
