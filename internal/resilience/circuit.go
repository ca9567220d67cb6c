// Package resilience provides retry and circuit breaker primitives for remote
// reasoning, catalog and query calls.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	// CircuitHalfOpen admits one trial call at a time until enough succeed.
	CircuitHalfOpen
)

var stateNames = map[CircuitState]string{
	CircuitClosed:   "closed",
	CircuitOpen:     "open",
	CircuitHalfOpen: "half-open",
}

func (s CircuitState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// ErrCircuitOpen matches every rejection from an open breaker.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// OpenError reports which dependency rejected the call and when it will next
// admit a trial call.
type OpenError struct {
	Breaker string
	RetryAt time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s: circuit open until %s", e.Breaker, e.RetryAt.Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrCircuitOpen) hold for any OpenError.
func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

// CircuitBreakerConfig controls circuit breaker behavior. Zero values fall
// back to DefaultCircuitBreakerConfig.
type CircuitBreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration

	// HalfOpenMaxTrials successful trial calls close the circuit.
	HalfOpenMaxTrials int

	// ShouldTrip decides whether err counts as a failure. Nil counts every
	// error except caller cancellation.
	ShouldTrip func(err error) bool

	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig trips after five straight failures and tries
// again after thirty seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxTrials: 1,
	}
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	d := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.HalfOpenMaxTrials <= 0 {
		c.HalfOpenMaxTrials = d.HalfOpenMaxTrials
	}
	if c.ShouldTrip == nil {
		c.ShouldTrip = countsAsFailure
	}
	return c
}

func countsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// CircuitBreaker guards a single remote dependency: a catalog connector or a
// reasoning provider.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	trialing bool
	trialsOK int

	nowFunc func() time.Time
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name     string       `json:"name"`
	State    CircuitState `json:"-"`
	Status   string       `json:"state"`
	Failures int          `json:"failures"`
	OpenedAt time.Time    `json:"opened_at,omitzero"`
}

// NewCircuitBreaker creates a named circuit breaker.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:    name,
		cfg:     cfg.withDefaults(),
		nowFunc: time.Now,
	}
}

// Name returns the dependency the breaker guards.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is Execute for calls that produce a value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	trial, err := cb.admit()
	if err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	cb.settle(trial, err)
	return val, err
}

// State returns the current state. An open circuit whose reset timeout has
// elapsed reports half-open even before the next call.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.cooled() {
		return CircuitHalfOpen
	}
	return cb.state
}

// Snapshot returns the breaker's state and consecutive failure count.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	st := cb.state
	if st == CircuitOpen && cb.cooled() {
		st = CircuitHalfOpen
	}
	s := Snapshot{Name: cb.name, State: st, Status: st.String(), Failures: cb.failures}
	if st != CircuitClosed {
		s.OpenedAt = cb.openedAt
	}
	return s
}

// Reset forces the circuit closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.moveTo(CircuitClosed)
}

func (cb *CircuitBreaker) cooled() bool {
	return cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

// admit reports whether the call may proceed and whether it is the
// half-open trial call.
func (cb *CircuitBreaker) admit() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.cooled() {
		cb.moveTo(CircuitHalfOpen)
	}
	switch cb.state {
	case CircuitOpen:
		return false, &OpenError{Breaker: cb.name, RetryAt: cb.openedAt.Add(cb.cfg.ResetTimeout)}
	case CircuitHalfOpen:
		if cb.trialing {
			return false, &OpenError{Breaker: cb.name, RetryAt: cb.nowFunc()}
		}
		cb.trialing = true
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) settle(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if trial {
		cb.trialing = false
	}

	if !cb.cfg.ShouldTrip(err) {
		// A straggler admitted before the trip does not close the circuit.
		if cb.state != CircuitClosed && !trial {
			return
		}
		if cb.state == CircuitHalfOpen {
			cb.trialsOK++
			if cb.trialsOK < cb.cfg.HalfOpenMaxTrials {
				return
			}
		}
		cb.failures = 0
		if cb.state != CircuitClosed {
			cb.moveTo(CircuitClosed)
		}
		return
	}

	cb.failures++
	switch {
	case cb.state == CircuitHalfOpen:
		cb.trip()
	case cb.state == CircuitClosed && cb.failures >= cb.cfg.FailureThreshold:
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.nowFunc()
	cb.moveTo(CircuitOpen)
}

func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.trialsOK = 0
	zap.L().Info("resilience: circuit state change",
		zap.String("breaker", cb.name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("failures", cb.failures),
	)
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// ServiceBreakers lazily creates one breaker per connector or provider, all
// sharing a config.
type ServiceBreakers struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewServiceBreakers creates an empty registry.
func NewServiceBreakers(cfg CircuitBreakerConfig) *ServiceBreakers {
	return &ServiceBreakers{cfg: cfg, breakers: map[string]*CircuitBreaker{}}
}

// Get returns the breaker for service, creating it on first use.
func (sb *ServiceBreakers) Get(service string) *CircuitBreaker {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	cb, ok := sb.breakers[service]
	if !ok {
		cb = NewCircuitBreaker(service, sb.cfg)
		sb.breakers[service] = cb
	}
	return cb
}

// States maps each known service to its current state.
func (sb *ServiceBreakers) States() map[string]CircuitState {
	out := make(map[string]CircuitState)
	for _, s := range sb.Snapshots() {
		out[s.Name] = s.State
	}
	return out
}

// Snapshots returns every breaker's snapshot ordered by name.
func (sb *ServiceBreakers) Snapshots() []Snapshot {
	sb.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(sb.breakers))
	for _, cb := range sb.breakers {
		list = append(list, cb)
	}
	sb.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, cb := range list {
		out = append(out, cb.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
