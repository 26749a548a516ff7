package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrOpen       = errors.New("circuit breaker is open")
	ErrProbeLimit = errors.New("circuit breaker probe limit reached")
)

// Settings tune one breaker. SettingsFor returns env-tuned values per
// dependency kind.
type Settings struct {
	// Probes is the number of calls let through while half-open.
	Probes uint32
	// Window resets the closed-state counters; zero keeps them forever.
	Window time.Duration
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// TripAfter consecutive failures open a closed breaker.
	TripAfter uint32
	// RecoverAfter consecutive probe successes close a half-open breaker.
	RecoverAfter uint32
}

// Breaker guards calls to one dependency (a Redis instance, the farmbase
// database, a remote HTTP API).
type Breaker struct {
	name       string
	dependency string
	settings   Settings
	logger     *zap.Logger
	now        func() time.Time

	// failure decides whether an error counts against the dependency. Errors
	// such as redis.Nil or a caller cancelling ctx are not the dependency's fault.
	failure func(error) bool

	mu           sync.Mutex
	state        State
	generation   uint64
	requests     uint32
	consecutiveF uint32
	consecutiveS uint32
	expiry       time.Time
	listeners    []func(from, to State)
}

// New creates a closed breaker.
func New(name, dependency string, s Settings, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{
		name:       name,
		dependency: dependency,
		settings:   s,
		logger:     logger,
		now:        time.Now,
		failure:    defaultFailure,
		state:      StateClosed,
	}
	b.resetCounters(b.now())
	return b
}

// WithFailureClassifier replaces the default error classifier.
func (b *Breaker) WithFailureClassifier(fn func(error) bool) *Breaker {
	b.failure = fn
	return b
}

// OnStateChange registers a listener invoked under the breaker lock.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

func defaultFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Name of the guarded call site.
func (b *Breaker) Name() string { return b.name }

// Dependency being guarded.
func (b *Breaker) Dependency() string { return b.dependency }

// Do runs fn unless the breaker is open. The error of fn is returned as is.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	gen, err := b.admit()
	if err != nil {
		collector.observe(b, false)
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.record(gen, false)
			panic(r)
		}
	}()

	err = fn(ctx)
	ok := err == nil || !b.failure(err)
	b.record(gen, ok)
	collector.observe(b, ok)
	return err
}

// State returns the current state, advancing open to half-open when the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, _ := b.current(b.now())
	return st
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, gen := b.current(b.now())
	switch {
	case st == StateOpen:
		return gen, ErrOpen
	case st == StateHalfOpen && b.requests >= b.settings.Probes:
		return gen, ErrProbeLimit
	}
	b.requests++
	return gen, nil
}

func (b *Breaker) record(gen uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	st, current := b.current(now)
	if current != gen {
		// result of a call admitted under an earlier state; ignore
		return
	}

	if ok {
		b.consecutiveF = 0
		if st == StateHalfOpen {
			b.consecutiveS++
			if b.consecutiveS >= b.settings.RecoverAfter {
				b.transition(StateClosed, now)
			}
		}
		return
	}

	b.consecutiveS = 0
	switch st {
	case StateClosed:
		b.consecutiveF++
		if b.consecutiveF >= b.settings.TripAfter {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

func (b *Breaker) current(now time.Time) (State, uint64) {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && now.After(b.expiry) {
			b.resetCounters(now)
		}
	case StateOpen:
		if now.After(b.expiry) {
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state, b.generation
}

func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.resetCounters(now)

	for _, fn := range b.listeners {
		fn(from, to)
	}
	collector.transition(b, from, to)

	b.logger.Info("Circuit breaker state changed",
		zap.String("name", b.name),
		zap.String("dependency", b.dependency),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

func (b *Breaker) resetCounters(now time.Time) {
	b.generation++
	b.requests = 0
	b.consecutiveF = 0
	b.consecutiveS = 0

	switch b.state {
	case StateClosed:
		if b.settings.Window > 0 {
			b.expiry = now.Add(b.settings.Window)
		} else {
			b.expiry = time.Time{}
		}
	case StateOpen:
		b.expiry = now.Add(b.settings.Cooldown)
	default:
		b.expiry = time.Time{}
	}
}
