package resilience

import (
	"sync"
	"time"
)

// CircuitState is the admission state of a single endpoint's breaker.
type CircuitState int

const (
	// CircuitClosed lets requests flow normally.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the cool-down elapses.
	CircuitOpen
	// CircuitHalfOpen admits a single probe to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is the circuit breaker for one remote endpoint. It is the only
// cross-item shared mutable state in the pipeline, so every read-modify-write
// happens under the mutex.
type Breaker struct {
	failureThreshold int
	cooldown         time.Duration

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool

	onStateChange func(from, to CircuitState)
	nowFunc       func() time.Time
}

// NewBreaker creates a closed breaker that opens after failureThreshold
// consecutive failures and allows a probe after cooldown.
func NewBreaker(failureThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            CircuitClosed,
		nowFunc:          time.Now,
	}
}

// Allow decides whether a call may proceed. While open, it returns
// ErrCircuitOpen until the cool-down elapses, then transitions to half-open
// and admits exactly one probe; concurrent callers during the probe are
// rejected.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if b.nowFunc().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.transition(CircuitHalfOpen)
		b.probeInFlight = true
		return nil
	case CircuitHalfOpen:
		if b.probeInFlight {
			return ErrCircuitOpen
		}
		b.probeInFlight = true
		return nil
	default:
		return nil
	}
}

// Record reports a call outcome. Success resets the failure counter and
// closes a half-open breaker. Countable failures increment the counter and
// open the breaker at the threshold; any half-open failure reopens it.
// Caller errors (4xx) say nothing about endpoint health and are not counted.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitHalfOpen {
		b.probeInFlight = false
	}

	if err == nil {
		b.consecutiveFailures = 0
		if b.state == CircuitHalfOpen {
			b.transition(CircuitClosed)
		}
		return
	}

	if IsClientError(err) {
		return
	}

	b.consecutiveFailures++
	switch b.state {
	case CircuitClosed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.open()
		}
	case CircuitHalfOpen:
		b.open()
	}
}

// State returns the current state, accounting for an elapsed cool-down.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.nowFunc().Sub(b.openedAt) >= b.cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

// Failures returns the consecutive-failure counter.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Reset forces the breaker closed. Used by tests and manual recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.probeInFlight = false
	if b.state != CircuitClosed {
		b.transition(CircuitClosed)
	}
}

func (b *Breaker) open() {
	b.openedAt = b.nowFunc()
	b.transition(CircuitOpen)
}

func (b *Breaker) transition(to CircuitState) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		b.onStateChange(from, to)
	}
}

// EndpointBreakers is a registry of breakers keyed by endpoint id. Breaker
// state is shared across all items targeting the same endpoint.
type EndpointBreakers struct {
	mu               sync.RWMutex
	breakers         map[string]*Breaker
	failureThreshold int
	cooldown         time.Duration
	onStateChange    func(endpoint string, from, to CircuitState)
}

// NewEndpointBreakers creates a registry that builds breakers on demand with
// the given settings.
func NewEndpointBreakers(failureThreshold int, cooldown time.Duration) *EndpointBreakers {
	return &EndpointBreakers{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// OnStateChange registers a callback for breaker transitions. Must be called
// before the first Get.
func (eb *EndpointBreakers) OnStateChange(fn func(endpoint string, from, to CircuitState)) {
	eb.onStateChange = fn
}

// Get returns the breaker for endpoint, creating it if needed.
func (eb *EndpointBreakers) Get(endpoint string) *Breaker {
	eb.mu.RLock()
	b, ok := eb.breakers[endpoint]
	eb.mu.RUnlock()
	if ok {
		return b
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if b, ok = eb.breakers[endpoint]; ok {
		return b
	}
	b = NewBreaker(eb.failureThreshold, eb.cooldown)
	if eb.onStateChange != nil {
		name := endpoint
		b.onStateChange = func(from, to CircuitState) {
			eb.onStateChange(name, from, to)
		}
	}
	eb.breakers[endpoint] = b
	return b
}

// States returns a snapshot of every known breaker's state.
func (eb *EndpointBreakers) States() map[string]CircuitState {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	states := make(map[string]CircuitState, len(eb.breakers))
	for name, b := range eb.breakers {
		states[name] = b.State()
	}
	return states
}
