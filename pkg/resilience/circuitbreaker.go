package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// BreakerSettings tune one endpoint's circuit. Less reliable feeds get a
// longer cooldown and a higher success threshold via config.
type BreakerSettings struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker guards one endpoint key. Created lazily by the registry on
// first use and lives for the process lifetime.
type CircuitBreaker struct {
	key      string
	settings BreakerSettings

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	nextAttempt time.Time

	now func() time.Time
}

func newCircuitBreaker(key string, settings BreakerSettings) *CircuitBreaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultBreakerSettings().FailureThreshold
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = DefaultBreakerSettings().SuccessThreshold
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = DefaultBreakerSettings().ResetTimeout
	}

	return &CircuitBreaker{
		key:      key,
		settings: settings,
		state:    StateClosed,
		now:      time.Now,
	}
}

// Execute runs fn unless the circuit is open, in which case a
// CircuitOpenError with the remaining cooldown is returned and fn is never
// invoked.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn()
	cb.record(err)

	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		now := cb.now()
		if now.Before(cb.nextAttempt) {
			return &CircuitOpenError{
				Endpoint:   cb.key,
				RetryAfter: cb.nextAttempt.Sub(now),
			}
		}

		cb.state = StateHalfOpen
		cb.successes = 0
		log.Debug().Str("endpoint", cb.key).Msg("Circuit moving to half-open")
	}

	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= cb.settings.SuccessThreshold {
				cb.state = StateClosed
				cb.failures = 0
				cb.successes = 0
				log.Info().Str("endpoint", cb.key).Msg("Circuit closed again")
			}
		}

		return
	}

	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.settings.FailureThreshold {
			cb.trip()
		}
	case StateHalfOpen:
		// A single failure while probing sends us straight back to open
		// with a fresh cooldown.
		cb.trip()
	}
}

// trip must be called with cb.mu held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.successes = 0
	cb.nextAttempt = cb.now().Add(cb.settings.ResetTimeout)

	log.Warn().
		Str("endpoint", cb.key).
		Int("failures", cb.failures).
		Time("nextAttempt", cb.nextAttempt).
		Msg("Circuit opened")
}

// Reset forces the breaker back to closed. Diagnostics and tests only.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.nextAttempt = time.Time{}
}

type BreakerStatus struct {
	Endpoint    string        `json:"endpoint"`
	State       string        `json:"state"`
	Failures    int           `json:"failures"`
	Successes   int           `json:"successes"`
	LastFailure time.Time     `json:"lastFailure"`
	RetryAfter  time.Duration `json:"retryAfter"`
}

func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	status := BreakerStatus{
		Endpoint:    cb.key,
		State:       cb.state.String(),
		Failures:    cb.failures,
		Successes:   cb.successes,
		LastFailure: cb.lastFailure,
	}

	if cb.state == StateOpen {
		if remaining := cb.nextAttempt.Sub(cb.now()); remaining > 0 {
			status.RetryAfter = remaining
		}
	}

	return status
}

type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	settings map[string]BreakerSettings
}

var registry = &breakerRegistry{
	breakers: map[string]*CircuitBreaker{},
	settings: map[string]BreakerSettings{},
}

// ConfigureBreaker registers per-endpoint settings used when the breaker for
// that key is first created.
func ConfigureBreaker(key string, settings BreakerSettings) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.settings[key] = settings
}

// BreakerFor returns the breaker for an endpoint key, creating it on first use.
func BreakerFor(key string) *CircuitBreaker {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if breaker, ok := registry.breakers[key]; ok {
		return breaker
	}

	settings, ok := registry.settings[key]
	if !ok {
		settings = DefaultBreakerSettings()
	}

	breaker := newCircuitBreaker(key, settings)
	registry.breakers[key] = breaker

	return breaker
}

// BreakerStatuses reports every known breaker, sorted by endpoint key.
func BreakerStatuses() []BreakerStatus {
	registry.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(registry.breakers))
	for _, breaker := range registry.breakers {
		breakers = append(breakers, breaker)
	}
	registry.mu.Unlock()

	statuses := make([]BreakerStatus, 0, len(breakers))
	for _, breaker := range breakers {
		statuses = append(statuses, breaker.Status())
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Endpoint < statuses[j].Endpoint
	})

	return statuses
}

// ResetBreakers resets every breaker in the registry.
func ResetBreakers() {
	registry.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(registry.breakers))
	for _, breaker := range registry.breakers {
		breakers = append(breakers, breaker)
	}
	registry.mu.Unlock()

	for _, breaker := range breakers {
		breaker.Reset()
	}
}
