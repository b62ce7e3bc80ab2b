package resilience

import (
	"context"
	"sync"
)

// ThrottleOptions configure the global bounded-concurrency queue.
type ThrottleOptions struct {
	MaxConcurrent       int
	EnableDeduplication bool
}

type inflightCall struct {
	done  chan struct{}
	value any
	err   error
}

// Throttle limits how many operations run at once. Overflow queues FIFO.
// With deduplication enabled, concurrent callers sharing a key all observe
// the single in-flight call's outcome.
type Throttle struct {
	maxConcurrent int
	dedup         bool

	mu       sync.Mutex
	active   int
	queue    []chan struct{}
	inflight map[string]*inflightCall
}

func NewThrottle(options ThrottleOptions) *Throttle {
	if options.MaxConcurrent <= 0 {
		options.MaxConcurrent = 6
	}

	return &Throttle{
		maxConcurrent: options.MaxConcurrent,
		dedup:         options.EnableDeduplication,
		inflight:      map[string]*inflightCall{},
	}
}

// Call runs operation under the concurrency limit. An empty key is never
// deduplicated.
func (t *Throttle) Call(ctx context.Context, key string, operation func() (any, error)) (any, error) {
	t.mu.Lock()

	if t.dedup && key != "" {
		if call, ok := t.inflight[key]; ok {
			t.mu.Unlock()

			select {
			case <-call.done:
				return call.value, call.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	var call *inflightCall
	if t.dedup && key != "" {
		call = &inflightCall{done: make(chan struct{})}
		t.inflight[key] = call
	}

	if t.active < t.maxConcurrent {
		t.active++
		t.mu.Unlock()
	} else {
		slot := make(chan struct{})
		t.queue = append(t.queue, slot)
		t.mu.Unlock()

		select {
		case <-slot:
			// Slot handed over by a finishing call, active count unchanged.
		case <-ctx.Done():
			t.abandon(slot, key, call, ctx.Err())
			return nil, ctx.Err()
		}
	}

	value, err := operation()

	t.mu.Lock()
	if call != nil {
		call.value = value
		call.err = err
		delete(t.inflight, key)
	}
	t.releaseSlot()
	t.mu.Unlock()

	if call != nil {
		close(call.done)
	}

	return value, err
}

// releaseSlot must be called with t.mu held. Hands the slot to the oldest
// queued caller, otherwise frees it.
func (t *Throttle) releaseSlot() {
	if len(t.queue) > 0 {
		next := t.queue[0]
		t.queue = t.queue[1:]
		close(next)
		return
	}

	t.active--
}

// abandon cleans up after a queued caller whose context was cancelled.
func (t *Throttle) abandon(slot chan struct{}, key string, call *inflightCall, cause error) {
	t.mu.Lock()

	granted := true
	for i, queued := range t.queue {
		if queued == slot {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			granted = false
			break
		}
	}
	if granted {
		// The slot was handed to us in the same instant we were cancelled,
		// pass it straight on.
		t.releaseSlot()
	}

	if call != nil {
		call.err = cause
		delete(t.inflight, key)
	}
	t.mu.Unlock()

	if call != nil {
		close(call.done)
	}
}

type ThrottleStatus struct {
	MaxConcurrent int `json:"maxConcurrent"`
	Active        int `json:"active"`
	Queued        int `json:"queued"`
	InFlightKeys  int `json:"inFlightKeys"`
}

func (t *Throttle) Status() ThrottleStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	return ThrottleStatus{
		MaxConcurrent: t.maxConcurrent,
		Active:        t.active,
		Queued:        len(t.queue),
		InFlightKeys:  len(t.inflight),
	}
}

var (
	globalThrottle     *Throttle
	globalThrottleOnce sync.Once
)

// SetupThrottle configures the process-wide throttle. Later calls are ignored.
func SetupThrottle(options ThrottleOptions) {
	globalThrottleOnce.Do(func() {
		globalThrottle = NewThrottle(options)
	})
}

func GlobalThrottle() *Throttle {
	SetupThrottle(ThrottleOptions{MaxConcurrent: 6, EnableDeduplication: true})
	return globalThrottle
}
