// Package resilience guards dataset sources that keep failing, so a dead
// URL is not downloaded again on every dashboard request.
package resilience

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// State is the position of a source breaker.
type State int

const (
	// Closed lets every load through.
	Closed State = iota
	// Open rejects loads until the cooldown elapses.
	Open
	// HalfOpen lets a single trial load through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "closed":
		*s = Closed
	case "open":
		*s = Open
	case "half-open":
		*s = HalfOpen
	default:
		return eris.Errorf("resilience: unknown breaker state %q", text)
	}
	return nil
}

// ErrOpen is returned when a load is rejected without being attempted.
var ErrOpen = eris.New("resilience: source breaker open")

// Defaults applied by NewBreaker to zero options.
const (
	DefaultThreshold = 3
	DefaultCooldown  = 30 * time.Second
)

// Options configures a Breaker.
type Options struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int
	// Cooldown is how long an open breaker rejects loads before allowing a trial load.
	Cooldown time.Duration
}

// Breaker tracks consecutive failures of one source.
type Breaker struct {
	key  string
	opts Options

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trialing bool

	now func() time.Time
}

// NewBreaker creates a closed breaker for key.
func NewBreaker(key string, opts Options) *Breaker {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	return &Breaker{key: key, opts: opts, now: time.Now}
}

// Call runs fn unless the breaker is open. Errors from fn count as
// failures except context cancellation, which says nothing about the
// source.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.acquire(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(err)
	if err != nil {
		return zero, err
	}
	return v, nil
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		return HalfOpen
	}
	return b.state
}

// Failures returns the current run of consecutive failures.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker and clears its failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trialing = false
	b.transition(Closed)
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.opts.Cooldown {
			return eris.Wrapf(ErrOpen, "retry in %s", b.opts.Cooldown-b.now().Sub(b.openedAt))
		}
		b.transition(HalfOpen)
		b.trialing = true
		return nil
	case HalfOpen:
		if b.trialing {
			return eris.Wrap(ErrOpen, "trial load in flight")
		}
		b.trialing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.trialing = false
	}
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		// Leave a half-open breaker ready for the next trial load.
		return
	}

	if err == nil {
		b.failures = 0
		b.transition(Closed)
		return
	}

	b.failures++
	switch b.state {
	case HalfOpen:
		b.openedAt = b.now()
		b.transition(Open)
	case Closed:
		if b.failures >= b.opts.Threshold {
			b.openedAt = b.now()
			b.transition(Open)
		}
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	zap.L().Info("resilience: source breaker state changed",
		zap.String("source", b.key),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("failures", b.failures),
	)
}

// Breakers holds one Breaker per source key.
type Breakers struct {
	opts Options

	mu       sync.RWMutex
	breakers map[string]*Breaker
	now      func() time.Time
}

// NewBreakers creates an empty registry whose breakers share opts.
func NewBreakers(opts Options) *Breakers {
	return &Breakers{opts: opts, breakers: make(map[string]*Breaker), now: time.Now}
}

// Get returns the breaker for key, creating it on first use.
func (r *Breakers) Get(key string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[key]; ok {
		return b
	}
	b = NewBreaker(key, r.opts)
	b.now = r.now
	r.breakers[key] = b
	return b
}

// Snapshot describes one breaker for status reporting.
type Snapshot struct {
	Source   string `json:"source"`
	State    State  `json:"state"`
	Failures int    `json:"failures"`
}

// Snapshots returns every known breaker sorted by source.
func (r *Breakers) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for key, b := range r.breakers {
		out = append(out, Snapshot{Source: key, State: b.State(), Failures: b.Failures()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Reset closes the breaker for key. It reports whether one existed.
func (r *Breakers) Reset(key string) bool {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		b.Reset()
	}
	return ok
}
