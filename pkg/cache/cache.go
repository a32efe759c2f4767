package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/aretw0/stateful/internal/logging"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

var (
	// ErrNotFound is returned for keys the cache does not know.
	ErrNotFound = errors.New("cache: key not found")
	// ErrCheckedOut is returned by CheckOut for an entry that is already checked out.
	ErrCheckedOut = errors.New("cache: entry already checked out")
	// ErrDuplicate is returned by Add for a key already present.
	ErrDuplicate = errors.New("cache: duplicate key")
	// ErrCorrupt is wrapped by Passivator.Load when a stored value can never be restored.
	ErrCorrupt = errors.New("cache: stored value cannot be restored")
)

// ActivationError is returned by CheckOut when a passivated entry could not be
// restored because it is corrupt or AfterLoad failed. The entry is discarded.
type ActivationError struct {
	Key string
	Err error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("cache: activate %s: %v", e.Key, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// Passivator moves values out of memory and back.
type Passivator[V any] interface {
	Store(ctx context.Context, key string, v V) error
	// Load returns an error wrapping ErrNotFound when nothing is stored under
	// key, and one wrapping ErrCorrupt when the stored value is unusable. Any
	// other error leaves the entry passivated.
	Load(ctx context.Context, key string) (V, error)
	Delete(ctx context.Context, key string) error
}

// Listener receives the lifecycle events of cached values.
type Listener[V any] interface {
	// AfterLoad runs after activation. An error discards the value.
	AfterLoad(ctx context.Context, key string, v V) error
	// BeforeStore runs before passivation. Errors are logged only.
	BeforeStore(ctx context.Context, key string, v V) error
	// TimedOut runs before a timed-out value is removed. Errors are logged only.
	TimedOut(ctx context.Context, key string, v V) error
}

// Status is the state of a key in the cache.
type Status int

const (
	StatusAbsent Status = iota
	StatusCheckedOut
	StatusIdle
	StatusPassivated
	StatusInTransit
)

func (s Status) String() string {
	switch s {
	case StatusCheckedOut:
		return "checked-out"
	case StatusIdle:
		return "idle"
	case StatusPassivated:
		return "passivated"
	case StatusInTransit:
		return "in-transit"
	default:
		return "absent"
	}
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Resident     int
	Idle         int
	CheckedOut   int
	Passivated   int
	Passivations uint64
	Activations  uint64
	Timeouts     uint64
}

type entryState int

const (
	stateCheckedOut entryState = iota
	stateIdle
	statePassivating
	stateLoading
)

type entry[V any] struct {
	key        string
	value      V
	state      entryState
	lastAccess time.Time
	// pending is closed when a passivation or activation finishes.
	pending chan struct{}
	removed bool
}

// Cache is a bounded, passivating store of values keyed by string.
type Cache[V any] struct {
	cfg        Config
	passivator Passivator[V]
	listener   Listener[V]
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	entries    map[string]*entry[V]
	idle       *simplelru.LRU[string, *entry[V]]
	passivated map[string]time.Time // key -> last access
	counters   Stats

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Cache. The passivator may be nil, in which case nothing is
// ever passivated; the listener may be nil.
func New[V any](cfg Config, passivator Passivator[V], listener Listener[V], opts ...Option) (*Cache[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: logging.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	// Capacity is enforced by selectVictimsLocked, not by the LRU itself.
	idle, err := simplelru.NewLRU[string, *entry[V]](math.MaxInt, nil)
	if err != nil {
		return nil, err
	}

	return &Cache[V]{
		cfg:        cfg,
		passivator: passivator,
		listener:   listener,
		logger:     o.logger,
		now:        o.now,
		entries:    make(map[string]*entry[V]),
		idle:       idle,
		passivated: make(map[string]time.Time),
		stop:       make(chan struct{}),
	}, nil
}

// Add inserts v under key in the checked-out state.
func (c *Cache[V]) Add(key string, v V) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	if _, ok := c.passivated[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	c.entries[key] = &entry[V]{key: key, value: v, state: stateCheckedOut, lastAccess: c.now()}
	return nil
}

// CheckOut moves the entry for key to the checked-out state and returns its value,
// activating it first if it was passivated.
func (c *Cache[V]) CheckOut(ctx context.Context, key string) (V, error) {
	var zero V
	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		if ok {
			switch e.state {
			case stateIdle:
				c.idle.Remove(key)
				e.state = stateCheckedOut
				c.mu.Unlock()
				return e.value, nil
			case stateCheckedOut:
				c.mu.Unlock()
				return zero, ErrCheckedOut
			default:
				pending := e.pending
				c.mu.Unlock()
				select {
				case <-pending:
					continue
				case <-ctx.Done():
					return zero, ctx.Err()
				}
			}
		}

		last, ok := c.passivated[key]
		if !ok {
			c.mu.Unlock()
			return zero, ErrNotFound
		}
		if err := ctx.Err(); err != nil {
			c.mu.Unlock()
			return zero, err
		}
		delete(c.passivated, key)
		e = &entry[V]{key: key, state: stateLoading, lastAccess: last, pending: make(chan struct{})}
		c.entries[key] = e
		c.mu.Unlock()

		return c.activate(ctx, e)
	}
}

// activate restores a passivated entry. It runs detached from the caller's
// cancellation: callers waiting on the same key share its outcome.
func (c *Cache[V]) activate(ctx context.Context, e *entry[V]) (V, error) {
	var zero V
	ctx = context.WithoutCancel(ctx)
	v, err := c.passivator.Load(ctx, e.key)
	retry := err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrCorrupt)
	if err == nil && c.listener != nil {
		err = c.listener.AfterLoad(ctx, e.key, v)
	}

	c.mu.Lock()
	removed := e.removed
	switch {
	case retry && !removed:
		delete(c.entries, e.key)
		c.passivated[e.key] = e.lastAccess
	case err != nil || removed:
		delete(c.entries, e.key)
	default:
		e.value = v
		e.state = stateCheckedOut
		e.lastAccess = c.now()
		c.counters.Activations++
	}
	close(e.pending)
	e.pending = nil
	c.mu.Unlock()

	if retry && !removed {
		c.logger.Warn("Activation failed, instance stays passivated", "key", e.key, "err", err)
		return zero, fmt.Errorf("cache: load %s: %w", e.key, err)
	}

	if delErr := c.passivator.Delete(ctx, e.key); delErr != nil {
		c.logger.Warn("Failed to delete activated snapshot", "key", e.key, "err", delErr)
	}

	switch {
	case removed, errors.Is(err, ErrNotFound):
		return zero, ErrNotFound
	case err != nil:
		return zero, &ActivationError{Key: e.key, Err: err}
	}
	return v, nil
}

// CheckIn returns a checked-out entry to the idle state. When that pushes the
// number of idle entries over capacity, the least recently used ones are
// passivated before CheckIn returns.
func (c *Cache[V]) CheckIn(ctx context.Context, key string) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.state != stateCheckedOut {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is not checked out", ErrNotFound, key)
	}
	e.state = stateIdle
	e.lastAccess = c.now()
	c.idle.Add(key, e)
	victims := c.selectVictimsLocked()
	c.mu.Unlock()

	c.passivate(context.WithoutCancel(ctx), victims)
	return nil
}

func (c *Cache[V]) selectVictimsLocked() []*entry[V] {
	if c.cfg.Capacity <= 0 || c.passivator == nil {
		return nil
	}
	over := c.idle.Len() - c.cfg.Capacity
	if over <= 0 {
		return nil
	}
	n := max(over, c.cfg.BulkPassivate)

	victims := make([]*entry[V], 0, n)
	for range n {
		_, e, ok := c.idle.RemoveOldest()
		if !ok {
			break
		}
		e.state = statePassivating
		e.pending = make(chan struct{})
		victims = append(victims, e)
	}
	return victims
}

func (c *Cache[V]) passivate(ctx context.Context, victims []*entry[V]) {
	restored := 0
	for _, e := range victims {
		if c.listener != nil {
			if err := c.listener.BeforeStore(ctx, e.key, e.value); err != nil {
				c.logger.Error("BeforeStore callback failed", "key", e.key, "err", err)
			}
		}
		err := c.passivator.Store(ctx, e.key, e.value)

		var zero V
		drop := false
		c.mu.Lock()
		switch {
		case err != nil && e.removed:
			delete(c.entries, e.key)
		case err != nil:
			e.state = stateIdle
			// Failed victims keep their place at the old end of the LRU.
			c.insertIdleLocked(e, restored)
			restored++
		case e.removed:
			delete(c.entries, e.key)
			drop = true
		default:
			delete(c.entries, e.key)
			c.passivated[e.key] = e.lastAccess
			c.counters.Passivations++
			e.value = zero
		}
		close(e.pending)
		e.pending = nil
		c.mu.Unlock()

		if err != nil {
			c.logger.Error("Passivation failed, keeping instance resident", "key", e.key, "err", err)
			continue
		}
		c.logger.Debug("Passivated instance", "key", e.key)
		if drop {
			if err := c.passivator.Delete(ctx, e.key); err != nil {
				c.logger.Warn("Failed to delete snapshot of removed instance", "key", e.key, "err", err)
			}
		}
	}
}

// insertIdleLocked puts e at position pos of the idle LRU, counted from the
// least recently used end.
func (c *Cache[V]) insertIdleLocked(e *entry[V], pos int) {
	keys := c.idle.Keys()
	ordered := make([]*entry[V], 0, len(keys)+1)
	for i, key := range keys {
		if i == pos {
			ordered = append(ordered, e)
		}
		v, _ := c.idle.Peek(key)
		ordered = append(ordered, v)
	}
	if pos >= len(keys) {
		ordered = append(ordered, e)
	}
	c.idle.Purge()
	for _, v := range ordered {
		c.idle.Add(v.key, v)
	}
}

// Remove drops key from the cache whatever its state. An entry being
// passivated or activated is dropped when the transfer completes. Remove
// never releases what the value holds; that is the caller's job.
func (c *Cache[V]) Remove(ctx context.Context, key string) error {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		switch e.state {
		case stateIdle:
			c.idle.Remove(key)
			delete(c.entries, key)
		case stateCheckedOut:
			delete(c.entries, key)
		default:
			e.removed = true
		}
		c.mu.Unlock()
		return nil
	}
	if _, ok := c.passivated[key]; ok {
		delete(c.passivated, key)
		c.mu.Unlock()
		if c.passivator != nil {
			return c.passivator.Delete(ctx, key)
		}
		return nil
	}
	c.mu.Unlock()
	return ErrNotFound
}

// RemoveAll drops every idle or passivated entry matching pred, without
// passivating or activating it, and returns the dropped values. Passivated
// entries are loaded to be matched; entries being passivated are waited for.
// Checked-out entries are left alone.
func (c *Cache[V]) RemoveAll(ctx context.Context, pred func(key string, v V) bool) ([]V, error) {
	var removed []V
	var keys []string
	for {
		var pending []chan struct{}
		c.mu.Lock()
		for key, e := range c.entries {
			switch e.state {
			case stateIdle:
				if pred(key, e.value) {
					c.idle.Remove(key)
					delete(c.entries, key)
					removed = append(removed, e.value)
				}
			case statePassivating:
				if pred(key, e.value) {
					pending = append(pending, e.pending)
				}
			}
		}
		if len(pending) == 0 {
			keys = make([]string, 0, len(c.passivated))
			for key := range c.passivated {
				keys = append(keys, key)
			}
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()

		// A passivation that fails returns the entry to idle, where the next
		// pass picks it up with its value.
		for _, ch := range pending {
			select {
			case <-ch:
			case <-ctx.Done():
				return removed, ctx.Err()
			}
		}
	}

	if c.passivator == nil {
		return removed, nil
	}

	var errs []error
	for _, key := range keys {
		v, err := c.passivator.Load(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				errs = append(errs, fmt.Errorf("load %s: %w", key, err))
			}
			continue
		}
		if !pred(key, v) {
			continue
		}

		c.mu.Lock()
		_, still := c.passivated[key]
		delete(c.passivated, key)
		c.mu.Unlock()
		if !still {
			continue
		}
		if err := c.passivator.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
		removed = append(removed, v)
	}
	return removed, errors.Join(errs...)
}

// Sweep removes the entries idle for longer than the configured timeout,
// invoking the TimedOut listener for each. It returns the number removed.
func (c *Cache[V]) Sweep(ctx context.Context) int {
	if c.cfg.IdleTimeout <= 0 {
		return 0
	}
	deadline := c.now().Add(-c.cfg.IdleTimeout)

	c.mu.Lock()
	var expired []*entry[V]
	for _, key := range c.idle.Keys() {
		e, _ := c.idle.Peek(key)
		if e.lastAccess.After(deadline) {
			continue
		}
		c.idle.Remove(key)
		delete(c.entries, key)
		expired = append(expired, e)
	}
	var expiredKeys []string
	for key, last := range c.passivated {
		if !last.After(deadline) {
			delete(c.passivated, key)
			expiredKeys = append(expiredKeys, key)
		}
	}
	c.counters.Timeouts += uint64(len(expired) + len(expiredKeys))
	c.mu.Unlock()

	for _, e := range expired {
		c.timedOut(ctx, e.key, e.value)
	}
	for _, key := range expiredKeys {
		v, err := c.passivator.Load(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				c.logger.Error("Failed to load timed-out snapshot", "key", key, "err", err)
			}
		} else {
			c.timedOut(ctx, key, v)
		}
		if err := c.passivator.Delete(ctx, key); err != nil {
			c.logger.Warn("Failed to delete timed-out snapshot", "key", key, "err", err)
		}
	}
	return len(expired) + len(expiredKeys)
}

func (c *Cache[V]) timedOut(ctx context.Context, key string, v V) {
	if c.listener == nil {
		return
	}
	if err := c.listener.TimedOut(ctx, key, v); err != nil {
		c.logger.Error("TimedOut callback failed", "key", key, "err", err)
	}
}

// Start runs the background timeout sweep until ctx is done or Close is called.
func (c *Cache[V]) Start(ctx context.Context) {
	if c.cfg.IdleTimeout <= 0 || c.cfg.SweepInterval <= 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := c.Sweep(ctx); n > 0 {
					c.logger.Debug("Swept timed-out instances", "count", n)
				}
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			}
		}
	}()
}

// Close stops the background sweep.
func (c *Cache[V]) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
	return nil
}

// Status reports the state of key.
func (c *Cache[V]) Status(key string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		switch e.state {
		case stateCheckedOut:
			return StatusCheckedOut
		case stateIdle:
			return StatusIdle
		default:
			return StatusInTransit
		}
	}
	if _, ok := c.passivated[key]; ok {
		return StatusPassivated
	}
	return StatusAbsent
}

// Stats returns the current counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.counters
	s.Resident = len(c.entries)
	s.Idle = c.idle.Len()
	for _, e := range c.entries {
		if e.state == stateCheckedOut {
			s.CheckedOut++
		}
	}
	s.Passivated = len(c.passivated)
	return s
}
