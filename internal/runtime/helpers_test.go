package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/stateful/internal/runtime"
	"github.com/aretw0/stateful/pkg/domain"
	"github.com/stretchr/testify/require"
)

// events records lifecycle callbacks in order.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, s)
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

func (e *events) count(s string) int {
	n := 0
	for _, v := range e.all() {
		if v == s {
			n++
		}
	}
	return n
}

type counter struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

var errDisk = errors.New("disk on fire")

var homeCreate = domain.Method{Interface: domain.InterfaceBusinessLocalHome, Name: "create"}

func local(name string) domain.Method {
	return domain.Method{Interface: domain.InterfaceBusinessLocal, Name: name}
}

// counterComponent is a small conversational component used across the tests.
func counterComponent(id string, ev *events) *domain.ComponentType {
	record := func(name string) domain.CallbackFunc {
		return func(_ context.Context, bean any) error {
			ev.add(name + ":" + bean.(*counter).Label)
			return nil
		}
	}
	return &domain.ComponentType{
		ID: id,
		Interfaces: map[domain.InterfaceType][]string{
			domain.InterfaceBusinessLocalHome: {"create"},
			domain.InterfaceBusinessLocal:     {"label", "increment", "get", "fail", "reject", "slow", "close"},
			domain.InterfaceLocalHome:         {"createAt", "remove"},
			domain.InterfaceLocal:             {"increment", "remove"},
		},
		RemoveMethods: []string{"close"},
		Methods: map[string]domain.MethodFunc{
			"create": func(_ context.Context, bean any, _ []any) (any, error) {
				bean.(*counter).Count = 100
				return nil, nil
			},
			"createAt": func(_ context.Context, bean any, args []any) (any, error) {
				bean.(*counter).Count = args[0].(int)
				return nil, nil
			},
			"label": func(_ context.Context, bean any, args []any) (any, error) {
				bean.(*counter).Label = args[0].(string)
				return nil, nil
			},
			"increment": func(_ context.Context, bean any, _ []any) (any, error) {
				c := bean.(*counter)
				c.Count++
				return c.Count, nil
			},
			"get": func(_ context.Context, bean any, _ []any) (any, error) {
				return bean.(*counter).Count, nil
			},
			"fail": func(context.Context, any, []any) (any, error) {
				return nil, errDisk
			},
			"reject": func(context.Context, any, []any) (any, error) {
				return nil, domain.NewApplicationError(errors.New("rejected"))
			},
			"slow": func(_ context.Context, bean any, _ []any) (any, error) {
				time.Sleep(20 * time.Millisecond)
				bean.(*counter).Count++
				return nil, nil
			},
			"close": func(_ context.Context, bean any, _ []any) (any, error) {
				ev.add("close:" + bean.(*counter).Label)
				return bean.(*counter).Count, nil
			},
			"remove": func(_ context.Context, _ any, args []any) (any, error) {
				ev.add(fmt.Sprintf("remove args=%d", len(args)))
				return nil, nil
			},
		},
		Callbacks: &domain.Callbacks{
			Activate:   record("activate"),
			Passivate:  record("passivate"),
			PreDestroy: record("pre-destroy"),
		},
		New: func() any { return &counter{} },
	}
}

// synchronized adds transaction synchronization callbacks to ct.
func synchronized(ct *domain.ComponentType, ev *events, failBefore, failAfter string) *domain.ComponentType {
	ct.Callbacks.AfterBegin = func(_ context.Context, bean any) error {
		ev.add("after-begin:" + bean.(*counter).Label)
		return nil
	}
	ct.Callbacks.BeforeCompletion = func(_ context.Context, bean any) error {
		label := bean.(*counter).Label
		ev.add("before-completion:" + label)
		if label == failBefore {
			return errors.New("before completion failed")
		}
		return nil
	}
	ct.Callbacks.AfterCompletion = func(_ context.Context, bean any, committed bool) error {
		label := bean.(*counter).Label
		ev.add(fmt.Sprintf("after-completion:%s:%t", label, committed))
		if label == failAfter {
			return errors.New("after completion failed")
		}
		return nil
	}
	return ct
}

func newContainer(t *testing.T, opts ...runtime.Option) *runtime.Container {
	t.Helper()
	c, err := runtime.NewContainer(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func create(t *testing.T, ctx context.Context, c *runtime.Container, componentID string) string {
	t.Helper()
	v, err := c.Invoke(ctx, componentID, "", homeCreate, nil)
	require.NoError(t, err)
	return v.(string)
}

func call(ctx context.Context, c *runtime.Container, componentID, key, name string, args ...any) (any, error) {
	return c.Invoke(ctx, componentID, key, local(name), args)
}

// fakeClock is a settable time source for timeout tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type handle struct {
	closed *atomic.Int32
}

func (h handle) Close() error {
	h.closed.Add(1)
	return nil
}

// countingFactory opens handles and counts opens and closes.
type countingFactory struct {
	id     string
	opened atomic.Int32
	closed atomic.Int32
}

func (f *countingFactory) ID() string { return f.id }

func (f *countingFactory) Open(context.Context) (domain.Resource, error) {
	f.opened.Add(1)
	return handle{closed: &f.closed}, nil
}

// monitorRecorder records monitoring registrations.
type monitorRecorder struct {
	events
}

func (m *monitorRecorder) Register(name string) error {
	m.add("register:" + name)
	return nil
}

func (m *monitorRecorder) Unregister(name string) error {
	m.add("unregister:" + name)
	return nil
}
