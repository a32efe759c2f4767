package runtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/stateful/internal/runtime"
	"github.com/aretw0/stateful/pkg/adapters/memory"
	"github.com/aretw0/stateful/pkg/cache"
	"github.com/aretw0/stateful/pkg/domain"
	"github.com/aretw0/stateful/pkg/ports"
	"github.com/aretw0/stateful/pkg/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainer_Deploy(t *testing.T) {
	mon := &monitorRecorder{}
	c := newContainer(t, runtime.WithMonitor(mon))
	ev := &events{}

	require.NoError(t, c.Deploy(counterComponent("counter", ev)))
	assert.ErrorIs(t, c.Deploy(counterComponent("counter", ev)), domain.ErrAlreadyDeployed)
	assert.Equal(t, []string{"counter"}, c.Deployed())

	broken := counterComponent("broken", ev)
	delete(broken.Methods, "get")
	assert.ErrorContains(t, c.Deploy(broken), "no implementation for business method")

	assert.Equal(t, []string{"register:counter"}, mon.all())
}

func TestContainer_CreateKeysAreFresh(t *testing.T) {
	ctx := context.Background()
	c := newContainer(t)
	require.NoError(t, c.Deploy(counterComponent("counter", &events{})))

	seen := make(map[string]bool)
	for range 50 {
		key := create(t, ctx, c, "counter")
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

func TestContainer_RemoveThenInvoke(t *testing.T) {
	ctx := context.Background()
	ev := &events{}
	c := newContainer(t)
	require.NoError(t, c.Deploy(counterComponent("counter", ev)))

	key := create(t, ctx, c, "counter")
	_, err := call(ctx, c, "counter", key, "increment")
	require.NoError(t, err)

	out, err := call(ctx, c, "counter", key, "close")
	require.NoError(t, err)
	assert.Equal(t, 1, out)
	assert.Equal(t, []string{"close:", "pre-destroy:"}, ev.all())

	_, err = call(ctx, c, "counter", key, "get")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	var appErr *domain.ApplicationError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, cache.StatusAbsent, c.Status(key))
}

func TestContainer_BusinessState(t *testing.T) {
	ctx := context.Background()
	c := newContainer(t)
	require.NoError(t, c.Deploy(counterComponent("counter", &events{})))

	key := create(t, ctx, c, "counter")
	for range 3 {
		_, err := call(ctx, c, "counter", key, "increment")
		require.NoError(t, err)
	}
	out, err := call(ctx, c, "counter", key, "get")
	require.NoError(t, err)
	assert.Equal(t, 3, out)
	assert.Equal(t, cache.StatusIdle, c.Status(key))
}

func TestContainer_CreateInitializers(t *testing.T) {
	ctx := context.Background()
	c := newContainer(t)
	require.NoError(t, c.Deploy(counterComponent("counter", &events{})))

	// Business homes never run an initializer.
	key := create(t, ctx, c, "counter")
	out, err := call(ctx, c, "counter", key, "get")
	require.NoError(t, err)
	assert.Equal(t, 0, out)

	// Component homes run the matching create initializer with the arguments.
	v, err := c.Invoke(ctx, "counter", "", domain.Method{Interface: domain.InterfaceLocalHome, Name: "createAt"}, []any{41})
	require.NoError(t, err)
	legacy := v.(string)
	out, err = c.Invoke(ctx, "counter", legacy, domain.Method{Interface: domain.InterfaceLocal, Name: "increment"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestContainer_CreateFailureDiscards(t *testing.T) {
	ctx := context.Background()
	ct := counterComponent("counter", &events{})
	ct.Methods["createAt"] = func(context.Context, any, []any) (any, error) {
		return nil, domain.NewApplicationError(assert.AnError)
	}
	c := newContainer(t)
	require.NoError(t, c.Deploy(ct))

	v, err := c.Invoke(ctx, "counter", "", domain.Method{Interface: domain.InterfaceLocalHome, Name: "createAt"}, []any{1})
	assert.Nil(t, v)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, c.Stats().Resident)
	assert.Equal(t, 0, c.Guard().CheckedOut())
}

func TestContainer_SystemErrorDiscardsInstance(t *testing.T) {
	ctx := context.Background()
	c := newContainer(t)
	require.NoError(t, c.Deploy(counterComponent("counter", &events{})))
	key := create(t, ctx, c, "counter")

	_, err := call(ctx, c, "counter", key, "fail")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSystem)
	assert.NotErrorIs(t, err, errDisk, "the cause is logged, not exposed")
	assert.NotContains(t, err.Error(), "disk on fire")

	var rtErr *domain.RuntimeError
	require.ErrorAs(t, err, &rtErr)
	assert.NotEmpty(t, rtErr.Ref)

	_, err = call(ctx, c, "counter", key, "get")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestContainer_PanicIsSystemError(t *testing.T) {
	ctx := context.Background()
	ct := counterComponent("counter", &events{})
	ct.Methods["fail"] = func(context.Context, any, []any) (any, error) {
		panic("boom")
	}
	c := newContainer(t)
	require.NoError(t, c.Deploy(ct))
	key := create(t, ctx, c, "counter")

	_, err := call(ctx, c, "counter", key, "fail")
	assert.ErrorIs(t, err, domain.ErrSystem)
	_, err = call(ctx, c, "counter", key, "get")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestContainer_ApplicationErrorKeepsInstance(t *testing.T) {
	ctx := context.Background()
	c := newContainer(t)
	require.NoError(t, c.Deploy(counterComponent("counter", &events{})))
	key := create(t, ctx, c, "counter")

	_, err := call(ctx, c, "counter", key, "reject")
	var appErr *domain.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.EqualError(t, err, "rejected")

	_, err = call(ctx, c, "counter", key, "increment")
	assert.NoError(t, err)
}

func TestContainer_ApplicationRollbackMarksTransaction(t *testing.T) {
	ctx := context.Background()
	tm := memory.NewTransactionManager()
	ct := counterComponent("counter", &events{})
	ct.Methods["reject"] = func(context.Context, any, []any) (any, error) {
		return nil, domain.NewRollbackError(assert.AnError)
	}
	c := newContainer(t, runtime.WithTransactionManager(tm))
	require.NoError(t, c.Deploy(ct))
	key := create(t, ctx, c, "counter")

	txCtx, tx, err := tm.Begin(ctx)
	require.NoError(t, err)
	_, err = call(txCtx, c, "counter", key, "reject")
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, tx.RollbackOnly())

	assert.ErrorIs(t, tx.Commit(txCtx), domain.ErrRolledBack)
	_, err = call(ctx, c, "counter", key, "get")
	assert.NoError(t, err, "application errors never discard")
}

func TestContainer_Unauthorized(t *testing.T) {
	ctx := context.Background()
	deny := ports.AuthorizerFunc(func(_ context.Context, _ string, m domain.Method) bool {
		return m.Name != "increment"
	})
	c := newContainer(t, runtime.WithAuthorizer(deny))
	require.NoError(t, c.Deploy(counterComponent("counter", &events{})))
	key := create(t, ctx, c, "counter")

	_, err := call(ctx, c, "counter", key, "increment")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = call(ctx, c, "counter", key, "get")
	assert.NoError(t, err)
}

func TestContainer_UnknownMethodAndComponent(t *testing.T) {
	ctx := context.Background()
	c := newContainer(t)
	require.NoError(t, c.Deploy(counterComponent("counter", &events{})))

	_, err := call(ctx, c, "counter", "k", "nope")
	assert.ErrorIs(t, err, domain.ErrMethodNotFound)
	_, err = call(ctx, c, "ghost", "k", "get")
	assert.ErrorIs(t, err, domain.ErrNotDeployed)
}

func TestContainer_TransactionAttributes(t *testing.T) {
	ctx := context.Background()
	tm := memory.NewTransactionManager()
	ct := counterComponent("counter", &events{})
	ct.TransactionAttributes = map[string]domain.TransactionAttribute{
		"increment": domain.TxMandatory,
		"get":       domain.TxNever,
	}
	c := newContainer(t, runtime.WithTransactionManager(tm))
	require.NoError(t, c.Deploy(ct))
	key := create(t, ctx, c, "counter")

	_, err := call(ctx, c, "counter", key, "increment")
	var txErr *domain.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.ErrorIs(t, err, domain.ErrTransactionRequired)
	assert.ErrorIs(t, err, domain.ErrSystem)

	txCtx, tx, err := tm.Begin(ctx)
	require.NoError(t, err)
	_, err = call(txCtx, c, "counter", key, "get")
	assert.ErrorIs(t, err, domain.ErrTransactionNotAllowed)

	_, err = call(txCtx, c, "counter", key, "increment")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(txCtx))

	out, err := call(ctx, c, "counter", key, "get")
	require.NoError(t, err)
	assert.Equal(t, 1, out)
}

func TestContainer_TransactionBindingLifecycle(t *testing.T) {
	ctx := context.Background()
	tm := memory.NewTransactionManager()
	c := newContainer(t, runtime.WithTransactionManager(tm))
	require.NoError(t, c.Deploy(counterComponent("counter", &events{})))
	key := create(t, ctx, c, "counter")

	t1Ctx, t1, err := tm.Begin(ctx)
	require.NoError(t, err)
	_, err = call(t1Ctx, c, "counter", key, "increment")
	require.NoError(t, err)

	// Bound to T1: kept checked out until T1 completes.
	assert.Equal(t, cache.StatusCheckedOut, c.Status(key))
	assert.True(t, c.Guard().Enrolled(key))

	_, err = call(t1Ctx, c, "counter", key, "increment")
	require.NoError(t, err, "the owning transaction may call again")

	require.NoError(t, t1.Commit(t1Ctx))
	assert.Equal(t, cache.StatusIdle, c.Status(key))
	assert.False(t, c.Guard().Enrolled(key))

	// Without a transaction the instance binds to none.
	out, err := call(ctx, c, "counter", key, "increment")
	require.NoError(t, err)
	assert.Equal(t, 3, out)
	assert.Equal(t, cache.StatusIdle, c.Status(key))
}

func TestContainer_ConcurrentCrossTransactionRejected(t *testing.T) {
	ctx := context.Background()
	tm := memory.NewTransactionManager()
	entered := make(chan struct{})
	proceed := make(chan struct{})
	ct := counterComponent("counter", &events{})
	ct.Interfaces[domain.InterfaceBusinessLocal] = append(ct.Interfaces[domain.InterfaceBusinessLocal], "block")
	ct.Methods["block"] = func(context.Context, any, []any) (any, error) {
		close(entered)
		<-proceed
		return nil, nil
	}
	c := newContainer(t, runtime.WithTransactionManager(tm))
	require.NoError(t, c.Deploy(ct))
	key := create(t, ctx, c, "counter")

	t1Ctx, t1, _ := tm.Begin(ctx)
	t2Ctx, t2, _ := tm.Begin(ctx)
	t3Ctx, t3, _ := tm.Begin(ctx)

	_, err := call(t1Ctx, c, "counter", key, "increment")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := call(t2Ctx, c, "counter", key, "block")
		done <- err
	}()
	<-entered

	_, err = call(t3Ctx, c, "counter", key, "increment")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConcurrentAccess)
	var appErr *domain.ApplicationError
	assert.ErrorAs(t, err, &appErr)

	close(proceed)
	require.NoError(t, <-done)

	require.NoError(t, t3.Rollback(t3Ctx))
	require.NoError(t, t2.Commit(t2Ctx))
	assert.True(t, c.Guard().Enrolled(key), "still bound to T1")
	require.NoError(t, t1.Commit(t1Ctx))
	assert.Equal(t, cache.StatusIdle, c.Status(key))
}

func TestContainer_CompletionKeepsInstanceHeldByOtherTransaction(t *testing.T) {
	ctx := context.Background()
	tm := memory.NewTransactionManager()
	entered := make(chan struct{})
	proceed := make(chan struct{})
	ct := counterComponent("counter", &events{})
	ct.Interfaces[domain.InterfaceBusinessLocal] = append(ct.Interfaces[domain.InterfaceBusinessLocal], "block")
	ct.Methods["block"] = func(context.Context, any, []any) (any, error) {
		close(entered)
		<-proceed
		return nil, nil
	}
	c := newContainer(t, runtime.WithTransactionManager(tm))
	require.NoError(t, c.Deploy(ct))
	key := create(t, ctx, c, "counter")

	t1Ctx, t1, _ := tm.Begin(ctx)
	t2Ctx, t2, _ := tm.Begin(ctx)

	_, err := call(t1Ctx, c, "counter", key, "increment")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := call(t2Ctx, c, "counter", key, "block")
		done <- err
	}()
	<-entered

	// T1 completes while T2 still runs inside the instance.
	require.NoError(t, t1.Commit(t1Ctx))
	assert.Equal(t, cache.StatusCheckedOut, c.Status(key))
	assert.False(t, c.Guard().Enrolled(key))

	_, err = call(ctx, c, "counter", key, "increment")
	assert.ErrorIs(t, err, domain.ErrConcurrentAccess)

	close(proceed)
	require.NoError(t, <-done)
	assert.Equal(t, cache.StatusIdle, c.Status(key), "the leaving invocation checks it in")

	require.NoError(t, t2.Commit(t2Ctx))
	assert.Equal(t, cache.StatusIdle, c.Status(key))
	out, err := call(ctx, c, "counter", key, "get")
	require.NoError(t, err)
	assert.Equal(t, 101, out)
}

func TestContainer_ConcurrentAccessSameKey(t *testing.T) {
	ctx := context.Background()
	ct := counterComponent("counter", &events{})
	ct.TransactionAttributes = map[string]domain.TransactionAttribute{"slow": domain.TxNotSupported}
	c := newContainer(t)
	require.NoError(t, c.Deploy(ct))
	key := create(t, ctx, c, "counter")

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := call(ctx, c, "counter", key, "slow")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrConcurrentAccess):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, ok.Load(), int32(1))
	assert.Equal(t, int32(8), ok.Load()+rejected.Load())
	out, err := call(ctx, c, "counter", key, "get")
	require.NoError(t, err)
	assert.Equal(t, int(ok.Load()), out)
}

func TestContainer_SessionSynchronization(t *testing.T) {
	ctx := context.Background()
	tm := memory.NewTransactionManager()
	ev := &events{}
	c := newContainer(t, runtime.WithTransactionManager(tm))
	require.NoError(t, c.Deploy(synchronized(counterComponent("counter", ev), ev, "", "")))

	key := create(t, ctx, c, "counter")
	assert.Empty(t, ev.all(), "no synchronization callbacks during create")
	_, err := call(ctx, c, "counter", key, "label", "A")
	require.NoError(t, err)

	txCtx, tx, _ := tm.Begin(ctx)
	for range 2 {
		_, err := call(txCtx, c, "counter", key, "increment")
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit(txCtx))

	txCtx, tx, _ = tm.Begin(ctx)
	_, err = call(txCtx, c, "counter", key, "increment")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(txCtx))

	assert.Equal(t, []string{
		// The label call ran in its own container-started transaction,
		// before the bean had a label.
		"after-begin:",
		"before-completion:A",
		"after-completion:A:true",
		"after-begin:A",
		"before-completion:A",
		"after-completion:A:true",
		"after-begin:A",
		"after-completion:A:false",
	}, ev.all())
}

func TestContainer_BeforeCompletionFailureIsolation(t *testing.T) {
	ctx := context.Background()
	tm := memory.NewTransactionManager()
	ev := &events{}
	c := newContainer(t, runtime.WithTransactionManager(tm))
	ct := synchronized(counterComponent("counter", ev), ev, "A", "")
	ct.TransactionAttributes = map[string]domain.TransactionAttribute{"label": domain.TxNotSupported}
	require.NoError(t, c.Deploy(ct))

	a := create(t, ctx, c, "counter")
	b := create(t, ctx, c, "counter")
	_, err := call(ctx, c, "counter", a, "label", "A")
	require.NoError(t, err)
	_, err = call(ctx, c, "counter", b, "label", "B")
	require.NoError(t, err)

	txCtx, tx, _ := tm.Begin(ctx)
	_, err = call(txCtx, c, "counter", a, "increment")
	require.NoError(t, err)
	_, err = call(txCtx, c, "counter", b, "increment")
	require.NoError(t, err)

	err = tx.Commit(txCtx)
	assert.ErrorIs(t, err, domain.ErrRolledBack)
	assert.ErrorIs(t, err, domain.ErrSystem)

	assert.Equal(t, []string{
		"after-begin:A",
		"after-begin:B",
		"before-completion:A",
		"after-completion:B:false",
	}, ev.all())

	_, err = call(ctx, c, "counter", a, "get")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound, "A is discarded")
	_, err = call(ctx, c, "counter", b, "get")
	assert.NoError(t, err, "B survives")
}

func TestContainer_AfterCompletionFailureIsolation(t *testing.T) {
	ctx := context.Background()
	tm := memory.NewTransactionManager()
	ev := &events{}
	c := newContainer(t, runtime.WithTransactionManager(tm))
	ct := synchronized(counterComponent("counter", ev), ev, "", "A")
	ct.TransactionAttributes = map[string]domain.TransactionAttribute{"label": domain.TxNotSupported}
	require.NoError(t, c.Deploy(ct))

	a := create(t, ctx, c, "counter")
	b := create(t, ctx, c, "counter")
	_, _ = call(ctx, c, "counter", a, "label", "A")
	_, _ = call(ctx, c, "counter", b, "label", "B")

	txCtx, tx, _ := tm.Begin(ctx)
	_, err := call(txCtx, c, "counter", a, "increment")
	require.NoError(t, err)
	_, err = call(txCtx, c, "counter", b, "increment")
	require.NoError(t, err)

	err = tx.Commit(txCtx)
	assert.ErrorIs(t, err, domain.ErrSystem)
	assert.Equal(t, 1, ev.count("after-completion:B:true"))

	_, err = call(ctx, c, "counter", a, "get")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	out, err := call(ctx, c, "counter", b, "get")
	require.NoError(t, err)
	assert.Equal(t, 1, out)
}

func TestContainer_AfterBeginFailureDiscards(t *testing.T) {
	ctx := context.Background()
	tm := memory.NewTransactionManager()
	ev := &events{}
	ct := synchronized(counterComponent("counter", ev), ev, "", "")
	ct.Callbacks.AfterBegin = func(context.Context, any) error { return assert.AnError }
	c := newContainer(t, runtime.WithTransactionManager(tm))
	require.NoError(t, c.Deploy(ct))
	key := create(t, ctx, c, "counter")

	txCtx, tx, _ := tm.Begin(ctx)
	_, err := call(txCtx, c, "counter", key, "increment")
	assert.ErrorIs(t, err, domain.ErrSystem)
	assert.True(t, tx.RollbackOnly())
	_, err = call(ctx, c, "counter", key, "get")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestContainer_PassivationRoundTrip(t *testing.T) {
	ctx := context.Background()
	ev := &events{}
	c := newContainer(t, runtime.WithCacheConfig(cache.Config{Capacity: 1, BulkPassivate: 1}))
	require.NoError(t, c.Deploy(counterComponent("counter", ev)))

	k1 := create(t, ctx, c, "counter")
	_, err := call(ctx, c, "counter", k1, "label", "one")
	require.NoError(t, err)
	_, err = call(ctx, c, "counter", k1, "increment")
	require.NoError(t, err)

	k2 := create(t, ctx, c, "counter")
	assert.Equal(t, cache.StatusPassivated, c.Status(k1))
	assert.Equal(t, cache.StatusIdle, c.Status(k2))
	assert.Equal(t, 1, ev.count("passivate:one"))

	snap, err := c.Snapshots().Load(ctx, k1)
	require.NoError(t, err)
	assert.Equal(t, "counter", snap.ComponentID)
	var state counter
	require.NoError(t, json.Unmarshal(snap.State, &state))
	assert.Equal(t, counter{Label: "one", Count: 1}, state)

	out, err := call(ctx, c, "counter", k1, "increment")
	require.NoError(t, err)
	assert.Equal(t, 2, out)
	assert.Equal(t, 1, ev.count("activate:one"))

	// k1 went back idle and pushed k2 out.
	assert.Equal(t, cache.StatusIdle, c.Status(k1))
	assert.Equal(t, cache.StatusPassivated, c.Status(k2))
	_, err = c.Snapshots().Load(ctx, k1)
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound, "activated snapshots are consumed")

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Passivations)
	assert.Equal(t, uint64(1), stats.Activations)
}

// flakyStore fails loads while err is set.
type flakyStore struct {
	ports.PassivationStore
	mu  sync.Mutex
	err error
}

func (s *flakyStore) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *flakyStore) Load(ctx context.Context, key string) (*domain.Snapshot, error) {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.PassivationStore.Load(ctx, key)
}

func TestContainer_StoreOutageKeepsPassivatedInstance(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{PassivationStore: memory.NewStore()}
	c := newContainer(t,
		runtime.WithCacheConfig(cache.Config{Capacity: 1, BulkPassivate: 1}),
		runtime.WithSnapshots(snapshot.NewManager(store)),
	)
	require.NoError(t, c.Deploy(counterComponent("counter", &events{})))

	k1 := create(t, ctx, c, "counter")
	_, err := call(ctx, c, "counter", k1, "increment")
	require.NoError(t, err)
	create(t, ctx, c, "counter")
	require.Equal(t, cache.StatusPassivated, c.Status(k1))

	store.fail(errors.New("dial tcp: connection refused"))
	_, err = call(ctx, c, "counter", k1, "get")
	assert.ErrorIs(t, err, domain.ErrSystem)
	assert.Equal(t, cache.StatusPassivated, c.Status(k1))

	store.fail(nil)
	out, err := call(ctx, c, "counter", k1, "get")
	require.NoError(t, err)
	assert.Equal(t, 101, out)
}

func TestContainer_ActivationFailureIsSystemError(t *testing.T) {
	ctx := context.Background()
	ev := &events{}
	ct := counterComponent("counter", ev)
	ct.Callbacks.Activate = func(context.Context, any) error { return assert.AnError }
	c := newContainer(t, runtime.WithCacheConfig(cache.Config{Capacity: 1, BulkPassivate: 1}))
	require.NoError(t, c.Deploy(ct))

	k1 := create(t, ctx, c, "counter")
	create(t, ctx, c, "counter")
	require.Equal(t, cache.StatusPassivated, c.Status(k1))

	_, err := call(ctx, c, "counter", k1, "get")
	assert.ErrorIs(t, err, domain.ErrSystem)
	_, err = call(ctx, c, "counter", k1, "get")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestContainer_IdleTimeout(t *testing.T) {
	ctx := context.Background()
	ev := &events{}
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newContainer(t,
		runtime.WithCacheConfig(cache.Config{Capacity: 10, BulkPassivate: 1, IdleTimeout: time.Minute, SweepInterval: time.Minute}),
		runtime.WithCacheOptions(cache.WithClock(clock.Now)),
	)
	require.NoError(t, c.Deploy(counterComponent("counter", ev)))

	old := create(t, ctx, c, "counter")
	clock.Advance(2 * time.Minute)
	fresh := create(t, ctx, c, "counter")

	assert.Equal(t, 1, c.Sweep(ctx))
	assert.Equal(t, 1, ev.count("pre-destroy:"))

	_, err := call(ctx, c, "counter", old, "get")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	_, err = call(ctx, c, "counter", fresh, "get")
	assert.NoError(t, err)
}

func TestContainer_RemoveVariants(t *testing.T) {
	ctx := context.Background()

	t.Run("home remove drops arguments", func(t *testing.T) {
		ev := &events{}
		c := newContainer(t)
		require.NoError(t, c.Deploy(counterComponent("counter", ev)))
		key := create(t, ctx, c, "counter")

		_, err := c.Invoke(ctx, "counter", key, domain.Method{Interface: domain.InterfaceLocalHome, Name: "remove"}, []any{key})
		require.NoError(t, err)
		assert.Equal(t, []string{"remove args=0", "pre-destroy:"}, ev.all())
		assert.Equal(t, cache.StatusAbsent, c.Status(key))
	})

	t.Run("component remove swallows application errors", func(t *testing.T) {
		ev := &events{}
		ct := counterComponent("counter", ev)
		ct.Methods["remove"] = func(context.Context, any, []any) (any, error) {
			return nil, domain.NewApplicationError(assert.AnError)
		}
		c := newContainer(t)
		require.NoError(t, c.Deploy(ct))
		key := create(t, ctx, c, "counter")

		_, err := c.Invoke(ctx, "counter", key, domain.Method{Interface: domain.InterfaceLocal, Name: "remove"}, nil)
		require.NoError(t, err)
		assert.Equal(t, cache.StatusAbsent, c.Status(key))
	})

	t.Run("business remove propagates and destroys", func(t *testing.T) {
		ev := &events{}
		ct := counterComponent("counter", ev)
		ct.Methods["close"] = func(context.Context, any, []any) (any, error) {
			return nil, domain.NewApplicationError(assert.AnError)
		}
		c := newContainer(t)
		require.NoError(t, c.Deploy(ct))
		key := create(t, ctx, c, "counter")

		_, err := call(ctx, c, "counter", key, "close")
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, []string{"pre-destroy:"}, ev.all())
		assert.Equal(t, cache.StatusAbsent, c.Status(key))
	})

	t.Run("business remove retains on exception", func(t *testing.T) {
		ev := &events{}
		ct := counterComponent("counter", ev)
		ct.RetainIfException = map[string]bool{"close": true}
		ct.Methods["close"] = func(context.Context, any, []any) (any, error) {
			return nil, domain.NewApplicationError(assert.AnError)
		}
		c := newContainer(t)
		require.NoError(t, c.Deploy(ct))
		key := create(t, ctx, c, "counter")

		_, err := call(ctx, c, "counter", key, "close")
		assert.ErrorIs(t, err, assert.AnError)
		assert.Empty(t, ev.all())
		_, err = call(ctx, c, "counter", key, "get")
		assert.NoError(t, err)
	})

	t.Run("pre-destroy failures are logged only", func(t *testing.T) {
		ev := &events{}
		ct := counterComponent("counter", ev)
		ct.Callbacks.PreDestroy = func(context.Context, any) error { return assert.AnError }
		c := newContainer(t)
		require.NoError(t, c.Deploy(ct))
		key := create(t, ctx, c, "counter")

		_, err := call(ctx, c, "counter", key, "close")
		require.NoError(t, err)
		assert.Equal(t, cache.StatusAbsent, c.Status(key))
	})

	t.Run("component remove in transaction is forbidden", func(t *testing.T) {
		tm := memory.NewTransactionManager()
		ct := counterComponent("counter", &events{})
		ct.ForbidRemoveInTransaction = true
		c := newContainer(t, runtime.WithTransactionManager(tm))
		require.NoError(t, c.Deploy(ct))
		key := create(t, ctx, c, "counter")

		txCtx, tx, _ := tm.Begin(ctx)
		_, err := call(txCtx, c, "counter", key, "increment")
		require.NoError(t, err)

		_, err = c.Invoke(txCtx, "counter", key, domain.Method{Interface: domain.InterfaceLocal, Name: "remove"}, nil)
		assert.ErrorIs(t, err, domain.ErrRemoveInTransaction)

		require.NoError(t, tx.Commit(txCtx))
		_, err = c.Invoke(ctx, "counter", key, domain.Method{Interface: domain.InterfaceLocal, Name: "remove"}, nil)
		assert.NoError(t, err)
	})
}

func TestContainer_BeanManagedTransaction(t *testing.T) {
	ctx := context.Background()
	tm := memory.NewTransactionManager()
	ct := counterComponent("bmt", &events{})
	ct.TransactionType = domain.BeanManaged
	ct.Interfaces[domain.InterfaceBusinessLocal] = append(ct.Interfaces[domain.InterfaceBusinessLocal], "begin", "open", "commit")
	ct.Methods["begin"] = func(ctx context.Context, _ any, _ []any) (any, error) {
		ut, ok := runtime.UserTransactionFrom(ctx)
		if !ok {
			return nil, assert.AnError
		}
		_, err := ut.Begin(ctx)
		return nil, err
	}
	ct.Methods["open"] = func(ctx context.Context, _ any, _ []any) (any, error) {
		ut, _ := runtime.UserTransactionFrom(ctx)
		return ut.Transaction() != nil && tm.Current(ctx) != nil, nil
	}
	ct.Methods["commit"] = func(ctx context.Context, _ any, _ []any) (any, error) {
		ut, _ := runtime.UserTransactionFrom(ctx)
		return nil, ut.Commit(ctx)
	}
	c := newContainer(t, runtime.WithTransactionManager(tm))
	require.NoError(t, c.Deploy(ct))
	key := create(t, ctx, c, "bmt")

	// The caller's transaction is suspended for bean-managed components.
	callerCtx, caller, _ := tm.Begin(ctx)
	_, err := call(callerCtx, c, "bmt", key, "begin")
	require.NoError(t, err)
	assert.Equal(t, cache.StatusCheckedOut, c.Status(key), "an open user transaction pins the instance")

	out, err := call(ctx, c, "bmt", key, "open")
	require.NoError(t, err)
	assert.Equal(t, true, out, "the user transaction is resumed on the next call")

	_, err = call(ctx, c, "bmt", key, "commit")
	require.NoError(t, err)
	assert.Equal(t, cache.StatusIdle, c.Status(key))

	out, err = call(ctx, c, "bmt", key, "open")
	require.NoError(t, err)
	assert.Equal(t, false, out)
	assert.Equal(t, ports.StatusActive, caller.Status())
}

func TestContainer_ExtendedResourceInheritance(t *testing.T) {
	ctx := context.Background()
	factory := &countingFactory{id: "orders-db"}

	var c *runtime.Container
	parent := counterComponent("parent", &events{})
	parent.ExtendedResources = []domain.ResourceFactory{factory}
	parent.Interfaces[domain.InterfaceBusinessLocal] = append(parent.Interfaces[domain.InterfaceBusinessLocal], "spawn")
	parent.Methods["spawn"] = func(ctx context.Context, _ any, _ []any) (any, error) {
		return c.Invoke(ctx, "child", "", homeCreate, nil)
	}
	child := counterComponent("child", &events{})
	child.ExtendedResources = []domain.ResourceFactory{factory}

	c = newContainer(t)
	require.NoError(t, c.Deploy(parent))
	require.NoError(t, c.Deploy(child))

	p := create(t, ctx, c, "parent")
	assert.Equal(t, int32(1), factory.opened.Load())

	v, err := call(ctx, c, "parent", p, "spawn")
	require.NoError(t, err)
	childKey := v.(string)
	assert.Equal(t, int32(1), factory.opened.Load(), "the child inherits the parent's resource")
	assert.Equal(t, 0, c.Resources().Len(), "bindings only last for the invocation")

	_, err = call(ctx, c, "child", childKey, "close")
	require.NoError(t, err)
	assert.Equal(t, int32(0), factory.closed.Load(), "still referenced by the parent")

	_, err = call(ctx, c, "parent", p, "close")
	require.NoError(t, err)
	assert.Equal(t, int32(1), factory.closed.Load())
}

func TestContainer_KeyOfAnotherComponent(t *testing.T) {
	ctx := context.Background()
	c := newContainer(t)
	require.NoError(t, c.Deploy(counterComponent("a", &events{})))
	require.NoError(t, c.Deploy(counterComponent("b", &events{})))
	key := create(t, ctx, c, "a")

	_, err := call(ctx, c, "b", key, "get")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	_, err = call(ctx, c, "a", key, "get")
	assert.NoError(t, err)
}

func TestContainer_Undeploy(t *testing.T) {
	ctx := context.Background()
	mon := &monitorRecorder{}
	c := newContainer(t,
		runtime.WithMonitor(mon),
		runtime.WithCacheConfig(cache.Config{Capacity: 1, BulkPassivate: 1}),
	)
	require.NoError(t, c.Deploy(counterComponent("counter", &events{})))
	require.NoError(t, c.Deploy(counterComponent("other", &events{})))

	k1 := create(t, ctx, c, "counter")
	k2 := create(t, ctx, c, "counter")
	o := create(t, ctx, c, "other")
	require.Equal(t, cache.StatusPassivated, c.Status(k1))

	require.NoError(t, c.Undeploy(ctx, "counter"))
	assert.Equal(t, cache.StatusAbsent, c.Status(k1))
	assert.Equal(t, cache.StatusAbsent, c.Status(k2))
	_, err := c.Snapshots().Load(ctx, k1)
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)

	_, err = call(ctx, c, "counter", k2, "get")
	assert.ErrorIs(t, err, domain.ErrNotDeployed)
	assert.ErrorIs(t, c.Undeploy(ctx, "counter"), domain.ErrNotDeployed)

	_, err = call(ctx, c, "other", o, "get")
	assert.NoError(t, err, "other components are untouched")

	require.NoError(t, c.Deploy(counterComponent("counter", &events{})))
	assert.Equal(t, []string{"register:counter", "register:other", "unregister:counter", "register:counter"}, mon.all())
}
