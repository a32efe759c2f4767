package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/stateful/pkg/cache"
	"github.com/aretw0/stateful/pkg/domain"
	"github.com/aretw0/stateful/pkg/resource"
	"github.com/aretw0/stateful/pkg/snapshot"
)

// snapshotPassivator stores instances as JSON snapshots through the snapshot manager.
// Extended resources are closed on passivation and reopened on activation.
type snapshotPassivator struct {
	c *Container
}

func (p *snapshotPassivator) Store(ctx context.Context, key string, inst *Instance) error {
	state, err := json.Marshal(inst.Bean)
	if err != nil {
		return fmt.Errorf("encode instance %s: %w", key, err)
	}
	snap := &domain.Snapshot{
		Key:          key,
		ComponentID:  inst.ComponentID(),
		State:        state,
		Resources:    inst.resources.IDs(),
		PassivatedAt: time.Now().UTC(),
	}
	if err := p.c.snapshots.Save(ctx, key, snap); err != nil {
		return err
	}
	if err := inst.resources.Release(); err != nil {
		p.c.logger.Warn("Failed to release resources of passivated instance", "key", key, "err", err)
	}
	inst.resources = nil
	return nil
}

func (p *snapshotPassivator) Load(ctx context.Context, key string) (*Instance, error) {
	snap, err := p.c.snapshots.Load(ctx, key)
	if snapshot.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", cache.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	dep, ok := p.c.deployment(snap.ComponentID)
	if !ok {
		return nil, fmt.Errorf("%w: component %s of %s is not deployed", cache.ErrNotFound, snap.ComponentID, key)
	}
	bean := dep.ct.New()
	if len(snap.State) > 0 {
		if err := json.Unmarshal(snap.State, bean); err != nil {
			return nil, fmt.Errorf("%w: decode instance %s: %w", cache.ErrCorrupt, key, err)
		}
	}
	return newInstance(key, dep, bean, nil), nil
}

func (p *snapshotPassivator) Delete(ctx context.Context, key string) error {
	return p.c.snapshots.Delete(ctx, key)
}

// cacheListener maps cache events onto the component's lifecycle callbacks.
type cacheListener struct {
	c *Container
}

func (l *cacheListener) AfterLoad(ctx context.Context, key string, inst *Instance) error {
	set, err := resource.Open(ctx, inst.component().ExtendedResources, nil)
	if err != nil {
		return err
	}
	inst.resources = set

	if cb := inst.component().Callbacks; cb != nil && cb.Activate != nil {
		if err := l.c.callback(ctx, inst, domain.OpActivate, cb.Activate); err != nil {
			if relErr := set.Release(); relErr != nil {
				l.c.logger.Warn("Failed to release resources of instance", "key", key, "err", relErr)
			}
			inst.resources = nil
			return err
		}
	}
	l.c.logger.Debug("Activated instance", "component", inst.ComponentID(), "key", key)
	return nil
}

func (l *cacheListener) BeforeStore(ctx context.Context, key string, inst *Instance) error {
	cb := inst.component().Callbacks
	if cb == nil || cb.Passivate == nil {
		return nil
	}
	return l.c.callback(ctx, inst, domain.OpPassivate, cb.Passivate)
}

func (l *cacheListener) TimedOut(ctx context.Context, key string, inst *Instance) error {
	l.c.logger.Info("Removing timed-out instance", "component", inst.ComponentID(), "key", key)
	var err error
	if cb := inst.component().Callbacks; cb != nil && cb.PreDestroy != nil {
		err = l.c.callback(ctx, inst, domain.OpPreDestroy, cb.PreDestroy)
	}
	if relErr := inst.resources.Release(); relErr != nil {
		l.c.logger.Warn("Failed to release resources of timed-out instance", "key", key, "err", relErr)
	}
	inst.resources = nil
	return err
}
