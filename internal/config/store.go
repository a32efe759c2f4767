package config

import (
	"github.com/aretw0/stateful/pkg/adapters/file"
	"github.com/aretw0/stateful/pkg/adapters/memory"
	"github.com/aretw0/stateful/pkg/adapters/redis"
	"github.com/aretw0/stateful/pkg/persistence/middleware"
	"github.com/aretw0/stateful/pkg/ports"
)

// LockPrefix namespaces the redis snapshot locks.
const LockPrefix = "stateful:"

// Backend is an opened passivation store.
type Backend struct {
	// Store is the raw store, without middleware.
	Store ports.PassivationStore
	// Locker is set when the redis lock is enabled.
	Locker      ports.DistributedLocker
	Middlewares []middleware.Middleware
	close       func() error
}

// Close releases the store's connections.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Chained returns the store wrapped with the configured middleware.
func (b *Backend) Chained() ports.PassivationStore {
	return middleware.Chain(b.Store, b.Middlewares...)
}

// Open builds the configured store. Encryption, when configured, is returned
// as middleware rather than applied, so the caller decides where it goes.
func (s StoreConfig) Open() (*Backend, error) {
	enc, err := s.Encryption()
	if err != nil {
		return nil, err
	}

	b := &Backend{}
	switch s.Backend {
	case BackendFile:
		b.Store = file.New(s.Path)
	case BackendRedis:
		store := redis.New(s.Redis.Addr, s.Redis.Password, s.Redis.DB,
			redis.WithPrefix(s.Redis.Prefix),
			redis.WithTTL(s.Redis.TTL),
		)
		b.Store = store
		b.close = store.Close
		if s.Redis.Lock {
			b.Locker = redis.NewLocker(store.Client(), LockPrefix)
		}
	default:
		b.Store = memory.NewStore()
	}

	if enc != nil {
		b.Middlewares = append(b.Middlewares, middleware.NewEncryptionMiddleware(*enc))
	}
	return b, nil
}

// Inspector returns the store as seen by inspection tools: decrypted, with
// the configured fields masked.
func (b *Backend) Inspector(maskFields []string) ports.PassivationStore {
	mws := []middleware.Middleware{middleware.NewPIIMiddleware(maskFields)}
	return middleware.Chain(b.Store, append(mws, b.Middlewares...)...)
}
