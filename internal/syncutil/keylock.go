// Package syncutil provides bounded per-key locking for member-scoped work.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// shardCount bounds memory regardless of how many members are seen. Keys
// that hash to the same shard serialise with each other.
const shardCount = 256

func shardOf(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// ShardedMutex is a fixed pool of mutexes keyed by string. The zero value
// is ready to use.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardOf(key)]
	mu.Lock()
	return mu.Unlock
}

// ContextShardedMutex is a ShardedMutex whose waiters give up when their
// context ends. The zero value is ready to use.
type ContextShardedMutex struct {
	once   sync.Once
	shards [shardCount]chan struct{}
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{}
		}
	})
}

// LockContext acquires the lock for key or returns ctx.Err(). On success
// the caller must call the returned unlock function exactly once.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	token := m.shards[shardOf(key)]
	select {
	case <-token:
		return func() { token <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
