package service

import (
	"context"
	"sync"
	"time"

	"custodia/internal/consent/store"
	dErrors "custodia/pkg/domain-errors"
)

// Tx provides a transactional boundary for consent mutations. Implementations
// may wrap a database transaction or, in-memory, a sharded lock keyed by
// application. Every write path for one application runs through the same
// shard, which is what makes batch decisions all-or-nothing against the
// in-memory store.
type Tx interface {
	RunInTx(ctx context.Context, appID string, fn func(s store.Store) error) error
}

// numShards spreads applications across independent mutexes so concurrent
// decisions on different applications never contend.
const numShards = 64

// defaultTxTimeout bounds how long a decision may hold its shard.
const defaultTxTimeout = 5 * time.Second

// ShardedTx serializes mutations per application over a plain Store.
type ShardedTx struct {
	shards  [numShards]sync.Mutex
	store   store.Store
	timeout time.Duration
}

func NewShardedTx(s store.Store) *ShardedTx {
	return &ShardedTx{store: s}
}

func (t *ShardedTx) RunInTx(ctx context.Context, appID string, fn func(s store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := hashString(appID) % numShards
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(t.store)
}

// hashString uses FNV-1a for even shard distribution.
func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
