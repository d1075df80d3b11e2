package controller

import (
	"context"
	"fmt"
	"sync"

	"codeberg.org/opendatahub/odhsync/pkg/result"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runEach processes items on at most o.workers goroutines. Items sharing a
// stored id never run at the same time. Cancellation is checked before each
// item is dispatched; items already running finish.
func runEach[T any](
	ctx context.Context,
	o *Orchestrator,
	p *pass,
	items []T,
	key func(T) string,
	fn func(context.Context, T) result.SyncResult,
) {
	var g errgroup.Group
	g.SetLimit(o.workers)

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		id := o.storedID(key(item), p.mode)

		g.Go(func() error {
			unlock := o.locks.Lock(id)
			defer unlock()

			p.agg.Add(o.safeCall(ctx, id, func(ctx context.Context) result.SyncResult {
				return fn(ctx, item)
			}))
			return nil
		})
	}

	_ = g.Wait()
}

func (o *Orchestrator) safeCall(
	ctx context.Context,
	id string,
	fn func(context.Context) result.SyncResult,
) (res result.SyncResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while processing %s: %v", id, r)
			o.logger.Error("Record processing panicked", zap.String("id", id), zap.Error(err))
			res = result.Errored(err)
		}
	}()
	return fn(ctx)
}

// keyLocks serialises work per key. Entries are dropped once no goroutine
// holds or waits for them.
type keyLocks struct {
	m *xsync.Map[string, *keyLock]
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{m: xsync.NewMap[string, *keyLock]()}
}

func (l *keyLocks) Lock(key string) func() {
	entry, _ := l.m.Compute(key, func(e *keyLock, loaded bool) (*keyLock, xsync.ComputeOp) {
		if !loaded {
			e = &keyLock{}
		}
		e.refs++
		return e, xsync.UpdateOp
	})
	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.m.Compute(key, func(e *keyLock, loaded bool) (*keyLock, xsync.ComputeOp) {
			if !loaded {
				return e, xsync.CancelOp
			}
			e.refs--
			if e.refs <= 0 {
				return e, xsync.DeleteOp
			}
			return e, xsync.UpdateOp
		})
	}
}

func (l *keyLocks) Len() int {
	return l.m.Size()
}
