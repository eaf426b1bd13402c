package lifecycle

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one item of a settled batch.
type Outcome[T any] struct {
	Key   string
	Value T
	Err   error
}

// Settled splits a batch into its succeeded and failed items, each in
// submission order.
type Settled[T any] struct {
	Succeeded []Outcome[T]
	Failed    []Outcome[T]
}

// OK reports whether every item succeeded.
func (s Settled[T]) OK() bool { return len(s.Failed) == 0 }

// Len returns the number of items in the batch.
func (s Settled[T]) Len() int { return len(s.Succeeded) + len(s.Failed) }

// SettleAll runs fn for every key concurrently and waits for all of them,
// regardless of individual failures. limit <= 0 means unbounded fan-out.
func SettleAll[T any](ctx context.Context, keys []string, limit int, fn func(ctx context.Context, key string) (T, error)) Settled[T] {
	outcomes := make([]Outcome[T], len(keys))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, key := range keys {
		g.Go(func() error {
			v, err := fn(gctx, key)
			outcomes[i] = Outcome[T]{Key: key, Value: v, Err: err}
			return nil // collect, never cancel siblings
		})
	}
	_ = g.Wait()

	var s Settled[T]
	for _, o := range outcomes {
		if o.Err != nil {
			s.Failed = append(s.Failed, o)
		} else {
			s.Succeeded = append(s.Succeeded, o)
		}
	}
	return s
}
