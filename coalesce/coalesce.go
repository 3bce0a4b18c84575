// Package coalesce collapses concurrent identical operations into one
// in-flight call whose result every caller shares.
package coalesce

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Group is a set of in-flight operations keyed by operation name.
// The zero value is ready to use.
type Group struct {
	sf singleflight.Group

	// OnShared is called after a caller received a result produced for another caller.
	OnShared func(key string)
}

// Do runs fn once per key among concurrent callers. Late callers wait for the
// running call and receive its result.
//
// fn runs detached from the caller's cancellation so the first caller leaving
// does not fail the others; each caller still stops waiting when its own ctx ends.
// A key is released as soon as fn returns, so a failed call can be retried.
func Do[T any](ctx context.Context, g *Group, key string, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	detached := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return zero, false, fmt.Errorf("[coalesce Do] %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Shared && g.OnShared != nil {
			g.OnShared(key)
		}
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		v, ok := res.Val.(T)
		if !ok && res.Val != nil {
			return zero, res.Shared, fmt.Errorf("[coalesce Do] %s: unexpected result type %T", key, res.Val)
		}
		return v, res.Shared, nil
	}
}

// Forget releases key so the next call starts a fresh operation even if one is still running.
func (g *Group) Forget(key string) {
	g.sf.Forget(key)
}
