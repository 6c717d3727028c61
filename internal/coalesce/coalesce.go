// Package coalesce provides a keyed coalescing executor: concurrent callers
// asking for the same key share a single execution of the computation.
//
// Two retention policies are available. A memo group keeps every result
// (success or failure) for the lifetime of the group, which makes it suitable
// for per-request memoization of sub-steps. A flight group forgets the result
// as soon as the execution completes, which makes it suitable for
// deduplicating work across requests that overlap in time.
package coalesce

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

type result[T any] struct {
	val T
	err error
}

// Group coalesces calls by key. The zero value is not usable; create groups
// with NewMemo or NewFlight.
type Group[T any] struct {
	flight singleflight.Group
	retain bool

	mu   sync.Mutex
	done map[string]result[T]
}

// NewMemo returns a group that retains the outcome of every key.
func NewMemo[T any]() *Group[T] {
	return &Group[T]{
		retain: true,
		done:   make(map[string]result[T]),
	}
}

// NewFlight returns a group that only coalesces in-flight executions.
func NewFlight[T any]() *Group[T] {
	return &Group[T]{}
}

// Do executes fn for key unless an execution is already in flight (or, for
// memo groups, already finished), in which case the caller receives that
// execution's result. shared reports whether the result came from another
// caller's execution.
func (g *Group[T]) Do(key string, fn func() (T, error)) (v T, shared bool, err error) {
	if r, ok := g.lookup(key); ok {
		return r.val, true, r.err
	}

	ran := false
	out, err, shared := g.flight.Do(key, func() (interface{}, error) {
		// A previous flight may have stored the result between lookup and
		// this flight starting.
		if r, ok := g.lookup(key); ok {
			return r.val, r.err
		}
		ran = true
		val, err := fn()
		if g.retain {
			g.mu.Lock()
			g.done[key] = result[T]{val: val, err: err}
			g.mu.Unlock()
		}
		return val, err
	})
	if out != nil {
		v, _ = out.(T)
	}
	return v, shared || !ran, err
}

// Forget drops any retained result and in-flight record for key. Callers
// already waiting on an execution still receive its result.
func (g *Group[T]) Forget(key string) {
	g.flight.Forget(key)
	if g.retain {
		g.mu.Lock()
		delete(g.done, key)
		g.mu.Unlock()
	}
}

func (g *Group[T]) lookup(key string) (result[T], bool) {
	if !g.retain {
		return result[T]{}, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.done[key]
	return r, ok
}
