// Package subscription provides cancellation tokens for push subscriptions
// and an aggregate unsubscribe for fan-out over many handlers.
package subscription

import (
	"context"
	"sync"
	"sync/atomic"
)

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// Noop is an Unsubscribe that does nothing.
func Noop() {}

// State is the lifecycle of one subscription.
type State int32

// Subscription states. A token never returns to StateSubscribed once terminated.
const (
	StateUninitialized State = iota
	StateSubscribed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateSubscribed:
		return "subscribed"
	case StateTerminated:
		return "terminated"
	default:
		return "uninitialized"
	}
}

// Token tracks the lifetime of one subscription. It is cancelled either by
// Cancel or by its parent context, and holds the chain-side unsubscribe once
// the underlying subscription is established.
type Token struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	state     atomic.Int32

	mu    sync.Mutex
	unsub []func()
}

// NewToken derives a token from ctx.
func NewToken(ctx context.Context) *Token {
	tctx, cancel := context.WithCancel(ctx)
	t := &Token{ctx: tctx, cancel: cancel}
	context.AfterFunc(tctx, t.Cancel)
	return t
}

// Context is cancelled with the token. Pass it to every chain call.
func (t *Token) Context() context.Context {
	return t.ctx
}

// State returns the current lifecycle state.
func (t *Token) State() State {
	if t.Cancelled() {
		return StateTerminated
	}
	return State(t.state.Load())
}

// MarkSubscribed moves the token to StateSubscribed. It reports false when
// the token was already terminated.
func (t *Token) MarkSubscribed() bool {
	if t.Cancelled() {
		return false
	}
	return t.state.CompareAndSwap(int32(StateUninitialized), int32(StateSubscribed)) ||
		State(t.state.Load()) == StateSubscribed
}

// Cancelled reports whether the token was cancelled. Check it before each
// chain call and before every callback.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load() || t.ctx.Err() != nil
}

// Attach registers a chain-side unsubscribe. If the token is already
// cancelled fn runs immediately instead of being stored.
func (t *Token) Attach(fn func()) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	if !t.cancelled.Load() {
		t.unsub = append(t.unsub, fn)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	fn()
}

// Cancel marks the token cancelled and releases every attached unsubscribe.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.cancelled.Swap(true) {
		t.mu.Unlock()
		return
	}
	pending := t.unsub
	t.unsub = nil
	t.mu.Unlock()

	t.state.Store(int32(StateTerminated))
	t.cancel()
	for _, fn := range pending {
		fn()
	}
}

// Unsubscribe returns Cancel as an Unsubscribe.
func (t *Token) Unsubscribe() Unsubscribe {
	return t.Cancel
}

// Emit invokes fn unless the token is cancelled. It reports whether fn ran.
func (t *Token) Emit(fn func()) bool {
	if t.Cancelled() {
		return false
	}
	fn()
	return true
}

// Group aggregates the unsubscribes of a fan-out. Closures added after the
// group was cancelled are invoked immediately.
type Group struct {
	mu        sync.Mutex
	once      sync.Once
	cancelled bool
	members   []Unsubscribe
}

// NewGroup creates an empty group.
func NewGroup() *Group {
	return &Group{}
}

// Add registers a member unsubscribe.
func (g *Group) Add(fn Unsubscribe) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	if g.cancelled {
		g.mu.Unlock()
		fn()
		return
	}
	g.members = append(g.members, fn)
	g.mu.Unlock()
}

// Len returns the number of live members.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Cancelled reports whether Unsubscribe was called.
func (g *Group) Cancelled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled
}

// Unsubscribe cancels every member exactly once.
func (g *Group) Unsubscribe() {
	g.once.Do(func() {
		g.mu.Lock()
		g.cancelled = true
		members := g.members
		g.members = nil
		g.mu.Unlock()

		for _, fn := range members {
			fn()
		}
	})
}
