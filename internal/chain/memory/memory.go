// Package memory implements the chain facade over in-process storage maps.
// It backs the CLI snapshot mode and every handler test.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mrz1836/harvest/internal/chain"
)

// Operation names used by Count.
const (
	OpQuery          = "query"
	OpMulti          = "multi"
	OpEntries        = "entries"
	OpSubscribe      = "subscribe"
	OpSubscribeMulti = "subscribeMulti"
	OpCall           = "call"
)

type value struct {
	raw json.RawMessage
}

func (v value) Decode(dst any) error {
	if v.IsEmpty() {
		return nil
	}
	return json.Unmarshal(v.raw, dst)
}

func (v value) IsEmpty() bool {
	return len(v.raw) == 0 || string(v.raw) == "null"
}

type item struct {
	args  []json.RawMessage
	value json.RawMessage
}

type subscriber struct {
	keys  []string
	multi bool
	fn    func([]chain.Codec)
}

// Chain is an in-memory chain facade. It implements both chain.Connection and chain.API.
type Chain struct {
	mu       sync.RWMutex
	storage  map[string]map[string]item
	consts   map[string]json.RawMessage
	runtime  map[string]map[string]json.RawMessage
	calls    map[string]int
	failures map[string]error
	counts   map[string]int
	subs     map[string]map[int]*subscriber
	nextSub  int
	spec     uint32
	fee      chain.Balance
	strict   bool

	readyOnce sync.Once
	ready     chan struct{}
}

// Option configures a Chain.
type Option func(*Chain)

// WithSpecVersion sets the runtime spec version.
func WithSpecVersion(v uint32) Option {
	return func(c *Chain) { c.spec = v }
}

// WithFee sets the flat fee returned by EstimateFee.
func WithFee(fee chain.Balance) Option {
	return func(c *Chain) { c.fee = fee }
}

// WithStrictCalls makes Tx reject calls that were not declared with SetCall.
func WithStrictCalls() Option {
	return func(c *Chain) { c.strict = true }
}

// NotReady keeps the readiness future pending until MarkReady.
func NotReady() Option {
	return func(c *Chain) { c.ready = make(chan struct{}) }
}

// New creates an empty chain that is ready unless NotReady is passed.
func New(opts ...Option) *Chain {
	c := &Chain{
		storage:  make(map[string]map[string]item),
		consts:   make(map[string]json.RawMessage),
		runtime:  make(map[string]map[string]json.RawMessage),
		calls:    make(map[string]int),
		failures: make(map[string]error),
		counts:   make(map[string]int),
		subs:     make(map[string]map[int]*subscriber),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ready == nil {
		c.ready = make(chan struct{})
		c.MarkReady()
	}
	return c
}

// Ready implements chain.Connection.
func (c *Chain) Ready() <-chan struct{} { return c.ready }

// API implements chain.Connection.
func (c *Chain) API() chain.API { return c }

// MarkReady resolves the readiness future.
func (c *Chain) MarkReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// Set stores value at section.storage(args...) and pushes it to subscribers.
func (c *Chain) Set(section, storage string, v any, args ...any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s.%s: %w", section, storage, err)
	}
	argRaws, key, err := encodeArgs(args)
	if err != nil {
		return err
	}

	path := section + "." + storage
	c.mu.Lock()
	if c.storage[path] == nil {
		c.storage[path] = make(map[string]item)
	}
	c.storage[path][key] = item{args: argRaws, value: raw}
	pushes := c.pendingPushes(path, key)
	c.mu.Unlock()

	for _, push := range pushes {
		push()
	}
	return nil
}

// MustSet is Set that panics on encoding errors. For tests and fixtures.
func (c *Chain) MustSet(section, storage string, v any, args ...any) {
	if err := c.Set(section, storage, v, args...); err != nil {
		panic(err)
	}
}

// Delete removes section.storage(args...) and pushes an empty value to subscribers.
func (c *Chain) Delete(section, storage string, args ...any) {
	_, key, err := encodeArgs(args)
	if err != nil {
		return
	}
	path := section + "." + storage
	c.mu.Lock()
	delete(c.storage[path], key)
	pushes := c.pendingPushes(path, key)
	c.mu.Unlock()

	for _, push := range pushes {
		push()
	}
}

// SetConst stores a runtime constant.
func (c *Chain) SetConst(section, name string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consts[section+"."+name] = raw
}

// SetCall declares section.call with its argument count.
func (c *Chain) SetCall(section, call string, arity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[section+"."+call] = arity
}

// SetRuntime stores the result of a runtime API call for the given args.
func (c *Chain) SetRuntime(method string, v any, args ...any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	_, key, err := encodeArgs(args)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runtime[method] == nil {
		c.runtime[method] = make(map[string]json.RawMessage)
	}
	c.runtime[method][key] = raw
}

// Fail makes every read of section.storage return err. A nil err clears it.
func (c *Chain) Fail(section, storage string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, section+"."+storage)
		return
	}
	c.failures[section+"."+storage] = err
}

// Count returns how many times op was issued against section.storage.
func (c *Chain) Count(op, section, storage string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[op+":"+section+"."+storage]
}

// Subscribers returns the number of live subscriptions on section.storage.
func (c *Chain) Subscribers(section, storage string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs[section+"."+storage])
}

// Query implements chain.Reader.
func (c *Chain) Query(ctx context.Context, section, storage string, args ...any) (chain.Codec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, key, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	path := section + "." + storage

	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[OpQuery+":"+path]++
	if err := c.failures[path]; err != nil {
		return nil, err
	}
	return value{raw: c.storage[path][key].value}, nil
}

// Multi implements chain.Reader.
func (c *Chain) Multi(ctx context.Context, section, storage string, keys []any) ([]chain.Codec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	encoded, err := encodeKeys(keys)
	if err != nil {
		return nil, err
	}
	path := section + "." + storage

	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[OpMulti+":"+path]++
	if err := c.failures[path]; err != nil {
		return nil, err
	}
	return c.valuesLocked(path, encoded), nil
}

// Entries implements chain.Reader. Entries are ordered by encoded key.
func (c *Chain) Entries(ctx context.Context, section, storage string, args ...any) ([]chain.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix, _, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	path := section + "." + storage

	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[OpEntries+":"+path]++
	if err := c.failures[path]; err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(c.storage[path]))
	for k, it := range c.storage[path] {
		if hasPrefix(it.args, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]chain.Entry, 0, len(keys))
	for _, k := range keys {
		it := c.storage[path][k]
		entry := chain.Entry{Value: value{raw: it.value}}
		for _, a := range it.args {
			entry.Keys = append(entry.Keys, value{raw: a})
		}
		out = append(out, entry)
	}
	return out, nil
}

// Const implements chain.Reader.
func (c *Chain) Const(section, name string) (chain.Codec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	raw, ok := c.consts[section+"."+name]
	return value{raw: raw}, ok
}

// Call implements chain.Reader.
func (c *Chain) Call(ctx context.Context, method string, args ...any) (chain.Codec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, key, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[OpCall+":"+method]++
	if err := c.failures[method]; err != nil {
		return nil, err
	}
	return value{raw: c.runtime[method][key]}, nil
}

// Subscribe implements chain.Subscriber.
func (c *Chain) Subscribe(ctx context.Context, section, storage string, args []any, fn func(chain.Codec)) (chain.Unsubscribe, error) {
	_, key, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	return c.subscribe(ctx, OpSubscribe, section+"."+storage, []string{key}, false, func(values []chain.Codec) {
		fn(values[0])
	})
}

// SubscribeMulti implements chain.Subscriber.
func (c *Chain) SubscribeMulti(ctx context.Context, section, storage string, keys []any, fn func([]chain.Codec)) (chain.Unsubscribe, error) {
	encoded, err := encodeKeys(keys)
	if err != nil {
		return nil, err
	}
	return c.subscribe(ctx, OpSubscribeMulti, section+"."+storage, encoded, true, fn)
}

func (c *Chain) subscribe(ctx context.Context, op, path string, keys []string, multi bool, fn func([]chain.Codec)) (chain.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.counts[op+":"+path]++
	if err := c.failures[path]; err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.nextSub++
	id := c.nextSub
	if c.subs[path] == nil {
		c.subs[path] = make(map[int]*subscriber)
	}
	c.subs[path][id] = &subscriber{keys: keys, multi: multi, fn: fn}
	initial := c.valuesLocked(path, keys)
	c.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs[path], id)
			c.mu.Unlock()
		})
	}
	context.AfterFunc(ctx, unsub)

	fn(initial)
	return unsub, nil
}

// Tx implements chain.TxBuilder.
func (c *Chain) Tx(section, call string, args ...any) (*chain.Extrinsic, error) {
	c.mu.RLock()
	arity, declared := c.calls[section+"."+call]
	strict := c.strict
	c.mu.RUnlock()

	if !declared && strict {
		return nil, fmt.Errorf("%w: %s.%s is not available", chain.ErrInvalidCall, section, call)
	}
	if declared && arity != len(args) {
		return nil, fmt.Errorf("%w: %s.%s expects %d args, got %d", chain.ErrInvalidCall, section, call, arity, len(args))
	}
	return &chain.Extrinsic{Section: section, Method: call, Args: args}, nil
}

// CallArity implements chain.TxBuilder.
func (c *Chain) CallArity(section, call string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	arity, ok := c.calls[section+"."+call]
	return arity, ok
}

// SpecVersion implements chain.TxBuilder.
func (c *Chain) SpecVersion() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.spec
}

// EstimateFee implements chain.TxBuilder.
func (c *Chain) EstimateFee(ctx context.Context, _ *chain.Extrinsic, _ string) (chain.Balance, error) {
	if err := ctx.Err(); err != nil {
		return chain.Balance{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fee, nil
}

func (c *Chain) valuesLocked(path string, keys []string) []chain.Codec {
	out := make([]chain.Codec, 0, len(keys))
	for _, k := range keys {
		out = append(out, value{raw: c.storage[path][k].value})
	}
	return out
}

// pendingPushes collects the callbacks affected by a write. Called with the lock held.
func (c *Chain) pendingPushes(path, key string) []func() {
	ids := make([]int, 0, len(c.subs[path]))
	for id := range c.subs[path] {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var pushes []func()
	for _, id := range ids {
		sub := c.subs[path][id]
		if !containsKey(sub.keys, key) {
			continue
		}
		values := c.valuesLocked(path, sub.keys)
		fn := sub.fn
		pushes = append(pushes, func() { fn(values) })
	}
	return pushes
}

func encodeArgs(args []any) ([]json.RawMessage, string, error) {
	raws := make([]json.RawMessage, 0, len(args))
	parts := make([]string, 0, len(args))
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, "", fmt.Errorf("encode storage key: %w", err)
		}
		raws = append(raws, raw)
		parts = append(parts, string(raw))
	}
	return raws, "[" + strings.Join(parts, ",") + "]", nil
}

func encodeKeys(keys []any) ([]string, error) {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		args, ok := k.([]any)
		if !ok {
			args = []any{k}
		}
		_, key, err := encodeArgs(args)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, nil
}

func hasPrefix(args, prefix []json.RawMessage) bool {
	if len(prefix) > len(args) {
		return false
	}
	for i := range prefix {
		if string(args[i]) != string(prefix[i]) {
			return false
		}
	}
	return true
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// Compile-time interface checks
var (
	_ chain.API        = (*Chain)(nil)
	_ chain.Connection = (*Chain)(nil)
)
