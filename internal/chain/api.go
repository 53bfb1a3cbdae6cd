package chain

import (
	"context"
	"fmt"
	"strings"
)

// Codec is a decoded on-chain value.
type Codec interface {
	// Decode stores the value into v, which must be a pointer.
	Decode(v any) error
	// IsEmpty reports whether the storage slot holds no value.
	IsEmpty() bool
}

// Entry is one item of a storage map with its key arguments.
type Entry struct {
	Keys  []Codec
	Value Codec
}

// Unsubscribe stops a chain subscription. Calling it more than once is safe.
type Unsubscribe func()

// Reader provides read access to chain storage, constants and runtime calls.
type Reader interface {
	// Query reads section.storage(args...).
	Query(ctx context.Context, section, storage string, args ...any) (Codec, error)
	// Multi reads section.storage for every key in one round trip.
	// A key holding several arguments is passed as []any.
	Multi(ctx context.Context, section, storage string, keys []any) ([]Codec, error)
	// Entries lists every item of section.storage, optionally under a key prefix.
	Entries(ctx context.Context, section, storage string, args ...any) ([]Entry, error)
	// Const returns the runtime constant section.name.
	Const(section, name string) (Codec, bool)
	// Call invokes a runtime API method such as "nominationPoolsApi.pendingRewards".
	Call(ctx context.Context, method string, args ...any) (Codec, error)
}

// Subscriber provides push subscriptions. The current value is pushed first.
type Subscriber interface {
	Subscribe(ctx context.Context, section, storage string, args []any, fn func(Codec)) (Unsubscribe, error)
	SubscribeMulti(ctx context.Context, section, storage string, keys []any, fn func([]Codec)) (Unsubscribe, error)
}

// TxBuilder creates unsigned extrinsics.
type TxBuilder interface {
	// Tx builds section.call(args...).
	Tx(section, call string, args ...any) (*Extrinsic, error)
	// CallArity returns the declared argument count of section.call.
	CallArity(section, call string) (int, bool)
	// SpecVersion returns the runtime spec version.
	SpecVersion() uint32
	// EstimateFee returns the partial fee of ext signed by address.
	EstimateFee(ctx context.Context, ext *Extrinsic, address string) (Balance, error)
}

// API is the full chain capability set consumed by handlers.
type API interface {
	Reader
	Subscriber
	TxBuilder
}

// Connection is a shared per-chain facade with a readiness future.
type Connection interface {
	// Ready is closed once the API can serve requests.
	Ready() <-chan struct{}
	// API returns the facade. Only valid after Ready is closed.
	API() API
}

// WaitReady blocks until conn is ready or ctx is done.
func WaitReady(ctx context.Context, conn Connection) (API, error) {
	select {
	case <-conn.Ready():
		return conn.API(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsReady reports whether conn is ready without blocking.
func IsReady(conn Connection) bool {
	select {
	case <-conn.Ready():
		return true
	default:
		return false
	}
}

// Extrinsic is an unsigned substrate call. Args may hold nested extrinsics for batches.
type Extrinsic struct {
	Section string `json:"section"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

// Name returns "section.method".
func (e *Extrinsic) Name() string {
	return e.Section + "." + e.Method
}

// Calls returns the nested calls of a batch, or the extrinsic itself.
func (e *Extrinsic) Calls() []*Extrinsic {
	if e.Section == "utility" && len(e.Args) == 1 {
		if calls, ok := e.Args[0].([]*Extrinsic); ok {
			return calls
		}
	}
	return []*Extrinsic{e}
}

func (e *Extrinsic) String() string {
	parts := make([]string, 0, len(e.Args))
	for _, a := range e.Args {
		switch v := a.(type) {
		case []*Extrinsic:
			inner := make([]string, 0, len(v))
			for _, c := range v {
				inner = append(inner, c.String())
			}
			parts = append(parts, "["+strings.Join(inner, ", ")+"]")
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return fmt.Sprintf("%s(%s)", e.Name(), strings.Join(parts, ", "))
}

// Batch wraps calls in utility.batchAll when atomic is set, otherwise utility.batch.
// A single call is returned unwrapped.
func Batch(api TxBuilder, atomic bool, calls ...*Extrinsic) (*Extrinsic, error) {
	switch len(calls) {
	case 0:
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidCall)
	case 1:
		return calls[0], nil
	}
	method := "batch"
	if atomic {
		method = "batchAll"
	}
	return api.Tx("utility", method, calls)
}

// Key builds a multi-argument storage key for Multi and SubscribeMulti.
func Key(args ...any) []any {
	return args
}
