package earning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mrz1836/harvest/internal/chain"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// Decode reads a codec into T. ok is false when the slot is empty.
func Decode[T any](c chain.Codec) (v T, ok bool, err error) {
	if c == nil || c.IsEmpty() {
		return v, false, nil
	}
	if err = c.Decode(&v); err != nil {
		return v, false, fmt.Errorf("%w: %w", harvesterr.ErrMalformedState, err)
	}
	return v, true, nil
}

// Read queries section.storage(args...) into T. An empty slot yields T's zero value.
func Read[T any](ctx context.Context, api chain.Reader, section, storage string, args ...any) (T, error) {
	var zero T
	c, err := api.Query(ctx, section, storage, args...)
	if err != nil {
		return zero, fmt.Errorf("query %s.%s: %w", section, storage, err)
	}
	v, _, err := Decode[T](c)
	if err != nil {
		return zero, fmt.Errorf("decode %s.%s: %w", section, storage, err)
	}
	return v, nil
}

// ReadBalance queries a balance storage item.
func ReadBalance(ctx context.Context, api chain.Reader, section, storage string, args ...any) (chain.Balance, error) {
	return Read[chain.Balance](ctx, api, section, storage, args...)
}

// ConstBalance returns a numeric constant, or def when it is not declared.
func ConstBalance(api chain.Reader, section, name string, def chain.Balance) chain.Balance {
	c, ok := api.Const(section, name)
	if !ok {
		return def
	}
	v, ok, err := Decode[chain.Balance](c)
	if err != nil || !ok {
		return def
	}
	return v
}

// ConstInt returns a small numeric constant, or def when it is not declared.
func ConstInt(api chain.Reader, section, name string, def int) int {
	b := ConstBalance(api, section, name, chain.Balance{})
	if b.IsZero() || !b.Big().IsInt64() {
		return def
	}
	return int(b.Big().Int64())
}

// HasConst reports whether the runtime declares section.name.
func HasConst(api chain.Reader, section, name string) bool {
	_, ok := api.Const(section, name)
	return ok
}

// CurrencyID returns the on-chain currency identifier of an asset. An AssetID
// holding JSON such as {"VToken2":0} is decoded so it encodes as a struct;
// anything else is passed as the raw string.
func CurrencyID(asset chain.Asset) any {
	var v any
	if err := json.Unmarshal([]byte(asset.AssetID), &v); err == nil {
		return v
	}
	return asset.AssetID
}
