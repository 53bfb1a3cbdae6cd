package chain

import (
	"context"
	"fmt"
	"sort"
	"sync"

	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// Directory errors.
var (
	// ErrUnsupportedChain indicates the chain is not registered.
	ErrUnsupportedChain = &harvesterr.HarvestError{
		Code:     "UNSUPPORTED_CHAIN",
		Message:  "unsupported chain",
		ExitCode: harvesterr.ExitInput,
	}

	// ErrUnknownAsset indicates the asset slug is not registered.
	ErrUnknownAsset = &harvesterr.HarvestError{
		Code:     "UNKNOWN_ASSET",
		Message:  "unknown asset",
		ExitCode: harvesterr.ExitNotFound,
	}

	// ErrInvalidCall indicates an extrinsic could not be built.
	ErrInvalidCall = &harvesterr.HarvestError{
		Code:     harvesterr.CodeInternalError,
		Message:  "invalid call",
		ExitCode: harvesterr.ExitGeneral,
	}
)

// ChainSource resolves chain descriptions and their shared connections.
type ChainSource interface {
	Info(id ID) (Info, bool)
	Connection(id ID) (Connection, bool)
	IsActive(id ID) bool
}

// AssetSource resolves assets by slug.
type AssetSource interface {
	Asset(slug string) (Asset, error)
}

// Directory holds one shared Connection per chain plus the asset registry.
// Connection lifecycle belongs to the code that registers it.
type Directory struct {
	mu     sync.RWMutex
	chains map[ID]Info
	conns  map[ID]Connection
	active map[ID]bool
	assets map[string]Asset

	readyOnce sync.Once
	ready     chan struct{}
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		chains: make(map[ID]Info),
		conns:  make(map[ID]Connection),
		active: make(map[ID]bool),
		assets: make(map[string]Asset),
		ready:  make(chan struct{}),
	}
}

// Register adds a chain with its connection. The chain starts active.
func (d *Directory) Register(info Info, conn Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chains[info.Slug] = info
	d.conns[info.Slug] = conn
	d.active[info.Slug] = true
}

// RegisterAsset adds or replaces an asset.
func (d *Directory) RegisterAsset(asset Asset) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assets[asset.Slug] = asset
}

// SetActive enables or disables a chain.
func (d *Directory) SetActive(id ID, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.chains[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedChain, id)
	}
	d.active[id] = active
	return nil
}

// Info returns the description of a chain.
func (d *Directory) Info(id ID) (Info, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.chains[id]
	return info, ok
}

// Connection returns the shared connection of a chain.
func (d *Directory) Connection(id ID) (Connection, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conn, ok := d.conns[id]
	return conn, ok
}

// IsActive reports whether the chain is registered and enabled.
func (d *Directory) IsActive(id ID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active[id]
}

// ActiveChains returns the enabled chains sorted by slug.
func (d *Directory) ActiveChains() []Info {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Info, 0, len(d.chains))
	for id, info := range d.chains {
		if d.active[id] {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Asset returns the asset registered under slug.
func (d *Directory) Asset(slug string) (Asset, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	asset, ok := d.assets[slug]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, slug)
	}
	return asset, nil
}

// AssetsOn returns the assets of one chain sorted by slug.
func (d *Directory) AssetsOn(id ID) []Asset {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Asset
	for _, a := range d.assets {
		if a.Chain == id {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// MarkReady opens the chains-ready gate. Later calls are no-ops.
func (d *Directory) MarkReady() {
	d.readyOnce.Do(func() { close(d.ready) })
}

// WaitChainsReady blocks until MarkReady was called or ctx is done.
func (d *Directory) WaitChainsReady(ctx context.Context) error {
	select {
	case <-d.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Compile-time interface checks
var (
	_ ChainSource = (*Directory)(nil)
	_ AssetSource = (*Directory)(nil)
)
