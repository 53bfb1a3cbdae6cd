package earning

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mrz1836/harvest/internal/chain"
	core "github.com/mrz1836/harvest/internal/earning"
	"github.com/mrz1836/harvest/internal/earning/dappstaking"
	"github.com/mrz1836/harvest/internal/earning/lending"
	"github.com/mrz1836/harvest/internal/earning/liquidstaking"
	"github.com/mrz1836/harvest/internal/earning/nominationpool"
	"github.com/mrz1836/harvest/internal/earning/parachain"
	"github.com/mrz1836/harvest/internal/earning/relaychain"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// PoolSpec configures one pool on a chain. Asset slugs are resolved through
// the asset source; empty slugs fall back to the chain's native token.
type PoolSpec struct {
	Kind            core.PoolKind
	InputAsset      string
	DerivativeAsset string
}

// DefaultOps maps every supported kind to its function table.
func DefaultOps(kind core.PoolKind) (core.Ops, bool) {
	switch kind {
	case core.KindRelayChain:
		return relaychain.Ops(), true
	case core.KindParachain:
		return parachain.Ops(), true
	case core.KindDappStaking:
		return dappstaking.Ops(), true
	case core.KindNominationPool:
		return nominationpool.Ops(), true
	case core.KindLiquidStaking:
		return liquidstaking.Ops(), true
	case core.KindLending:
		return lending.Ops(), true
	}
	return core.Ops{}, false
}

// EnvOptions are shared by every handler the registry creates.
type EnvOptions struct {
	Metadata        core.MetadataSource
	MetadataTimeout time.Duration
	Logger          core.LogWriter
	Now             func() time.Time
}

// Registry owns the pool handlers keyed by slug. Handlers are only created
// by Reconcile and never removed; handlers of inactive chains are filtered
// out by Active.
type Registry struct {
	chains ChainDirectory
	assets chain.AssetSource
	pools  map[chain.ID][]PoolSpec
	ops    OpsFactory
	env    EnvOptions
	logger core.LogWriter

	mu       sync.RWMutex
	handlers map[string]*core.Handler
}

// NewRegistry creates an empty registry.
func NewRegistry(chains ChainDirectory, assets chain.AssetSource, pools map[chain.ID][]PoolSpec, ops OpsFactory, env EnvOptions) *Registry {
	if ops == nil {
		ops = DefaultOps
	}
	logger := env.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Registry{
		chains:   chains,
		assets:   assets,
		pools:    pools,
		ops:      ops,
		env:      env,
		logger:   logger,
		handlers: make(map[string]*core.Handler),
	}
}

// Reconcile creates the handlers of the given chains that do not exist yet.
// It is idempotent and returns the slugs it created.
func (r *Registry) Reconcile(active []chain.Info) []string {
	var created []string
	for _, info := range active {
		for _, spec := range r.pools[info.Slug] {
			h, err := r.build(info, spec)
			if err != nil {
				r.logger.Error("pool %s on %s: %v", spec.Kind, info.Slug, err)
				continue
			}

			r.mu.Lock()
			if _, exists := r.handlers[h.Slug()]; !exists {
				r.handlers[h.Slug()] = h
				created = append(created, h.Slug())
			}
			r.mu.Unlock()
		}
	}
	if len(created) > 0 {
		sort.Strings(created)
		r.logger.Debug("registry reconciled, created %v", created)
	}
	return created
}

func (r *Registry) build(info chain.Info, spec PoolSpec) (*core.Handler, error) {
	ops, ok := r.ops(spec.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: no ops for pool kind %q", harvesterr.ErrUnsupported, spec.Kind)
	}
	conn, _ := r.chains.Connection(info.Slug)
	env := &core.Env{
		Chain:           info,
		Conn:            conn,
		Metadata:        r.env.Metadata,
		MetadataTimeout: r.env.MetadataTimeout,
		Logger:          r.env.Logger,
		Now:             r.env.Now,
	}
	var err error
	if env.InputAsset, err = r.asset(spec.InputAsset); err != nil {
		return nil, err
	}
	if env.DerivativeAsset, err = r.asset(spec.DerivativeAsset); err != nil {
		return nil, err
	}
	return core.NewHandler(env, ops)
}

func (r *Registry) asset(slug string) (chain.Asset, error) {
	if slug == "" || r.assets == nil {
		return chain.Asset{}, nil
	}
	return r.assets.Asset(slug)
}

// Handler returns the handler registered under slug.
func (r *Registry) Handler(slug string) (*core.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[slug]
	return h, ok
}

// Slugs lists every registered slug in order.
func (r *Registry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for slug := range r.handlers {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// All returns every handler sorted by slug.
func (r *Registry) All() []*core.Handler {
	slugs := r.Slugs()
	out := make([]*core.Handler, 0, len(slugs))
	for _, slug := range slugs {
		if h, ok := r.Handler(slug); ok {
			out = append(out, h)
		}
	}
	return out
}

// Active returns the handlers whose chain is currently active.
func (r *Registry) Active() []*core.Handler {
	all := r.All()
	out := all[:0]
	for _, h := range all {
		if r.chains.IsActive(h.Chain()) {
			out = append(out, h)
		}
	}
	return out
}
