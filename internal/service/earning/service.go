// Package earning aggregates pool handlers across chains: it fans
// subscriptions out to every active handler and routes actions by pool slug.
package earning

import (
	"context"
	"time"

	"github.com/mrz1836/harvest/internal/cache"
	"github.com/mrz1836/harvest/internal/chain"
	core "github.com/mrz1836/harvest/internal/earning"
	"github.com/mrz1836/harvest/internal/subscription"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// DefaultTargetsTTL is how long pool targets are served from cache.
const DefaultTargetsTTL = 5 * time.Minute

// Config holds the configuration for the earning service.
type Config struct {
	Chains ChainDirectory
	Assets chain.AssetSource
	// Pools lists the pools to create per chain.
	Pools map[chain.ID][]PoolSpec
	// Ops defaults to DefaultOps.
	Ops OpsFactory

	Metadata        core.MetadataSource
	MetadataTimeout time.Duration
	Logger          core.LogWriter
	Now             func() time.Time

	// Cache holds pool info and target snapshots. Nil disables caching.
	Cache      cache.Cache
	TargetsTTL time.Duration
	Metrics    MetricsRecorder
}

// Service is the earning entry point.
type Service struct {
	chains     ChainDirectory
	registry   *Registry
	cache      cache.Cache
	targetsTTL time.Duration
	logger     core.LogWriter
	metrics    MetricsRecorder
}

// NewService creates a new earning service. No handler exists until the
// first call that reconciles the registry.
func NewService(cfg *Config) *Service {
	s := &Service{
		chains: cfg.Chains,
		registry: NewRegistry(cfg.Chains, cfg.Assets, cfg.Pools, cfg.Ops, EnvOptions{
			Metadata:        cfg.Metadata,
			MetadataTimeout: cfg.MetadataTimeout,
			Logger:          cfg.Logger,
			Now:             cfg.Now,
		}),
		cache:      cfg.Cache,
		targetsTTL: cfg.TargetsTTL,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if s.targetsTTL <= 0 {
		s.targetsTTL = DefaultTargetsTTL
	}
	if s.logger == nil {
		s.logger = nopLogger{}
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	return s
}

// Registry exposes the handler registry.
func (s *Service) Registry() *Registry { return s.registry }

// Reconcile syncs the registry with the currently active chains.
func (s *Service) Reconcile() []string {
	return s.registry.Reconcile(s.chains.ActiveChains())
}

// ready waits for the chains-ready gate and reconciles.
func (s *Service) ready(ctx context.Context) error {
	if err := s.chains.WaitChainsReady(ctx); err != nil {
		return harvesterr.Wrap(harvesterr.ErrChainNotReady, "waiting for chains: %v", err)
	}
	s.Reconcile()
	return nil
}

// Handler returns the handler of slug. A missing handler is an internal error.
func (s *Service) Handler(slug string) (*core.Handler, error) {
	s.Reconcile()
	if h, ok := s.registry.Handler(slug); ok {
		return h, nil
	}
	err := harvesterr.Txf(harvesterr.CodeInternalError, "no pool handler for %s", slug)
	return nil, harvesterr.Suggest(err, slug, s.registry.Slugs())
}

// Pools returns the pool info of every active handler.
func (s *Service) Pools() []*core.YieldPoolInfo {
	s.Reconcile()
	handlers := s.registry.Active()
	out := make([]*core.YieldPoolInfo, 0, len(handlers))
	for _, h := range handlers {
		info := h.PoolInfo()
		if info.IsLoading() {
			if cached := s.cachedPool(h.Slug()); cached != nil {
				info = cached
			}
		}
		out = append(out, info)
	}
	return out
}

// fanOut starts one subscription per handler and aggregates the unsubscribes.
// A panic in one handler is logged and never reaches its siblings.
func (s *Service) fanOut(ctx context.Context, handlers []*core.Handler, start func(ctx context.Context, h *core.Handler) subscription.Unsubscribe) subscription.Unsubscribe {
	fctx, cancel := context.WithCancel(ctx)
	group := subscription.NewGroup()

	for _, h := range handlers {
		go func() {
			defer s.recoverHandler(h.Slug(), "subscribe")
			if fctx.Err() != nil {
				return
			}
			group.Add(start(fctx, h))
			s.metrics.RecordSubscription(h.Slug())
		}()
	}

	return func() {
		cancel()
		group.Unsubscribe()
		s.logger.Debug("earning subscription cancelled")
	}
}

func (s *Service) recoverHandler(slug, what string) {
	if r := recover(); r != nil {
		s.metrics.RecordHandlerFailure(slug)
		s.logger.Error("%s %s panicked: %v", what, slug, r)
	}
}

// guard wraps a consumer callback so a panic inside it is contained to one handler.
func guard[T any](s *Service, slug string, cb func(T)) func(T) {
	return func(v T) {
		defer s.recoverHandler(slug, "callback")
		cb(v)
	}
}

// SubscribePoolsInfo pushes pool info of every active pool until unsubscribed.
// cb is called from several goroutines.
func (s *Service) SubscribePoolsInfo(ctx context.Context, cb func(*core.YieldPoolInfo)) (subscription.Unsubscribe, error) {
	if err := s.ready(ctx); err != nil {
		return subscription.Noop, err
	}
	return s.fanOut(ctx, s.registry.Active(), func(ctx context.Context, h *core.Handler) subscription.Unsubscribe {
		return h.SubscribePoolInfo(ctx, guard(s, h.Slug(), func(info *core.YieldPoolInfo) {
			s.storePool(info)
			cb(info)
		}))
	}), nil
}

// SubscribePoolPositions pushes positions of addresses in every active pool.
// Each handler only receives the addresses of its chain's account model.
func (s *Service) SubscribePoolPositions(ctx context.Context, addresses []string, cb func(*core.YieldPositionInfo)) (subscription.Unsubscribe, error) {
	if err := s.ready(ctx); err != nil {
		return subscription.Noop, err
	}
	substrate, evm := chain.PartitionAddresses(addresses)
	handlers := s.withAddresses(substrate, evm)
	return s.fanOut(ctx, handlers, func(ctx context.Context, h *core.Handler) subscription.Unsubscribe {
		return h.SubscribePoolPosition(ctx, chain.AddressesFor(h.ChainInfo(), substrate, evm), guard(s, h.Slug(), cb))
	}), nil
}

// GetPoolReward reports unclaimed rewards of addresses in every active pool.
func (s *Service) GetPoolReward(ctx context.Context, addresses []string, cb func(core.EarningRewardItem)) (subscription.Unsubscribe, error) {
	if err := s.ready(ctx); err != nil {
		return subscription.Noop, err
	}
	substrate, evm := chain.PartitionAddresses(addresses)
	handlers := s.withAddresses(substrate, evm)
	return s.fanOut(ctx, handlers, func(ctx context.Context, h *core.Handler) subscription.Unsubscribe {
		return h.GetPoolReward(ctx, chain.AddressesFor(h.ChainInfo(), substrate, evm), guard(s, h.Slug(), cb))
	}), nil
}

// withAddresses keeps the active handlers that have at least one address to serve.
func (s *Service) withAddresses(substrate, evm []string) []*core.Handler {
	active := s.registry.Active()
	out := active[:0]
	for _, h := range active {
		if len(chain.AddressesFor(h.ChainInfo(), substrate, evm)) > 0 {
			out = append(out, h)
		}
	}
	return out
}

// GetPoolTargets lists the nomination targets of slug. Unknown slugs have no
// targets. Results are cached per slug; a failed refresh falls back to the
// cached list.
func (s *Service) GetPoolTargets(ctx context.Context, slug string) ([]core.ValidatorInfo, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	h, ok := s.registry.Handler(slug)
	if !ok {
		return []core.ValidatorInfo{}, nil
	}

	var cached *cache.PoolCacheEntry
	if s.cache != nil {
		entry, exists, age := s.cache.Get(cache.KindTargets, slug)
		if exists && age <= s.targetsTTL {
			s.metrics.RecordCacheHit()
			return entry.Targets, nil
		}
		s.metrics.RecordCacheMiss()
		if exists {
			cached = entry
		}
	}

	targets, err := h.GetPoolTargets(ctx)
	if err != nil {
		if cached != nil {
			s.logger.Error("targets %s, serving cached: %v", slug, err)
			return cached.Targets, nil
		}
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(cache.PoolCacheEntry{Kind: cache.KindTargets, Slug: slug, Chain: h.Chain(), Targets: targets})
	}
	return targets, nil
}

func (s *Service) storePool(info *core.YieldPoolInfo) {
	if s.cache == nil || info == nil || info.IsLoading() {
		return
	}
	s.cache.Set(cache.PoolCacheEntry{Kind: cache.KindPool, Slug: info.Slug, Chain: info.Chain, Pool: info})
}

func (s *Service) cachedPool(slug string) *core.YieldPoolInfo {
	if s.cache == nil {
		return nil
	}
	entry, ok, _ := s.cache.Get(cache.KindPool, slug)
	if !ok {
		return nil
	}
	return entry.Pool
}

// Position reads the current position of one address in one pool. Addresses
// without stake come back with StatusNotStaking.
func (s *Service) Position(ctx context.Context, slug, address string) (*core.YieldPositionInfo, error) {
	h, err := s.actionHandler(ctx, slug)
	if err != nil {
		return nil, err
	}
	return h.Position(ctx, address)
}

// GenerateOptimalSteps returns the join path of the request's pool.
func (s *Service) GenerateOptimalSteps(ctx context.Context, req *core.JoinRequest) (*core.OptimalYieldPath, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	h, err := s.Handler(req.Slug)
	if err != nil {
		return nil, err
	}
	return h.GenerateOptimalPath(ctx, req)
}

// ValidateYieldJoin validates a join request against its pool.
func (s *Service) ValidateYieldJoin(ctx context.Context, req *core.JoinRequest) harvesterr.ErrorList {
	h, errs := s.validationHandler(ctx, req.Slug)
	if h == nil {
		return errs
	}
	return h.ValidateYieldJoin(ctx, req)
}

// HandleYieldJoin builds the join transaction.
func (s *Service) HandleYieldJoin(ctx context.Context, req *core.JoinRequest) (*core.TransactionPayload, error) {
	h, err := s.actionHandler(ctx, req.Slug)
	if err != nil {
		return nil, err
	}
	return h.CreateJoinExtrinsic(ctx, req, nil)
}

// ValidateYieldLeave validates a leave request against its pool.
func (s *Service) ValidateYieldLeave(ctx context.Context, req *core.LeaveRequest) harvesterr.ErrorList {
	h, errs := s.validationHandler(ctx, req.Slug)
	if h == nil {
		return errs
	}
	return h.ValidateYieldLeave(ctx, req)
}

// HandleYieldLeave builds the unstake transaction.
func (s *Service) HandleYieldLeave(ctx context.Context, req *core.LeaveRequest) (*core.TransactionPayload, error) {
	h, err := s.actionHandler(ctx, req.Slug)
	if err != nil {
		return nil, err
	}
	return h.HandleYieldUnstake(ctx, req)
}

// HandleYieldWithdraw builds the withdraw transaction.
func (s *Service) HandleYieldWithdraw(ctx context.Context, req *core.WithdrawRequest) (*core.TransactionPayload, error) {
	h, err := s.actionHandler(ctx, req.Slug)
	if err != nil {
		return nil, err
	}
	return h.HandleYieldWithdraw(ctx, req)
}

// HandleYieldCancelUnstake builds the cancel-unstake transaction.
func (s *Service) HandleYieldCancelUnstake(ctx context.Context, req *core.CancelUnstakeRequest) (*core.TransactionPayload, error) {
	h, err := s.actionHandler(ctx, req.Slug)
	if err != nil {
		return nil, err
	}
	return h.HandleYieldCancelUnstake(ctx, req)
}

// HandleYieldClaimReward builds the claim transaction.
func (s *Service) HandleYieldClaimReward(ctx context.Context, req *core.ClaimRequest) (*core.TransactionPayload, error) {
	h, err := s.actionHandler(ctx, req.Slug)
	if err != nil {
		return nil, err
	}
	return h.HandleYieldClaimReward(ctx, req)
}

func (s *Service) actionHandler(ctx context.Context, slug string) (*core.Handler, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.Handler(slug)
}

func (s *Service) validationHandler(ctx context.Context, slug string) (*core.Handler, harvesterr.ErrorList) {
	h, err := s.actionHandler(ctx, slug)
	if err != nil {
		var errs harvesterr.ErrorList
		errs.Add(err)
		return nil, errs
	}
	return h, nil
}
