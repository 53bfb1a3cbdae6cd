package earning

import (
	"context"
	"fmt"
	"sync"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/subscription"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// Handler implements the pool contract for one (chain, kind) pair on top of
// the kind's Ops table.
type Handler struct {
	env  *Env
	ops  Ops
	slug string

	mu   sync.RWMutex
	stat *Statistic
}

// NewHandler creates a handler. The env must carry a connection.
func NewHandler(env *Env, ops Ops) (*Handler, error) {
	if env == nil || env.Conn == nil {
		return nil, fmt.Errorf("%w: handler without chain connection", harvesterr.ErrInternal)
	}
	if err := ops.validate(); err != nil {
		return nil, err
	}

	symbol := env.Chain.Symbol
	if env.DerivativeAsset.Symbol != "" {
		symbol = env.DerivativeAsset.Symbol
	}
	return &Handler{
		env:  env,
		ops:  ops,
		slug: Slug(symbol, ops.Type, env.Chain.Slug),
	}, nil
}

// Slug returns the stable pool slug.
func (h *Handler) Slug() string { return h.slug }

// Chain returns the chain slug.
func (h *Handler) Chain() chain.ID { return h.env.Chain.Slug }

// ChainInfo returns the chain description.
func (h *Handler) ChainInfo() chain.Info { return h.env.Chain }

// Kind returns the pool kind.
func (h *Handler) Kind() PoolKind { return h.ops.Kind }

// Type returns the pool type.
func (h *Handler) Type() YieldPoolType { return h.ops.Type }

func (h *Handler) group() string {
	if h.env.Chain.Group != "" {
		return h.env.Chain.Group
	}
	return h.env.Chain.Symbol
}

func (h *Handler) scope(api chain.API) *Scope {
	return &Scope{Env: h.env, API: api, Slug: h.slug}
}

func (h *Handler) log() LogWriter {
	return h.env.logger()
}

// PoolInfo returns the pool description with the last known statistic.
func (h *Handler) PoolInfo() *YieldPoolInfo {
	h.mu.RLock()
	stat := h.stat
	h.mu.RUnlock()
	return h.poolInfo(stat)
}

func (h *Handler) poolInfo(stat *Statistic) *YieldPoolInfo {
	info := &YieldPoolInfo{
		Slug:      h.slug,
		Chain:     h.env.Chain.Slug,
		Type:      h.ops.Type,
		Group:     h.group(),
		Statistic: stat,
	}
	if h.ops.Metadata != nil {
		info.Metadata = h.ops.Metadata(h.scope(nil))
	}
	if info.Metadata.InputAsset == "" {
		info.Metadata.InputAsset = h.scope(nil).InputSlug()
	}
	return info
}

func (h *Handler) setStatistic(stat *Statistic) {
	h.mu.Lock()
	h.stat = stat
	h.mu.Unlock()
}

// api waits for readiness under ctx.
func (h *Handler) api(ctx context.Context) (chain.API, error) {
	api, err := chain.WaitReady(ctx, h.env.Conn)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", harvesterr.ErrChainNotReady, h.env.Chain.Slug, err)
	}
	return api, nil
}

// Statistic returns the cached statistic, reading it from chain when none is cached.
func (h *Handler) Statistic(ctx context.Context) (*Statistic, error) {
	h.mu.RLock()
	stat := h.stat
	h.mu.RUnlock()
	if stat != nil {
		return stat, nil
	}

	api, err := h.api(ctx)
	if err != nil {
		return nil, err
	}
	stat, err = h.ops.Info(ctx, h.scope(api))
	if err != nil {
		return nil, err
	}
	h.setStatistic(stat)
	return stat, nil
}

// SubscribePoolInfo pushes the current snapshot immediately, then a fresh
// statistic on every change of the kind's trigger storage.
func (h *Handler) SubscribePoolInfo(ctx context.Context, cb func(*YieldPoolInfo)) subscription.Unsubscribe {
	tok := subscription.NewToken(ctx)
	cb(h.PoolInfo())

	go func() {
		api, err := h.api(tok.Context())
		if err != nil || tok.Cancelled() {
			return
		}
		s := h.scope(api)
		trigger := h.ops.InfoTrigger
		if h.ops.InfoArgs != nil {
			trigger.Args = h.ops.InfoArgs(s)
		}

		unsub, err := api.Subscribe(tok.Context(), trigger.Section, trigger.Storage, trigger.Args, func(chain.Codec) {
			if tok.Cancelled() {
				return
			}
			stat, err := h.ops.Info(tok.Context(), s)
			if err != nil {
				if !tok.Cancelled() {
					h.log().Error("pool info %s: %v", h.slug, err)
				}
				return
			}
			if tok.Cancelled() {
				return
			}
			h.setStatistic(stat)
			tok.Emit(func() { cb(h.poolInfo(stat)) })
		})
		if err != nil {
			h.log().Error("subscribe %s for %s: %v", trigger, h.slug, err)
			return
		}
		tok.Attach(unsub)
		if tok.MarkSubscribed() {
			h.log().Debug("pool info subscribed: %s", h.slug)
		}
	}()

	return tok.Unsubscribe()
}

func (h *Handler) positionKeys(s *Scope, addresses []string) []any {
	keys := make([]any, 0, len(addresses))
	for _, addr := range addresses {
		if h.ops.PositionKey != nil {
			keys = append(keys, h.ops.PositionKey(s, addr))
			continue
		}
		keys = append(keys, addr)
	}
	return keys
}

// derive turns one push into exactly one normalized position per address.
func (h *Handler) derive(ctx context.Context, s *Scope, addresses []string, values []chain.Codec) ([]*YieldPositionInfo, error) {
	if len(values) != len(addresses) {
		return nil, fmt.Errorf("%w: %s returned %d values for %d addresses",
			harvesterr.ErrMalformedState, h.ops.PositionStorage, len(values), len(addresses))
	}
	derived, err := h.ops.Positions(ctx, s, addresses, values)
	if err != nil {
		return nil, err
	}

	out := make([]*YieldPositionInfo, len(addresses))
	for i, addr := range addresses {
		var pos *YieldPositionInfo
		if i < len(derived) {
			pos = derived[i]
		}
		if pos == nil {
			pos = &YieldPositionInfo{Status: StatusNotStaking}
		}
		pos.Address = addr
		pos.Slug = h.slug
		pos.Chain = h.env.Chain.Slug
		pos.Type = h.ops.Type
		pos.Group = h.group()
		if pos.BalanceToken == "" {
			pos.BalanceToken = s.InputSlug()
		}
		out[i] = pos.Normalize()
	}
	return out, nil
}

// SubscribePoolPosition opens one multi-key subscription for all addresses and
// calls cb once per address per push, in input order.
func (h *Handler) SubscribePoolPosition(ctx context.Context, addresses []string, cb func(*YieldPositionInfo)) subscription.Unsubscribe {
	tok := subscription.NewToken(ctx)
	if len(addresses) == 0 {
		tok.Cancel()
		return tok.Unsubscribe()
	}
	addrs := append([]string(nil), addresses...)

	go func() {
		api, err := h.api(tok.Context())
		if err != nil || tok.Cancelled() {
			return
		}
		s := h.scope(api)
		ref := h.ops.PositionStorage

		unsub, err := api.SubscribeMulti(tok.Context(), ref.Section, ref.Storage, h.positionKeys(s, addrs), func(values []chain.Codec) {
			if tok.Cancelled() {
				return
			}
			positions, err := h.derive(tok.Context(), s, addrs, values)
			if err != nil {
				if !tok.Cancelled() {
					h.log().Error("positions %s: %v", h.slug, err)
				}
				return
			}
			for _, pos := range positions {
				if !tok.Emit(func() { cb(pos) }) {
					return
				}
			}
		})
		if err != nil {
			h.log().Error("subscribe %s for %s: %v", ref, h.slug, err)
			return
		}
		tok.Attach(unsub)
		tok.MarkSubscribed()
	}()

	return tok.Unsubscribe()
}

// Position reads the current position of one address.
func (h *Handler) Position(ctx context.Context, address string) (*YieldPositionInfo, error) {
	api, err := h.api(ctx)
	if err != nil {
		return nil, err
	}
	s := h.scope(api)
	ref := h.ops.PositionStorage
	values, err := api.Multi(ctx, ref.Section, ref.Storage, h.positionKeys(s, []string{address}))
	if err != nil {
		return nil, err
	}
	positions, err := h.derive(ctx, s, []string{address}, values)
	if err != nil {
		return nil, err
	}
	return positions[0], nil
}

// GetPoolReward computes unclaimed rewards and calls cb for every non-zero one.
// Pools whose rewards are paid automatically never call cb.
func (h *Handler) GetPoolReward(ctx context.Context, addresses []string, cb func(EarningRewardItem)) subscription.Unsubscribe {
	tok := subscription.NewToken(ctx)
	if h.ops.Rewards == nil || len(addresses) == 0 {
		tok.Cancel()
		return tok.Unsubscribe()
	}
	addrs := append([]string(nil), addresses...)

	go func() {
		api, err := h.api(tok.Context())
		if err != nil || tok.Cancelled() {
			return
		}
		tok.MarkSubscribed()
		items, err := h.ops.Rewards(tok.Context(), h.scope(api), addrs)
		if err != nil {
			if !tok.Cancelled() {
				h.log().Error("rewards %s: %v", h.slug, err)
			}
			return
		}
		for _, item := range items {
			if item.UnclaimedReward.Sign() <= 0 {
				continue
			}
			item.Slug = h.slug
			item.Chain = h.env.Chain.Slug
			item.Type = h.ops.Type
			item.Group = h.group()
			if item.State == "" {
				item.State = "APPROVED"
			}
			if !tok.Emit(func() { cb(item) }) {
				return
			}
		}
	}()

	return tok.Unsubscribe()
}

// GetPoolTargets lists the nomination candidates. Pools without targets return none.
func (h *Handler) GetPoolTargets(ctx context.Context) ([]ValidatorInfo, error) {
	if h.ops.Targets == nil {
		return []ValidatorInfo{}, nil
	}
	api, err := h.api(ctx)
	if err != nil {
		return nil, err
	}
	stat, err := h.Statistic(ctx)
	if err != nil {
		return nil, err
	}
	targets, err := h.ops.Targets(ctx, h.scope(api), stat)
	if err != nil {
		return nil, err
	}
	for i := range targets {
		targets[i].Chain = h.env.Chain.Slug
	}
	return targets, nil
}

// ValidateYieldJoin returns every violation of the join request. An empty list means valid.
func (h *Handler) ValidateYieldJoin(ctx context.Context, req *JoinRequest) harvesterr.ErrorList {
	api, err := h.api(ctx)
	if err != nil {
		return harvesterr.ErrorList{asInternal(err)}
	}
	s := h.scope(api)

	stat, err := h.Statistic(ctx)
	if err != nil {
		h.log().Error("validate join %s: %v", h.slug, err)
	}
	pos, err := h.Position(ctx, req.Address)
	if err != nil {
		return harvesterr.ErrorList{asInternal(err)}
	}

	errs := validateJoin(s, req, stat, pos)
	if h.ops.ValidateJoin != nil && stat != nil {
		errs.Extend(h.ops.ValidateJoin(ctx, s, req, stat, pos))
	}
	return errs
}

// CreateJoinExtrinsic builds the join transaction, branching on whether the
// address already has a position. A nil pos is read from chain.
func (h *Handler) CreateJoinExtrinsic(ctx context.Context, req *JoinRequest, pos *YieldPositionInfo) (*TransactionPayload, error) {
	api, err := h.api(ctx)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		if pos, err = h.Position(ctx, req.Address); err != nil {
			return nil, err
		}
	}
	ext, typ, err := h.ops.BuildJoin(ctx, h.scope(api), req, pos)
	if err != nil {
		return nil, err
	}
	return h.payload(req.Address, ext, typ), nil
}

// GenerateOptimalPath returns the default step followed by the kind's join step.
func (h *Handler) GenerateOptimalPath(ctx context.Context, req *JoinRequest) (*OptimalYieldPath, error) {
	path := NewPath(h.scope(nil).InputSlug())

	step := h.ops.JoinStep
	if step.Type == "" {
		step = StepDetail{Name: "Nominate validators", Type: StepNominate}
	}

	fee := chain.Balance{}
	if req != nil && req.Amount.Sign() > 0 && req.Address != "" {
		if payload, err := h.CreateJoinExtrinsic(ctx, req, nil); err == nil {
			fee = h.estimateFee(ctx, payload.Extrinsic, req.Address)
		} else {
			h.log().Debug("path fee for %s: %v", h.slug, err)
		}
	}
	path.Add(step, FeeInfo{Slug: h.env.Chain.NativeTokenSlug(), Amount: fee})
	return path.Build(), nil
}

// ValidateYieldLeave returns every violation of the leave request.
func (h *Handler) ValidateYieldLeave(ctx context.Context, req *LeaveRequest) harvesterr.ErrorList {
	api, err := h.api(ctx)
	if err != nil {
		return harvesterr.ErrorList{asInternal(err)}
	}
	s := h.scope(api)
	stat, err := h.Statistic(ctx)
	if err != nil {
		h.log().Error("validate leave %s: %v", h.slug, err)
	}
	pos, err := h.Position(ctx, req.Address)
	if err != nil {
		return harvesterr.ErrorList{asInternal(err)}
	}

	errs := validateLeave(s, req, stat, pos)
	if h.ops.ValidateLeave != nil && stat != nil {
		errs.Extend(h.ops.ValidateLeave(ctx, s, req, stat, pos))
	}
	return errs
}

// HandleYieldUnstake builds the unstake transaction.
func (h *Handler) HandleYieldUnstake(ctx context.Context, req *LeaveRequest) (*TransactionPayload, error) {
	if h.ops.Unstake == nil {
		return nil, h.unsupported("unstake")
	}
	s, pos, err := h.prepare(ctx, req.Address)
	if err != nil {
		return nil, err
	}
	ext, typ, err := h.ops.Unstake(ctx, s, req, pos)
	if err != nil {
		return nil, err
	}
	return h.payload(req.Address, ext, typ), nil
}

// HandleYieldWithdraw builds the withdraw transaction.
func (h *Handler) HandleYieldWithdraw(ctx context.Context, req *WithdrawRequest) (*TransactionPayload, error) {
	if h.ops.Withdraw == nil {
		return nil, h.unsupported("withdraw")
	}
	s, pos, err := h.prepare(ctx, req.Address)
	if err != nil {
		return nil, err
	}
	ext, err := h.ops.Withdraw(ctx, s, req, pos)
	if err != nil {
		return nil, err
	}
	return h.payload(req.Address, ext, ExtrinsicWithdraw), nil
}

// HandleYieldCancelUnstake builds the cancel-unstake transaction.
func (h *Handler) HandleYieldCancelUnstake(ctx context.Context, req *CancelUnstakeRequest) (*TransactionPayload, error) {
	if h.ops.CancelUnstake == nil {
		return nil, h.unsupported("cancel unstake")
	}
	s, pos, err := h.prepare(ctx, req.Address)
	if err != nil {
		return nil, err
	}
	ext, err := h.ops.CancelUnstake(ctx, s, req, pos)
	if err != nil {
		return nil, err
	}
	return h.payload(req.Address, ext, ExtrinsicCancelUnstake), nil
}

// HandleYieldClaimReward builds the claim transaction.
func (h *Handler) HandleYieldClaimReward(ctx context.Context, req *ClaimRequest) (*TransactionPayload, error) {
	if h.ops.ClaimReward == nil {
		return nil, h.unsupported("claim reward")
	}
	s, pos, err := h.prepare(ctx, req.Address)
	if err != nil {
		return nil, err
	}
	ext, err := h.ops.ClaimReward(ctx, s, req, pos)
	if err != nil {
		return nil, err
	}
	return h.payload(req.Address, ext, ExtrinsicClaimReward), nil
}

func (h *Handler) prepare(ctx context.Context, address string) (*Scope, *YieldPositionInfo, error) {
	api, err := h.api(ctx)
	if err != nil {
		return nil, nil, err
	}
	pos, err := h.Position(ctx, address)
	if err != nil {
		return nil, nil, err
	}
	return h.scope(api), pos, nil
}

func (h *Handler) unsupported(action string) error {
	return harvesterr.Txf(harvesterr.CodeUnsupported, "%s is not supported for %s", action, h.slug)
}

func (h *Handler) payload(address string, ext *chain.Extrinsic, typ ExtrinsicType) *TransactionPayload {
	return &TransactionPayload{
		Chain:     h.env.Chain.Slug,
		Address:   address,
		Extrinsic: ext,
		Type:      typ,
		FeeToken:  FeeInfo{Slug: h.env.Chain.NativeTokenSlug()},
	}
}

func (h *Handler) estimateFee(ctx context.Context, ext *chain.Extrinsic, address string) chain.Balance {
	api, err := h.api(ctx)
	if err != nil {
		return chain.Balance{}
	}
	fee, err := api.EstimateFee(ctx, ext, address)
	if err != nil {
		h.log().Debug("estimate fee %s: %v", ext.Name(), err)
		return chain.Balance{}
	}
	return fee
}

func asInternal(err error) *harvesterr.HarvestError {
	var he *harvesterr.HarvestError
	if harvesterr.As(err, &he) && he.Code == harvesterr.CodeInternalError {
		return he
	}
	return &harvesterr.HarvestError{
		Code:     harvesterr.CodeInternalError,
		Message:  err.Error(),
		Cause:    err,
		ExitCode: harvesterr.ExitGeneral,
	}
}
