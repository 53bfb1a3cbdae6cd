package earning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrz1836/harvest/internal/chain"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// PoolKind selects the on-chain accounting model behind a Handler.
type PoolKind string

// Pool kinds.
const (
	KindRelayChain     PoolKind = "relaychain"
	KindParachain      PoolKind = "parachain"
	KindDappStaking    PoolKind = "dappstaking"
	KindNominationPool PoolKind = "nominationpool"
	KindLiquidStaking  PoolKind = "liquidstaking"
	KindLending        PoolKind = "lending"
)

// AllKinds lists every supported kind.
func AllKinds() []PoolKind {
	return []PoolKind{KindRelayChain, KindParachain, KindDappStaking, KindNominationPool, KindLiquidStaking, KindLending}
}

// ParseKind parses a kind name.
func ParseKind(s string) (PoolKind, error) {
	k := PoolKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllKinds() {
		if k == known {
			return k, nil
		}
	}
	return "", harvesterr.WithDetails(harvesterr.ErrInvalidParams, map[string]string{"kind": s})
}

// LogWriter provides logging capabilities.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// DappInfo is the off-chain description of a dapp staking target.
type DappInfo struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Icon     string `json:"iconUrl"`
	Verified bool   `json:"verified"`
}

// Identity is the off-chain display identity of a validator.
type Identity struct {
	Display  string `json:"display"`
	Verified bool   `json:"verified"`
}

// MetadataSource serves best-effort descriptive overlays.
type MetadataSource interface {
	Dapps(ctx context.Context, chainID chain.ID) ([]DappInfo, error)
	Identities(ctx context.Context, chainID chain.ID, addresses []string) (map[string]Identity, error)
	YieldAPY(ctx context.Context, poolSlug string) (float64, bool, error)
}

// DefaultMetadataTimeout bounds every off-chain overlay call.
const DefaultMetadataTimeout = 3 * time.Second

// Env is everything a Handler needs from its surroundings.
type Env struct {
	Chain chain.Info
	Conn  chain.Connection

	// InputAsset defaults to the chain's native token.
	InputAsset chain.Asset
	// DerivativeAsset is the vToken/qToken of liquid staking and lending pools.
	DerivativeAsset chain.Asset

	Metadata        MetadataSource
	MetadataTimeout time.Duration
	Logger          LogWriter
	Now             func() time.Time
}

func (e *Env) logger() LogWriter {
	if e.Logger == nil {
		return nopLogger{}
	}
	return e.Logger
}

func (e *Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Scope is passed to every Ops function.
type Scope struct {
	*Env
	API chain.API
	// Slug is the pool slug of the calling handler.
	Slug string
}

// Log returns the environment logger, never nil.
func (s *Scope) Log() LogWriter {
	return s.logger()
}

// Time returns the current time from the environment clock.
func (s *Scope) Time() time.Time {
	return s.now()
}

// InputSlug returns the slug of the token staked in the pool.
func (s *Scope) InputSlug() string {
	if s.InputAsset.Slug != "" {
		return s.InputAsset.Slug
	}
	return s.Chain.NativeTokenSlug()
}

// Overlay runs fn against the metadata source under the metadata timeout.
// It reports false when no source is configured, fn failed or the timeout
// won. Overlay returns only after fn does, so fn may write to the caller's
// variables; fn must honour ctx.
func (s *Scope) Overlay(ctx context.Context, what string, fn func(ctx context.Context, src MetadataSource) error) bool {
	if s.Metadata == nil {
		return false
	}
	timeout := s.MetadataTimeout
	if timeout <= 0 {
		timeout = DefaultMetadataTimeout
	}
	octx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(octx)
	g.Go(func() error { return fn(gctx, s.Metadata) })
	err := g.Wait()
	if err == nil && octx.Err() != nil {
		err = octx.Err()
	}
	if err != nil {
		s.Log().Error("%s overlay for %s: %v", what, s.Chain.Slug, err)
		return false
	}
	return true
}

// StorageRef names one storage item.
type StorageRef struct {
	Section string
	Storage string
	Args    []any
}

func (r StorageRef) String() string {
	return r.Section + "." + r.Storage
}

// Ops is the per-kind function table. A nil action means the pool type has
// no such primitive and the Handler answers UNSUPPORTED.
type Ops struct {
	Kind PoolKind
	Type YieldPoolType

	// Metadata describes the pool.
	Metadata func(s *Scope) PoolMetadata

	// InfoTrigger is subscribed; every push recomputes the statistic with Info.
	// InfoArgs, when set, supplies trigger arguments that depend on the env.
	InfoTrigger StorageRef
	InfoArgs    func(s *Scope) []any
	Info        func(ctx context.Context, s *Scope) (*Statistic, error)

	// PositionStorage is subscribed once for all addresses, keyed by PositionKey.
	PositionStorage StorageRef
	PositionKey     func(s *Scope, address string) any
	// Positions derives one position per address from one push. A nil entry
	// means the address is not staking.
	Positions func(ctx context.Context, s *Scope, addresses []string, values []chain.Codec) ([]*YieldPositionInfo, error)

	Rewards func(ctx context.Context, s *Scope, addresses []string) ([]EarningRewardItem, error)
	Targets func(ctx context.Context, s *Scope, stat *Statistic) ([]ValidatorInfo, error)

	// ValidateJoin adds kind-specific checks on top of the shared ones.
	ValidateJoin func(ctx context.Context, s *Scope, req *JoinRequest, stat *Statistic, pos *YieldPositionInfo) harvesterr.ErrorList
	JoinStep     StepDetail
	BuildJoin    func(ctx context.Context, s *Scope, req *JoinRequest, pos *YieldPositionInfo) (*chain.Extrinsic, ExtrinsicType, error)

	ValidateLeave func(ctx context.Context, s *Scope, req *LeaveRequest, stat *Statistic, pos *YieldPositionInfo) harvesterr.ErrorList
	Unstake       func(ctx context.Context, s *Scope, req *LeaveRequest, pos *YieldPositionInfo) (*chain.Extrinsic, ExtrinsicType, error)
	Withdraw      func(ctx context.Context, s *Scope, req *WithdrawRequest, pos *YieldPositionInfo) (*chain.Extrinsic, error)
	CancelUnstake func(ctx context.Context, s *Scope, req *CancelUnstakeRequest, pos *YieldPositionInfo) (*chain.Extrinsic, error)
	ClaimReward   func(ctx context.Context, s *Scope, req *ClaimRequest, pos *YieldPositionInfo) (*chain.Extrinsic, error)
}

func (o *Ops) validate() error {
	switch {
	case o.Kind == "":
		return fmt.Errorf("%w: ops without kind", harvesterr.ErrInternal)
	case o.Info == nil || o.InfoTrigger.Section == "":
		return fmt.Errorf("%w: %s ops without pool info", harvesterr.ErrInternal, o.Kind)
	case o.Positions == nil || o.PositionStorage.Section == "":
		return fmt.Errorf("%w: %s ops without positions", harvesterr.ErrInternal, o.Kind)
	case o.BuildJoin == nil:
		return fmt.Errorf("%w: %s ops without join", harvesterr.ErrInternal, o.Kind)
	}
	return nil
}

// Slug builds the stable pool slug "<SYMBOL>___<type>___<chain>".
func Slug(symbol string, poolType YieldPoolType, chainID chain.ID) string {
	return symbol + "___" + strings.ToLower(string(poolType)) + "___" + string(chainID)
}
