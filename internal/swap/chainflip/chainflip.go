// Package chainflip is the Chainflip cross-chain provider. A swap opens a
// deposit channel through the broker API and then transfers the source asset
// to the channel's deposit address.
package chainflip

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/chain/evm"
	"github.com/mrz1836/harvest/internal/swap"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

const (
	// DefaultBaseURL is the mainnet broker API.
	DefaultBaseURL = "https://chainflip-broker.io"
	// DefaultTestnetURL is the Perseverance testnet broker API.
	DefaultTestnetURL = "https://perseverance.chainflip-broker.io"
)

// DefaultChainNames maps chains to Chainflip network names.
//
//nolint:gochecknoglobals // fixed mapping
var DefaultChainNames = map[chain.ID]string{
	chain.Polkadot: "Polkadot",
	chain.Ethereum: "Ethereum",
}

// Compile-time interface check
var _ swap.Provider = (*Provider)(nil)

// AssetDirectory resolves assets by slug and by chain.
type AssetDirectory interface {
	Asset(slug string) (chain.Asset, error)
	AssetsOn(id chain.ID) []chain.Asset
}

// Options configures the provider.
type Options struct {
	Assets AssetDirectory
	Chains chain.ChainSource
	// Backends serve EVM source chains.
	Backends   map[chain.ID]evm.Backend
	ChainNames map[chain.ID]string
	Testnet    bool
	BaseURL    string
	HTTP       swap.HTTPOptions
	// QuoteTimeout defaults to swap.DefaultQuoteTimeout.
	QuoteTimeout time.Duration
	GasSpeed     evm.GasSpeed
	Logger       swap.LogWriter
	Now          func() time.Time
}

// Provider implements swap.Provider.
type Provider struct {
	opts   Options
	api    *swap.APIClient
	logger swap.LogWriter

	mu      sync.RWMutex
	ready   bool
	minimum map[string]chain.Balance
}

// New creates the provider.
func New(opts Options) *Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
		if opts.Testnet {
			opts.BaseURL = DefaultTestnetURL
		}
	}
	if opts.ChainNames == nil {
		opts.ChainNames = DefaultChainNames
	}
	if opts.QuoteTimeout <= 0 {
		opts.QuoteTimeout = swap.DefaultQuoteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = swap.NopLogger()
	}
	return &Provider{
		opts:    opts,
		api:     swap.NewAPIClient(opts.HTTP),
		logger:  logger,
		minimum: map[string]chain.Balance{},
	}
}

// Slug returns the provider id.
func (p *Provider) Slug() swap.ProviderID {
	if p.opts.Testnet {
		return swap.ProviderChainflipTestnet
	}
	return swap.ProviderChainflip
}

// Info returns the provider description.
func (p *Provider) Info() swap.ProviderInfo {
	name := "Chainflip"
	if p.opts.Testnet {
		name += " Testnet"
	}
	return swap.ProviderInfo{ID: p.Slug(), Name: name, FAQ: "https://docs.chainflip.io"}
}

type environment struct {
	MinimumDepositAmounts map[string]map[string]chain.Balance `json:"minimumDepositAmounts"`
}

// Init loads the minimum deposit amounts.
func (p *Provider) Init(ctx context.Context) error {
	p.mu.RLock()
	ready := p.ready
	p.mu.RUnlock()
	if ready {
		return nil
	}

	var env environment
	if err := p.api.GetJSON(ctx, p.endpoint("environment"), &env); err != nil {
		return fmt.Errorf("chainflip environment: %w", err)
	}
	minimum := make(map[string]chain.Balance)
	for network, assets := range env.MinimumDepositAmounts {
		for symbol, v := range assets {
			minimum[assetKey(network, symbol)] = v
		}
	}

	p.mu.Lock()
	p.minimum = minimum
	p.ready = true
	p.mu.Unlock()
	return nil
}

// IsReady reports whether Init completed.
func (p *Provider) IsReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.opts.BaseURL, "/") + "/" + path
}

func assetKey(network, symbol string) string {
	return strings.ToLower(network) + ":" + strings.ToUpper(symbol)
}

// minSwap returns the minimum deposit of an asset, if known.
func (p *Provider) minSwap(network string, a chain.Asset) (chain.Balance, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.minimum[assetKey(network, a.Symbol)]
	return v, ok
}

// route is a resolved pair with its Chainflip network names.
type route struct {
	from, to           chain.Asset
	srcChain, dstChain string
}

func (p *Provider) resolve(pair swap.Pair) (*route, error) {
	if p.opts.Assets == nil {
		return nil, harvesterr.Tx(harvesterr.CodeAssetNotSupported, "")
	}
	from, err := p.opts.Assets.Asset(pair.From)
	if err != nil {
		return nil, harvesterr.Tx(harvesterr.CodeAssetNotSupported, "")
	}
	to, err := p.opts.Assets.Asset(pair.To)
	if err != nil {
		return nil, harvesterr.Tx(harvesterr.CodeAssetNotSupported, "")
	}
	src, ok := p.opts.ChainNames[from.Chain]
	if !ok {
		return nil, harvesterr.Tx(harvesterr.CodeAssetNotSupported, "")
	}
	dst, ok := p.opts.ChainNames[to.Chain]
	if !ok || from.Slug == to.Slug {
		return nil, harvesterr.Tx(harvesterr.CodeAssetNotSupported, "")
	}
	return &route{from: from, to: to, srcChain: src, dstChain: dst}, nil
}

type includedFee struct {
	Type   string        `json:"type"`
	Chain  string        `json:"chain"`
	Asset  string        `json:"asset"`
	Amount chain.Balance `json:"amount"`
}

type quoteResponse struct {
	EgressAmount             chain.Balance `json:"egressAmount"`
	EstimatedDurationSeconds int64         `json:"estimatedDurationSeconds"`
	IncludedFees             []includedFee `json:"includedFees"`
	LowLiquidityWarning      bool          `json:"lowLiquidityWarning"`
}

// GetSwapQuote checks the minimum deposit and asks the broker for a quote.
func (p *Provider) GetSwapQuote(ctx context.Context, req *swap.Request) (*swap.Quote, error) {
	r, err := p.resolve(req.Pair)
	if err != nil {
		return nil, err
	}
	if err := swap.ValidateAmount(req.FromAmount); err != nil {
		return nil, err
	}
	minAmount, hasMin := p.minSwap(r.srcChain, r.from)
	if hasMin && req.FromAmount.Cmp(minAmount) < 0 {
		return nil, harvesterr.Txf(harvesterr.CodeNotMeetMinSwap, "Minimum swap amount is %s",
			chain.FormatBalance(minAmount, r.from.Decimals, r.from.Symbol))
	}

	q := url.Values{
		"srcChain":  {r.srcChain},
		"srcAsset":  {strings.ToUpper(r.from.Symbol)},
		"destChain": {r.dstChain},
		"destAsset": {strings.ToUpper(r.to.Symbol)},
		"amount":    {req.FromAmount.String()},
	}
	var resp quoteResponse
	if err := p.api.GetJSON(ctx, p.endpoint("quote")+"?"+q.Encode(), &resp); err != nil {
		p.logger.Error("chainflip quote: %v", err)
		return nil, harvesterr.Tx(harvesterr.CodeErrorFetchingQuote, "")
	}
	if resp.EgressAmount.Sign() <= 0 {
		return nil, harvesterr.Tx(harvesterr.CodeNotEnoughLiquidity, "")
	}

	quote := &swap.Quote{
		Pair:                 req.Pair,
		FromAmount:           req.FromAmount,
		ToAmount:             resp.EgressAmount,
		Rate:                 swap.Rate(req.FromAmount, resp.EgressAmount, r.from, r.to),
		Provider:             p.Info(),
		AliveUntil:           p.opts.Now().Add(p.opts.QuoteTimeout).UnixMilli(),
		Route:                swap.Route{Path: []string{r.from.Slug, r.to.Slug}},
		EstimatedArrivalTime: resp.EstimatedDurationSeconds,
		IsLowLiquidity:       resp.LowLiquidityWarning,
		FeeInfo:              p.feeInfo(r, resp.IncludedFees),
	}
	if hasMin {
		quote.MinSwap = &minAmount
	}
	return quote, nil
}

// feeInfo maps broker fees to components. Fees in unknown assets are dropped.
func (p *Provider) feeInfo(r *route, fees []includedFee) swap.FeeInfo {
	native := p.nativeSlug(r.from.Chain)
	info := swap.FeeInfo{
		FeeComponent:    []swap.FeeComponent{},
		DefaultFeeToken: native,
		FeeOptions:      []string{native},
	}
	for _, f := range fees {
		slug, ok := p.slugFor(f.Chain, f.Asset)
		if !ok {
			continue
		}
		// INGRESS and EGRESS are chain gas, NETWORK is the protocol fee.
		feeType := swap.FeeNetwork
		switch strings.ToUpper(f.Type) {
		case "LIQUIDITY", "BROKER", "NETWORK":
			feeType = swap.FeePlatform
		}
		info.FeeComponent = append(info.FeeComponent, swap.FeeComponent{FeeType: feeType, Amount: f.Amount, TokenSlug: slug})
	}
	return info
}

func (p *Provider) nativeSlug(id chain.ID) string {
	if p.opts.Chains != nil {
		if info, ok := p.opts.Chains.Info(id); ok {
			return info.NativeTokenSlug()
		}
	}
	for _, a := range p.opts.Assets.AssetsOn(id) {
		if a.IsNative() {
			return a.Slug
		}
	}
	return ""
}

func (p *Provider) slugFor(network, symbol string) (string, bool) {
	for id, name := range p.opts.ChainNames {
		if !strings.EqualFold(name, network) {
			continue
		}
		for _, a := range p.opts.Assets.AssetsOn(id) {
			if strings.EqualFold(a.Symbol, symbol) {
				return a.Slug, true
			}
		}
	}
	return "", false
}

// GenerateOptimalProcess returns [DEFAULT, SWAP].
func (p *Provider) GenerateOptimalProcess(_ context.Context, params *swap.ProcessParams) (*swap.Process, error) {
	if params == nil || params.SelectedQuote == nil {
		return nil, fmt.Errorf("%w: process without quote", harvesterr.ErrInternal)
	}
	quote := params.SelectedQuote
	return swap.NewProcess(quote.FeeInfo.DefaultFeeToken).
		Add(swap.StepDetail{Name: "Swap", Type: swap.StepSwap}, quote.FeeInfo).
		Build(), nil
}

// ValidateSwapProcess checks the quote, the minimum deposit and the recipient.
func (p *Provider) ValidateSwapProcess(_ context.Context, params *swap.ValidateParams) harvesterr.ErrorList {
	var errs harvesterr.ErrorList
	if params == nil || params.SelectedQuote == nil || params.Process == nil {
		errs.Add(harvesterr.Tx(harvesterr.CodeInternalError, ""))
		return errs
	}
	if err := params.Process.Validate(); err != nil {
		errs.Add(err)
		return errs
	}
	quote := params.SelectedQuote
	if quote.Expired(p.opts.Now()) {
		errs.Add(harvesterr.Tx(harvesterr.CodeQuoteTimeout, ""))
	}
	if quote.MinSwap != nil && quote.FromAmount.Cmp(*quote.MinSwap) < 0 {
		errs.Add(harvesterr.Tx(harvesterr.CodeNotMeetMinSwap, ""))
	}
	r, err := p.resolve(quote.Pair)
	if err != nil {
		errs.Add(err)
		return errs
	}
	if _, err := p.recipient(r, params.Address, params.Recipient); err != nil {
		errs.Add(err)
	}
	return errs
}

// recipient picks the destination address. The sender is used when it fits
// the destination chain.
func (p *Provider) recipient(r *route, sender, recipient string) (string, error) {
	dest := chain.Info{Slug: r.to.Chain, EVM: r.to.Chain == chain.Ethereum}
	if p.opts.Chains != nil {
		if info, ok := p.opts.Chains.Info(r.to.Chain); ok {
			dest = info
		}
	}
	if recipient == "" {
		recipient = sender
	}
	if !chain.ValidateAddress(dest, recipient) {
		return "", harvesterr.Tx(harvesterr.CodeInvalidRecipient, "Recipient address does not match the destination network")
	}
	return recipient, nil
}

// HandleSwapProcess builds the transaction of the current step.
func (p *Provider) HandleSwapProcess(ctx context.Context, params *swap.SubmitParams) (*swap.StepData, error) {
	return swap.Dispatch(ctx, params, swap.StepHandlers{Swap: p.submit})
}

type channelRequest struct {
	SrcChain    string `json:"srcChain"`
	SrcAsset    string `json:"srcAsset"`
	DestChain   string `json:"destChain"`
	DestAsset   string `json:"destAsset"`
	DestAddress string `json:"destAddress"`
	Amount      string `json:"amount"`
}

// channel is an opened deposit channel.
type channel struct {
	ID             string `json:"id"`
	DepositAddress string `json:"depositAddress"`
	ExpiryBlock    uint64 `json:"srcChainExpiryBlock"`
}

// openChannel requests a deposit channel for the quote.
func (p *Provider) openChannel(ctx context.Context, r *route, amount chain.Balance, dest string) (*channel, error) {
	var ch channel
	err := p.api.PostJSON(ctx, p.endpoint("channel"), channelRequest{
		SrcChain:    r.srcChain,
		SrcAsset:    strings.ToUpper(r.from.Symbol),
		DestChain:   r.dstChain,
		DestAsset:   strings.ToUpper(r.to.Symbol),
		DestAddress: dest,
		Amount:      amount.String(),
	}, &ch)
	if err != nil {
		return nil, err
	}
	if ch.DepositAddress == "" {
		return nil, fmt.Errorf("%w: broker returned no deposit address", harvesterr.ErrSwapUnknown)
	}
	return &ch, nil
}

func (p *Provider) submit(ctx context.Context, params *swap.SubmitParams) (*swap.StepData, error) {
	if params.Quote == nil {
		return nil, fmt.Errorf("%w: submission without quote", harvesterr.ErrInternal)
	}
	r, err := p.resolve(params.Quote.Pair)
	if err != nil {
		return nil, err
	}
	dest, err := p.recipient(r, params.Address, params.Recipient)
	if err != nil {
		return nil, err
	}
	ch, err := p.openChannel(ctx, r, params.Quote.FromAmount, dest)
	if err != nil {
		p.logger.Error("chainflip channel: %v", err)
		return nil, err
	}
	p.logger.Debug("chainflip channel %s opened", ch.ID)

	data := &swap.StepData{
		TxChain: r.from.Chain,
		TxData:  params.SwapTxData(p.Info()),
		Type:    swap.TxSwap,
	}
	data.TxData.DepositChannelID = ch.ID
	data.TxData.DepositAddress = ch.DepositAddress
	data.TxData.Recipient = dest

	if backend, ok := p.opts.Backends[r.from.Chain]; ok {
		tx, native, err := p.evmTransfer(ctx, backend, r.from, params.Address, ch.DepositAddress, params.Quote.FromAmount)
		if err != nil {
			return nil, err
		}
		data.Transaction, data.TransferNativeAmount, data.ChainType = tx, native, swap.ChainEVM
		return data, nil
	}

	ext, err := p.substrateTransfer(ctx, r.from, ch.DepositAddress, params.Quote.FromAmount)
	if err != nil {
		return nil, err
	}
	data.Transaction, data.ChainType = ext, swap.ChainSubstrate
	if r.from.IsNative() {
		data.TransferNativeAmount = params.Quote.FromAmount
	}
	return data, nil
}

func (p *Provider) evmTransfer(ctx context.Context, backend evm.Backend, asset chain.Asset, from, to string, amount chain.Balance) (*evm.UnsignedTx, chain.Balance, error) {
	if !chain.IsEVMAddress(from) || !chain.IsEVMAddress(to) {
		return nil, chain.Balance{}, harvesterr.Tx(harvesterr.CodeInvalidParams, "Sender and deposit address must be EVM addresses")
	}
	req := evm.TxRequest{From: common.HexToAddress(from)}
	var native chain.Balance
	if asset.IsNative() {
		req.To = common.HexToAddress(to)
		req.Value = amount.Big()
		req.FallbackGas = evm.GasLimitTransfer
		native = amount
	} else {
		data, err := evm.TransferData(common.HexToAddress(to), amount.Big())
		if err != nil {
			return nil, chain.Balance{}, fmt.Errorf("%w: %w", harvesterr.ErrInternal, err)
		}
		req.To = common.HexToAddress(asset.ContractAddress)
		req.Data = data
		req.FallbackGas = evm.GasLimitERC20Transfer
	}
	tx, err := evm.BuildTx(ctx, backend, req, p.opts.GasSpeed)
	if err != nil {
		return nil, chain.Balance{}, err
	}
	return tx, native, nil
}

func (p *Provider) substrateTransfer(ctx context.Context, asset chain.Asset, to string, amount chain.Balance) (*chain.Extrinsic, error) {
	if p.opts.Chains == nil {
		return nil, harvesterr.Tx(harvesterr.CodeNetworkLost, "")
	}
	conn, ok := p.opts.Chains.Connection(asset.Chain)
	if !ok || conn == nil {
		return nil, harvesterr.Tx(harvesterr.CodeNetworkLost, "")
	}
	api, err := chain.WaitReady(ctx, conn)
	if err != nil {
		return nil, err
	}
	if asset.IsNative() {
		return api.Tx("balances", "transferKeepAlive", to, amount)
	}
	return api.Tx("assets", "transferKeepAlive", asset.AssetID, to, amount)
}
