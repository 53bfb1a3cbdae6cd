// Package stellaswap is the StellaSwap aggregator provider on Moonbeam.
// Quotes come from the aggregator API, submission is an EVM call to the
// aggregator router preceded by an ERC-20 approval when the allowance is short.
package stellaswap

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
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
	// DefaultBaseURL is the aggregator API.
	DefaultBaseURL = "https://aggregator-api.stellaswap.com/api/v1"

	// DefaultRouter is the aggregator router contract.
	DefaultRouter = "0xeb70c2E0c0DCD6A6187D75b55AFc25b3B3ebE5a2"

	// nativeTokenAddress is how the aggregator names the native token.
	nativeTokenAddress = "ETH"
)

// fallbackNetworkFee is used when fee history cannot be read.
var fallbackNetworkFee = chain.MustBalance("100000000000000")

// Compile-time interface check
var _ swap.Provider = (*Provider)(nil)

// AssetDirectory resolves the assets a provider can route through.
type AssetDirectory interface {
	Asset(slug string) (chain.Asset, error)
	AssetsOn(id chain.ID) []chain.Asset
}

// Options configures the provider.
type Options struct {
	Chain   chain.Info
	Assets  AssetDirectory
	Testnet bool
	BaseURL string
	Router  string
	// Backend is used as-is. Without one, Init dials RPCURL.
	Backend evm.Backend
	RPCURL  string
	HTTP    swap.HTTPOptions
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
	router common.Address
	logger swap.LogWriter

	mu      sync.RWMutex
	backend evm.Backend
	ready   bool
}

// New creates the provider.
func New(opts Options) *Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Router == "" {
		opts.Router = DefaultRouter
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
		router:  common.HexToAddress(opts.Router),
		logger:  logger,
		backend: opts.Backend,
	}
}

// Slug returns the provider id.
func (p *Provider) Slug() swap.ProviderID {
	if p.opts.Testnet {
		return swap.ProviderStellaswapTestnet
	}
	return swap.ProviderStellaswap
}

// Info returns the provider description.
func (p *Provider) Info() swap.ProviderInfo {
	name := "StellaSwap"
	if p.opts.Testnet {
		name += " Testnet"
	}
	return swap.ProviderInfo{ID: p.Slug(), Name: name}
}

// Init connects the EVM backend.
func (p *Provider) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}
	if p.backend == nil && p.opts.RPCURL != "" {
		client, err := evm.Dial(ctx, p.opts.RPCURL)
		if err != nil {
			return err
		}
		p.backend = client
	}
	p.ready = true
	return nil
}

// IsReady reports whether Init completed.
func (p *Provider) IsReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

func (p *Provider) evmBackend() evm.Backend {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.backend
}

type quoteResponse struct {
	IsSuccess bool        `json:"isSuccess"`
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Result    quoteResult `json:"result"`
}

type quoteResult struct {
	AmountOutOriginal chain.Balance `json:"amountOutOriginal"`
	Execution         *Execution    `json:"execution"`
	Trades            []trade       `json:"trades"`
}

type trade struct {
	Path     []string `json:"path"`
	Protocol string   `json:"protocol"`
}

// Execution is the router program returned with a quote.
type Execution struct {
	Commands string   `json:"commands"`
	Inputs   []string `json:"inputs"`
}

// GetSwapQuote asks the aggregator for a quote.
func (p *Provider) GetSwapQuote(ctx context.Context, req *swap.Request) (*swap.Quote, error) {
	from, to, err := p.validateRequest(req)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/quote/%s/%s/%s/%s/%s",
		strings.TrimRight(p.opts.BaseURL, "/"),
		url.PathEscape(tokenAddress(from)),
		url.PathEscape(tokenAddress(to)),
		req.FromAmount.String(),
		url.PathEscape(req.Address),
		strconv.FormatFloat(req.Slippage*100, 'f', -1, 64),
	)
	var resp quoteResponse
	if err := p.api.GetJSON(ctx, endpoint, &resp); err != nil {
		p.logger.Error("stellaswap quote: %v", err)
		return nil, harvesterr.Tx(harvesterr.CodeErrorFetchingQuote, "")
	}
	if !resp.IsSuccess || resp.Result.AmountOutOriginal.Sign() <= 0 {
		p.logger.Debug("stellaswap quote rejected: %d %s", resp.Code, resp.Message)
		return nil, harvesterr.Tx(harvesterr.CodeErrorFetchingQuote, "")
	}

	var hops []string
	if len(resp.Result.Trades) > 0 {
		hops = resp.Result.Trades[0].Path
	}
	native := p.opts.Chain.NativeTokenSlug()
	fee := p.networkFee(ctx, evm.GasLimitSwap)

	return &swap.Quote{
		Pair:       req.Pair,
		FromAmount: req.FromAmount,
		ToAmount:   resp.Result.AmountOutOriginal,
		Rate:       swap.Rate(req.FromAmount, resp.Result.AmountOutOriginal, from, to),
		Provider:   p.Info(),
		AliveUntil: p.opts.Now().Add(p.opts.QuoteTimeout).UnixMilli(),
		Route:      swap.Route{Path: p.parsePath(from.Slug, to.Slug, hops)},
		FeeInfo: swap.FeeInfo{
			FeeComponent:    []swap.FeeComponent{{FeeType: swap.FeeNetwork, Amount: fee, TokenSlug: native}},
			DefaultFeeToken: native,
			FeeOptions:      []string{native},
		},
		Metadata: resp.Result.Execution,
	}, nil
}

// validateRequest checks both assets live on the provider chain.
func (p *Provider) validateRequest(req *swap.Request) (chain.Asset, chain.Asset, error) {
	if p.opts.Assets == nil {
		return chain.Asset{}, chain.Asset{}, harvesterr.Tx(harvesterr.CodeAssetNotSupported, "")
	}
	from, err := p.opts.Assets.Asset(req.Pair.From)
	if err != nil {
		return chain.Asset{}, chain.Asset{}, harvesterr.Tx(harvesterr.CodeAssetNotSupported, "")
	}
	to, err := p.opts.Assets.Asset(req.Pair.To)
	if err != nil {
		return chain.Asset{}, chain.Asset{}, harvesterr.Tx(harvesterr.CodeAssetNotSupported, "")
	}
	if from.Chain != p.opts.Chain.Slug || to.Chain != p.opts.Chain.Slug {
		return chain.Asset{}, chain.Asset{}, harvesterr.Tx(harvesterr.CodeAssetNotSupported, "")
	}
	if (from.IsSmartContract() && from.ContractAddress == "") || (to.IsSmartContract() && to.ContractAddress == "") {
		return chain.Asset{}, chain.Asset{}, harvesterr.Tx(harvesterr.CodeSwapUnknown, "")
	}
	if err := swap.ValidateAmount(req.FromAmount); err != nil {
		return chain.Asset{}, chain.Asset{}, err
	}
	if err := swap.ValidateRecipient(req.Recipient, p.opts.Chain); err != nil {
		return chain.Asset{}, chain.Asset{}, err
	}
	return from, to, nil
}

func tokenAddress(a chain.Asset) string {
	if a.IsNative() {
		return nativeTokenAddress
	}
	return a.ContractAddress
}

// parsePath maps router hops to asset slugs. Unknown contracts are skipped and
// the path always ends at the destination.
func (p *Provider) parsePath(fromSlug, toSlug string, hops []string) []string {
	bySlug := map[string]string{strings.ToLower(nativeTokenAddress): p.opts.Chain.NativeTokenSlug()}
	for _, a := range p.opts.Assets.AssetsOn(p.opts.Chain.Slug) {
		if a.ContractAddress != "" {
			bySlug[strings.ToLower(a.ContractAddress)] = a.Slug
		}
	}

	path := []string{fromSlug}
	seen := map[string]bool{fromSlug: true}
	for _, hop := range hops {
		slug, ok := bySlug[strings.ToLower(hop)]
		if !ok || seen[slug] {
			continue
		}
		seen[slug] = true
		path = append(path, slug)
	}
	if path[len(path)-1] != toSlug {
		path = append(path, toSlug)
	}
	return path
}

// networkFee estimates the cost of gasLimit at the configured speed.
func (p *Provider) networkFee(ctx context.Context, gasLimit uint64) chain.Balance {
	backend := p.evmBackend()
	if backend == nil {
		return fallbackNetworkFee
	}
	fee, err := evm.CalculateGasFeeParams(ctx, backend)
	if err != nil {
		p.logger.Debug("stellaswap fee estimate: %v", err)
		return fallbackNetworkFee
	}
	return chain.BalanceFromBig(fee.Cost(gasLimit, p.opts.GasSpeed))
}

// GenerateOptimalProcess returns [DEFAULT, TOKEN_APPROVAL?, SWAP].
func (p *Provider) GenerateOptimalProcess(ctx context.Context, params *swap.ProcessParams) (*swap.Process, error) {
	if params == nil || params.SelectedQuote == nil || params.Request == nil {
		return nil, fmt.Errorf("%w: process without quote", harvesterr.ErrInternal)
	}
	quote := params.SelectedQuote
	native := p.opts.Chain.NativeTokenSlug()
	b := swap.NewProcess(native)

	from, err := p.opts.Assets.Asset(quote.Pair.From)
	if err != nil {
		return nil, harvesterr.Tx(harvesterr.CodeAssetNotSupported, "")
	}
	need, err := p.needsApproval(ctx, from, params.Request.Address, quote.FromAmount)
	if err != nil {
		return nil, err
	}
	if need {
		fee := p.networkFee(ctx, evm.GasLimitERC20Approve)
		b.Add(swap.StepDetail{
			Name: "Approve token for swap",
			Type: swap.StepTokenApproval,
			Metadata: map[string]any{
				"tokenApprove":    from.Slug,
				"contractAddress": p.router.Hex(),
			},
		}, swap.FeeInfo{
			FeeComponent:    []swap.FeeComponent{{FeeType: swap.FeeNetwork, Amount: fee, TokenSlug: native}},
			DefaultFeeToken: native,
			FeeOptions:      []string{native},
		})
	}
	b.Add(swap.StepDetail{Name: "Swap", Type: swap.StepSwap}, quote.FeeInfo)
	return b.Build(), nil
}

func (p *Provider) needsApproval(ctx context.Context, from chain.Asset, owner string, amount chain.Balance) (bool, error) {
	backend := p.evmBackend()
	if !from.IsSmartContract() || backend == nil || !chain.IsEVMAddress(owner) {
		return false, nil
	}
	allowance, err := evm.Allowance(ctx, backend,
		common.HexToAddress(from.ContractAddress), common.HexToAddress(owner), p.router)
	if err != nil {
		return false, fmt.Errorf("%w: %w", harvesterr.ErrNetworkError, err)
	}
	return allowance.Cmp(amount.Big()) < 0, nil
}

// ValidateSwapProcess checks the quote, the recipient and the source balance.
func (p *Provider) ValidateSwapProcess(ctx context.Context, params *swap.ValidateParams) harvesterr.ErrorList {
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
	if err := swap.ValidateRecipient(params.Recipient, p.opts.Chain); err != nil {
		errs.Add(err)
	}

	from, err := p.opts.Assets.Asset(quote.Pair.From)
	if err != nil {
		errs.Add(harvesterr.Tx(harvesterr.CodeAssetNotSupported, ""))
		return errs
	}
	balance, ok, err := p.balance(ctx, from, params.Address)
	switch {
	case err != nil:
		errs.Add(err)
	case ok:
		need := quote.FromAmount
		if from.IsNative() {
			need = need.Add(quote.FeeInfo.Total(from.Slug))
		}
		if balance.Cmp(need) < 0 {
			errs.Add(harvesterr.Tx(harvesterr.CodeSwapNotEnoughBalance, ""))
		}
	}
	return errs
}

// balance reads the source balance. ok is false when no backend is connected.
func (p *Provider) balance(ctx context.Context, asset chain.Asset, owner string) (chain.Balance, bool, error) {
	backend := p.evmBackend()
	if backend == nil || !chain.IsEVMAddress(owner) {
		return chain.Balance{}, false, nil
	}
	account := common.HexToAddress(owner)
	var (
		v   *big.Int
		err error
	)
	if asset.IsNative() {
		v, err = backend.BalanceAt(ctx, account, nil)
	} else {
		v, err = evm.BalanceOf(ctx, backend, common.HexToAddress(asset.ContractAddress), account)
	}
	if err != nil {
		return chain.Balance{}, false, fmt.Errorf("%w: %w", harvesterr.ErrNetworkError, err)
	}
	return chain.BalanceFromBig(v), true, nil
}

// HandleSwapProcess builds the transaction of the current step.
func (p *Provider) HandleSwapProcess(ctx context.Context, params *swap.SubmitParams) (*swap.StepData, error) {
	return swap.Dispatch(ctx, params, swap.StepHandlers{
		Approve: p.approve,
		Swap:    p.submit,
	})
}

func (p *Provider) approve(ctx context.Context, params *swap.SubmitParams) (*swap.StepData, error) {
	backend, from, err := p.submitContext(params)
	if err != nil {
		return nil, err
	}
	data, err := evm.ApproveData(p.router, params.Quote.FromAmount.Big())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", harvesterr.ErrInternal, err)
	}
	tx, err := evm.BuildTx(ctx, backend, evm.TxRequest{
		From:        common.HexToAddress(params.Address),
		To:          common.HexToAddress(from.ContractAddress),
		Data:        data,
		FallbackGas: evm.GasLimitERC20Approve,
	}, p.opts.GasSpeed)
	if err != nil {
		return nil, err
	}
	return &swap.StepData{
		TxChain:     p.opts.Chain.Slug,
		TxData:      params.SwapTxData(p.Info()),
		Transaction: tx,
		Type:        swap.TxTokenApproval,
		ChainType:   swap.ChainEVM,
	}, nil
}

func (p *Provider) submit(ctx context.Context, params *swap.SubmitParams) (*swap.StepData, error) {
	backend, from, err := p.submitContext(params)
	if err != nil {
		return nil, err
	}
	exec, err := decodeExecution(params.Quote.Metadata)
	if err != nil {
		return nil, err
	}
	deadline := big.NewInt(params.Quote.AliveUntil / 1000)
	data, err := ExecuteData(exec, deadline)
	if err != nil {
		return nil, err
	}

	var value chain.Balance
	if from.IsNative() {
		value = params.Quote.FromAmount
	}
	tx, err := evm.BuildTx(ctx, backend, evm.TxRequest{
		From:        common.HexToAddress(params.Address),
		To:          p.router,
		Value:       value.Big(),
		Data:        data,
		FallbackGas: evm.GasLimitSwap,
	}, p.opts.GasSpeed)
	if err != nil {
		return nil, err
	}
	return &swap.StepData{
		TxChain:              p.opts.Chain.Slug,
		TxData:               params.SwapTxData(p.Info()),
		Transaction:          tx,
		TransferNativeAmount: value,
		Type:                 swap.TxSwap,
		ChainType:            swap.ChainEVM,
	}, nil
}

func (p *Provider) submitContext(params *swap.SubmitParams) (evm.Backend, chain.Asset, error) {
	if params.Quote == nil {
		return nil, chain.Asset{}, fmt.Errorf("%w: submission without quote", harvesterr.ErrInternal)
	}
	backend := p.evmBackend()
	if backend == nil {
		return nil, chain.Asset{}, harvesterr.Tx(harvesterr.CodeNetworkLost, "")
	}
	if !chain.IsEVMAddress(params.Address) {
		return nil, chain.Asset{}, harvesterr.Tx(harvesterr.CodeInvalidParams, "Sender is not an EVM address")
	}
	from, err := p.opts.Assets.Asset(params.Quote.Pair.From)
	if err != nil {
		return nil, chain.Asset{}, harvesterr.Tx(harvesterr.CodeAssetNotSupported, "")
	}
	return backend, from, nil
}

// decodeExecution accepts the typed metadata or its JSON form.
func decodeExecution(meta any) (*Execution, error) {
	switch v := meta.(type) {
	case *Execution:
		if v != nil {
			return v, nil
		}
	case nil:
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: quote metadata: %w", harvesterr.ErrInternal, err)
		}
		var exec Execution
		if err := json.Unmarshal(raw, &exec); err != nil {
			return nil, fmt.Errorf("%w: quote metadata: %w", harvesterr.ErrInternal, err)
		}
		return &exec, nil
	}
	return nil, fmt.Errorf("%w: quote carries no router program", harvesterr.ErrInternal)
}
