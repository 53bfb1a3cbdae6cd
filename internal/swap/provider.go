package swap

import (
	"context"
	"fmt"

	"github.com/mrz1836/harvest/internal/chain"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// Executor validates and submits process steps.
type Executor interface {
	ValidateSwapProcess(ctx context.Context, params *ValidateParams) harvesterr.ErrorList
	HandleSwapProcess(ctx context.Context, params *SubmitParams) (*StepData, error)
}

// Provider is one liquidity provider.
type Provider interface {
	Executor

	Slug() ProviderID
	Info() ProviderInfo
	// Init prepares the provider. It is called lazily before the first quote.
	Init(ctx context.Context) error
	IsReady() bool
	GetSwapQuote(ctx context.Context, req *Request) (*Quote, error)
	GenerateOptimalProcess(ctx context.Context, params *ProcessParams) (*Process, error)
}

// LogWriter provides logging capabilities.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// NopLogger returns a logger that discards everything.
func NopLogger() LogWriter { return nopLogger{} }

// StepFunc builds the transaction of one step.
type StepFunc func(ctx context.Context, params *SubmitParams) (*StepData, error)

// StepHandlers maps the submittable step types to their builders.
// A nil Approve makes TOKEN_APPROVAL steps unsupported.
type StepHandlers struct {
	Approve StepFunc
	Swap    StepFunc
}

// Dispatch routes the current step of params to its builder.
func Dispatch(ctx context.Context, params *SubmitParams, h StepHandlers) (*StepData, error) {
	step, err := params.Step()
	if err != nil {
		return nil, err
	}
	switch step.Type {
	case StepDefault, StepSetFeeToken:
		return nil, harvesterr.Txf(harvesterr.CodeUnsupported, "step %q cannot be submitted", step.Type)
	case StepXCM:
		return nil, harvesterr.Tx(harvesterr.CodeInternalError, "")
	case StepTokenApproval:
		if h.Approve == nil {
			return nil, harvesterr.Txf(harvesterr.CodeUnsupported, "step %q cannot be submitted", step.Type)
		}
		return h.Approve(ctx, params)
	}
	if h.Swap == nil {
		return nil, harvesterr.Tx(harvesterr.CodeInternalError, "")
	}
	return h.Swap(ctx, params)
}

// Step returns the step being submitted.
func (p *SubmitParams) Step() (StepDetail, error) {
	if p.Process == nil || p.CurrentStep < 0 || p.CurrentStep >= len(p.Process.Steps) {
		return StepDetail{}, fmt.Errorf("%w: step %d out of range", harvesterr.ErrInternal, p.CurrentStep)
	}
	return p.Process.Steps[p.CurrentStep], nil
}

// SwapTxData returns the provider context of a swap step.
func (p *SubmitParams) SwapTxData(info ProviderInfo) TxData {
	return TxData{
		Provider:  info,
		Quote:     p.Quote,
		Address:   p.Address,
		Slippage:  p.Slippage,
		Recipient: p.Recipient,
	}
}

// ValidateAmount rejects empty or negative swap amounts.
func ValidateAmount(amount chain.Balance) error {
	if amount.Sign() <= 0 {
		return harvesterr.Tx(harvesterr.CodeAmountCannotBeZero, "")
	}
	return nil
}

// ValidateRecipient rejects a recipient that is not an address of the
// destination chain. An empty recipient means the sender.
func ValidateRecipient(recipient string, dest chain.Info) error {
	if recipient == "" {
		return nil
	}
	if !chain.ValidateAddress(dest, recipient) {
		return harvesterr.Tx(harvesterr.CodeInvalidRecipient, "Recipient address does not match the destination network")
	}
	return nil
}

// Rate is the destination units received per source unit.
func Rate(fromAmount, toAmount chain.Balance, from, to chain.Asset) float64 {
	in := chain.ToDecimal(fromAmount, from.Decimals)
	if in.IsZero() {
		return 0
	}
	f, _ := chain.ToDecimal(toAmount, to.Decimals).Div(in).Float64()
	return f
}
