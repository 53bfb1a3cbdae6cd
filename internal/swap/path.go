package swap

import (
	"fmt"

	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// ProcessBuilder assembles a Process keeping steps and fees parallel.
type ProcessBuilder struct {
	steps []StepDetail
	fees  []FeeInfo
}

// NewProcess starts a process with the implicit zero-fee default step.
func NewProcess(feeToken string) *ProcessBuilder {
	return &ProcessBuilder{
		steps: []StepDetail{{ID: 0, Name: DefaultStepName, Type: StepDefault}},
		fees:  []FeeInfo{ZeroFee(feeToken)},
	}
}

// ZeroFee is a fee without components, payable in token.
func ZeroFee(token string) FeeInfo {
	return FeeInfo{
		FeeComponent:    []FeeComponent{},
		DefaultFeeToken: token,
		FeeOptions:      []string{token},
	}
}

// Add appends a step with its fee. Step IDs follow their position.
func (b *ProcessBuilder) Add(step StepDetail, fee FeeInfo) *ProcessBuilder {
	step.ID = len(b.steps)
	if fee.DefaultFeeToken != "" && !contains(fee.FeeOptions, fee.DefaultFeeToken) {
		fee.FeeOptions = append([]string{fee.DefaultFeeToken}, fee.FeeOptions...)
	}
	b.steps = append(b.steps, step)
	b.fees = append(b.fees, fee)
	return b
}

// Build returns the process.
func (b *ProcessBuilder) Build() *Process {
	return &Process{
		Steps:    append([]StepDetail(nil), b.steps...),
		TotalFee: append([]FeeInfo(nil), b.fees...),
	}
}

// DefaultProcess is the fallback [DEFAULT, SWAP] process paid in the source token.
func DefaultProcess(fromSlug string) *Process {
	return NewProcess(fromSlug).
		Add(StepDetail{Name: "Swap", Type: StepSwap}, ZeroFee(fromSlug)).
		Build()
}

// Validate checks the structural invariants of a process.
func (p *Process) Validate() error {
	if len(p.Steps) != len(p.TotalFee) {
		return fmt.Errorf("%w: %d steps but %d fees", harvesterr.ErrInternal, len(p.Steps), len(p.TotalFee))
	}
	if len(p.Steps) < 2 {
		return harvesterr.Tx(harvesterr.CodeInternalError, harvesterr.ErrProcessIncomplete.Message)
	}
	if p.Steps[0].Type != StepDefault || len(p.TotalFee[0].FeeComponent) != 0 {
		return fmt.Errorf("%w: process must start with a zero-fee default step", harvesterr.ErrInternal)
	}
	return nil
}

// HasStep reports whether the process contains a step of type t.
func (p *Process) HasStep(t StepType) bool {
	for _, s := range p.Steps {
		if s.Type == t {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
