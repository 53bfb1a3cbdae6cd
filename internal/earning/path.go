package earning

import (
	"fmt"

	"github.com/mrz1836/harvest/internal/chain"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// PathBuilder assembles an OptimalYieldPath keeping steps and fees parallel.
type PathBuilder struct {
	steps []StepDetail
	fees  []FeeInfo
}

// NewPath starts a path with the implicit zero-fee default step.
func NewPath(feeSlug string) *PathBuilder {
	return &PathBuilder{
		steps: []StepDetail{{ID: 0, Name: DefaultStepName, Type: StepDefault}},
		fees:  []FeeInfo{{Slug: feeSlug, Amount: chain.Balance{}}},
	}
}

// Add appends a step with its fee. Step IDs follow their position.
func (b *PathBuilder) Add(step StepDetail, fee FeeInfo) *PathBuilder {
	step.ID = len(b.steps)
	b.steps = append(b.steps, step)
	b.fees = append(b.fees, fee)
	return b
}

// Build returns the path.
func (b *PathBuilder) Build() *OptimalYieldPath {
	return &OptimalYieldPath{
		Steps:    append([]StepDetail(nil), b.steps...),
		TotalFee: append([]FeeInfo(nil), b.fees...),
	}
}

// Validate checks the structural invariants of a path.
func (p *OptimalYieldPath) Validate() error {
	if len(p.Steps) != len(p.TotalFee) {
		return fmt.Errorf("%w: %d steps but %d fees", harvesterr.ErrInternal, len(p.Steps), len(p.TotalFee))
	}
	if len(p.Steps) == 0 || p.Steps[0].Type != StepDefault || !p.TotalFee[0].Amount.IsZero() {
		return fmt.Errorf("%w: path must start with a zero-fee default step", harvesterr.ErrInternal)
	}
	return nil
}

// TotalFeeOf sums the fees of every step paid in slug.
func (p *OptimalYieldPath) TotalFeeOf(slug string) chain.Balance {
	total := chain.Balance{}
	for _, f := range p.TotalFee {
		if f.Slug == slug {
			total = total.Add(f.Amount)
		}
	}
	return total
}
