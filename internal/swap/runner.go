package swap

import (
	"context"
	"fmt"

	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

// Signer signs and broadcasts one step transaction and returns its hash.
type Signer interface {
	Sign(ctx context.Context, data *StepData) (string, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, data *StepData) (string, error)

// Sign calls f.
func (f SignerFunc) Sign(ctx context.Context, data *StepData) (string, error) {
	return f(ctx, data)
}

// Job is one process submission.
type Job struct {
	Process   *Process
	Quote     *Quote
	Address   string
	Slippage  float64
	Recipient string
}

// Result is the outcome of a run. TxIDs holds one hash per submitted step.
type Result struct {
	State State
	TxIDs []string
}

// Runner drives a process step by step. Step 0 validates, every later step
// is built by the executor and signed in order.
type Runner struct {
	exec   Executor
	signer Signer
	logger LogWriter

	// OnChange observes every state transition.
	OnChange func(State)
}

// NewRunner creates a runner.
func NewRunner(exec Executor, signer Signer, logger LogWriter) *Runner {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Runner{exec: exec, signer: signer, logger: logger}
}

// Run submits job until every step completes or one fails. A failure on
// step 1 rolls the process back to the start; later failures keep the
// completed steps.
func (r *Runner) Run(ctx context.Context, job *Job) (*Result, error) {
	if job == nil || job.Process == nil {
		return nil, fmt.Errorf("%w: nothing to run", harvesterr.ErrInternal)
	}
	if err := job.Process.Validate(); err != nil {
		return nil, err
	}

	res := &Result{}
	state := r.apply(State{}, Action{Type: ActionCreate, Process: job.Process})

	for !state.Done() {
		if err := ctx.Err(); err != nil {
			state = r.apply(state, Action{Type: ActionError, Err: err})
			res.State = state
			return res, err
		}

		step := state.CurrentStep
		state = r.apply(state, Action{Type: ActionSubmit})

		if step == 0 {
			errs := r.exec.ValidateSwapProcess(ctx, &ValidateParams{
				Address:       job.Address,
				Process:       job.Process,
				SelectedQuote: job.Quote,
				Recipient:     job.Recipient,
			})
			if !errs.Empty() {
				err := errs.Err()
				r.logger.Debug("swap validation failed: %v", errs.Codes())
				state = r.apply(state, Action{Type: ActionError, Err: err})
				res.State = state
				return res, err
			}
			state = r.apply(state, Action{Type: ActionComplete})
			continue
		}

		txID, err := r.submit(ctx, job, step)
		if err != nil {
			err = harvesterr.Classify(err)
			action := ActionError
			if step == 1 {
				action = ActionErrorRollback
			}
			r.logger.Error("swap step %d (%s) failed: %v", step, job.Process.Steps[step].Type, err)
			state = r.apply(state, Action{Type: action, Err: err})
			res.State = state
			return res, err
		}
		r.logger.Debug("swap step %d submitted: %s", step, txID)
		res.TxIDs = append(res.TxIDs, txID)
		state = r.apply(state, Action{Type: ActionComplete})
	}

	res.State = state
	return res, nil
}

func (r *Runner) submit(ctx context.Context, job *Job, step int) (string, error) {
	data, err := r.exec.HandleSwapProcess(ctx, &SubmitParams{
		Process:     job.Process,
		CurrentStep: step,
		Quote:       job.Quote,
		Address:     job.Address,
		Slippage:    job.Slippage,
		Recipient:   job.Recipient,
	})
	if err != nil {
		return "", err
	}
	return r.signer.Sign(ctx, data)
}

func (r *Runner) apply(s State, a Action) State {
	next := Reduce(s, a)
	if r.OnChange != nil {
		r.OnChange(next)
	}
	return next
}
