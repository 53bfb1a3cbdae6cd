package swap

// ActionType is a process state transition.
type ActionType string

// Process actions.
const (
	ActionCreate        ActionType = "STEP_CREATE"
	ActionSubmit        ActionType = "STEP_SUBMIT"
	ActionComplete      ActionType = "STEP_COMPLETE"
	ActionError         ActionType = "STEP_ERROR"
	ActionErrorRollback ActionType = "STEP_ERROR_ROLLBACK"
)

// StepStatus is the progress of one step.
type StepStatus string

// Step statuses.
const (
	StatusQueued     StepStatus = "QUEUED"
	StatusProcessing StepStatus = "PROCESSING"
	StatusComplete   StepStatus = "COMPLETE"
	StatusFailed     StepStatus = "FAILED"
)

// Action is one transition. Process is read by STEP_CREATE and Err by the
// error actions.
type Action struct {
	Type    ActionType
	Process *Process
	Err     error
}

// State is the progress of a process submission.
type State struct {
	CurrentStep int
	Steps       []StepDetail
	Fees        []FeeInfo
	Status      []StepStatus
	Err         error
}

// Done reports whether every step completed.
func (s State) Done() bool {
	return len(s.Steps) > 0 && s.CurrentStep >= len(s.Steps)
}

// Failed reports whether the last transition was an error.
func (s State) Failed() bool {
	return s.Err != nil
}

// Reduce applies a to s and returns the new state. s is not modified.
func Reduce(s State, a Action) State {
	if a.Type == ActionCreate {
		next := State{}
		if a.Process != nil {
			next.Steps = append([]StepDetail(nil), a.Process.Steps...)
			next.Fees = append([]FeeInfo(nil), a.Process.TotalFee...)
			next.Status = make([]StepStatus, len(next.Steps))
			for i := range next.Status {
				next.Status[i] = StatusQueued
			}
		}
		return next
	}

	next := s
	next.Status = append([]StepStatus(nil), s.Status...)
	if s.CurrentStep < 0 || s.CurrentStep >= len(next.Status) {
		return next
	}

	switch a.Type {
	case ActionSubmit:
		next.Status[s.CurrentStep] = StatusProcessing
		next.Err = nil
	case ActionComplete:
		next.Status[s.CurrentStep] = StatusComplete
		next.CurrentStep++
		next.Err = nil
	case ActionError:
		next.Status[s.CurrentStep] = StatusFailed
		next.Err = a.Err
	case ActionErrorRollback:
		next.Status[s.CurrentStep] = StatusFailed
		next.Err = a.Err
		for i := 0; i < s.CurrentStep; i++ {
			next.Status[i] = StatusQueued
		}
		next.CurrentStep = 0
	}
	return next
}
