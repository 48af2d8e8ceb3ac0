package model

import "time"

type Step string

const (
	StepLogin                 Step = "login"
	StepNavigateToContract    Step = "navigate_to_contract"
	StepNavigateToCopyTrading Step = "navigate_to_copy_trading"
	StepEnterOrderNumber      Step = "enter_order_number"
	StepExecuteFollowUp       Step = "execute_follow_up"
)

// StepResult is the outcome of a single workflow step. Immutable once
// appended to a report.
type StepResult struct {
	Step         Step   `json:"step"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	Simulated    bool   `json:"simulated,omitempty"`
	Cached       bool   `json:"cached,omitempty"`
	OrderNumber  string `json:"orderNumber,omitempty"`
	ToastMessage string `json:"toastMessage,omitempty"`
}

// WorkflowReport is the unit of observability for one account's run.
// Success is true iff every recorded step succeeded; steps stop at the
// first failure.
type WorkflowReport struct {
	ID          string        `json:"id,omitempty"`
	AccountName string        `json:"accountName"`
	OrderNumber string        `json:"orderNumber,omitempty"`
	Trigger     string        `json:"trigger,omitempty"`
	DryRun      bool          `json:"dryRun"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"durationMs"`
	Steps       []StepResult  `json:"steps"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
}

// AppendStep records a step result and returns whether the workflow may
// continue. A failed step ends the sequence.
func (r *WorkflowReport) AppendStep(res StepResult) bool {
	r.Steps = append(r.Steps, res)
	return res.Success
}

// Finalize stamps the end time and derives the overall success flag.
func (r *WorkflowReport) Finalize() {
	r.EndTime = time.Now().UTC()
	r.Duration = r.EndTime.Sub(r.StartTime)
	if r.Error != "" {
		r.Success = false
		return
	}
	ok := len(r.Steps) > 0
	for _, s := range r.Steps {
		if !s.Success {
			ok = false
			break
		}
	}
	r.Success = ok
}

// FailureReason returns the run-level error, or the first failed
// step's error when the run itself never errored.
func (r *WorkflowReport) FailureReason() string {
	if r.Error != "" {
		return r.Error
	}
	for _, s := range r.Steps {
		if !s.Success && s.Error != "" {
			return s.Error
		}
	}
	return ""
}

// LastToast returns the confirmation message of the follow-up step, if any.
func (r *WorkflowReport) LastToast() string {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].ToastMessage != "" {
			return r.Steps[i].ToastMessage
		}
	}
	return ""
}
