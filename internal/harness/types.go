package harness

import (
	"github.com/roach88/txsync/internal/notify"
	"github.com/roach88/txsync/internal/txn"
)

// StepResult records what one step did.
type StepResult struct {
	Index         int    `json:"index"`
	Kind          string `json:"kind"`
	Outcome       string `json:"outcome"`
	Key           string `json:"key,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Steps has one entry per scenario step, in order.
	Steps []StepResult `json:"steps"`

	// Transactions is the final store, most recent first.
	Transactions []txn.Record `json:"transactions"`

	// Notifications is every notification, most recent first.
	Notifications []notify.Entry `json:"notifications"`

	// Visible is Notifications cut to the scenario's limit.
	Visible []notify.Entry `json:"visible"`

	// Triggered lists the ids sent to the processing endpoint.
	Triggered []string `json:"triggered"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
