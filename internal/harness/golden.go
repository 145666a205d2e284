package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/txsync/internal/notify"
	"github.com/roach88/txsync/internal/txn"
)

// Snapshot is the golden view of a run. Notification timestamps are left
// out; ordering is already captured by seq.
type Snapshot struct {
	ScenarioName  string             `json:"scenario_name"`
	Steps         []StepResult       `json:"steps"`
	Transactions  []txn.Record       `json:"transactions"`
	Notifications []NotificationView `json:"notifications"`
	Triggered     []string           `json:"triggered"`
}

// NotificationView is a notification without its wall-clock time.
type NotificationView struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transaction_id"`
	Message       string     `json:"message"`
	Status        txn.Status `json:"status"`
	Seq           int64      `json:"seq"`
}

// NewSnapshot builds the snapshot of result. Only visible notifications are
// included.
func NewSnapshot(name string, result *Result) Snapshot {
	s := Snapshot{
		ScenarioName:  name,
		Steps:         result.Steps,
		Transactions:  result.Transactions,
		Notifications: make([]NotificationView, 0, len(result.Visible)),
		Triggered:     result.Triggered,
	}
	if s.Steps == nil {
		s.Steps = []StepResult{}
	}
	if s.Transactions == nil {
		s.Transactions = []txn.Record{}
	}
	if s.Triggered == nil {
		s.Triggered = []string{}
	}
	for _, n := range result.Visible {
		s.Notifications = append(s.Notifications, view(n))
	}
	return s
}

func view(n notify.Entry) NotificationView {
	return NotificationView{
		ID:            n.ID,
		TransactionID: n.TransactionID,
		Message:       n.Message,
		Status:        n.Status,
		Seq:           n.Seq,
	}
}

// MarshalSnapshot encodes the snapshot as canonical JSON.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	return txn.Canonical(NewSnapshot(name, result))
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
