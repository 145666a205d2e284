package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/txsync/internal/txn"
)

// Scenario defines one reconciliation scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Seed is what ListTransactions returns at startup, newest first.
	Seed []map[string]any `yaml:"seed,omitempty"`

	// NotificationLimit overrides the visible notification cap.
	NotificationLimit int `yaml:"notification_limit,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step holds exactly one action.
type Step struct {
	Submit  *SubmitStep  `yaml:"submit,omitempty"`
	Push    *PushStep    `yaml:"push,omitempty"`
	Trigger *TriggerStep `yaml:"trigger,omitempty"`
	Select  *SelectStep  `yaml:"select,omitempty"`
}

// SubmitStep submits a create with a scripted server response.
type SubmitStep struct {
	Type    string   `yaml:"type"`
	Amount  string   `yaml:"amount"`
	Key     string   `yaml:"key,omitempty"`
	Respond Response `yaml:"respond"`

	// Expect is the outcome label: committed, rejected, failed, or a
	// lower-cased error code such as invalid_input.
	Expect string `yaml:"expect,omitempty"`
}

// Response is the scripted create answer.
type Response struct {
	Record map[string]any `yaml:"record,omitempty"`
	Reject string         `yaml:"reject,omitempty"`
	Fail   string         `yaml:"fail,omitempty"`
}

// PushStep sends one event channel message.
type PushStep struct {
	Event string         `yaml:"event,omitempty"`
	Data  map[string]any `yaml:"data"`
}

// TriggerStep requests processing. An empty ID uses the selection.
type TriggerStep struct {
	ID     string `yaml:"id,omitempty"`
	Expect string `yaml:"expect,omitempty"`
}

// SelectStep changes the selected transaction.
type SelectStep struct {
	ID string `yaml:"id"`
}

// Kind names the step's action.
func (s Step) Kind() string {
	switch {
	case s.Submit != nil:
		return "submit"
	case s.Push != nil:
		return "push"
	case s.Trigger != nil:
		return "trigger"
	case s.Select != nil:
		return "select"
	default:
		return ""
	}
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{s.Submit != nil, s.Push != nil, s.Trigger != nil, s.Select != nil} {
		if set {
			n++
		}
	}
	return n
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// IDs is the expected store order (store_order). Empty means an empty
	// store.
	IDs []string `yaml:"ids,omitempty"`

	// ID and Status identify a record (store_status) or the most recent
	// notification (latest_notification).
	ID     string `yaml:"id,omitempty"`
	Status string `yaml:"status,omitempty"`

	// Message is matched exactly when set (latest_notification).
	Message string `yaml:"message,omitempty"`

	// Count is the total number of notifications (notification_count).
	Count int `yaml:"count,omitempty"`

	// Steps are submit step indices that must have sent one key (key_reused).
	Steps []int `yaml:"steps,omitempty"`
}

// Assertion type constants.
const (
	AssertStoreOrder         = "store_order"
	AssertStoreStatus        = "store_status"
	AssertNotificationCount  = "notification_count"
	AssertLatestNotification = "latest_notification"
	AssertKeyReused          = "key_reused"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.NotificationLimit < 0 {
		return fmt.Errorf("notification_limit must be non-negative")
	}

	for i, raw := range s.Seed {
		if _, err := toRecord(raw); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, s.Steps); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	if step.actions() != 1 {
		return fmt.Errorf("steps[%d]: exactly one of submit, push, trigger, select is required", i)
	}

	switch {
	case step.Submit != nil:
		r := step.Submit.Respond
		set := 0
		if r.Record != nil {
			set++
		}
		if r.Reject != "" {
			set++
		}
		if r.Fail != "" {
			set++
		}
		if set > 1 {
			return fmt.Errorf("steps[%d].submit.respond: at most one of record, reject, fail", i)
		}
	case step.Push != nil:
		if step.Push.Data == nil {
			return fmt.Errorf("steps[%d].push: data is required", i)
		}
	case step.Select != nil:
		if step.Select.ID == "" {
			return fmt.Errorf("steps[%d].select: id is required", i)
		}
	}
	return nil
}

func validateAssertion(i int, a Assertion, steps []Step) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	case AssertStoreOrder:
		// An empty ids list asserts an empty store.
	case AssertStoreStatus:
		if a.ID == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: id and status are required for store_status", i)
		}
	case AssertNotificationCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", i)
		}
	case AssertLatestNotification:
		if a.ID == "" && a.Status == "" && a.Message == "" {
			return fmt.Errorf("assertions[%d]: latest_notification needs id, status or message", i)
		}
	case AssertKeyReused:
		if len(a.Steps) < 2 {
			return fmt.Errorf("assertions[%d]: key_reused needs at least two steps", i)
		}
		for _, idx := range a.Steps {
			if idx < 0 || idx >= len(steps) || steps[idx].Submit == nil {
				return fmt.Errorf("assertions[%d]: step %d is not a submit", i, idx)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}

// toRecord converts a YAML mapping into a record via its JSON form, so
// scenario records decode exactly as server records do.
func toRecord(raw map[string]any) (txn.Record, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return txn.Record{}, fmt.Errorf("encode record: %w", err)
	}
	var r txn.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return txn.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}
