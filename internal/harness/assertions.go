package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/txsync/internal/txn"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns one message per
// failure. keys maps submit step index to the key that step sent.
func EvaluateAssertions(result *Result, assertions []Assertion, keys map[int]string) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a, keys); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion, keys map[int]string) error {
	switch a.Type {
	case AssertStoreOrder:
		return assertStoreOrder(result.Transactions, a.IDs)
	case AssertStoreStatus:
		return assertStoreStatus(result.Transactions, a.ID, a.Status)
	case AssertNotificationCount:
		if got := len(result.Notifications); got != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d notifications", a.Count),
				Actual:   fmt.Sprintf("%d notifications", got),
			}
		}
		return nil
	case AssertLatestNotification:
		return assertLatestNotification(result, a)
	case AssertKeyReused:
		return assertKeyReused(a.Steps, keys)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertStoreOrder(records []txn.Record, want []string) error {
	got := make([]string, len(records))
	for i, r := range records {
		got[i] = r.ID
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertStoreOrder,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertStoreStatus(records []txn.Record, id, status string) error {
	for _, r := range records {
		if r.ID != id {
			continue
		}
		if string(r.Status) != status {
			return &AssertionError{
				Type:     AssertStoreStatus,
				Expected: fmt.Sprintf("%s is %s", id, status),
				Actual:   fmt.Sprintf("%s is %s", id, r.Status),
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertStoreStatus,
		Expected: fmt.Sprintf("%s is %s", id, status),
		Actual:   fmt.Sprintf("%s not in store", id),
	}
}

func assertLatestNotification(result *Result, a Assertion) error {
	if len(result.Notifications) == 0 {
		return &AssertionError{
			Type:     AssertLatestNotification,
			Expected: "at least one notification",
			Actual:   "none",
		}
	}

	latest := result.Notifications[0]
	var mismatches []string
	if a.ID != "" && latest.TransactionID != a.ID {
		mismatches = append(mismatches, fmt.Sprintf("transaction %s", latest.TransactionID))
	}
	if a.Status != "" && string(latest.Status) != a.Status {
		mismatches = append(mismatches, fmt.Sprintf("status %s", latest.Status))
	}
	if a.Message != "" && latest.Message != a.Message {
		mismatches = append(mismatches, fmt.Sprintf("message %q", latest.Message))
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertLatestNotification,
			Expected: fmt.Sprintf("id=%q status=%q message=%q", a.ID, a.Status, a.Message),
			Actual:   strings.Join(mismatches, ", "),
		}
	}
	return nil
}

func assertKeyReused(steps []int, keys map[int]string) error {
	first := keys[steps[0]]
	for _, idx := range steps {
		key, ok := keys[idx]
		if !ok || key == "" || key != first {
			return &AssertionError{
				Type:     AssertKeyReused,
				Expected: fmt.Sprintf("steps %v send one key", steps),
				Actual:   fmt.Sprintf("step %d sent %q, step %d sent %q", steps[0], first, idx, key),
			}
		}
	}
	return nil
}
