package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/roach88/txsync/internal/channel"
	"github.com/roach88/txsync/internal/engine"
	"github.com/roach88/txsync/internal/testutil"
	"github.com/roach88/txsync/internal/txn"
)

// DefaultTimeout bounds a whole scenario run.
const DefaultTimeout = 10 * time.Second

// Harness drives one engine through one scenario.
type Harness struct {
	engine  *engine.Engine
	api     *scriptedAPI
	channel *scriptedChannel
	keys    map[int]string
}

// Run executes a scenario against a fresh engine and returns the result.
//
// Execution flow:
//  1. Seed the scripted API and open the engine
//  2. Execute steps, waiting for each to be fully applied
//  3. Capture the final store and notifications
//  4. Evaluate assertions
//
// An error is returned only when the run itself could not proceed; failed
// expectations and assertions are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	seed := make([]txn.Record, 0, len(scenario.Seed))
	for i, raw := range scenario.Seed {
		r, err := toRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("seed[%d]: %w", i, err)
		}
		seed = append(seed, r)
	}

	h := &Harness{
		api:     &scriptedAPI{seed: seed},
		channel: newScriptedChannel(),
		keys:    make(map[int]string),
	}

	opts := []engine.Option{
		engine.WithDialer(h.channel.dial),
		engine.WithKeyGenerator(testutil.NewKeySequence("")),
		engine.WithNow(testutil.NewStepClock(time.Time{}, 0).Now),
	}
	if scenario.NotificationLimit > 0 {
		opts = append(opts, engine.WithNotificationLimit(scenario.NotificationLimit))
	}
	h.engine = engine.New(h.api, opts...)

	if err := h.engine.Open(ctx); err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	defer h.engine.Close()

	result := NewResult()
	for i, step := range scenario.Steps {
		sr, err := h.execute(ctx, i, step, result)
		if err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Kind(), err)
		}
		result.Steps = append(result.Steps, sr)
	}

	if err := h.engine.Sync(ctx); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	result.Transactions = h.engine.CurrentTransactions()
	result.Notifications = h.engine.CurrentNotifications(math.MaxInt32)
	result.Visible = h.engine.CurrentNotifications(0)
	result.Triggered = append([]string{}, h.api.triggered...)

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, h.keys) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, i int, step Step, result *Result) (StepResult, error) {
	sr := StepResult{Index: i, Kind: step.Kind()}

	switch {
	case step.Submit != nil:
		s := step.Submit
		h.api.expect(s.Respond)

		out, err := h.engine.Submit(ctx, s.Type, s.Amount, s.Key)
		if engine.IsEngineClosed(err) {
			return sr, err
		}

		sr.Outcome = outcomeLabel(out.State, err)
		sr.Key = h.api.sentKey()
		sr.TransactionID = out.Record.ID
		sr.Detail = errorDetail(err)
		if sr.Key != "" {
			h.keys[i] = sr.Key
		}

		if s.Expect != "" && s.Expect != sr.Outcome {
			result.AddError(fmt.Sprintf("steps[%d]: expected submit outcome %q, got %q (%s)", i, s.Expect, sr.Outcome, sr.Detail))
		}

	case step.Push != nil:
		event := step.Push.Event
		if event == "" {
			event = channel.EventTransactionUpdated
		}
		data, err := json.Marshal(step.Push.Data)
		if err != nil {
			return sr, fmt.Errorf("encode push data: %w", err)
		}
		if err := h.channel.send(ctx, channel.Message{Event: event, Data: data}); err != nil {
			return sr, err
		}
		if err := h.engine.Sync(ctx); err != nil {
			return sr, err
		}
		sr.Outcome = "delivered"
		if id, ok := step.Push.Data["id"].(string); ok {
			sr.TransactionID = id
		}

	case step.Trigger != nil:
		id := step.Trigger.ID
		if id == "" {
			if sel, ok := h.engine.Selected(); ok {
				id = sel.ID
			}
		}
		_, err := h.engine.TriggerProcessing(ctx, step.Trigger.ID)
		sr.Outcome = outcomeLabel("", err)
		sr.TransactionID = id
		sr.Detail = errorDetail(err)

		if step.Trigger.Expect != "" && step.Trigger.Expect != sr.Outcome {
			result.AddError(fmt.Sprintf("steps[%d]: expected trigger outcome %q, got %q", i, step.Trigger.Expect, sr.Outcome))
		}

	case step.Select != nil:
		sr.TransactionID = step.Select.ID
		if h.engine.Select(step.Select.ID) {
			sr.Outcome = "selected"
		} else {
			sr.Outcome = "not_found"
		}
	}

	return sr, nil
}

// outcomeLabel is the submission state when there is one, otherwise "ok"
// or the lower-cased error code.
func outcomeLabel(state engine.SubmissionState, err error) string {
	if state != "" {
		return string(state)
	}
	if err == nil {
		return "ok"
	}
	if code := engine.CodeOf(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "error"
}

func errorDetail(err error) string {
	if err == nil {
		return ""
	}
	var eerr *engine.Error
	if errors.As(err, &eerr) && eerr.Detail != "" {
		return eerr.Detail
	}
	return err.Error()
}
