package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/flowcore/flowcore/internal/errs"
)

// DispatchTimerInput is the payload for AwaitDispatchTime.
type DispatchTimerInput struct {
	StartDelay time.Duration
	WaitUntil  string
}

// waitUntilLayouts are tried in order against a wait_until value. The
// pack carries no date-parsing library comparable to araddon/dateparse
// (see DESIGN.md), so a fixed layout table is the stdlib-native
// equivalent: it is deterministic and rejects ambiguous input rather
// than guessing a format.
var waitUntilLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseWaitUntil parses a wait_until timestamp against waitUntilLayouts
// in order, returning the first successful parse.
func ParseWaitUntil(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range waitUntilLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("orchestrator: unrecognized wait_until timestamp %q: %w", s, lastErr)
}

// AwaitDispatchTime is the engine.ActivityFunc registered under
// AwaitDispatchActivity. It resolves start_delay/wait_until into a
// concrete ready time and blocks until then (or until ctx is
// canceled). Parsing and waiting both happen inside the activity
// rather than the workflow so that a workflow replay never depends on
// wall-clock time or locale-sensitive date parsing (spec "Timers
// implement start_delay, wait_until ... parsed via a date-parser
// activity to keep determinism").
func AwaitDispatchTime(ctx context.Context, input any) (any, error) {
	in, ok := input.(DispatchTimerInput)
	if !ok {
		return nil, fmt.Errorf("orchestrator: await_dispatch_time: unexpected input type %T", input)
	}

	ready := time.Now().Add(in.StartDelay)
	if in.WaitUntil != "" {
		t, err := ParseWaitUntil(in.WaitUntil)
		if err != nil {
			return nil, errs.New(errs.KindValidation, err)
		}
		if t.After(ready) {
			ready = t
		}
	}

	delay := time.Until(ready)
	if delay <= 0 {
		return true, nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return true, nil
	}
}
