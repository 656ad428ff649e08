package dsl

import "fmt"

// MaxDoWhileIterations is the default bound on a do-while loop's
// iteration count before the scheduler forces the loop to exit (spec
// §4.5 "runaway loop protection").
const MaxDoWhileIterations = 100

// LoopEnd marks the statement in a do-while body whose dependents
// jump back to the loop's entry statement when its run_if-equivalent
// guard expression evaluates true, re-entering the body under a fresh
// iteration segment of the same stream scope (spec §4.5).
type LoopEnd struct {
	// Ref is the statement that closes the loop body.
	Ref string
	// Guard is the boolean expression evaluated against the body's
	// ExecutionContext to decide whether to re-enter.
	Guard string
	// MaxIterations overrides MaxDoWhileIterations when non-zero.
	MaxIterations int
}

// LoopCounter tracks the iteration count of one do-while loop instance,
// keyed by the StreamID of its body (spec §4.5: the bound is per
// stream, so parallel scatter branches each get their own counter).
type LoopCounter struct {
	counts map[StreamID]int
}

// NewLoopCounter returns an empty LoopCounter.
func NewLoopCounter() *LoopCounter {
	return &LoopCounter{counts: make(map[StreamID]int)}
}

// Max returns end.MaxIterations if set, else MaxDoWhileIterations.
func (end LoopEnd) Max() int {
	if end.MaxIterations > 0 {
		return end.MaxIterations
	}
	return MaxDoWhileIterations
}

// Advance increments the iteration count for stream and reports
// whether the loop may continue: it returns (count, false) once count
// reaches the bound, and (count, true) while it is still below it.
func (c *LoopCounter) Advance(stream StreamID, end LoopEnd) (iteration int, shouldContinue bool) {
	c.counts[stream]++
	iteration = c.counts[stream]
	if iteration >= end.Max() {
		return iteration, false
	}
	return iteration, true
}

// Count returns the current iteration count for stream, 0 if unseen.
func (c *LoopCounter) Count(stream StreamID) int {
	return c.counts[stream]
}

// NextIterationStream derives the StreamID of the next loop body
// iteration, nesting it under a per-iteration "iter" scope so each
// pass has its own ACTIONS partition for statements inside the body
// (spec §4.5, §3.1 hierarchical stream naming).
func NextIterationStream(body StreamID, iteration int) StreamID {
	return body.Child("iter", fmt.Sprintf("%d", iteration))
}
