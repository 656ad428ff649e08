// Package dsl implements the DAG scheduler core (spec §4.7) and the
// data model it operates on: action statements, stream identifiers,
// registry locks, and task results (spec §3).
package dsl

import (
	"fmt"
	"strings"
)

// WorkflowID is an opaque stable identifier for a workflow definition.
type WorkflowID string

// ExecutionID identifies one run of a workflow: "<workflow-id>:<run-suffix>"
// where the suffix is either a generated run ID or a schedule-derived
// token (spec §3.1).
type ExecutionID string

// NewExecutionID joins a WorkflowID and run suffix into an ExecutionID.
func NewExecutionID(wf WorkflowID, runSuffix string) ExecutionID {
	return ExecutionID(fmt.Sprintf("%s:%s", wf, runSuffix))
}

// Split returns the WorkflowID and run suffix encoded in the ExecutionID.
func (e ExecutionID) Split() (WorkflowID, string, error) {
	s := string(e)
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("dsl: malformed execution id %q", s)
	}
	return WorkflowID(s[:idx]), s[idx+1:], nil
}

// SkipIndex marks a stream segment produced by a skipped scatter
// (spec §3.1): the scatter ran over zero items for that branch, or the
// branch was statically pruned, so no numeric index applies.
const SkipIndex = "skip"

// RootScope is the scope name of the always-present root stream.
const RootScope = "root"

// StreamID is a hierarchical, slash-delimited path of "<scope>:<index>"
// segments (spec §3.1), e.g. "root:0/scatter_items:3". A root stream
// is always present.
type StreamID string

// RootStream is the StreamID of the top-level execution stream.
var RootStream = StreamID(fmt.Sprintf("%s:0", RootScope))

// NewStreamSegment formats a single "<scope>:<index>" segment. index
// is either a non-negative integer rendered as a decimal string, or
// SkipIndex.
func NewStreamSegment(scope string, index string) string {
	return fmt.Sprintf("%s:%s", scope, index)
}

// Child appends a new segment to the stream, producing the StreamID of
// a child scope (e.g. a scatter branch).
func (s StreamID) Child(scope string, index string) StreamID {
	seg := NewStreamSegment(scope, index)
	if s == "" {
		return StreamID(seg)
	}
	return StreamID(string(s) + "/" + seg)
}

// Segments splits the StreamID into its "<scope>:<index>" components.
func (s StreamID) Segments() []string {
	if s == "" {
		return nil
	}
	return strings.Split(string(s), "/")
}

// Ancestors returns the StreamIDs of every ancestor scope, from the
// root to the immediate parent, in that order. The stream itself is
// not included.
func (s StreamID) Ancestors() []StreamID {
	segs := s.Segments()
	if len(segs) <= 1 {
		return nil
	}
	out := make([]StreamID, 0, len(segs)-1)
	for i := 1; i < len(segs); i++ {
		out = append(out, StreamID(strings.Join(segs[:i], "/")))
	}
	return out
}

// Parent returns the StreamID of the immediate parent scope, or the
// empty string if s is the root stream.
func (s StreamID) Parent() StreamID {
	segs := s.Segments()
	if len(segs) <= 1 {
		return ""
	}
	return StreamID(strings.Join(segs[:len(segs)-1], "/"))
}

// IsSkipped reports whether the stream's final segment carries the
// skip sentinel instead of a numeric index.
func (s StreamID) IsSkipped() bool {
	segs := s.Segments()
	if len(segs) == 0 {
		return false
	}
	last := segs[len(segs)-1]
	idx := strings.LastIndex(last, ":")
	return idx >= 0 && last[idx+1:] == SkipIndex
}

// Validate enforces the Stream ID wire format (spec §6): segments
// joined by "/", each segment "<scope>:<index|skip>", no other
// characters permitted beyond what scope/index allow.
func (s StreamID) Validate() error {
	if s == "" {
		return fmt.Errorf("dsl: stream id must not be empty")
	}
	for _, seg := range s.Segments() {
		idx := strings.LastIndex(seg, ":")
		if idx <= 0 || idx == len(seg)-1 {
			return fmt.Errorf("dsl: malformed stream segment %q", seg)
		}
		scope, index := seg[:idx], seg[idx+1:]
		if scope == "" {
			return fmt.Errorf("dsl: empty scope in stream segment %q", seg)
		}
		if index != SkipIndex {
			for _, r := range index {
				if r < '0' || r > '9' {
					return fmt.Errorf("dsl: non-numeric, non-skip index in stream segment %q", seg)
				}
			}
		}
	}
	return nil
}
