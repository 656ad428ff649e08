package dsl

import (
	"context"
	"fmt"

	"github.com/flowcore/flowcore/internal/objectstore"
)

// GatherStrategy controls how a gather statement combines the
// per-branch results produced by a preceding scatter (spec §4.4).
type GatherStrategy string

const (
	// GatherPartition groups results into {"success": [...], "error": [...]}.
	GatherPartition GatherStrategy = "PARTITION"
	// GatherDrop keeps only successful branch results, discarding
	// failures silently.
	GatherDrop GatherStrategy = "DROP"
	// GatherInclude keeps every branch result, success or error, in
	// scatter order.
	GatherInclude GatherStrategy = "INCLUDE"
	// GatherRaise re-raises the first branch error encountered,
	// aborting the gather if any branch failed.
	GatherRaise GatherStrategy = "RAISE"
)

// Scatter describes the expansion of a for_each statement into one
// child stream per lock-step tuple of the iterated arguments (spec
// §4.4).
type Scatter struct {
	Scope   string
	Streams []StreamID
}

// NewScatter builds the child StreamIDs for n branches under parent,
// using scope as the child scope name. n == 0 produces a single
// skipped branch (spec §4.4 "for_each over an empty iterable").
func NewScatter(parent StreamID, scope string, n int) Scatter {
	if n == 0 {
		return Scatter{Scope: scope, Streams: []StreamID{parent.Child(scope, SkipIndex)}}
	}
	streams := make([]StreamID, n)
	for i := 0; i < n; i++ {
		streams[i] = parent.Child(scope, fmt.Sprintf("%d", i))
	}
	return Scatter{Scope: scope, Streams: streams}
}

// IterableCount returns the number of lock-step iterations available
// across a set of evaluated iterables (the length of the first
// iterable; zero iterables yields zero iterations). Shared by
// scatter's stream partitioning and the dispatch layer's for_each loop
// expansion (spec §4.4, §4.7).
func IterableCount(iterables [][]any) int {
	if len(iterables) == 0 {
		return 0
	}
	return len(iterables[0])
}

// IterableItem returns the i'th zipped element across iterables: the
// bare value when there is exactly one iterable, or a tuple across all
// of them otherwise.
func IterableItem(iterables [][]any, i int) any {
	if len(iterables) == 1 {
		return iterables[0][i]
	}
	tuple := make([]any, len(iterables))
	for j, it := range iterables {
		tuple[j] = it[i]
	}
	return tuple
}

// BranchResult is one scatter branch's completion, tagged with its
// position so Gather can restore scatter order regardless of
// completion order.
type BranchResult struct {
	Index  int
	Result TaskResult
}

// GatherOptions configures a gather statement (spec §4.4).
type GatherOptions struct {
	Strategy  GatherStrategy
	DropNulls bool // drop_nulls: filter out null-valued successful results
	KeyPrefix string
}

// Gather combines branch results per opts.Strategy and stores the
// combined value under the object store, returning the resulting
// StoredObject and, for GatherRaise, the first branch error if any
// branch failed (in which case the returned StoredObject is the zero
// value and the caller must treat the gather statement as failed).
func Gather(ctx context.Context, store *objectstore.Store, branches []BranchResult, opts GatherOptions) (objectstore.StoredObject, *ErrorInfo, error) {
	ordered := make([]BranchResult, len(branches))
	copy(ordered, branches)
	sortBranches(ordered)

	switch opts.Strategy {
	case GatherRaise:
		for _, b := range ordered {
			if b.Result.Failed() {
				return objectstore.StoredObject{}, b.Result.Error, nil
			}
		}
		obj, err := gatherValues(ctx, store, opts.KeyPrefix, ordered, opts.DropNulls)
		return obj, nil, err
	case GatherDrop:
		var kept []BranchResult
		for _, b := range ordered {
			if !b.Result.Failed() {
				kept = append(kept, b)
			}
		}
		obj, err := gatherValues(ctx, store, opts.KeyPrefix, kept, opts.DropNulls)
		return obj, nil, err
	case GatherInclude:
		obj, err := gatherValues(ctx, store, opts.KeyPrefix, ordered, opts.DropNulls)
		return obj, nil, err
	case GatherPartition:
		fallthrough
	default:
		return gatherPartition(ctx, store, opts.KeyPrefix, ordered, opts.DropNulls)
	}
}

func sortBranches(branches []BranchResult) {
	for i := 1; i < len(branches); i++ {
		for j := i; j > 0 && branches[j].Index < branches[j-1].Index; j-- {
			branches[j], branches[j-1] = branches[j-1], branches[j]
		}
	}
}

// isNull reports whether an inline StoredObject holds a JSON null (or
// no data at all).
func isNull(obj objectstore.StoredObject) bool {
	if obj.Type != objectstore.KindInline {
		return false
	}
	return len(obj.Data) == 0 || string(obj.Data) == "null"
}

func gatherValues(ctx context.Context, store *objectstore.Store, keyPrefix string, branches []BranchResult, dropNulls bool) (objectstore.StoredObject, error) {
	refs := make([]objectstore.StoredObject, 0, len(branches))
	for _, b := range branches {
		if dropNulls && isNull(b.Result.Result) {
			continue
		}
		refs = append(refs, b.Result.Result)
	}
	return store.StoreCollection(ctx, keyPrefix, refs, objectstore.KindInline)
}

func gatherPartition(ctx context.Context, store *objectstore.Store, keyPrefix string, branches []BranchResult, dropNulls bool) (objectstore.StoredObject, *ErrorInfo, error) {
	var success, failure []objectstore.StoredObject
	for _, b := range branches {
		if b.Result.Failed() {
			failure = append(failure, b.Result.Result)
			continue
		}
		if dropNulls && isNull(b.Result.Result) {
			continue
		}
		success = append(success, b.Result.Result)
	}
	successObj, err := store.StoreCollection(ctx, keyPrefix+"/success", success, objectstore.KindInline)
	if err != nil {
		return objectstore.StoredObject{}, nil, err
	}
	errorObj, err := store.StoreCollection(ctx, keyPrefix+"/error", failure, objectstore.KindInline)
	if err != nil {
		return objectstore.StoredObject{}, nil, err
	}
	obj, err := store.Store(ctx, keyPrefix, map[string]objectstore.StoredObject{
		"success": successObj,
		"error":   errorObj,
	})
	return obj, nil, err
}
