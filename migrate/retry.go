package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/syssam/porter"
	"github.com/syssam/porter/graph"
)

// applyResult holds the outcome of a batch application.
type applyResult struct {
	applied int
	errs    []*porter.BatchApplyError
	// rejected holds the rows that were not written.
	rejected [][]any
}

// applyBatch writes the rows and retries rejected batches according to the
// retry policy. Rejected rows are reported, never returned as error.
func (r *run) applyBatch(ctx context.Context, e *graph.Entity, rows [][]any) applyResult {
	var res applyResult
	r.tryApply(ctx, e, rows, r.x.retry, &res, 0)
	return res
}

func (r *run) tryApply(ctx context.Context, e *graph.Entity, rows [][]any, policy RetryPolicy, res *applyResult, depth int) {
	if len(rows) == 0 {
		return
	}
	err := r.dst.ApplyBatch(ctx, e, rows)
	if err == nil {
		res.applied += len(rows)
		return
	}
	retry := len(rows) > 1 && ctx.Err() == nil && (policy == RetryBisect || (policy == RetryHalve && depth == 0))
	if !retry {
		res.errs = append(res.errs, porter.NewBatchApplyError(e.Name, keyRange(e, rows), err))
		res.rejected = append(res.rejected, rows...)
		return
	}
	r.log.DebugContext(ctx, "batch rejected, retrying in halves",
		"entity", e.Name, "rows", len(rows), "range", keyRange(e, rows), "err", err)
	half := len(rows) / 2
	r.tryApply(ctx, e, rows[:half], policy, res, depth+1)
	r.tryApply(ctx, e, rows[half:], policy, res, depth+1)
}

// keyRange formats the primary-key range of the rows, e.g. "[10..19]".
func keyRange(e *graph.Entity, rows [][]any) string {
	if len(rows) == 0 {
		return "[]"
	}
	idx := e.KeyIndexes()
	return formatRange(keyOf(idx, rows[0]), keyOf(idx, rows[len(rows)-1]), len(rows))
}

// rejectedKeys returns the formatted keys of the rows that were not written.
func (res applyResult) rejectedKeys(idx []int) map[string]bool {
	keys := make(map[string]bool, len(res.rejected))
	for _, row := range res.rejected {
		keys[formatKey(keyOf(idx, row))] = true
	}
	return keys
}

func formatRange(first, last []any, n int) string {
	if n == 1 {
		return "[" + formatKey(first) + "]"
	}
	return "[" + formatKey(first) + ".." + formatKey(last) + "]"
}

func keyOf(idx []int, row []any) []any {
	key := make([]any, len(idx))
	for i, j := range idx {
		if j >= 0 && j < len(row) {
			key[i] = row[j]
		}
	}
	return key
}

func formatKey(key []any) string {
	if len(key) == 1 {
		return fmt.Sprint(key[0])
	}
	parts := make([]string, len(key))
	for i, k := range key {
		parts[i] = fmt.Sprint(k)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
