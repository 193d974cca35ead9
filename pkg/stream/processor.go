// Package stream implements the Ordered Stream Processor described in
// §4.3: group a WorkBatch's outbox/inbox items by stream, sort each
// group by sequence_order, and dispatch strictly sequentially within a
// group while optionally running groups themselves concurrently.
package stream

import (
	"context"
	"sort"
	"sync"

	"github.com/whizbang-lib/whizbang/pkg/models"
)

// catchAllKey groups items that carry no stream id into one shared
// bucket, matching the partition function's own catch-all treatment.
const catchAllKey = ""

// item is the internal, type-erased unit the grouping/ordering logic
// works over; OutboxWorkItem and InboxWorkItem are both adapted to it.
type item[T any] struct {
	streamKey string
	order     int64
	status    models.StatusFlags
	value     T
}

// groupAndSort buckets items by streamKey and sorts each bucket by
// order, preserving the order in which stream keys were first seen so
// sequential dispatch is deterministic run to run for a given input.
func groupAndSort[T any](items []item[T]) [][]item[T] {
	index := make(map[string]int)
	var groups [][]item[T]
	for _, it := range items {
		i, ok := index[it.streamKey]
		if !ok {
			i = len(groups)
			index[it.streamKey] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], it)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(a, b int) bool { return g[a].order < g[b].order })
	}
	return groups
}

// Processor is called once per item, returning the status mask it
// completed. Errors stop the rest of that item's group.
type Processor[T any] func(ctx context.Context, value T) (models.StatusFlags, error)

// ResultHandler receives the outcome of each processed item.
// OnComplete is called with the mask Processor returned; OnFailure is
// called with the *pre-failure* mask (the item's status before this
// attempt) and the error, per §4.3 step 5.
type ResultHandler[T any] struct {
	OnComplete func(value T, status models.StatusFlags)
	OnFailure  func(value T, preFailureStatus models.StatusFlags, err error)
}

// run dispatches groups either sequentially or concurrently, and
// within each group strictly sequentially, stopping that group on the
// first failure without affecting any other group.
func run[T any](ctx context.Context, groups [][]item[T], parallel bool, process Processor[T], handler ResultHandler[T]) {
	dispatch := func(group []item[T]) {
		for _, it := range group {
			status, err := process(ctx, it.value)
			if err != nil {
				if handler.OnFailure != nil {
					handler.OnFailure(it.value, it.status, err)
				}
				return
			}
			if handler.OnComplete != nil {
				handler.OnComplete(it.value, status)
			}
		}
	}

	if !parallel {
		for _, g := range groups {
			dispatch(g)
		}
		return
	}

	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		go func(g []item[T]) {
			defer wg.Done()
			dispatch(g)
		}(g)
	}
	wg.Wait()
}

// ProcessOutbox runs the ordered stream processor over a batch's
// outbox work items.
func ProcessOutbox(ctx context.Context, items []models.OutboxWorkItem, parallel bool, process Processor[models.OutboxWorkItem], handler ResultHandler[models.OutboxWorkItem]) {
	wrapped := make([]item[models.OutboxWorkItem], 0, len(items))
	for _, it := range items {
		key := catchAllKey
		if it.StreamID != nil {
			key = *it.StreamID
		}
		wrapped = append(wrapped, item[models.OutboxWorkItem]{streamKey: key, order: it.SequenceOrder, status: it.Status, value: it})
	}
	run(ctx, groupAndSort(wrapped), parallel, process, handler)
}

// ProcessInbox mirrors ProcessOutbox for inbox work items.
func ProcessInbox(ctx context.Context, items []models.InboxWorkItem, parallel bool, process Processor[models.InboxWorkItem], handler ResultHandler[models.InboxWorkItem]) {
	wrapped := make([]item[models.InboxWorkItem], 0, len(items))
	for _, it := range items {
		key := catchAllKey
		if it.StreamID != nil {
			key = *it.StreamID
		}
		wrapped = append(wrapped, item[models.InboxWorkItem]{streamKey: key, order: it.SequenceOrder, status: it.Status, value: it})
	}
	run(ctx, groupAndSort(wrapped), parallel, process, handler)
}
