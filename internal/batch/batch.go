// Package batch runs work items in fixed-size groups. Every item of a group
// runs concurrently and the next group only starts once the whole group has
// finished, so at most Size actions are ever in flight.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultSize is the group size used when none is configured.
const DefaultSize = 5

// Item is a unit of work: a resource name and the locator to fetch it from.
type Item struct {
	Name    string
	Locator string
}

// Action processes one item. Returning an error marks the item failed; it
// never stops other items.
type Action func(ctx context.Context, item Item) error

// Failure records an item whose action returned an error.
type Failure struct {
	Name string
	Err  error
}

// BatchError aggregates every failure of a run, in item order.
type BatchError struct {
	Failures []Failure
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d item(s) failed: %s", len(e.Failures), strings.Join(e.Names(), ", "))
}

// Names returns the names of the failed items.
func (e *BatchError) Names() []string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Name
	}
	return names
}

// Unwrap exposes the individual causes to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Scheduler drives group-at-a-time execution.
type Scheduler struct {
	size   int
	logger *slog.Logger
}

// NewScheduler creates a scheduler with the given group size. Non-positive
// sizes fall back to DefaultSize.
func NewScheduler(size int, logger *slog.Logger) *Scheduler {
	if size <= 0 {
		size = DefaultSize
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{size: size, logger: logger}
}

// Size returns the group size.
func (s *Scheduler) Size() int {
	return s.size
}

// Run executes action for every item and returns a *BatchError listing all
// failed items, or nil. If ctx is cancelled between groups, the items of
// the groups that were not started are reported as failed with ctx.Err().
func (s *Scheduler) Run(ctx context.Context, items []Item, action Action) error {
	groups := Partition(items, s.size)
	var failures []Failure

	for gi, group := range groups {
		if err := ctx.Err(); err != nil {
			for _, rest := range groups[gi:] {
				for _, item := range rest {
					failures = append(failures, Failure{Name: item.Name, Err: err})
				}
			}
			break
		}

		s.logger.Debug("starting batch", "batch", gi+1, "of", len(groups), "items", len(group))
		failures = append(failures, s.runGroup(ctx, group, action)...)
	}

	if len(failures) == 0 {
		return nil
	}
	return &BatchError{Failures: failures}
}

// runGroup runs every item of group concurrently and waits for all of them.
func (s *Scheduler) runGroup(ctx context.Context, group []Item, action Action) []Failure {
	results := make([]error, len(group))

	// Goroutines always return nil; failures are collected per index.
	var g errgroup.Group
	for i, item := range group {
		g.Go(func() error {
			results[i] = action(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	var failures []Failure
	for i, err := range results {
		if err != nil {
			failures = append(failures, Failure{Name: group[i].Name, Err: err})
		}
	}
	return failures
}

// Partition splits items into contiguous groups of at most size, keeping
// their order.
func Partition(items []Item, size int) [][]Item {
	if size <= 0 {
		size = DefaultSize
	}
	groups := make([][]Item, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		groups = append(groups, items[start:end])
	}
	return groups
}

// AsBatchError is a convenience around errors.As.
func AsBatchError(err error) (*BatchError, bool) {
	var be *BatchError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
