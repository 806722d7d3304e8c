package sync

import "github.com/schaermu/assetsync/internal/batch"

// Plan is the work computed from the manifest and the current store
type Plan struct {
	Fetch []batch.Item // entries with a locator and no stored object
	Skip  []batch.Item // already stored; never fetched
	Inert []string     // entries without a locator
}

// Report summarizes a run
type Report struct {
	Total   int
	Inert   int
	Skipped int
	Fetched int
	Failed  []batch.Failure
}

// FailedNames returns the names of the items that failed.
func (r *Report) FailedNames() []string {
	names := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		names[i] = f.Name
	}
	return names
}
