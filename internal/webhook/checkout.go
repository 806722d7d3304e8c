package webhook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/schaermu/assetsync/internal/config"
	"github.com/schaermu/assetsync/internal/git"
	assetsync "github.com/schaermu/assetsync/internal/sync"
)

// CheckoutRunner updates the manifest repository checkout before every run
// of next. A failed checkout skips the run.
type CheckoutRunner struct {
	repo   config.RepoConfig
	git    git.Client
	next   Runner
	logger *slog.Logger
}

// NewCheckoutRunner wraps next so every run starts from the current ref.
func NewCheckoutRunner(repo config.RepoConfig, gitClient git.Client, next Runner, logger *slog.Logger) *CheckoutRunner {
	return &CheckoutRunner{repo: repo, git: gitClient, next: next, logger: logger}
}

// Run checks out the repository and then runs the sync.
func (r *CheckoutRunner) Run(ctx context.Context) (*assetsync.Report, error) {
	commit, err := r.git.EnsureCheckout(ctx, r.repo.URL, r.repo.Ref, r.repo.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to update manifest repository: %w", err)
	}
	r.logger.Info("manifest repository updated", "ref", r.repo.Ref, "commit", commit, "dir", r.repo.Dir)

	return r.next.Run(ctx)
}
