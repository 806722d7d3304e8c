package webhook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/assetsync/internal/config"
)

// mockGitClient is a mock implementation of git.Client
type mockGitClient struct {
	calls   int
	lastRef string
	lastDir string
	err     error
}

func (m *mockGitClient) EnsureCheckout(_ context.Context, _, ref, dest string) (string, error) {
	m.calls++
	m.lastRef = ref
	m.lastDir = dest
	if m.err != nil {
		return "", m.err
	}
	return "abc123", nil
}

func TestCheckoutRunner(t *testing.T) {
	repo := config.RepoConfig{URL: "https://github.com/acme/docs.git", Ref: "main", Dir: "/var/lib/assetsync/docs"}

	t.Run("checks out before running", func(t *testing.T) {
		gitClient := &mockGitClient{}
		runner := &mockRunner{}

		_, err := NewCheckoutRunner(repo, gitClient, runner, testLogger()).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, gitClient.calls)
		assert.Equal(t, "main", gitClient.lastRef)
		assert.Equal(t, repo.Dir, gitClient.lastDir)
		assert.EqualValues(t, 1, runner.calls.Load())
	})

	t.Run("checkout failure skips the run", func(t *testing.T) {
		gitClient := &mockGitClient{err: errors.New("auth failed")}
		runner := &mockRunner{}

		_, err := NewCheckoutRunner(repo, gitClient, runner, testLogger()).Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "auth failed")
		assert.Zero(t, runner.calls.Load())
	})
}
