// Package git keeps a local checkout of the repository that holds the
// manifest, so webhook-triggered runs read the pushed revision.
package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// tokenEnv carries the HTTPS token to the credential helper.
const tokenEnv = "ASSETSYNC_GIT_TOKEN"

// Client provides git operations for repository management
type Client interface {
	// EnsureCheckout clones or updates the repository at url into destDir,
	// checks out ref and returns the resulting commit hash.
	EnsureCheckout(ctx context.Context, url, ref, destDir string) (string, error)
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	sshKeyFile     string
	httpsTokenFile string
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient(sshKeyFile, httpsTokenFile string) *ShellClient {
	return &ShellClient{
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
	}
}

// EnsureCheckout clones or fetches and checks out the specified ref
func (c *ShellClient) EnsureCheckout(ctx context.Context, url, ref, destDir string) (string, error) {
	_, err := os.Stat(filepath.Join(destDir, ".git"))
	switch {
	case err == nil:
		if err := c.remote(ctx, url, "-C", destDir, "fetch", "--tags", "origin"); err != nil {
			return "", fmt.Errorf("git fetch failed: %w", err)
		}
		if err := c.checkout(ctx, destDir, ref); err != nil {
			return "", err
		}
		// A local branch is stale after fetch; tags and hashes have no
		// origin counterpart and are left alone.
		_ = run(exec.CommandContext(ctx, "git", "-C", destDir, "reset", "--hard", "origin/"+ref))
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
			return "", fmt.Errorf("failed to create parent directory: %w", err)
		}
		if err := c.remote(ctx, url, "clone", "--no-checkout", url, destDir); err != nil {
			return "", fmt.Errorf("git clone failed: %w", err)
		}
		if err := c.checkout(ctx, destDir, ref); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("failed to inspect checkout %s: %w", destDir, err)
	}

	out, err := exec.CommandContext(ctx, "git", "-C", destDir, "rev-parse", "HEAD").Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// checkout tries ref directly (local branch, tag, hash) and then as a remote
// branch.
func (c *ShellClient) checkout(ctx context.Context, dir, ref string) error {
	if err := run(exec.CommandContext(ctx, "git", "-C", dir, "checkout", "-f", ref)); err == nil {
		return nil
	}
	if err := run(exec.CommandContext(ctx, "git", "-C", dir, "checkout", "-f", "origin/"+ref)); err != nil {
		return fmt.Errorf("git checkout failed for ref %q (tried both direct and remote): %w", ref, err)
	}
	return nil
}

// remote runs a git command that talks to url, with credentials attached.
func (c *ShellClient) remote(ctx context.Context, url string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if err := c.configureAuth(cmd, url); err != nil {
		return err
	}
	return run(cmd)
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")

	if c.sshKeyFile != "" && (strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")) {
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		// The token stays in the environment; the helper only references it.
		cmd.Env = append(cmd.Env, tokenEnv+"="+strings.TrimSpace(string(token)))
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$`+tokenEnv+`"; }; f`,
		)
	}

	return nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "fetch").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// run executes cmd and attaches its combined output to the error.
func run(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
