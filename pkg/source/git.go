package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkgmng/pkgmng/pkg/logging"
)

// CloneError reports a failed git clone with the diagnostic output captured
// from the subprocess.
type CloneError struct {
	Repo   string
	Output string
	Err    error
}

func (e *CloneError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("cloning %s: %v: %s", e.Repo, e.Err, e.Output)
	}
	return fmt.Sprintf("cloning %s: %v", e.Repo, e.Err)
}

func (e *CloneError) Unwrap() error {
	return e.Err
}

// GitTimeouts bounds each git subprocess individually.
type GitTimeouts struct {
	Clone     time.Duration
	Fetch     time.Duration
	Reset     time.Duration
	Submodule time.Duration
}

// Git acquires and updates git-backed packages through the git CLI.
type Git struct {
	log      logging.Logger
	timeouts GitTimeouts
}

func NewGit(log logging.Logger, timeouts GitTimeouts) *Git {
	return &Git{log: log, timeouts: timeouts}
}

// Clone performs a shallow recursive clone of repo into dest: single branch,
// depth 1, submodules fetched shallowly, optionally pinned to tag. Transport
// is tuned so a stalled transfer (under 1000 B/s for 10 s) fails instead of
// hanging. A nonzero exit yields a *CloneError carrying git's stderr.
func (g *Git) Clone(ctx context.Context, repo, dest, tag string) error {
	g.log.Info("Cloning repository: " + repo)

	args := []string{"clone"}
	if tag != "" {
		g.log.Info("Using tag/branch: " + tag)
		args = append(args, "--branch", tag)
	}
	args = append(args,
		"--recurse-submodules",
		"--quiet",
		"--shallow-submodules",
		"--single-branch",
		"--depth", "1",
		repo,
		dest,
	)

	ctx, cancel := context.WithTimeout(ctx, g.timeouts.Clone)
	defer cancel()

	g.log.Info("Executing git " + strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(),
		"GIT_HTTP_LOW_SPEED_LIMIT=1000",
		"GIT_HTTP_LOW_SPEED_TIME=10",
	)

	if _, err := cmd.Output(); err != nil {
		return &CloneError{Repo: repo, Output: stderrOf(err), Err: err}
	}

	g.log.Info("Repository cloned successfully")
	return nil
}

// Update brings an existing clone at dest up to the remote default branch
// tip: fetch all refs, hard-reset the working tree, then a best-effort
// recursive submodule update. Submodule failures are tolerated with a
// warning; a fetch or reset failure (or timeout) returns false so the caller
// can fall back to a full refetch instead of keeping a half-updated tree.
func (g *Git) Update(ctx context.Context, dest string) bool {
	g.log.Info("Updating repository at: " + dest)

	g.log.Info("Fetching all changes...")
	if err := g.run(ctx, g.timeouts.Fetch, dest, "fetch", "--all", "--quiet"); err != nil {
		g.log.Error("Update failed: " + err.Error())
		return false
	}

	g.log.Info("Resetting to latest...")
	if err := g.run(ctx, g.timeouts.Reset, dest, "reset", "--hard", "origin/HEAD", "--quiet"); err != nil {
		g.log.Error("Update failed: " + err.Error())
		return false
	}

	g.log.Info("Updating submodules...")
	if err := g.run(ctx, g.timeouts.Submodule, dest, "submodule", "update", "--init", "--recursive", "--quiet"); err != nil {
		g.log.Warn("Submodule update failed, continuing: " + err.Error())
	}

	g.log.Info("Repository updated successfully")
	return true
}

func (g *Git) run(ctx context.Context, timeout time.Duration, dir string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if _, err := cmd.Output(); err != nil {
		if out := stderrOf(err); out != "" {
			return fmt.Errorf("git %s: %w: %s", args[0], err, out)
		}
		return fmt.Errorf("git %s: %w", args[0], err)
	}
	return nil
}

// stderrOf extracts the captured stderr from an exec error, if any.
func stderrOf(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return strings.TrimSpace(string(exitErr.Stderr))
	}
	return ""
}
