// Ephemeral per-task workspace lifecycle: create, clone, branch
// create-or-adopt, credential staging, teardown. Adapted from
// app/cli/workspace/manager.go's Create/Commit/Discard directory-lifecycle
// idiom (workspace dir under a root, always os.RemoveAll on any failure
// path), generalized from plan/branch-scoped persistent workspaces to one
// throwaway directory per task attempt.
package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"forgehand/forgeerrors"
)

// Workspace is the ephemeral checkout a single worker attempt operates in.
type Workspace struct {
	Dir        string
	Repository string
	Branch     string
	BaseBranch string
}

// CreateWorkspace makes a fresh directory under workDir/workspace/<workerID>
// for one task attempt. Callers must always call Teardown, including on
// panic.
func CreateWorkspace(workDir, workerID, repository, branch, baseBranch string) (*Workspace, error) {
	dir := filepath.Join(workDir, "workspace", workerID)
	if err := os.RemoveAll(dir); err != nil {
		return nil, forgeerrors.Wrap(err, forgeerrors.KindServerError, "worker.createWorkspace", "", repository, branch, "clean stale dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, forgeerrors.Wrap(err, forgeerrors.KindServerError, "worker.createWorkspace", "", repository, branch, "mkdir")
	}
	return &Workspace{Dir: dir, Repository: repository, Branch: branch, BaseBranch: baseBranch}, nil
}

// Teardown always removes the workspace directory, regardless of how the
// attempt ended — the one invariant §4.H's step 9 requires.
func (w *Workspace) Teardown() {
	if w == nil || w.Dir == "" {
		return
	}
	os.RemoveAll(w.Dir)
}

// CloneOptions controls how the repository is fetched into the workspace.
type CloneOptions struct {
	CloneURL    string
	Shallow     bool
	SparsePaths []string
}

// Clone clones CloneURL into the workspace, shallow and/or sparse per
// opts.
func (w *Workspace) Clone(ctx context.Context, opts CloneOptions) error {
	args := []string{"clone"}
	if opts.Shallow {
		args = append(args, "--depth", "1")
	}
	if len(opts.SparsePaths) > 0 {
		args = append(args, "--filter=blob:none", "--sparse")
	}
	args = append(args, opts.CloneURL, w.Dir)

	if err := runGit(ctx, "", args...); err != nil {
		return forgeerrors.Wrap(err, forgeerrors.KindNetwork, "worker.clone", w.Dir, w.Repository, w.Branch, "git clone")
	}

	if len(opts.SparsePaths) > 0 {
		setArgs := append([]string{"sparse-checkout", "set"}, opts.SparsePaths...)
		if err := runGit(ctx, w.Dir, setArgs...); err != nil {
			return forgeerrors.Wrap(err, forgeerrors.KindServerError, "worker.clone", w.Dir, w.Repository, w.Branch, "sparse-checkout set")
		}
	}
	return nil
}

// EnsureBranch creates w.Branch from BaseBranch, or checks it out if it
// already exists remotely — idempotent per §4.H step 3.
func (w *Workspace) EnsureBranch(ctx context.Context) error {
	if err := runGit(ctx, w.Dir, "fetch", "origin", w.Branch); err == nil {
		if err := runGit(ctx, w.Dir, "checkout", w.Branch); err == nil {
			return nil
		}
	}

	if err := runGit(ctx, w.Dir, "checkout", "-B", w.Branch, "origin/"+w.BaseBranch); err != nil {
		return forgeerrors.Wrap(err, forgeerrors.KindServerError, "worker.ensureBranch", w.Dir, w.Repository, w.Branch, "checkout -B")
	}
	return nil
}

// WriteCredentialFile stages a credential (e.g. a token used by the
// delegated executor's git push) at a workspace-scoped path rather than in
// the process environment, so it never leaks into a forked subprocess's
// broader env or a logged command line.
func (w *Workspace) WriteCredentialFile(name, contents string) (string, error) {
	path := filepath.Join(w.Dir, ".forgehand-credentials", name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", forgeerrors.Wrap(err, forgeerrors.KindServerError, "worker.writeCredentialFile", w.Dir, w.Repository, w.Branch, "mkdir")
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		return "", forgeerrors.Wrap(err, forgeerrors.KindServerError, "worker.writeCredentialFile", w.Dir, w.Repository, w.Branch, "write")
	}
	return path, nil
}

// HasChanges reports whether the working tree has anything to commit.
func (w *Workspace) HasChanges(ctx context.Context) (bool, error) {
	out, err := gitOutput(ctx, w.Dir, "status", "--porcelain")
	if err != nil {
		return false, forgeerrors.Wrap(err, forgeerrors.KindServerError, "worker.hasChanges", w.Dir, w.Repository, w.Branch, "git status")
	}
	return strings.TrimSpace(out) != "", nil
}

// CommitAndPush commits all changes with message and pushes the branch,
// returning the new commit SHA.
func (w *Workspace) CommitAndPush(ctx context.Context, message string) (string, error) {
	if err := runGit(ctx, w.Dir, "add", "-A"); err != nil {
		return "", forgeerrors.Wrap(err, forgeerrors.KindServerError, "worker.commit", w.Dir, w.Repository, w.Branch, "git add")
	}
	if err := runGit(ctx, w.Dir, "commit", "-m", message); err != nil {
		return "", forgeerrors.Wrap(err, forgeerrors.KindServerError, "worker.commit", w.Dir, w.Repository, w.Branch, "git commit")
	}
	sha, err := gitOutput(ctx, w.Dir, "rev-parse", "HEAD")
	if err != nil {
		return "", forgeerrors.Wrap(err, forgeerrors.KindServerError, "worker.commit", w.Dir, w.Repository, w.Branch, "rev-parse")
	}
	if err := runGit(ctx, w.Dir, "push", "-u", "origin", w.Branch); err != nil {
		return "", forgeerrors.Wrap(err, forgeerrors.KindNetwork, "worker.commit", w.Dir, w.Repository, w.Branch, "git push")
	}
	return strings.TrimSpace(sha), nil
}

func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}
