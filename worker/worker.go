// Package worker owns one task end-to-end: ephemeral workspace, delegated
// execution, commit, always-teardown. Its step sequence and panic-safe
// teardown are grounded on app/cli/workspace/manager.go's Create/Commit/
// Discard lifecycle (directory created, operated on, always cleaned up on
// any exit path) and app/cli/workspace/recovery.go's crash-marker idiom,
// generalized from a durable resumable workspace to a throwaway
// per-attempt one: forgehand never resumes a workspace, it always
// recreates it, so there is no recovery.json equivalent — only teardown.
package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"forgehand/forgeerrors"
	"forgehand/queue"
)

// Config configures one Worker's behavior.
type Config struct {
	WorkDir        string
	BaseTimeout    time.Duration
	CloneShallow   bool
	BaseBranch     string
	CloneURLFor    func(repository string) string
	CredentialFor  func(repository string) (name, contents string)
	Executor       ExecutorConfig
	PromptFor      func(task *queue.Task) string
}

// Result is the outcome of one worker attempt, matching spec.md §4.H's
// {success, commit-sha, duration} / {success: false, error, duration}
// contract.
type Result struct {
	Success    bool
	NoOp       bool
	CommitSHA  string
	Duration   time.Duration
	Error      error
	Phase      string
	WorkerID   string
	TaskID     string
}

// Worker runs one task attempt at a time, identified by WorkerID.
type Worker struct {
	ID     string
	Config Config
}

// New creates a Worker with the given id and config.
func New(id string, cfg Config) *Worker {
	return &Worker{ID: id, Config: cfg}
}

// Run executes task end-to-end per §4.H's nine steps, always tearing down
// the workspace on return — including on panic, via a deferred recover
// that converts the panic into a failed Result instead of crashing the
// pool.
func (w *Worker) Run(ctx context.Context, task *queue.Task) (result *Result) {
	start := time.Now()
	result = &Result{WorkerID: w.ID, TaskID: task.ID}

	timeout := queue.Duration(w.Config.BaseTimeout, task.Metadata.Complexity, task.RetryCount)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var ws *Workspace
	defer func() {
		if ws != nil {
			ws.Teardown()
		}
		if r := recover(); r != nil {
			result.Success = false
			result.Phase = "panic"
			result.Error = fmt.Errorf("worker %s: recovered from panic in phase %s: %v", w.ID, result.Phase, r)
			log.Printf("[worker %s] recovered from panic running task %s: %v", w.ID, task.ID, r)
		}
		result.Duration = time.Since(start)
	}()

	branch := task.Payload.Branch
	repository := taskRepository(task)

	var err error
	ws, err = CreateWorkspace(w.Config.WorkDir, w.ID, repository, branch, w.Config.BaseBranch)
	if err != nil {
		return failResult(result, "workspace-create", err)
	}

	cloneURL := ""
	if w.Config.CloneURLFor != nil {
		cloneURL = w.Config.CloneURLFor(repository)
	}
	if err := ws.Clone(runCtx, CloneOptions{CloneURL: cloneURL, Shallow: w.Config.CloneShallow, SparsePaths: task.Metadata.AffectedPaths}); err != nil {
		return failResult(result, "clone", err)
	}

	if err := ws.EnsureBranch(runCtx); err != nil {
		return failResult(result, "branch", err)
	}

	if w.Config.CredentialFor != nil {
		name, contents := w.Config.CredentialFor(repository)
		if name != "" {
			if _, err := ws.WriteCredentialFile(name, contents); err != nil {
				return failResult(result, "credentials", err)
			}
		}
	}

	prompt := ""
	if w.Config.PromptFor != nil {
		prompt = w.Config.PromptFor(task)
	}
	if _, err := RunExecutor(runCtx, w.Config.Executor, ws.Dir, prompt); err != nil {
		return failResult(result, "execute", err)
	}

	changed, err := ws.HasChanges(runCtx)
	if err != nil {
		return failResult(result, "status-check", err)
	}

	if !changed {
		result.Success = true
		result.NoOp = true
		return result
	}

	sha, err := ws.CommitAndPush(runCtx, commitMessage(task))
	if err != nil {
		return failResult(result, "commit", err)
	}

	result.Success = true
	result.CommitSHA = sha
	return result
}

func failResult(result *Result, phase string, err error) *Result {
	result.Success = false
	result.Phase = phase
	result.Error = forgeerrors.Wrap(err, forgeerrors.KindServerError, "worker.run", "", "", "", phase)
	return result
}

func taskRepository(task *queue.Task) string {
	return task.Payload.Repository
}

func commitMessage(task *queue.Task) string {
	if task.Payload.Title != "" {
		return fmt.Sprintf("forgehand: %s (#%d)", task.Payload.Title, task.Payload.Number)
	}
	return fmt.Sprintf("forgehand: apply task %s", task.ID)
}
