package main

import (
	"context"
	"fmt"
	"log"

	"forgehand/forgeerrors"
	"forgehand/queue"
	"forgehand/scheduler"
	"forgehand/upstream"
	"forgehand/worker"
)

// reportCompletion is scheduler.Config.OnTaskComplete: it closes the loop
// spec.md §4.F's endpoint list names but worker.Run never calls itself
// (pull-request CRUD, combined commit status) — opening/updating the PR
// for a successful push, or posting a failing status for a terminal
// failure. It is best-effort: an upstream error here is logged, never
// retried, and never turns a completed task back into a failure, since
// the code change itself already landed (or was correctly abandoned).
func reportCompletion(client *upstream.Client) func(scheduler.CompletionEvent) {
	return func(ev scheduler.CompletionEvent) {
		if client == nil || ev.Task == nil || ev.Result == nil {
			return
		}
		ctx := context.Background()
		repo := ev.Task.Payload.Repository
		branch := ev.Task.Payload.Branch
		if repo == "" || branch == "" {
			return
		}

		if ev.Success {
			if ev.Result.NoOp {
				return
			}
			reportSuccess(ctx, client, repo, branch, ev.Result)
			return
		}
		reportFailure(ctx, client, repo, ev.Task, ev.Result)
	}
}

func reportSuccess(ctx context.Context, client *upstream.Client, repo, branch string, result *worker.Result) {
	if result.CommitSHA != "" {
		body := map[string]any{
			"state":       "success",
			"context":     "forgehand/worker",
			"description": "change committed and pushed",
		}
		req := upstream.Request{
			Method:        "POST",
			Path:          fmt.Sprintf("/repos/%s/statuses/%s", repo, result.CommitSHA),
			Body:          body,
			ResourceClass: "core",
			Repository:    repo,
			EntryType:     "commit-status",
			Invalidates:   true,
		}
		if _, _, err := client.Do(ctx, req); err != nil {
			log.Printf("forgehand-worker: post commit status for %s@%s: %v", repo, result.CommitSHA, err)
		}
	}

	req := upstream.Request{
		Method: "POST",
		Path:   fmt.Sprintf("/repos/%s/pulls", repo),
		Body: map[string]any{
			"head": branch,
			"base": "main",
		},
		ResourceClass: "core",
		Repository:    repo,
		EntryType:     "pull-request",
		Invalidates:   true,
	}
	if _, _, err := client.Do(ctx, req); err != nil {
		if kind, ok := forgeerrors.KindOf(err); ok && kind == forgeerrors.KindConflict {
			return // a PR for this branch already exists, which is the idempotent steady state
		}
		log.Printf("forgehand-worker: open pull request for %s@%s: %v", repo, branch, err)
	}
}

func reportFailure(ctx context.Context, client *upstream.Client, repo string, task *queue.Task, result *worker.Result) {
	if task.RetryCount < task.MaxRetries {
		return // still has retries left; only the terminal failure is worth a comment
	}
	if task.Payload.Number == 0 {
		return
	}
	body := map[string]any{
		"body": fmt.Sprintf("forgehand could not complete this change: %s", errMessage(result)),
	}
	req := upstream.Request{
		Method:        "POST",
		Path:          fmt.Sprintf("/repos/%s/issues/%d/comments", repo, task.Payload.Number),
		Body:          body,
		ResourceClass: "core",
		Repository:    repo,
		EntryType:     "comment",
		Invalidates:   true,
	}
	if _, _, err := client.Do(ctx, req); err != nil {
		log.Printf("forgehand-worker: post failure comment for %s#%d: %v", repo, task.Payload.Number, err)
	}
}

func errMessage(result *worker.Result) string {
	if result.Error != nil {
		return result.Error.Error()
	}
	return "unknown error"
}
