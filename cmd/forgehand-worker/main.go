// Command forgehand-worker is the long-running daemon that drains the task
// queue through the worker pool. It wires config.Load, logging.Init,
// queue/breaker/deadletter/metrics construction, and scheduler.Pool.
// ExecuteTasks into one process, the way app/server/main.go wired
// setup/routes/model for the teacher's HTTP server — here there is no HTTP
// surface. New work arrives as JSON task files dropped into an inbox
// directory by `forgehandctl submit`; the daemon polls the inbox, submits
// whatever it finds, drains the pool, and repeats until signaled to stop —
// the same timestamped-file handoff queue.FileStore already uses for
// snapshot persistence, here used as a one-way mailbox instead.
//
// Under systemd, the daemon reports READY=1 once the pool is constructed
// and pings WATCHDOG=1 on the cadence systemd expects, via
// github.com/coreos/go-systemd/v22/daemon (declared but unused by the
// example pack itself; this is that dependency's first real caller).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"forgehand/breaker"
	"forgehand/config"
	"forgehand/deadletter"
	"forgehand/ids"
	"forgehand/logging"
	"forgehand/metrics"
	"forgehand/queue"
	"forgehand/scheduler"
	"forgehand/upstream"
	"forgehand/worker"
)

const inboxPollInterval = 2 * time.Second

func main() {
	configPath := flag.String("config", "", "path to forgehand config YAML")
	logDir := flag.String("log-dir", "", "directory for rotating log file (defaults to work dir)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("forgehand-worker: load config: %v", err)
	}

	workDir := cfg.Pool.WorkDir
	if workDir == "" {
		workDir = "./forgehand-data"
	}

	dir := *logDir
	if dir == "" {
		dir = workDir
	}
	rotator, err := logging.Init(logging.Options{Dir: dir, AlsoStderr: true})
	if err != nil {
		log.Fatalf("forgehand-worker: init logging: %v", err)
	}
	defer rotator.Close()

	log.Println("forgehand-worker: starting")

	recorder, err := metrics.New(metrics.Exporter(cfg.Metrics.Exporter))
	if err != nil {
		log.Fatalf("forgehand-worker: init metrics: %v", err)
	}
	defer recorder.Shutdown(context.Background())

	q := queue.New(&queue.Config{
		MaxSize:  cfg.Queue.MaxQueueSize,
		Overflow: queue.OverflowPolicy(cfg.Queue.OverflowStrategy),
	})

	var queueStore *queue.FileStore
	if cfg.Queue.EnablePersistence {
		queueStore, err = queue.NewFileStore(workDir)
		if err != nil {
			log.Fatalf("forgehand-worker: init queue store: %v", err)
		}
	}

	br := breaker.New(breaker.Config{
		FailureThreshold:    cfg.Breaker.FailureThreshold,
		SuccessThreshold:    cfg.Breaker.SuccessThreshold,
		OpenDuration:        cfg.Breaker.ResetTimeout,
		HalfOpenMaxRequests: cfg.Breaker.HalfOpenMaxAttempts,
	})

	dl, err := newDeadLetterQueue(cfg.DeadLetter, workDir)
	if err != nil {
		log.Fatalf("forgehand-worker: init dead-letter queue: %v", err)
	}

	var upstreamClient *upstream.Client
	if cfg.Upstream.BaseURL != "" {
		upstreamClient = upstream.New(upstream.Options{
			BaseURL:                 cfg.Upstream.BaseURL,
			Token:                   cfg.Upstream.Token,
			RequestTimeout:          cfg.Upstream.RequestTimeout,
			RateLimitQueueThreshold: cfg.RateLimit.QueueThreshold,
			RateLimitMaxQueueWait:   cfg.RateLimit.MaxQueueWait,
			CacheEnabled:            cfg.Upstream.CacheEnabled,
			CacheTTL:                cfg.Upstream.CacheTTL,
			Breaker: breaker.Config{
				FailureThreshold:    cfg.Breaker.FailureThreshold,
				SuccessThreshold:    cfg.Breaker.SuccessThreshold,
				OpenDuration:        cfg.Breaker.ResetTimeout,
				HalfOpenMaxRequests: cfg.Breaker.HalfOpenMaxAttempts,
			},
			APIRecorder: recorder,
		})
	} else {
		log.Println("forgehand-worker: no upstream.baseUrl configured, running git-only with no PR/status reporting")
	}

	workerCfg := worker.Config{
		WorkDir:       workDir,
		BaseTimeout:   30 * time.Minute,
		CloneShallow:  true,
		BaseBranch:    "main",
		CloneURLFor:   cloneURLFor(cfg.Upstream.BaseURL),
		CredentialFor: credentialFor(cfg.Upstream.Token),
		PromptFor:     promptFor,
	}

	pool := scheduler.New(scheduler.Config{
		MinWorkers:                1,
		MaxWorkers:                cfg.Pool.MaxWorkers,
		WorkDir:                   workDir,
		EnableDynamicScaling:      cfg.Pool.EnableDynamicScaling,
		EnableGracefulDegradation: cfg.Pool.EnableGracefulDegradation,
		EnableExecutionHistory:    cfg.Pool.EnableExecutionHistory,
		ScaleCheckInterval:        cfg.Scaling.ScaleCheckInterval,
		CPUHigh:                   cfg.Scaling.CPUHigh,
		CPULow:                    cfg.Scaling.CPULow,
		MemHigh:                   cfg.Scaling.MemHigh,
		MemLow:                    cfg.Scaling.MemLow,
		DegradationCheckInterval:  scheduler.DefaultConfig.DegradationCheckInterval,
		MemoryCheckInterval:       scheduler.DefaultConfig.MemoryCheckInterval,
		MemoryCleanupMinGap:       scheduler.DefaultConfig.MemoryCleanupMinGap,
		FailureThreshold:          cfg.Breaker.FailureThreshold,
		ShutdownTimeout:           30 * time.Second,
		HistoryCap:                scheduler.DefaultConfig.HistoryCap,
		EventLogCap:               scheduler.DefaultConfig.EventLogCap,
		OnTaskComplete:            reportCompletion(upstreamClient),
	}, q, queueStore, workerCfg, br, dl, recorder)

	inboxDir := filepath.Join(workDir, "inbox")
	if err := os.MkdirAll(inboxDir, 0o755); err != nil {
		log.Fatalf("forgehand-worker: create inbox dir: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Printf("forgehand-worker: sd_notify ready failed: %v", err)
	} else if sent {
		log.Println("forgehand-worker: reported READY to systemd")
	}
	stopWatchdog := startWatchdog(ctx)
	defer stopWatchdog()

	totalHistory := 0
	for ctx.Err() == nil {
		tasks, err := drainInbox(inboxDir, cfg.Retry.MaxRetries)
		if err != nil {
			log.Printf("forgehand-worker: drain inbox: %v", err)
		}
		if len(tasks) > 0 {
			log.Printf("forgehand-worker: picked up %d task(s) from inbox", len(tasks))
		}

		history, err := pool.ExecuteTasks(ctx, tasks)
		if err != nil {
			log.Printf("forgehand-worker: execute-tasks returned error: %v", err)
		}
		totalHistory += len(history)

		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(inboxPollInterval):
		}
	}
	log.Printf("forgehand-worker: drained %d history entries total, shutting down", totalHistory)

	daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// drainInbox reads every *.json file in dir, decodes it as a queue.Payload,
// builds a Task, and removes the file once decoded. Files that fail to
// decode are left in place and logged, not discarded, so an operator can
// inspect a malformed submission.
func drainInbox(dir string, maxRetries int) ([]*queue.Task, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var tasks []*queue.Task
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("forgehand-worker: read inbox file %s: %v", name, err)
			continue
		}
		var payload queue.Payload
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Printf("forgehand-worker: malformed inbox file %s, leaving in place: %v", name, err)
			continue
		}
		tasks = append(tasks, queue.NewTask(ids.NewTaskID(), payload, maxRetries))
		if err := os.Remove(path); err != nil {
			log.Printf("forgehand-worker: remove consumed inbox file %s: %v", name, err)
		}
	}
	return tasks, nil
}

// cloneURLFor derives a git remote URL for repository from the configured
// upstream API base URL's host, e.g. "https://api.example.com" ->
// "https://example.com/owner/repo.git". Enterprise forges that serve the
// API from a "/api/v3"-style subpath still clone from the bare host, so
// only the host is kept. Returns "" (letting git report the error itself)
// when no base URL is configured.
func cloneURLFor(baseURL string) func(repository string) string {
	host := ""
	if baseURL != "" {
		if u, err := url.Parse(baseURL); err == nil {
			host = strings.TrimPrefix(u.Host, "api.")
		}
	}
	return func(repository string) string {
		if host == "" || repository == "" {
			return ""
		}
		return fmt.Sprintf("https://%s/%s.git", host, repository)
	}
}

// credentialFor stages an HTTP Basic git-credential line so the delegated
// executor's push reuses the same token forgehand-worker authenticates its
// own upstream API calls with, per spec.md's "credentials via files" rule
// for the delegated executor's contract.
func credentialFor(token string) func(repository string) (string, string) {
	return func(repository string) (string, string) {
		if token == "" {
			return "", ""
		}
		return "git-credentials", fmt.Sprintf("https://x-access-token:%s@github.com\n", token)
	}
}

// promptFor assembles the delegated executor's prompt from the task's
// issue-like payload, per spec.md §4.H step 5.
func promptFor(task *queue.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", task.Payload.Title)
	if len(task.Payload.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(task.Payload.Labels, ", "))
	}
	b.WriteString("\n")
	b.WriteString(task.Payload.Body)
	return b.String()
}

func newDeadLetterQueue(cfg config.DeadLetterConfig, workDir string) (*deadletter.Queue, error) {
	var store deadletter.Store
	var err error
	switch cfg.Backend {
	case "postgres":
		store, err = deadletter.NewPostgresStore(cfg.PostgresDSN)
	default:
		store, err = deadletter.NewFileStore(workDir + "/deadletter.jsonl")
	}
	if err != nil {
		return nil, err
	}
	return deadletter.New(store, nil)
}

// startWatchdog pings systemd's watchdog at half the interval systemd
// expects (read from WATCHDOG_USEC), the convention daemon.SdNotify callers
// follow so a hung control loop gets restarted instead of silently wedging.
func startWatchdog(ctx context.Context) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return func() {}
	}

	ticker := time.NewTicker(interval / 2)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
