// Package pipeline drives ingestion tasks from file-detected events to
// terminal file placement: dedupe, profile match, schema-constrained
// extraction with retry, validation, dispatch, then processed/error move.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/akio-matsumoto/print-etl/constants"
	"github.com/akio-matsumoto/print-etl/internal/config"
	"github.com/akio-matsumoto/print-etl/internal/dispatch"
	"github.com/akio-matsumoto/print-etl/internal/llm"
	"github.com/akio-matsumoto/print-etl/internal/profile"
	"github.com/akio-matsumoto/print-etl/internal/retry"
	"github.com/akio-matsumoto/print-etl/internal/validate"
)

type Pipeline struct {
	sys        config.System
	log        *slog.Logger
	matcher    *profile.Matcher
	extractor  llm.Extractor
	dispatcher *dispatch.Dispatcher
	policy     retry.Policy
	timeout    time.Duration
	now        func() time.Time

	ch   chan *Task
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex // guards closed and sends on ch
	closed bool

	// The dedup barrier has its own lock: workers release entries while a
	// producer may be blocked on a full queue, so the two must never contend.
	inflightMu sync.Mutex
	inflight   map[string]*Task // path -> non-terminal task
}

type Option func(*Pipeline)

// WithTaskTimeout bounds one task's extract+dispatch wall time.
func WithTaskTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New builds the pipeline and starts its worker pool. Worker count, queue
// depth, and retry policy come from the system config.
func New(
	sys config.System,
	matcher *profile.Matcher,
	extractor llm.Extractor,
	dispatcher *dispatch.Dispatcher,
	logger *slog.Logger,
	opts ...Option,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		sys:        sys,
		log:        logger,
		matcher:    matcher,
		extractor:  extractor,
		dispatcher: dispatcher,
		policy: retry.Policy{
			MaxAttempts: sys.MaxAttempts,
			BaseDelay:   sys.BaseDelay.Std(),
			MaxDelay:    sys.MaxDelay.Std(),
			Logger:      logger,
		},
		timeout:  5 * time.Minute,
		now:      time.Now,
		ch:       make(chan *Task, sys.QueueSize),
		inflight: make(map[string]*Task),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

func (p *Pipeline) start() {
	p.once.Do(func() {
		workers := p.sys.MaxConcurrent
		if workers < 1 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				p.log.Info("worker started", "worker_id", workerID)
				for task := range p.ch {
					ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
					p.process(ctx, task)
					cancel()
				}
				p.log.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// Enqueue accepts a file-detected event. Events for paths with a
// non-terminal task are discarded at the dedup barrier. When the queue is
// full the caller blocks (bounded-queue backpressure).
func (p *Pipeline) Enqueue(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		p.log.Error("cannot resolve event path", "path", path, "error", err)
		return false
	}

	task := NewTask(abs, p.now())
	if err := task.transition(constants.TaskQueued); err != nil {
		p.log.Error("enqueue transition failed", "path", abs, "error", err)
		return false
	}

	p.inflightMu.Lock()
	if _, exists := p.inflight[abs]; exists {
		p.inflightMu.Unlock()
		p.log.Debug("duplicate event discarded", "path", abs)
		return false
	}
	p.inflight[abs] = task
	p.inflightMu.Unlock()

	// The send runs under mu so it cannot race a close of the channel.
	// A full queue blocks the producer here; workers only take inflightMu,
	// so they keep draining and the send eventually proceeds.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.release(task)
		p.log.Warn("cannot enqueue: pipeline is shutting down", "path", abs)
		return false
	}
	select {
	case p.ch <- task:
	default:
		p.log.Warn("queue full, applying backpressure", "path", abs)
		p.ch <- task
	}
	p.mu.Unlock()

	p.log.Info("task queued", "task_id", task.ID, "path", abs)
	return true
}

// InFlight reports the number of tasks past the dedup barrier but not yet
// terminal.
func (p *Pipeline) InFlight() int {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	return len(p.inflight)
}

// Shutdown stops intake and waits for workers to drain, or returns when ctx
// expires. Abandoned tasks leave their files in the watch directory so a
// restart re-detects them.
func (p *Pipeline) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.log.Warn("shutdown interrupted by context")
	case <-done:
		p.log.Info("pipeline drained, shutdown complete")
	}
}

func (p *Pipeline) release(task *Task) {
	p.inflightMu.Lock()
	delete(p.inflight, task.Path)
	p.inflightMu.Unlock()
}

// process drives one task through its stages. Stages are strictly ordered;
// any stage failure routes the task to the error directory. A task failure
// never escapes this method, so one bad file cannot affect its neighbors.
func (p *Pipeline) process(ctx context.Context, task *Task) {
	defer p.release(task)

	log := p.log.With("task_id", task.ID, "path", task.Path)

	_ = task.transition(constants.TaskMatching)
	prof := p.matcher.Match(task.Path)
	if prof == nil {
		_ = task.transition(constants.TaskUnmatched)
		log.Info("no profile matches, leaving file in place", "state", task.State())
		return
	}
	task.Profile = prof
	log = log.With("profile", prof.Name)

	if _, err := os.Stat(task.Path); err != nil {
		// File vanished between detection and processing; nothing to move.
		log.Warn("file no longer exists, abandoning task", "error", err)
		return
	}

	_ = task.transition(constants.TaskExtracting)
	req := llm.ExtractRequest{
		FilePath:     task.Path,
		MIMEType:     constants.MapExtToMIME(filepath.Ext(task.Path)),
		Schema:       llm.BuildSchema(prof.Fields),
		SystemPrompt: llm.BuildSystemPrompt(prof, p.now()),
		UserPrompt:   llm.BuildUserPrompt(prof, filepath.Base(task.Path)),
	}
	fields, _, attempts, err := p.policy.Run(ctx, func(ctx context.Context) (map[string]any, []byte, error) {
		return p.extractor.Extract(ctx, req)
	})
	task.Attempts = attempts
	if err != nil {
		p.fail(task, log, "extraction", err)
		return
	}
	log.Debug("extraction ok", "attempts", attempts, "fields", len(fields))

	_ = task.transition(constants.TaskValidating)
	validated, err := validate.Validate(fields, prof)
	if err != nil {
		p.fail(task, log, "validation", err)
		return
	}

	_ = task.transition(constants.TaskDispatching)
	outcomes := p.dispatcher.Dispatch(ctx, dispatch.Record{
		Profile:    prof,
		SourcePath: task.Path,
		Fields:     validated,
	})
	if !dispatch.AllSucceeded(outcomes) {
		p.fail(task, log, "dispatch", dispatchError(outcomes))
		return
	}

	// Dispatch before move, never the reverse: the move is what removes the
	// file from future detection, so a crash in between re-dispatches at
	// worst, never loses a record.
	dest, err := moveToDir(task.Path, p.sys.ProcessedDir)
	if err != nil {
		p.fail(task, log, "terminal move", err)
		return
	}
	_ = task.transition(constants.TaskSucceeded)
	log.Info("task succeeded", "state", task.State(), "attempts", task.Attempts, "moved_to", dest)
}

// fail marks the task terminal and moves the source file to the error
// directory so operators can see exactly which files failed and why.
func (p *Pipeline) fail(task *Task, log *slog.Logger, stage string, cause error) {
	_ = task.transition(constants.TaskFailed)
	dest, moveErr := moveToDir(task.Path, p.sys.ErrorDir)
	if moveErr != nil {
		log.Error("failed to move file to error directory", "error", moveErr)
		dest = task.Path
	}
	log.Error("task failed",
		"state", task.State(),
		"stage", stage,
		"kind", llm.Kind(cause),
		"attempts", task.Attempts,
		"moved_to", dest,
		"error", cause,
	)
}

func dispatchError(outcomes []dispatch.ActionOutcome) error {
	var parts []string
	for _, o := range outcomes {
		if o.Err != nil {
			parts = append(parts, fmt.Sprintf("%s(%s): %v", o.Action, o.Target, o.Err))
		}
	}
	return errors.New("actions failed: " + strings.Join(parts, "; "))
}

// moveToDir moves a file into dir, preserving its base name and adding a
// numeric suffix on collision. Falls back to copy+remove when rename
// crosses filesystems.
func moveToDir(src, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	dest := filepath.Join(dir, filepath.Base(src))
	ext := filepath.Ext(dest)
	stem := strings.TrimSuffix(dest, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(dest); err != nil {
			break
		}
		dest = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
	if err := os.Rename(src, dest); err != nil {
		if err := copyAcross(src, dest); err != nil {
			return "", err
		}
	}
	return dest, nil
}

func copyAcross(src, dest string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	if err := os.WriteFile(dest, b, 0o644); err != nil {
		return fmt.Errorf("write destination: %w", err)
	}
	return os.Remove(src)
}
