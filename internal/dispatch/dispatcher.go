// Package dispatch delivers validated records to a profile's configured
// sinks. Actions run in declared order but independently: one failure never
// blocks the rest, and the caller aggregates outcomes.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/akio-matsumoto/print-etl/internal/config"
)

// Record is a validated field mapping bound to its profile and source file.
// Immutable once constructed.
type Record struct {
	Profile    *config.Profile
	SourcePath string
	Fields     map[string]any
}

// Payload returns the record as it is delivered to sinks: the coerced
// fields plus ingestion metadata.
func (r Record) Payload(now time.Time) map[string]any {
	m := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		m[k] = v
	}
	m["_source_file"] = filepath.Base(r.SourcePath)
	m["_profile"] = r.Profile.Name
	m["_ingested_at"] = now.UTC().Format(time.RFC3339)
	return m
}

// ActionOutcome is the per-action result of one dispatch.
type ActionOutcome struct {
	Action string // action type
	Target string // path or URL the action wrote to
	Err    error
}

func (o ActionOutcome) OK() bool { return o.Err == nil }

// AllSucceeded reports whether every action in a dispatch succeeded. The
// task's terminal disposition is success iff this holds.
func AllSucceeded(outcomes []ActionOutcome) bool {
	for _, o := range outcomes {
		if o.Err != nil {
			return false
		}
	}
	return true
}

type Dispatcher struct {
	log  *slog.Logger
	http *http.Client
	now  func() time.Time

	mu        sync.Mutex
	pathLocks map[string]*sync.Mutex
}

func NewDispatcher(logger *slog.Logger, httpClient *http.Client) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Dispatcher{
		log:       logger,
		http:      httpClient,
		now:       time.Now,
		pathLocks: make(map[string]*sync.Mutex),
	}
}

// Dispatch executes every action of the record's profile and returns one
// outcome per action, in declared order.
func (d *Dispatcher) Dispatch(ctx context.Context, rec Record) []ActionOutcome {
	payload := rec.Payload(d.now())
	outcomes := make([]ActionOutcome, 0, len(rec.Profile.Actions))
	for _, a := range rec.Profile.Actions {
		var target string
		var err error
		switch a.Type {
		case config.ActionSaveJSON:
			target = a.Path
			err = d.saveJSON(a, payload)
		case config.ActionWebhook:
			target = a.URL
			err = d.sendWebhook(ctx, a, payload)
		case config.ActionMoveFile:
			target, err = d.moveFile(a, rec)
		case config.ActionCalDAVEvent:
			target = a.CalendarURL
			err = d.addCalDAVEvent(ctx, a, rec)
		default:
			err = fmt.Errorf("unknown action type %q", a.Type)
		}
		if err != nil {
			d.log.Error("dispatch.action_failed",
				"profile", rec.Profile.Name,
				"action", a.Type,
				"target", target,
				"error", err,
			)
		} else {
			d.log.Info("dispatch.action_ok",
				"profile", rec.Profile.Name,
				"action", a.Type,
				"target", target,
			)
		}
		outcomes = append(outcomes, ActionOutcome{Action: a.Type, Target: target, Err: err})
	}
	return outcomes
}

// pathLock serializes read-modify-write access to one sink file across
// concurrent dispatches.
func (d *Dispatcher) pathLock(path string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.pathLocks[path]
	if !ok {
		l = &sync.Mutex{}
		d.pathLocks[path] = l
	}
	return l
}
