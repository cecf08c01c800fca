package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/akio-matsumoto/print-etl/constants"
	"github.com/akio-matsumoto/print-etl/internal/config"
)

// Task is one detected file moving through the pipeline. It is owned
// exclusively by a single worker from dequeue to terminal state, so its
// fields need no locking.
type Task struct {
	ID         uuid.UUID
	Path       string
	DetectedAt time.Time
	Profile    *config.Profile
	Attempts   int

	state constants.TaskState
}

func NewTask(path string, now time.Time) *Task {
	return &Task{
		ID:         uuid.New(),
		Path:       path,
		DetectedAt: now,
		state:      constants.TaskDetected,
	}
}

func (t *Task) State() constants.TaskState { return t.state }

// stageOrder enforces one-way transitions; terminal states map to the same
// rank so exactly one terminal transition is ever accepted.
var stageOrder = map[constants.TaskState]int{
	constants.TaskDetected:    0,
	constants.TaskQueued:      1,
	constants.TaskMatching:    2,
	constants.TaskExtracting:  3,
	constants.TaskValidating:  4,
	constants.TaskDispatching: 5,
	constants.TaskUnmatched:   6,
	constants.TaskSucceeded:   6,
	constants.TaskFailed:      6,
}

// transition advances the task to next. Backward transitions and
// transitions out of a terminal state are programming errors.
func (t *Task) transition(next constants.TaskState) error {
	if t.state.Terminal() {
		return fmt.Errorf("task %s: already terminal in %s", t.ID, t.state)
	}
	if stageOrder[next] <= stageOrder[t.state] {
		return fmt.Errorf("task %s: illegal transition %s -> %s", t.ID, t.state, next)
	}
	t.state = next
	return nil
}
