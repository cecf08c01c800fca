package constants

// TaskState is the canonical state of an ingestion task.
type TaskState string

// Stable values (these exact strings appear in logs).
const (
	TaskDetected    TaskState = "DETECTED"    // file event observed
	TaskQueued      TaskState = "QUEUED"      // accepted past the dedup barrier
	TaskMatching    TaskState = "MATCHING"    // profile resolution in progress
	TaskExtracting  TaskState = "EXTRACTING"  // extraction call(s) in flight
	TaskValidating  TaskState = "VALIDATING"  // checking extracted fields
	TaskDispatching TaskState = "DISPATCHING" // running profile actions
	TaskSucceeded   TaskState = "SUCCEEDED"   // terminal: moved to processed_dir
	TaskFailed      TaskState = "FAILED"      // terminal: moved to error_dir
	TaskUnmatched   TaskState = "UNMATCHED"   // terminal: no profile, file left alone
)

// Terminal reports whether a task in this state never transitions again.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskUnmatched:
		return true
	}
	return false
}
