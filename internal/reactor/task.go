package reactor

import "context"

// Task is one unit of initialization work. Tasks are immutable once a graph
// has been built from them.
type Task struct {
	// Name is the unique key of the task.
	Name        string
	DisplayName string
	// Plugin names the originating plugin, empty for host tasks.
	Plugin string
	// Requires lists the names of tasks that must finish first.
	Requires []string
	// NotBefore is the milestone that must be attained before the task starts.
	// The zero value means MilestoneStarted.
	NotBefore Milestone
	// Attains is the milestone this task contributes to.
	Attains Milestone
	// Host marks work of the host application rather than of the extension
	// subsystem.
	Host bool
	Run  func(ctx context.Context) error
}

func (t Task) String() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.Name
}

// TaskState is the scheduling state of a task within one run.
type TaskState string

const (
	TaskPending  TaskState = "pending"
	TaskRunnable TaskState = "runnable"
	TaskRunning  TaskState = "running"
	TaskDone     TaskState = "done"
	TaskSkipped  TaskState = "skipped"
	TaskFailed   TaskState = "failed"
)

// Satisfied reports whether dependents may proceed.
func (s TaskState) Satisfied() bool {
	return s == TaskDone || s == TaskSkipped
}
