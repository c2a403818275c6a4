package reactor

// SkipStrategy decides which tasks are treated as satisfied without running.
type SkipStrategy interface {
	Skip(t Task) bool
}

// SkipFunc adapts a function to SkipStrategy.
type SkipFunc func(t Task) bool

// Skip implements SkipStrategy.
func (f SkipFunc) Skip(t Task) bool { return f(t) }

var (
	// SkipNothing runs every task.
	SkipNothing SkipStrategy = SkipFunc(func(Task) bool { return false })
	// SkipHostTasks bypasses host-application work such as loading jobs.
	SkipHostTasks SkipStrategy = SkipFunc(func(t Task) bool { return t.Host })
)
