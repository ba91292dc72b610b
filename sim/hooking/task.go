package hooking

// Positions of the task records. The Item of the hook context carries the
// matching record type.
var (
	HookPosTaskStart = &HookPos{Name: "TaskStart"}
	HookPosTaskTag   = &HookPos{Name: "TaskTag"}
	HookPosTaskStep  = &HookPos{Name: "TaskStep"}
	HookPosTaskEnd   = &HookPos{Name: "TaskEnd"}
)

// TaskStart opens a task. Kind groups tasks of the same sort, What names
// the operation, and Where names the component doing it.
type TaskStart struct {
	ID       string
	ParentID string
	Kind     string
	What     string
	Where    string
}

// TaskTag classifies a task, for example by its cache outcome.
type TaskTag struct {
	TaskID string
	What   string
	Detail string
}

// TaskStep marks a point of progress within a task.
type TaskStep struct {
	TaskID string
	StepID string
	Kind   string
	What   string
	Detail string
}

// TaskEnd closes a task.
type TaskEnd struct {
	ID string
}

// TaskFilter selects the tasks a tracer records.
type TaskFilter func(t TaskStart) bool

// A TimeTeller tells the simulated time in seconds. The timing package
// implements it, so hooking must not import timing.
type TimeTeller interface {
	Now() float64
}

type step struct {
	ID     string
	Time   float64
	Kind   string
	What   string
	Detail string
}

type tag struct {
	What   string
	Detail string
}

// task is a finished or open task as the backends store it.
type task struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Where     string
	StartTime float64
	EndTime   float64
	Steps     []step
	Tags      []tag
}
