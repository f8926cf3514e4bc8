package model

// WorkflowState is the lifecycle state of a WorkflowInstance.
type WorkflowState string

const (
	WorkflowInitialized WorkflowState = "initialized"
	WorkflowStarted     WorkflowState = "started"
	WorkflowCompleted   WorkflowState = "completed"
	WorkflowFailed      WorkflowState = "failed"
	WorkflowCanceled    WorkflowState = "canceled"
)

// IsTerminal reports whether s is a terminal WorkflowState.
func (s WorkflowState) IsTerminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCanceled:
		return true
	default:
		return false
	}
}

// WorkflowInstance is a running (or finished) execution of a
// WorkflowDefinition.
type WorkflowInstance struct {
	Id             WorkflowId
	DefinitionName string
	DefinitionVer  string
	ParentRef      *WorkflowId // set for composite sub-workflow instances
	ParentTask     TaskName    // the parent's composite task, when ParentRef is set
	State          WorkflowState
	Marking        Marking
	StartedAtMs    int64
	EndedAtMs      *int64
}

// TaskState is the lifecycle state of one TaskInstance generation.
type TaskState string

const (
	TaskDisabled  TaskState = "disabled"
	TaskEnabled   TaskState = "enabled"
	TaskStarted   TaskState = "started"
	TaskCompleted TaskState = "completed"
	TaskCanceled  TaskState = "canceled"
)

// TaskInstance is the per-generation runtime state of one task within
// a WorkflowInstance. Generation increments every time the task is
// re-enabled after having previously reached a terminal state within
// the same workflow; prior-generation instances are retained for
// audit but never mutated again once superseded.
type TaskInstance struct {
	WorkflowId WorkflowId
	TaskName   TaskName
	Generation int
	State      TaskState
}

// Key uniquely identifies a TaskInstance within its workflow.
type TaskInstanceKey struct {
	WorkflowId WorkflowId
	TaskName   TaskName
	Generation int
}

func (t *TaskInstance) Key() TaskInstanceKey {
	return TaskInstanceKey{WorkflowId: t.WorkflowId, TaskName: t.TaskName, Generation: t.Generation}
}
