package domain

// Task event types published after a successful mutation.
const (
	EventTaskCreated = "task-created"
	EventTaskUpdated = "task-updated"
	EventTaskDeleted = "task-deleted"
)

// TaskEvent describes a change applied to a task.
type TaskEvent struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	TaskID string `json:"taskId"`
	Owner  string `json:"owner,omitempty"`
	Time   int64  `json:"time"`
	// Task is the state after the change; nil for deletions.
	Task *Task `json:"task,omitempty"`
}
