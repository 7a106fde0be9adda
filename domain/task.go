package domain

import "strings"

// Task represents a single item on the task list.
type Task struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	Owner     string `json:"owner,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

// TaskPatch carries a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Text      *string `json:"text,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Text == nil && p.Completed == nil
}

// Apply returns t with the patch fields applied.
func (p TaskPatch) Apply(t Task) Task {
	if p.Text != nil {
		t.Text = *p.Text
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	return t
}

// NewTask builds a fresh, not yet completed task. ID and CreatedAt are left
// for the store to assign.
func NewTask(text, owner string) Task {
	return Task{Text: text, Owner: owner}
}

// VisibleTo reports whether a task belongs to owner. An empty owner sees
// every task.
func (t Task) VisibleTo(owner string) bool {
	return owner == "" || t.Owner == owner
}

// ValidText reports whether text can be stored as a task body.
func ValidText(text string) bool {
	return strings.TrimSpace(text) != ""
}
