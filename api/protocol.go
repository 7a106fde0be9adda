package api

const taskRequestMaxSize = 64 * 1024 // 64 KiB

const tasksRoute = "/api/tasks"

// /POST /api/tasks request body
type createTaskRequest struct {
	Text *string `json:"text"`
}

// /DELETE /api/tasks response body
type deleteTaskResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const (
	msgMethodNotAllowed = "Method not allowed"
	msgTaskNotFound     = "Task not found"
	msgInternal         = "Internal server error"
	msgInvalidBody      = "invalid body"
	msgTextRequired     = "text is required"
	msgInvalidToken     = "invalid token"
	msgNotFound         = "Not found"
)
