package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasklist-api/domain"
)

// Options selects the handler variant.
type Options struct {
	// Persistent requires a verified bearer token on every request, stamps
	// created tasks with the caller's identity and surfaces store error
	// messages to the caller.
	Persistent bool
	// ScopeByOwner limits list, update and delete to the caller's tasks.
	// Only meaningful when Persistent is set.
	ScopeByOwner bool
}

type taskHandler struct {
	store  Storage
	auth   Authenticator
	events eventSink
	logger *log.Logger
	opts   Options
}

// Register wires up the task routes on the provided Echo instance. events
// may be nil, in which case no change events are emitted.
func Register(e *echo.Echo, store Storage, auth Authenticator, events *EventSender, logger *log.Logger, opts Options) {
	if store == nil {
		panic("api.Register: store is nil")
	}
	if logger == nil {
		panic("api.Register: logger is nil")
	}
	if opts.Persistent && auth == nil {
		panic("api.Register: persistent handler requires an authenticator")
	}

	h := &taskHandler{store: store, auth: auth, logger: logger, opts: opts}
	if events != nil {
		h.events = events
	}

	e.JSONSerializer = sonicSerializer{}
	e.HTTPErrorHandler = HTTPErrorHandler(logger, opts.Persistent)
	e.Use(CORSMiddleware(allowHeadersFor(opts.Persistent)...))

	e.Any(tasksRoute, h.serve)
	e.GET("/healthz", healthz)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (h *taskHandler) serve(c echo.Context) (err error) {
	req := c.Request()
	metrics, spanCtx := newTaskRequestMetrics(req.Context(), h.logger, req.Method)
	c.SetRequest(req.WithContext(spanCtx))
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	var userID string
	if h.opts.Persistent {
		authStart := time.Now()
		var status int
		var msg string
		userID, status, msg = h.authenticate(c.Request().Header)
		metrics.ObserveAuth(time.Since(authStart))
		if status != 0 {
			metrics.SetError("auth", nil)
			return respondError(c, status, msg)
		}
		metrics.SetOwner(userID)
	}

	switch c.Request().Method {
	case http.MethodGet:
		return h.list(c, metrics, userID)
	case http.MethodPost:
		return h.create(c, metrics, userID)
	case http.MethodPut:
		return h.update(c, metrics, userID)
	case http.MethodDelete:
		return h.delete(c, metrics, userID)
	default:
		metrics.SetError("method", nil)
		return respondError(c, http.StatusMethodNotAllowed, msgMethodNotAllowed)
	}
}

// authenticate returns the caller identity, or a non-zero status and message
// describing why the request is rejected.
func (h *taskHandler) authenticate(header http.Header) (string, int, string) {
	token, err := bearerTokenFromHeader(header)
	if errors.Is(err, errMissingAuthorization) {
		return "", http.StatusUnauthorized, errMissingAuthorization.Error()
	}
	if err != nil {
		h.logger.WithError(err).Debug("rejecting malformed authorization header")
		return "", http.StatusUnauthorized, msgInvalidToken
	}
	userID, err := h.auth.UserIDFromBearer(token)
	if err != nil || userID == "" {
		h.logger.WithError(err).Debug("token verification failed")
		return "", http.StatusUnauthorized, msgInvalidToken
	}
	return userID, 0, ""
}

// scope is the owner filter applied to store lookups.
func (h *taskHandler) scope(userID string) string {
	if h.opts.Persistent && h.opts.ScopeByOwner {
		return userID
	}
	return ""
}

func (h *taskHandler) list(c echo.Context, metrics *taskRequestMetrics, userID string) error {
	ctx := c.Request().Context()
	start := time.Now()
	tasks, err := h.store.ListTasks(ctx, h.scope(userID))
	metrics.ObserveStore(time.Since(start))
	if err != nil {
		return h.internalError(c, metrics, "store", err)
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	metrics.SetTasksReturned(len(tasks))
	return c.JSON(http.StatusOK, tasks)
}

func (h *taskHandler) create(c echo.Context, metrics *taskRequestMetrics, userID string) error {
	var body createTaskRequest
	if err := readJSONBody(c.Request(), &body); err != nil {
		metrics.SetError("decode", nil)
		return respondError(c, http.StatusBadRequest, msgInvalidBody)
	}
	if body.Text == nil || !domain.ValidText(*body.Text) {
		metrics.SetError("validate", nil)
		return respondError(c, http.StatusBadRequest, msgTextRequired)
	}

	ctx := c.Request().Context()
	start := time.Now()
	created, err := h.store.InsertTask(ctx, domain.NewTask(*body.Text, userID))
	metrics.ObserveStore(time.Since(start))
	if err != nil {
		return h.internalError(c, metrics, "store", err)
	}

	h.publish(domain.EventTaskCreated, created.ID, userID, &created)
	return c.JSON(http.StatusOK, created)
}

func (h *taskHandler) update(c echo.Context, metrics *taskRequestMetrics, userID string) error {
	id := c.QueryParam("id")

	var patch domain.TaskPatch
	if err := readJSONBody(c.Request(), &patch); err != nil {
		metrics.SetError("decode", nil)
		return respondError(c, http.StatusBadRequest, msgInvalidBody)
	}
	if id == "" {
		metrics.SetError("not_found", nil)
		return respondError(c, http.StatusNotFound, msgTaskNotFound)
	}

	ctx := c.Request().Context()
	start := time.Now()
	updated, err := h.store.UpdateTask(ctx, h.scope(userID), id, patch)
	metrics.ObserveStore(time.Since(start))
	if errors.Is(err, domain.ErrNotFound) {
		metrics.SetError("not_found", nil)
		return respondError(c, http.StatusNotFound, msgTaskNotFound)
	}
	if err != nil {
		return h.internalError(c, metrics, "store", err)
	}

	h.publish(domain.EventTaskUpdated, updated.ID, userID, &updated)
	return c.JSON(http.StatusOK, updated)
}

func (h *taskHandler) delete(c echo.Context, metrics *taskRequestMetrics, userID string) error {
	id := c.QueryParam("id")
	if id == "" {
		metrics.SetError("not_found", nil)
		return respondError(c, http.StatusNotFound, msgTaskNotFound)
	}

	ctx := c.Request().Context()
	start := time.Now()
	err := h.store.DeleteTask(ctx, h.scope(userID), id)
	metrics.ObserveStore(time.Since(start))
	if errors.Is(err, domain.ErrNotFound) {
		metrics.SetError("not_found", nil)
		return respondError(c, http.StatusNotFound, msgTaskNotFound)
	}
	if err != nil {
		return h.internalError(c, metrics, "store", err)
	}

	h.publish(domain.EventTaskDeleted, id, userID, nil)
	return c.JSON(http.StatusOK, deleteTaskResponse{Success: true})
}

// internalError logs err and answers 500. Only the persistent variant
// reveals the underlying message to the caller.
func (h *taskHandler) internalError(c echo.Context, metrics *taskRequestMetrics, stage string, err error) error {
	metrics.SetError(stage, err)
	h.logger.WithError(err).WithField("method", c.Request().Method).Error("task request failed")
	msg := msgInternal
	if h.opts.Persistent {
		msg = err.Error()
	}
	return respondError(c, http.StatusInternalServerError, msg)
}

func (h *taskHandler) publish(eventType, taskID, owner string, task *domain.Task) {
	if h.events == nil {
		return
	}
	h.events.Send(domain.TaskEvent{
		ID:     uuid.NewString(),
		Type:   eventType,
		TaskID: taskID,
		Owner:  owner,
		Time:   domain.NextTimestamp(),
		Task:   task,
	})
}

// readJSONBody decodes the request body into v. An empty body leaves v
// untouched.
func readJSONBody(req *http.Request, v any) error {
	if req.Body == nil {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, taskRequestMaxSize+1))
	if err != nil {
		return err
	}
	if len(data) > taskRequestMaxSize {
		return errors.New("request body too large")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return sonic.ConfigStd.Unmarshal(data, v)
}
