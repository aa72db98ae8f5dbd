package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ITaskManager manages asynchronous tasks such as node generation.
type ITaskManager interface {
	SubmitTask(ctx context.Context, taskFunc TaskFunc) (uuid.UUID, error)
	SubmitTaskWithOwner(ctx context.Context, taskFunc TaskFunc, ownerID string) (uuid.UUID, error)
	GetTask(taskID uuid.UUID) (*Task, error)
	CancelTask(taskID uuid.UUID) error
	CleanupTasks(age time.Duration)
	SetWebSocketNotifier(notifier WebSocketNotifier)
	Shutdown(ctx context.Context) error
}

// WebSocketNotifier pushes task status updates to connected clients.
type WebSocketNotifier interface {
	SendToSession(sessionID, messageType string, payload interface{})
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskFunc is the unit of work executed by a task. The returned value is
// exposed through GetTask and in the completion notification.
type TaskFunc func(ctx context.Context) (interface{}, error)

// Task is an asynchronous unit of work tracked by the manager.
type Task struct {
	ID        uuid.UUID
	Status    TaskStatus
	Message   string
	Result    interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
	Cancel    context.CancelFunc
}

// TaskManager runs tasks in goroutines and tracks their status so the HTTP
// layer can answer polling requests while the websocket pushes updates.
type TaskManager struct {
	tasks      map[uuid.UUID]*Task
	taskOwners map[uuid.UUID]string
	mu         sync.RWMutex
	maxTasks   int
	wg         sync.WaitGroup
	closing    chan struct{}
	wsNotifier WebSocketNotifier
}

// Config holds manager settings.
type Config struct {
	MaxTasks int
}

// New creates a TaskManager.
func New(cfg Config) *TaskManager {
	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10
	}
	return &TaskManager{
		tasks:      make(map[uuid.UUID]*Task),
		taskOwners: make(map[uuid.UUID]string),
		maxTasks:   maxTasks,
		closing:    make(chan struct{}),
	}
}

// NewManager creates a TaskManager with default settings.
func NewManager() *TaskManager {
	return New(Config{})
}

// SubmitTask creates and starts a new task. The task runs on an independent
// context so that the submitting request finishing does not cancel it; the
// request logger is carried over.
func (tm *TaskManager) SubmitTask(ctx context.Context, taskFunc TaskFunc) (uuid.UUID, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	active := 0
	for _, task := range tm.tasks {
		if task.Status == TaskStatusPending || task.Status == TaskStatusRunning {
			active++
		}
	}
	if active >= tm.maxTasks {
		return uuid.UUID{}, errors.New("maximum number of active tasks exceeded")
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	taskCtx := log.Ctx(ctx).WithContext(baseCtx)

	task := &Task{
		ID:        uuid.New(),
		Status:    TaskStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Cancel:    cancel,
	}
	tm.tasks[task.ID] = task

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		defer cancel()
		tm.runTask(taskCtx, task, taskFunc)
	}()

	return task.ID, nil
}

// SubmitTaskWithOwner submits a task and records the owning session so
// status updates can be routed to its websocket clients.
func (tm *TaskManager) SubmitTaskWithOwner(ctx context.Context, taskFunc TaskFunc, ownerID string) (uuid.UUID, error) {
	taskID, err := tm.SubmitTask(ctx, taskFunc)
	if err != nil {
		return uuid.UUID{}, err
	}

	tm.mu.Lock()
	tm.taskOwners[taskID] = ownerID
	tm.mu.Unlock()

	return taskID, nil
}

func (tm *TaskManager) runTask(ctx context.Context, task *Task, taskFunc TaskFunc) {
	tm.updateTaskStatus(ctx, task, TaskStatusRunning, "task started")

	result, err := taskFunc(ctx)

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			log.Ctx(ctx).Info().Str("taskID", task.ID.String()).Msg("task context was cancelled")
			tm.updateTaskStatus(ctx, task, TaskStatusCancelled, "task cancelled")
		} else {
			log.Ctx(ctx).Error().Err(ctx.Err()).Str("taskID", task.ID.String()).Msg("task context error")
			tm.updateTaskStatus(ctx, task, TaskStatusFailed, fmt.Sprintf("context error: %v", ctx.Err()))
		}
		return
	}

	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("taskID", task.ID.String()).Msg("task failed")
		tm.updateTaskStatus(ctx, task, TaskStatusFailed, fmt.Sprintf("error: %v", err))
		return
	}

	task.Result = result
	tm.updateTaskStatus(ctx, task, TaskStatusCompleted, "task completed")
}

func (tm *TaskManager) updateTaskStatus(ctx context.Context, task *Task, status TaskStatus, message string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task.Status = status
	task.Message = message
	task.UpdatedAt = time.Now()

	if tm.wsNotifier != nil {
		if ownerID, ok := tm.taskOwners[task.ID]; ok {
			payload := map[string]interface{}{
				"task_id":    task.ID,
				"status":     task.Status,
				"message":    task.Message,
				"updated_at": task.UpdatedAt,
			}
			if task.Status == TaskStatusCompleted && task.Result != nil {
				payload["result"] = task.Result
			}
			tm.wsNotifier.SendToSession(ownerID, "task_update", payload)
		}
	}

	log.Ctx(ctx).Debug().
		Str("taskID", task.ID.String()).
		Str("newStatus", string(task.Status)).
		Str("message", task.Message).
		Msg("task status updated")
}

// GetTask returns the task with the given id.
func (tm *TaskManager) GetTask(taskID uuid.UUID) (*Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s not found", taskID)
	}
	return task, nil
}

// CancelTask cancels a pending or running task.
func (tm *TaskManager) CancelTask(taskID uuid.UUID) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	if task.Status != TaskStatusPending && task.Status != TaskStatusRunning {
		return fmt.Errorf("cannot cancel task in status %s", task.Status)
	}
	if task.Cancel != nil {
		task.Cancel()
	}
	task.Status = TaskStatusCancelled
	task.Message = "task cancelled by caller"
	task.UpdatedAt = time.Now()
	return nil
}

// CleanupTasks removes finished tasks older than the given age.
func (tm *TaskManager) CleanupTasks(age time.Duration) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	for id, task := range tm.tasks {
		final := task.Status == TaskStatusCompleted || task.Status == TaskStatusFailed || task.Status == TaskStatusCancelled
		if final && now.Sub(task.UpdatedAt) > age {
			delete(tm.tasks, id)
			delete(tm.taskOwners, id)
		}
	}
}

// SetWebSocketNotifier wires the websocket push target.
func (tm *TaskManager) SetWebSocketNotifier(notifier WebSocketNotifier) {
	tm.wsNotifier = notifier
}

// Shutdown cancels nothing but waits for running tasks to finish, up to the
// context deadline.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	close(tm.closing)

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("timed out waiting for tasks to finish")
	}
}
