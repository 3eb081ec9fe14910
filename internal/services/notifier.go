package services

import (
	"context"
	"time"

	"github.com/solocore/textloom/internal/clients/redis"
	"github.com/solocore/textloom/internal/platform/logger"
)

// TaskNotifier mirrors task/sub-task transitions onto the event bus.
// All methods are best effort; a nil bus disables publishing entirely.
type TaskNotifier interface {
	TaskProgress(ctx context.Context, taskID string, stage string, progress int, message string)
	TaskStatus(ctx context.Context, taskID string, status string, message string)
	SubTaskStatus(ctx context.Context, taskID string, subTaskID string, status string, progress int, message string)
}

type taskNotifier struct {
	log *logger.Logger
	bus redis.TaskBus
}

func NewTaskNotifier(log *logger.Logger, bus redis.TaskBus) TaskNotifier {
	return &taskNotifier{log: log.With("service", "TaskNotifier"), bus: bus}
}

func (n *taskNotifier) publish(ctx context.Context, event redis.TaskEvent) {
	if n.bus == nil {
		return
	}
	event.At = time.Now().UTC().Format(time.RFC3339)
	if err := n.bus.Publish(ctx, event); err != nil {
		n.log.Warn("task event publish failed", "task_id", event.TaskID, "error", err)
	}
}

func (n *taskNotifier) TaskProgress(ctx context.Context, taskID string, stage string, progress int, message string) {
	n.publish(ctx, redis.TaskEvent{
		TaskID:   taskID,
		Stage:    stage,
		Progress: progress,
		Message:  message,
	})
}

func (n *taskNotifier) TaskStatus(ctx context.Context, taskID string, status string, message string) {
	n.publish(ctx, redis.TaskEvent{
		TaskID:  taskID,
		Status:  status,
		Message: message,
	})
}

func (n *taskNotifier) SubTaskStatus(ctx context.Context, taskID string, subTaskID string, status string, progress int, message string) {
	n.publish(ctx, redis.TaskEvent{
		TaskID:    taskID,
		SubTaskID: subTaskID,
		Status:    status,
		Progress:  progress,
		Message:   message,
	})
}
