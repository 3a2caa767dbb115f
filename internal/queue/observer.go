package queue

import (
	"time"

	"alertdesk/internal/domain"
)

// Observer receives scheduler lifecycle signals for metrics.
// Methods are called outside the scheduler lock and must not block.
type Observer interface {
	TaskSubmitted(taskType domain.TaskType)
	TaskDeduplicated(taskType domain.TaskType)
	TaskStarted(taskType domain.TaskType, wait time.Duration)
	TaskCompleted(completion domain.TaskCompletion)
	QueueDepth(queued, running int)
}

type noopObserver struct{}

func (noopObserver) TaskSubmitted(domain.TaskType) {}
func (noopObserver) TaskDeduplicated(domain.TaskType) {}
func (noopObserver) TaskStarted(domain.TaskType, time.Duration) {}
func (noopObserver) TaskCompleted(domain.TaskCompletion) {}
func (noopObserver) QueueDepth(int, int) {}
