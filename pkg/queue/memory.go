package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/feichai0017/legal-rag/internal/models"
)

// MemoryQueue records enqueued tasks instead of dispatching them.
type MemoryQueue struct {
	mu       sync.Mutex
	tasks    []*Task
	statuses map[string]*TaskStatus
	// Err, when set, is returned by Enqueue
	Err error
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{statuses: make(map[string]*TaskStatus)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	q.tasks = append(q.tasks, task)
	q.statuses[task.ID] = &TaskStatus{TaskID: task.ID, Status: "pending", StartedAt: task.CreatedAt}
	return nil
}

func (q *MemoryQueue) GetTaskStatus(_ context.Context, taskID string) (*TaskStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	status, ok := q.statuses[taskID]
	if !ok {
		return nil, &models.NotFoundError{Resource: "task", Name: taskID}
	}
	cp := *status
	return &cp, nil
}

func (q *MemoryQueue) CancelTask(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.tasks {
		if t.ID == taskID {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			delete(q.statuses, taskID)
			return nil
		}
	}
	return fmt.Errorf("failed to cancel task: %s not found", taskID)
}

func (q *MemoryQueue) SaveFinalStatus(_ context.Context, status *TaskStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *status
	q.statuses[status.TaskID] = &cp
	return nil
}

// Tasks returns the tasks enqueued so far.
func (q *MemoryQueue) Tasks() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Task(nil), q.tasks...)
}
