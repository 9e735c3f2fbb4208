// Package tasktest provides an in-memory task.Repository.
package tasktest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"creditflow/db"
	"creditflow/task"
)

// Memory is a task.Repository that enforces open-task dedupe keys the way
// the partial unique index does.
type Memory struct {
	mu    sync.Mutex
	tasks []task.Task
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) Create(_ context.Context, _ db.Querier, p task.CreateParams) (task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(p), nil
}

func (m *Memory) CreateIfAbsent(_ context.Context, _ db.Querier, p task.CreateParams) (task.Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.DedupeKey == nil || *p.DedupeKey == "" {
		return task.Task{}, false, task.ErrValidation
	}
	for _, t := range m.tasks {
		if t.Status == task.StatusOpen && t.DedupeKey != nil && *t.DedupeKey == *p.DedupeKey {
			return task.Task{}, false, nil
		}
	}
	return m.insert(p), true, nil
}

func (m *Memory) insert(p task.CreateParams) task.Task {
	t := task.Task{
		ID:         fmt.Sprintf("task-%d", len(m.tasks)+1),
		ClientID:   p.ClientID,
		Type:       p.Type,
		Title:      p.Title,
		Notes:      p.Notes,
		Status:     task.StatusOpen,
		DueAt:      p.DueAt,
		AssignedTo: p.AssignedTo,
		DedupeKey:  p.DedupeKey,
		CreatedAt:  m.now(),
	}
	m.tasks = append(m.tasks, t)
	return t
}

func (m *Memory) Get(_ context.Context, taskID string) (task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.ID == taskID {
			return t, nil
		}
	}
	return task.Task{}, task.ErrNotFound
}

func (m *Memory) ListOpen(_ context.Context, _ string) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if t.Status == task.StatusOpen {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DueAt == nil || out[j].DueAt == nil {
			return out[j].DueAt == nil && out[i].DueAt != nil
		}
		return out[i].DueAt.Before(*out[j].DueAt)
	})
	return out, nil
}

func (m *Memory) ListForClient(_ context.Context, clientID string) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if t.ClientID == clientID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) MarkDone(_ context.Context, _ db.Querier, taskID string) (task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == taskID {
			m.tasks[i].Status = task.StatusDone
			return m.tasks[i], nil
		}
	}
	return task.Task{}, task.ErrNotFound
}

// All returns a copy of every stored task.
func (m *Memory) All() []task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]task.Task(nil), m.tasks...)
}
