// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PeriodicTask is run by a TaskRunner every Interval, first after StartDelay.
type PeriodicTask struct {
	Name       string
	StartDelay time.Duration
	Interval   time.Duration
	Run        func(ctx context.Context, now time.Time) error

	deadline time.Time
	index    int // for heap to work more efficiently
}

// TaskRunner runs periodic tasks on the clock fed to Tick.
// A task runs at most once per tick, so a late tick does not cause a burst.
type TaskRunner struct {
	lock sync.Mutex

	tasks map[string]*PeriodicTask
	heap  taskHeap
	now   time.Time

	log Logger
}

func NewTaskRunner(log Logger, startTime time.Time) *TaskRunner {
	return &TaskRunner{
		tasks: make(map[string]*PeriodicTask),
		now:   startTime,
		log:   log,
	}
}

func (r *TaskRunner) Now() time.Time {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.now
}

func (r *TaskRunner) AddTask(task *PeriodicTask) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.tasks[task.Name]; ok {
		r.log.Debug("Trying to add an already included task", zap.String("task", task.Name))
		return
	}

	task.deadline = r.now.Add(task.StartDelay)
	r.tasks[task.Name] = task
	r.log.Debug("Adding periodic task", zap.String("task", task.Name), zap.Duration("interval", task.Interval))
	heap.Push(&r.heap, task)
}

func (r *TaskRunner) RemoveTask(name string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	task, ok := r.tasks[name]
	if !ok {
		return
	}

	r.log.Debug("Removing periodic task", zap.String("task", name))
	heap.Remove(&r.heap, task.index)
	delete(r.tasks, name)
}

// Tick advances the clock to now and runs every task that is due.
func (r *TaskRunner) Tick(ctx context.Context, now time.Time) {
	for _, task := range r.dueTasks(now) {
		r.log.Verbo("Executing periodic task", zap.String("task", task.Name))
		if err := task.Run(ctx, now); err != nil {
			r.log.Warn("Periodic task failed", zap.String("task", task.Name), zap.Error(err))
		}
	}
}

func (r *TaskRunner) dueTasks(now time.Time) []*PeriodicTask {
	r.lock.Lock()
	defer r.lock.Unlock()

	if now.After(r.now) {
		r.now = now
	}

	var due []*PeriodicTask
	for r.heap.Len() > 0 && !r.heap[0].deadline.After(r.now) {
		due = append(due, heap.Pop(&r.heap).(*PeriodicTask))
	}

	for _, task := range due {
		task.deadline = task.deadline.Add(task.Interval)
		if !task.deadline.After(r.now) {
			task.deadline = r.now.Add(task.Interval)
		}
		heap.Push(&r.heap, task)
	}

	return due
}

// ----------------------------------------------------------------------
type taskHeap []*PeriodicTask

func (h *taskHeap) Len() int { return len(*h) }

// Less returns if the task at index [i] is due before the task at index [j]
func (h *taskHeap) Less(i, j int) bool { return (*h)[i].deadline.Before((*h)[j].deadline) }

func (h *taskHeap) Swap(i, j int) {
	(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
	(*h)[i].index = i
	(*h)[j].index = j
}

func (h *taskHeap) Push(x any) {
	task := x.(*PeriodicTask)
	task.index = h.Len()
	*h = append(*h, task)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := h.Len()
	task := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	task.index = -1
	return task
}
