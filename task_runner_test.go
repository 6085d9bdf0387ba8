// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	. "github.com/luxfi/finality"
	"github.com/luxfi/finality/testutil"
)

type taskLog struct {
	runs []time.Time
	err  error
}

func (l *taskLog) task(name string, startDelay time.Duration, interval time.Duration) *PeriodicTask {
	return &PeriodicTask{
		Name:       name,
		StartDelay: startDelay,
		Interval:   interval,
		Run: func(_ context.Context, now time.Time) error {
			l.runs = append(l.runs, now)
			return l.err
		},
	}
}

func TestTaskRunner(t *testing.T) {
	start := time.Unix(1000, 0)
	runner := NewTaskRunner(testutil.MakeLogger(t), start)
	ctx := context.Background()

	var immediate, delayed taskLog
	runner.AddTask(immediate.task("immediate", 0, time.Second))
	runner.AddTask(delayed.task("delayed", 3*time.Second, 2*time.Second))

	for i := 0; i <= 6; i++ {
		runner.Tick(ctx, start.Add(time.Duration(i)*time.Second))
	}

	require.Len(t, immediate.runs, 7)
	require.Equal(t, []time.Time{start.Add(3 * time.Second), start.Add(5 * time.Second)}, delayed.runs)
	require.Equal(t, start.Add(6*time.Second), runner.Now())
}

func TestTaskRunnerLateTick(t *testing.T) {
	start := time.Unix(1000, 0)
	runner := NewTaskRunner(testutil.MakeLogger(t), start)
	ctx := context.Background()

	var log taskLog
	runner.AddTask(log.task("task", 0, time.Second))

	runner.Tick(ctx, start)
	runner.Tick(ctx, start.Add(10*time.Second))
	require.Len(t, log.runs, 2)

	// the next run is one interval after the late tick
	runner.Tick(ctx, start.Add(10*time.Second+500*time.Millisecond))
	require.Len(t, log.runs, 2)
	runner.Tick(ctx, start.Add(11*time.Second))
	require.Len(t, log.runs, 3)

	// the clock does not move backwards
	runner.Tick(ctx, start)
	require.Equal(t, start.Add(11*time.Second), runner.Now())
	require.Len(t, log.runs, 3)
}

func TestTaskRunnerAddRemove(t *testing.T) {
	start := time.Unix(1000, 0)
	runner := NewTaskRunner(testutil.MakeLogger(t), start)
	ctx := context.Background()

	var first, duplicate, second taskLog
	runner.AddTask(first.task("first", 0, time.Second))
	runner.AddTask(duplicate.task("first", 0, time.Second))
	runner.AddTask(second.task("second", 0, time.Second))

	runner.Tick(ctx, start)
	require.Len(t, first.runs, 1)
	require.Empty(t, duplicate.runs)
	require.Len(t, second.runs, 1)

	runner.RemoveTask("first")
	runner.RemoveTask("unknown")
	runner.Tick(ctx, start.Add(time.Second))
	require.Len(t, first.runs, 1)
	require.Len(t, second.runs, 2)
}

func TestTaskRunnerKeepsFailingTask(t *testing.T) {
	start := time.Unix(1000, 0)
	logger := testutil.MakeLogger(t)
	runner := NewTaskRunner(logger, start)
	ctx := context.Background()

	var warnings int
	logger.Intercept(func(entry zapcore.Entry) error {
		if entry.Level == zapcore.WarnLevel {
			warnings++
		}
		return nil
	})

	failing := taskLog{err: errors.New("task failed")}
	runner.AddTask(failing.task("failing", 0, time.Second))

	runner.Tick(ctx, start)
	runner.Tick(ctx, start.Add(time.Second))
	require.Len(t, failing.runs, 2)
	require.Equal(t, 2, warnings)
}
