package optimize

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, q *Queue, id, status string) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		j, ok := q.Get(id)
		if !ok {
			return false
		}
		job = j
		return j.Status == status
	}, 2*time.Second, 5*time.Millisecond, "等待任务 %s 进入 %s", id, status)
	return job
}

func TestQueueRunsJobsFIFO(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	var order []string

	record := func(name string, gate <-chan struct{}) func(context.Context) (*SweepResult, error) {
		return func(context.Context) (*SweepResult, error) {
			if gate != nil {
				<-gate
			}
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return &SweepResult{}, nil
		}
	}

	first, err := q.Submit("first", record("first", release))
	require.NoError(t, err)
	second, err := q.Submit("second", record("second", nil))
	require.NoError(t, err)
	third, err := q.Submit("third", record("third", nil))
	require.NoError(t, err)

	// 首个任务占用队列时，后续任务保持排队
	waitForStatus(t, q, first.ID, JobRunning)
	snap, ok := q.Get(second.ID)
	require.True(t, ok)
	assert.Equal(t, JobPending, snap.Status)

	close(release)
	waitForStatus(t, q, third.ID, JobCompleted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Equal(t, JobCompleted, mustGet(t, q, second.ID).Status)
}

func TestQueueJobLifecycle(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	want := &SweepResult{Elapsed: time.Second}
	job, err := q.Submit("demo", func(context.Context) (*SweepResult, error) {
		return want, nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.False(t, job.SubmittedAt.IsZero())

	done := waitForStatus(t, q, job.ID, JobCompleted)
	assert.Equal(t, "demo", done.Label)
	assert.Empty(t, done.Error)
	require.NotNil(t, done.Result)
	assert.Equal(t, want.Elapsed, done.Result.Elapsed)
	assert.False(t, done.StartedAt.IsZero())
	assert.False(t, done.FinishedAt.IsZero())

	// 快照不携带执行函数
	assert.Nil(t, done.run)
	assert.Nil(t, done.cancel)
}

func TestQueueFailedJobKeepsError(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	job, err := q.Submit("boom", func(context.Context) (*SweepResult, error) {
		return nil, errors.New("series unavailable")
	})
	require.NoError(t, err)

	done := waitForStatus(t, q, job.ID, JobFailed)
	assert.Equal(t, "series unavailable", done.Error)
	assert.Nil(t, done.Result)
}

func TestQueueCancelPending(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	release := make(chan struct{})
	defer close(release)

	blocker, err := q.Submit("blocker", func(context.Context) (*SweepResult, error) {
		<-release
		return &SweepResult{}, nil
	})
	require.NoError(t, err)
	waitForStatus(t, q, blocker.ID, JobRunning)

	pending, err := q.Submit("pending", func(context.Context) (*SweepResult, error) {
		return &SweepResult{}, nil
	})
	require.NoError(t, err)

	require.NoError(t, q.Cancel(pending.ID))
	assert.Equal(t, JobCancelled, mustGet(t, q, pending.ID).Status)

	// 已终结的任务不能再取消
	assert.Error(t, q.Cancel(pending.ID))
	assert.Error(t, q.Cancel("no-such-job"))
}

func TestQueueCancelRunning(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	job, err := q.Submit("long", func(ctx context.Context) (*SweepResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	waitForStatus(t, q, job.ID, JobRunning)
	require.NoError(t, q.Cancel(job.ID))
	waitForStatus(t, q, job.ID, JobCancelled)
}

func TestQueueCloseRejectsSubmit(t *testing.T) {
	q := NewQueue()
	q.Close()
	q.Close() // 幂等

	_, err := q.Submit("late", func(context.Context) (*SweepResult, error) {
		return &SweepResult{}, nil
	})
	require.Error(t, err)

	q2 := NewQueue()
	defer q2.Close()
	_, err = q2.Submit("nil-run", nil)
	require.Error(t, err)
}

func mustGet(t *testing.T, q *Queue, id string) *Job {
	t.Helper()
	job, ok := q.Get(id)
	require.True(t, ok)
	return job
}
