package optimize

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dcalab/internal/logger"
)

// 任务状态。同一时间只允许一个扫描占用 CPU，其余排队。
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job 是排队中的一次参数扫描。
type Job struct {
	ID          string        `json:"id"`
	Label       string        `json:"label,omitempty"`
	Status      string        `json:"status"`
	SubmittedAt time.Time     `json:"submitted_at"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
	FinishedAt  time.Time     `json:"finished_at,omitempty"`
	Error       string        `json:"error,omitempty"`
	Result      *SweepResult  `json:"result,omitempty"`
	run         func(context.Context) (*SweepResult, error)
	cancel      context.CancelFunc
}

// Queue 串行消费扫描任务：提交即排队，先进先出。
type Queue struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	order  []string
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

func NewQueue() *Queue {
	q := &Queue{
		jobs: make(map[string]*Job),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

// Submit 将任务加入队列并立即返回任务 ID。
func (q *Queue) Submit(label string, run func(context.Context) (*SweepResult, error)) (*Job, error) {
	if run == nil {
		return nil, fmt.Errorf("queue job requires a run function")
	}
	job := &Job{
		ID:          uuid.NewString(),
		Label:       label,
		Status:      JobPending,
		SubmittedAt: time.Now(),
		run:         run,
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, fmt.Errorf("queue is closed")
	}
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.mu.Unlock()
	q.notify()
	return job.snapshot(), nil
}

// Cancel 取消任务：pending 直接标记，running 中断其上下文。
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("unknown job: %s", id)
	}
	switch job.Status {
	case JobPending:
		job.Status = JobCancelled
		job.FinishedAt = time.Now()
		return nil
	case JobRunning:
		if job.cancel != nil {
			job.cancel()
		}
		return nil
	default:
		return fmt.Errorf("job %s already %s", id, job.Status)
	}
}

// Get 返回任务快照。
func (q *Queue) Get(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return job.snapshot(), true
}

// List 返回全部任务快照，按提交时间倒序。
func (q *Queue) List() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.jobs[id].snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// Close 停止消费，不再接受新任务。
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) loop() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		for {
			job := q.nextPending()
			if job == nil {
				break
			}
			q.execute(job)
		}
	}
}

func (q *Queue) nextPending() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		if job := q.jobs[id]; job.Status == JobPending {
			return job
		}
	}
	return nil
}

func (q *Queue) execute(job *Job) {
	ctx, cancel := context.WithCancel(context.Background())
	q.mu.Lock()
	if job.Status != JobPending {
		q.mu.Unlock()
		cancel()
		return
	}
	job.Status = JobRunning
	job.StartedAt = time.Now()
	job.cancel = cancel
	q.mu.Unlock()

	result, err := job.run(ctx)
	cancel()

	q.mu.Lock()
	defer q.mu.Unlock()
	job.FinishedAt = time.Now()
	job.cancel = nil
	switch {
	case ctx.Err() != nil:
		job.Status = JobCancelled
		logger.Infof("寻优任务已取消: %s", job.ID)
	case err != nil:
		job.Status = JobFailed
		job.Error = err.Error()
		logger.Errorf("寻优任务失败: %s: %v", job.ID, err)
	default:
		job.Status = JobCompleted
		job.Result = result
	}
}

func (j *Job) snapshot() *Job {
	cp := *j
	cp.run = nil
	cp.cancel = nil
	return &cp
}
