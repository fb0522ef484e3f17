// Package queue provides the in-process work queues which drive capture and
// diff dispatch: priority-ordered, at-least-once, with per-job retry
// accounting and a processing set for in-flight recovery. A Redis-backed
// distributed lock keeps multiple scheduler instances from enqueuing the
// same site.
package queue

import (
	"container/heap"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Job statuses.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Job is a transient work-queue item. Payload references a site or a pair
// of snapshots by id; it's opaque to the queue itself.
type Job struct {
	ID        string
	Status    string
	Priority  int
	CreatedAt time.Time
	StartedAt *time.Time
	NotBefore time.Time // Requeued jobs wait out the retry spacing.
	Payload   json.RawMessage
	Retries   int
	LastError string

	seq int // Insertion order, breaking priority ties.
}

// Stats are point-in-time counts of a named queue.
type Stats struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// Broker owns a set of named priority queues sharing one lock and job id
// sequence. Lower priority values dispatch first; ties dispatch in
// insertion order.
type Broker struct {
	// RetryDelay spaces requeued jobs: a failed job re-added for retry is
	// not dispatched again until it elapses. Zero retries immediately.
	RetryDelay time.Duration

	mu     sync.Mutex
	queues map[string]*namedQueue
	seq    int
}

type namedQueue struct {
	heap       jobHeap
	processing map[string]*Job
	completed  int
	failed     int
}

// NewBroker returns an empty Broker.
func NewBroker() *Broker {
	return &Broker{queues: make(map[string]*namedQueue)}
}

func (b *Broker) queue(name string) *namedQueue {
	var q, ok = b.queues[name]
	if !ok {
		q = &namedQueue{processing: make(map[string]*Job)}
		b.queues[name] = q
	}
	return q
}

// Enqueue adds a payload to the named queue and returns the assigned job id.
func (b *Broker) Enqueue(queue string, payload interface{}, priority int) (string, error) {
	var data, err = json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding job payload: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	var job = &Job{
		ID:        fmt.Sprintf("job:%d:%d", time.Now().Unix(), b.seq),
		Status:    JobPending,
		Priority:  priority,
		CreatedAt: time.Now(),
		Payload:   data,
		seq:       b.seq,
	}
	heap.Push(&b.queue(queue).heap, job)

	log.WithFields(log.Fields{"queue": queue, "job": job.ID, "priority": priority}).
		Debug("enqueued job")
	return job.ID, nil
}

// Next atomically removes the highest-priority dispatchable job, moves it
// into the queue's processing set, and returns it. It returns nil when the
// queue is empty or every queued job is still waiting out its retry
// spacing.
func (b *Broker) Next(queue string) *Job {
	b.mu.Lock()
	defer b.mu.Unlock()

	var q = b.queue(queue)
	var now = time.Now()

	var job *Job
	var waiting []*Job
	for q.heap.Len() > 0 {
		var j = heap.Pop(&q.heap).(*Job)
		if j.NotBefore.After(now) {
			waiting = append(waiting, j)
			continue
		}
		job = j
		break
	}
	for _, j := range waiting {
		heap.Push(&q.heap, j)
	}
	if job == nil {
		return nil
	}

	job.Status = JobProcessing
	job.StartedAt = &now
	q.processing[job.ID] = job
	return job
}

// Complete marks a processing job as completed and drops it from the
// processing set.
func (b *Broker) Complete(queue, jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var q = b.queue(queue)
	if job, ok := q.processing[jobID]; ok {
		job.Status = JobCompleted
		delete(q.processing, jobID)
		q.completed++
	}
}

// Fail removes a processing job. When |retry| is set and the job hasn't
// exhausted |maxRetries|, it's re-added to the queue with decremented
// urgency (priority+1); otherwise it's marked failed. It reports whether
// the job was requeued.
func (b *Broker) Fail(queue, jobID string, jobErr error, retry bool, maxRetries int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	var q = b.queue(queue)
	var job, ok = q.processing[jobID]
	if !ok {
		return false
	}
	delete(q.processing, jobID)

	if jobErr != nil {
		job.LastError = jobErr.Error()
	}

	if retry && job.Retries < maxRetries {
		job.Retries++
		job.Status = JobPending
		job.Priority++
		job.StartedAt = nil
		job.NotBefore = time.Now().Add(b.RetryDelay)
		heap.Push(&q.heap, job)

		log.WithFields(log.Fields{
			"queue": queue, "job": jobID, "retry": job.Retries, "maxRetries": maxRetries,
		}).Info("requeued job for retry")
		return true
	}

	job.Status = JobFailed
	q.failed++
	log.WithFields(log.Fields{"queue": queue, "job": jobID, "err": job.LastError}).
		Warn("job failed")
	return false
}

// Requeue returns a processing job to the queue unchanged, preserving its
// priority and retry count. It's for jobs claimed but not worked, where
// Fail's retry accounting would misattribute an error to the job.
func (b *Broker) Requeue(queue, jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var q = b.queue(queue)
	var job, ok = q.processing[jobID]
	if !ok {
		return
	}
	delete(q.processing, jobID)

	job.Status = JobPending
	job.StartedAt = nil
	heap.Push(&q.heap, job)
}

// Stats returns counts of the named queue.
func (b *Broker) Stats(queue string) Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var q = b.queue(queue)
	return Stats{
		Pending:    q.heap.Len(),
		Processing: len(q.processing),
		Completed:  q.completed,
		Failed:     q.failed,
	}
}

// jobHeap orders by (priority ASC, seq ASC).
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(*Job)) }
func (h *jobHeap) Pop() interface{} {
	var old = *h
	var n = len(old)
	var job = old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
