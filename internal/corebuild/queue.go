package corebuild

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// JobQueue is the process-wide Background Job Queue from spec.md §4.6:
// used exclusively for cache-upload tasks so the main build loop never
// blocks on a remote feed round-trip. Grounded on
// internal/hokuto/parallel.go's ParallelManager — one mutex guarding every
// field, a channel for cross-goroutine completion signaling — scaled down
// to the queue's narrower post/join_all contract.
type JobQueue struct {
	mu           sync.Mutex
	ids          []string
	descriptions map[string]string
	done         map[string]chan struct{}
	draining     bool

	Reporter Reporter
}

func NewJobQueue(r Reporter) *JobQueue {
	return &JobQueue{
		descriptions: make(map[string]string),
		done:         make(map[string]chan struct{}),
		Reporter:     r,
	}
}

// Post implements spec.md §4.6's post(task, description): fails fast if
// the queue is draining, otherwise records the task and launches it in a
// goroutine. The goroutine closes its done channel on completion unless
// join_all has already swept the queue out from under it.
func (q *JobQueue) Post(task func() error, description string) error {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return fmt.Errorf("job queue: post called while draining")
	}

	id := uuid.NewString()
	done := make(chan struct{})
	q.ids = append(q.ids, id)
	q.descriptions[id] = description
	q.done[id] = done
	q.mu.Unlock()

	go func() {
		err := task()
		if err != nil && q.Reporter != nil {
			q.Reporter.Warn("background task %q failed: %v", description, err)
		}
		q.mu.Lock()
		if _, ok := q.done[id]; ok {
			close(done)
		}
		q.mu.Unlock()
	}()
	return nil
}

// JoinAll implements spec.md §4.6's join_all(): fails fast if already
// draining (not reentrant), otherwise sets draining under lock, then walks
// tasks in submission order outside the lock, printing one "waiting" line
// per task (to Status if not yet complete, to Debugf if already complete)
// and blocking on its done channel. Clears all state and resets draining
// under lock before returning, satisfying the "Queue drain" property.
func (q *JobQueue) JoinAll() error {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return fmt.Errorf("job queue: join_all is not reentrant")
	}
	q.draining = true
	ids := append([]string(nil), q.ids...)
	descs := q.descriptions
	dones := q.done
	q.mu.Unlock()

	for _, id := range ids {
		ch := dones[id]
		select {
		case <-ch:
			if q.Reporter != nil {
				q.Reporter.Debugf("waiting for %s (already complete)", descs[id])
			}
		default:
			if q.Reporter != nil {
				q.Reporter.Status("waiting for %s", descs[id])
			}
			<-ch
		}
	}

	q.mu.Lock()
	q.ids = nil
	q.descriptions = make(map[string]string)
	q.done = make(map[string]chan struct{})
	q.draining = false
	q.mu.Unlock()
	return nil
}
