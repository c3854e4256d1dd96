package state

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/m3rciful/starstore/core/logger"
)

// Job is one unit of work for a user.
type Job func()

// Serializer runs jobs for the same key strictly in submission order while
// different keys proceed in parallel. Each key gets a drain goroutine that
// exits once its queue is empty, so idle users hold no resources.
type Serializer struct {
	mu     sync.Mutex
	queues map[int64]*queue
	wg     sync.WaitGroup
	closed bool
}

type queue struct {
	jobs []Job
}

// NewSerializer constructs an empty Serializer.
func NewSerializer() *Serializer {
	return &Serializer{queues: make(map[int64]*queue)}
}

// Submit appends job to the key's queue. It reports false once Close was called.
func (s *Serializer) Submit(key int64, job Job) bool {
	if job == nil {
		return true
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if q, ok := s.queues[key]; ok {
		q.jobs = append(q.jobs, job)
		s.mu.Unlock()
		return true
	}
	q := &queue{jobs: []Job{job}}
	s.queues[key] = q
	s.wg.Add(1)
	s.mu.Unlock()

	go s.drain(key, q)
	return true
}

func (s *Serializer) drain(key int64, q *queue) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(q.jobs) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		s.mu.Unlock()

		s.run(key, job)
	}
}

// run keeps a panicking job from killing the drain loop for that user.
func (s *Serializer) run(key int64, job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(context.Background(), "tg", "serializer.panic",
				slog.String("status", "fail"),
				slog.Int64("user_id", key),
				slog.String("err", fmt.Sprint(r)),
				slog.String("cause", string(debug.Stack())),
			)
		}
	}()
	job()
}

// Active returns the number of keys with queued or running jobs.
func (s *Serializer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}

// Wait blocks until every queue has drained.
func (s *Serializer) Wait() {
	s.wg.Wait()
}

// Close rejects new jobs and waits for queued ones to finish.
func (s *Serializer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
