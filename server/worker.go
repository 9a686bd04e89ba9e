package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrStopped is returned by Do once the worker has stopped.
	ErrStopped = errors.New("worker stopped")

	// ErrJobPanicked wraps a panic raised by a job.
	ErrJobPanicked = errors.New("conversation job panicked")
)

// job is one unit of conversation work: starting, stepping or answering a
// conversation, or touching the shared globals.
type job struct {
	ctx   context.Context
	fn    func(*Library) error
	reply chan error
}

// Worker owns the Library. Machines are single-threaded and every
// conversation writes the same globals, so each job runs to completion on
// one goroutine before the next one starts. A job never blocks on I/O other
// than the save store.
type Worker struct {
	lib  *Library
	jobs chan job

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWorker starts the goroutine that owns lib.
func NewWorker(lib *Library) *Worker {
	w := &Worker{
		lib:  lib,
		jobs: make(chan job, 64),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case j := <-w.jobs:
			if err := j.ctx.Err(); err != nil {
				j.reply <- err
				continue
			}
			j.reply <- w.runJob(j.fn)
		case <-w.quit:
			return
		}
	}
}

// runJob runs fn and turns a panic into ErrJobPanicked. The conversation the
// job touched is left as the panic found it; the machine itself never
// panics across Step.
func (w *Worker) runJob(fn func(*Library) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("conversation job panicked: %v", r)
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return fn(w.lib)
}

// Do queues fn and waits for its error. A job still waiting in the queue is
// dropped when ctx ends; once it runs, Do waits for it to finish so a
// conversation is never left half-stepped.
func (w *Worker) Do(ctx context.Context, fn func(*Library) error) error {
	j := job{ctx: ctx, fn: fn, reply: make(chan error, 1)}
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.quit:
		return ErrStopped
	}
	select {
	case err := <-j.reply:
		return err
	case <-w.quit:
		return ErrStopped
	}
}

// Stop ends the worker and waits for the job in progress. It may be called
// more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.done
}
