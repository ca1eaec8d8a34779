package net

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

// WorkerFunc handles a single queued task; a non-nil error is fatal to
// the tomb and brings down the rest of the pool with it.
type WorkerFunc = func(t *tomb.Tomb, task any) error

// WorkerPool runs a fixed number of goroutines pulling from a shared
// task queue, supervised by a tomb.Tomb (grounded on the teacher's
// internal/worker.go, generalized beyond connection tasks to any `any`
// payload).
type WorkerPool struct {
	n     int
	tasks chan any
}

// NewWorkerPool creates a pool sized for size concurrent workers.
func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{n: size, tasks: make(chan any, taskChanSize)}
}

// AddTask enqueues a task for some worker to pick up.
func (p *WorkerPool) AddTask(task any) {
	p.tasks <- task
}

// Setup keeps exactly p.n workers alive under t until t starts dying.
func (p *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunc) {
	log.Info().Int("workers", p.n).Msg("starting worker pool")
	active := 0
	for {
		select {
		case <-t.Dying():
			return
		default:
			if active < p.n {
				t.Go(func() error {
					err := p.worker(t, work)
					active--
					return err
				})
				active++
			}
		}
	}
}

func (p *WorkerPool) worker(t *tomb.Tomb, work WorkerFunc) error {
	select {
	case <-t.Dying():
		return nil
	case task := <-p.tasks:
		if err := work(t, task); err != nil {
			log.Error().Err(err).Msg("worker exiting on error")
			return err
		}
	}
	return nil
}
