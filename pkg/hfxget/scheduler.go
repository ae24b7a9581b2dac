// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxget

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Scheduler fans download jobs out across a bounded worker pool. Jobs are
// dispatched in input order; a job's failure never cancels its siblings.
type Scheduler struct {
	engine *Engine
	stats  *StatsCollector
	emit   func(ProgressEvent)
}

func newScheduler(engine *Engine, stats *StatsCollector, emit func(ProgressEvent)) *Scheduler {
	return &Scheduler{engine: engine, stats: stats, emit: emit}
}

// Run executes the jobs with at most maxWorkers concurrent transfers and
// returns once every dispatched job has reported an outcome. Cancellation
// stops dispatching new jobs immediately; in-flight transfers observe the
// context at their next I/O boundary and leave their partials on disk.
func (s *Scheduler) Run(ctx context.Context, jobs []DownloadJob, maxWorkers int) {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	sem := semaphore.NewWeighted(int64(maxWorkers))
	var wg sync.WaitGroup

	for _, job := range jobs {
		// Acquire blocks until a worker slot frees up, giving FIFO
		// dispatch with backpressure; it fails only on cancellation.
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(job DownloadJob) {
			defer wg.Done()
			defer sem.Release(1)

			s.emit(ProgressEvent{
				Event: "file_start", Path: job.Entry.Path,
				Source: job.Source, Total: job.Entry.Size, IsLFS: job.Entry.LFS,
			})

			out := s.engine.Transfer(ctx, job)
			s.stats.Record(out)

			switch out.Status {
			case StatusCompleted:
				s.emit(ProgressEvent{Event: "file_done", Path: out.Path, Source: out.Source})
			case StatusFailed:
				s.emit(ProgressEvent{
					Event: "error", Path: out.Path, Source: out.Source,
					Message: out.Err.Error(),
				})
			}
		}(job)
	}

	wg.Wait()
}
