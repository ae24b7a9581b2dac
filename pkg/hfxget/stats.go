// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxget

import (
	"sync"
	"time"
)

// StatsCollector accumulates transfer outcomes from concurrent workers.
// All mutation funnels through one mutex so no update is ever lost.
type StatsCollector struct {
	mu       sync.Mutex
	start    time.Time
	outcomes []TransferOutcome
}

func NewStatsCollector() *StatsCollector {
	return &StatsCollector{start: time.Now()}
}

// Record accumulates one outcome. Safe for concurrent use.
func (s *StatsCollector) Record(out TransferOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, out)
}

// Outcomes returns a snapshot of everything recorded so far.
func (s *StatsCollector) Outcomes() []TransferOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TransferOutcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

// Summarize derives the immutable run summary from everything recorded so
// far. Failures are enumerated with their reasons, never dropped.
func (s *StatsCollector) Summarize() *RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := &RunSummary{Elapsed: time.Since(s.start)}
	for _, out := range s.outcomes {
		switch out.Status {
		case StatusCompleted:
			sum.Completed++
			switch out.Source {
			case SourceAccelerated:
				sum.AcceleratedOK++
			case SourceMirrored:
				sum.MirroredOK++
			}
		case StatusSkipped:
			sum.Skipped++
		case StatusFailed:
			sum.Failed++
			switch out.Source {
			case SourceAccelerated:
				sum.AcceleratedFailed++
			case SourceMirrored:
				sum.MirroredFailed++
			}
			reason := "unknown"
			if out.Err != nil {
				reason = out.Err.Error()
			}
			sum.Failures = append(sum.Failures, Failure{Path: out.Path, Reason: reason})
		}
		sum.TotalBytes += out.Bytes
	}
	return sum
}
