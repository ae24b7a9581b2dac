// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package tui renders interactive download progress and the end-of-run
// summary for the command line.
package tui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"

	"github.com/hfxget/hfxget/pkg/hfxget"
)

// Renderer drives a single aggregate progress bar over all planned bytes.
// Per-file byte updates arrive from multiple workers; the renderer folds
// them into one bar keyed by cumulative per-file counts.
type Renderer struct {
	job hfxget.Job
	out io.Writer

	mu         sync.Mutex
	bar        *pb.ProgressBar
	planned    int
	totalBytes int64
	perFile    map[string]int64
}

// NewRenderer creates a renderer writing to stderr, keeping stdout clean
// for machine-readable output.
func NewRenderer(job hfxget.Job) *Renderer {
	return &Renderer{
		job:     job,
		out:     os.Stderr,
		perFile: map[string]int64{},
	}
}

// Handler returns the progress callback to pass to Download.
func (r *Renderer) Handler() hfxget.ProgressFunc {
	return func(ev hfxget.ProgressEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()

		switch ev.Event {
		case "scan_start":
			rev := ev.Revision
			if rev == "" {
				rev = "main"
			}
			fmt.Fprintf(r.out, "Scanning %s@%s ...\n", ev.Repo, rev)

		case "plan_item":
			r.planned++
			r.totalBytes += ev.Total

		case "file_start":
			if r.bar == nil && r.planned > 0 {
				fmt.Fprintf(r.out, "Downloading %d files (%s)\n",
					r.planned, humanize.IBytes(uint64(r.totalBytes)))
				r.bar = pb.Full.Start64(r.totalBytes)
				r.bar.Set(pb.Bytes, true)
				r.bar.SetWriter(r.out)
			}

		case "file_progress":
			if r.bar == nil {
				return
			}
			last := r.perFile[ev.Path]
			if delta := ev.Downloaded - last; delta > 0 {
				r.bar.Add64(delta)
				r.perFile[ev.Path] = ev.Downloaded
			}

		case "retry":
			fmt.Fprintf(r.out, "retry %s: %s\n", ev.Path, ev.Message)

		case "error":
			if ev.Path != "" {
				fmt.Fprintf(r.out, "failed %s: %s\n", ev.Path, ev.Message)
			}
		}
	}
}

// Close stops the bar if it is still running.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		r.bar.Finish()
		r.bar = nil
	}
}

// PrintSummary writes the end-of-run statistics block.
func PrintSummary(w io.Writer, sum *hfxget.RunSummary) {
	fmt.Fprintln(w, "Download statistics:")
	fmt.Fprintf(w, "  completed: %d  skipped: %d  failed: %d\n",
		sum.Completed, sum.Skipped, sum.Failed)
	fmt.Fprintf(w, "  accelerator: %d ok, %d failed\n", sum.AcceleratedOK, sum.AcceleratedFailed)
	fmt.Fprintf(w, "  mirror:      %d ok, %d failed\n", sum.MirroredOK, sum.MirroredFailed)
	fmt.Fprintf(w, "  transferred: %s in %s\n",
		humanize.IBytes(uint64(sum.TotalBytes)), sum.Elapsed.Round(time.Millisecond))

	if len(sum.Failures) > 0 {
		fmt.Fprintln(w, "Failures:")
		for _, f := range sum.Failures {
			fmt.Fprintf(w, "  %s: %s\n", f.Path, f.Reason)
		}
	}
}
