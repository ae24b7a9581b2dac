// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxget

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// Download fetches the file set of a remote repository and materializes it
// under cfg.OutputDir. The pipeline: resolve the file list, apply the
// caller's filter, drop entries the local disk already satisfies, route the
// rest to mirror or accelerator, and fan them out across the worker pool.
//
// Run-level failures (unknown repo, denied access, unusable configuration)
// return an error before any transfer starts. Per-file failures never abort
// the run; they are enumerated in the returned summary.
func Download(ctx context.Context, job Job, cfg Settings, progress ProgressFunc) (*RunSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	applyDefaults(&job, &cfg)

	if !IsValidRepoName(job.Repo) {
		return nil, ErrInvalidRepo
	}

	builder, err := NewURLBuilder(cfg)
	if err != nil {
		return nil, err
	}

	emit := eventSink(job, progress)
	emit(ProgressEvent{Event: "scan_start", Message: "resolving file list"})

	resolver := NewResolver(cfg)
	entries, commit, err := resolver.Resolve(ctx, job)
	if err != nil {
		emit(ProgressEvent{Event: "error", Message: err.Error()})
		return nil, err
	}

	repoDir := filepath.Join(cfg.OutputDir, filepath.FromSlash(job.Repo))
	meta := newMetaStore(repoDir)
	checker := NewChecker()
	stats := NewStatsCollector()

	var jobs []DownloadJob
	byPath := make(map[string]RepoFileEntry, len(entries))

	for _, entry := range entries {
		if job.Keep != nil && !job.Keep(entry) {
			continue
		}
		byPath[entry.Path] = entry
		localPath := filepath.Join(repoDir, filepath.FromSlash(entry.Path))

		switch reason, err := alreadySatisfied(checker, meta, entry, localPath); {
		case err != nil:
			stats.Record(TransferOutcome{Path: entry.Path, Status: StatusFailed, Err: err})
			emit(ProgressEvent{Event: "error", Path: entry.Path, Message: err.Error()})
			continue
		case reason != "":
			stats.Record(TransferOutcome{Path: entry.Path, Status: StatusSkipped})
			emit(ProgressEvent{Event: "file_done", Path: entry.Path, Message: "skip (" + reason + ")"})
			continue
		}

		kind := Route(entry)
		dj := DownloadJob{
			Entry:     entry,
			Source:    kind,
			URL:       builder.FileURL(job, entry, kind),
			LocalPath: localPath,
		}
		if kind == SourceAccelerated {
			dj.FallbackURL = builder.FileURL(job, entry, SourceMirrored)
		}
		jobs = append(jobs, dj)
		emit(ProgressEvent{
			Event: "plan_item", Path: entry.Path, Source: kind,
			Total: entry.Size, IsLFS: entry.LFS,
		})
	}

	engine := newEngine(cfg, checker, emit)
	newScheduler(engine, stats, emit).Run(ctx, jobs, cfg.MaxWorkers)

	// Record what each completed file was downloaded under so that later
	// runs can recognize entries with no verifiable size or hash.
	for _, out := range stats.Outcomes() {
		if out.Status != StatusCompleted {
			continue
		}
		if entry, ok := byPath[out.Path]; ok {
			_ = meta.Write(entry.Path, commit, entryETag(entry))
		}
	}

	summary := stats.Summarize()
	if err := ctx.Err(); err != nil {
		emit(ProgressEvent{Event: "error", Message: "canceled, partial files kept for resumption"})
		return summary, err
	}

	emit(ProgressEvent{
		Event: "done",
		Message: fmt.Sprintf("downloaded %d, skipped %d, failed %d",
			summary.Completed, summary.Skipped, summary.Failed),
	})
	return summary, nil
}

// PlanRepo resolves and routes the file list without transferring anything.
func PlanRepo(ctx context.Context, job Job, cfg Settings) ([]DownloadJob, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	applyDefaults(&job, &cfg)

	if !IsValidRepoName(job.Repo) {
		return nil, ErrInvalidRepo
	}
	builder, err := NewURLBuilder(cfg)
	if err != nil {
		return nil, err
	}

	entries, _, err := NewResolver(cfg).Resolve(ctx, job)
	if err != nil {
		return nil, err
	}

	repoDir := filepath.Join(cfg.OutputDir, filepath.FromSlash(job.Repo))
	var jobs []DownloadJob
	for _, entry := range entries {
		if job.Keep != nil && !job.Keep(entry) {
			continue
		}
		kind := Route(entry)
		jobs = append(jobs, DownloadJob{
			Entry:     entry,
			Source:    kind,
			URL:       builder.FileURL(job, entry, kind),
			LocalPath: filepath.Join(repoDir, filepath.FromSlash(entry.Path)),
		})
	}
	return jobs, nil
}

// alreadySatisfied reports a non-empty skip reason when the local file
// already matches the entry. For entries carrying neither size nor hash a
// bare existing file is accepted, unless the sidecar metadata shows it was
// downloaded as a different blob.
func alreadySatisfied(checker *Checker, meta *metaStore, entry RepoFileEntry, localPath string) (string, error) {
	res, err := checker.Verify(localPath, entry.Size, entry.SHA256)
	if err != nil {
		return "", err
	}
	if res != VerifyValid {
		return "", nil
	}
	if entry.Size == 0 && entry.SHA256 == "" {
		if _, etag, ok := meta.Read(entry.Path); ok && etag != entryETag(entry) {
			return "", nil // stale blob, re-download
		}
		return "exists", nil
	}
	if entry.SHA256 != "" {
		return "sha256 match", nil
	}
	return "size match", nil
}

func applyDefaults(job *Job, cfg *Settings) {
	def := DefaultSettings()
	if job.Revision == "" {
		job.Revision = "main"
	}
	if job.Type == "" {
		job.Type = RepoTypeModel
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.MirrorBaseURL == "" {
		cfg.MirrorBaseURL = def.MirrorBaseURL
	}
	if cfg.AcceleratorBaseURL == "" {
		cfg.AcceleratorBaseURL = def.AcceleratorBaseURL
	}
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}
	if cfg.BackoffInitial == "" {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffMax == "" {
		cfg.BackoffMax = def.BackoffMax
	}
}

// eventSink wraps the caller's progress callback, stamping shared fields.
func eventSink(job Job, progress ProgressFunc) func(ProgressEvent) {
	return func(ev ProgressEvent) {
		if progress == nil {
			return
		}
		if ev.Time.IsZero() {
			ev.Time = time.Now().UTC()
		}
		if ev.Repo == "" {
			ev.Repo = job.Repo
		}
		if ev.Revision == "" {
			ev.Revision = job.Revision
		}
		progress(ev)
	}
}
