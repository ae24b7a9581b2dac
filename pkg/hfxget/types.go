// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxget

import "time"

// RepoType selects which hub namespace a repository lives in.
type RepoType string

const (
	RepoTypeModel   RepoType = "model"
	RepoTypeDataset RepoType = "dataset"
	RepoTypeSpace   RepoType = "space"
)

// SourceKind identifies which download source serves a file.
type SourceKind string

const (
	// SourceAccelerated is the high-throughput path for large-object (LFS) files.
	SourceAccelerated SourceKind = "accelerator"
	// SourceMirrored is the mirror endpoint for small/regular files.
	SourceMirrored SourceKind = "mirror"
)

// TransferStatus is the terminal state of a single download job.
type TransferStatus string

const (
	StatusCompleted TransferStatus = "completed"
	StatusSkipped   TransferStatus = "skipped"
	StatusFailed    TransferStatus = "failed"
)

// Job defines what to download from the hub.
//
// The Repo field is required and must be in "owner/name" format
// (e.g., "TheBloke/Mistral-7B-GGUF").
type Job struct {
	// Repo is the repository ID in "owner/name" format.
	Repo string

	// Type is the repository namespace: model (default), dataset, or space.
	Type RepoType

	// Revision is the branch, tag, or commit SHA to download.
	// If empty, defaults to "main".
	Revision string

	// Keep, when non-nil, filters the resolved file list. Entries for which
	// Keep returns false produce no download job and no outcome. The CLI
	// wires include/exclude glob patterns through this hook.
	Keep func(RepoFileEntry) bool
}

// Settings configures download behavior.
//
// All fields have usable defaults; see DefaultSettings.
type Settings struct {
	// OutputDir is the base directory for downloads.
	// Files are saved as: <OutputDir>/<owner>/<repo>/<path>
	OutputDir string

	// MaxWorkers limits how many files download simultaneously.
	// If <= 0, defaults to 4.
	MaxWorkers int

	// MirrorBaseURL serves small/regular files.
	MirrorBaseURL string

	// AcceleratorBaseURL serves large-object (LFS) files.
	AcceleratorBaseURL string

	// HubAPIBaseURL is the endpoint queried for the repository file tree.
	// If empty, the mirror base is used (it speaks the same API).
	HubAPIBaseURL string

	// Retries is the maximum number of retry attempts per file after the
	// first one, consumed only by transient failures.
	// If <= 0, defaults to 4.
	Retries int

	// BackoffInitial is the initial delay before the first retry.
	// Accepts duration strings: "400ms", "1s", "2s", etc.
	BackoffInitial string

	// BackoffMax caps the exponentially growing delay between retries.
	BackoffMax string

	// Token is the hub access token for private or gated repos,
	// passed through unmodified.
	Token string
}

// DefaultSettings returns Settings with the defaults filled in,
// pointed at the public hf-mirror and Xget endpoints.
func DefaultSettings() Settings {
	return Settings{
		OutputDir:          "Storage",
		MaxWorkers:         4,
		MirrorBaseURL:      "https://hf-mirror.com",
		AcceleratorBaseURL: "https://xget.xi-xu.me/hf",
		Retries:            4,
		BackoffInitial:     "400ms",
		BackoffMax:         "10s",
	}
}

// RepoFileEntry is one file known to the remote repository, as reported by
// the hub tree API. Entries are immutable once produced by the resolver.
type RepoFileEntry struct {
	// Path is the file path relative to the repository root.
	Path string `json:"path"`

	// Size is the expected byte count, 0 when the hub did not report one.
	// For LFS entries this is the size of the object, not the pointer file.
	Size int64 `json:"size"`

	// SHA256 is the expected content digest, set only for LFS entries.
	SHA256 string `json:"sha256,omitempty"`

	// OID is the git blob id of the entry, used as a weak identity for
	// non-LFS files that carry no content hash.
	OID string `json:"oid,omitempty"`

	// LFS marks the entry as a pointer to externally stored content.
	// This classification comes from hub metadata only.
	LFS bool `json:"lfs"`
}

// DownloadJob is one unit of scheduled work, derived 1:1 from a
// RepoFileEntry that survived filtering and the integrity pre-check.
type DownloadJob struct {
	Entry     RepoFileEntry `json:"entry"`
	Source    SourceKind    `json:"source"`
	URL       string        `json:"url"`
	LocalPath string        `json:"localPath"`

	// FallbackURL, when set on an accelerated job, is the mirror URL to
	// switch to if the accelerator answers 401/403/404 for this file.
	FallbackURL string `json:"fallbackUrl,omitempty"`
}

// TransferOutcome is the result of executing one DownloadJob (or of
// skipping an already-valid entry).
type TransferOutcome struct {
	Path    string         `json:"path"`
	Status  TransferStatus `json:"status"`
	Source  SourceKind     `json:"source,omitempty"`
	Bytes   int64          `json:"bytes"`
	Elapsed time.Duration  `json:"elapsed"`
	Err     error          `json:"-"`
}

// Failure pairs a file path with the reason its job failed.
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// RunSummary aggregates all outcomes of a run. It is the sole externally
// visible result; per-file failures are enumerated, never dropped.
type RunSummary struct {
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	AcceleratedOK     int `json:"acceleratedOk"`
	AcceleratedFailed int `json:"acceleratedFailed"`
	MirroredOK        int `json:"mirroredOk"`
	MirroredFailed    int `json:"mirroredFailed"`

	TotalBytes int64         `json:"totalBytes"`
	Elapsed    time.Duration `json:"elapsed"`

	Failures []Failure `json:"failures,omitempty"`
}

// Total returns the number of entries that produced an outcome.
func (s *RunSummary) Total() int {
	return s.Completed + s.Skipped + s.Failed
}

// ProgressEvent represents a progress update during a run.
//
// The Event field is one of:
//   - "scan_start": file-list resolution has begun
//   - "plan_item": a file has been routed and queued
//   - "file_start": transfer of a file has started
//   - "file_progress": periodic byte-progress update
//   - "retry": a retry attempt is being made
//   - "file_done": file finished (check Message for "skip" info)
//   - "error": an error occurred
//   - "done": the run is complete
type ProgressEvent struct {
	Time       time.Time  `json:"time"`
	Event      string     `json:"event"`
	Repo       string     `json:"repo,omitempty"`
	Revision   string     `json:"revision,omitempty"`
	Path       string     `json:"path,omitempty"`
	Source     SourceKind `json:"source,omitempty"`
	Total      int64      `json:"total,omitempty"`
	Downloaded int64      `json:"downloaded,omitempty"`
	Attempt    int        `json:"attempt,omitempty"`
	Message    string     `json:"message,omitempty"`
	IsLFS      bool       `json:"isLfs,omitempty"`
}

// ProgressFunc is a callback for receiving progress events.
// It is invoked from multiple goroutines and must be thread-safe.
type ProgressFunc func(ProgressEvent)
