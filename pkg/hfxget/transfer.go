// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxget

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// incompleteSuffix marks a partial download next to its final name. A file
// only ever appears under its final name after verification succeeded.
const incompleteSuffix = ".incomplete"

// Engine downloads a single file from its source URL to a local path:
// probe the partial, stream with byte-range resume, retry transient
// failures with backoff, verify, then rename into place.
type Engine struct {
	httpc          *http.Client
	token          string
	retries        int
	backoffInitial time.Duration
	backoffMax     time.Duration
	checker        *Checker
	emit           func(ProgressEvent)
}

func newEngine(cfg Settings, checker *Checker, emit func(ProgressEvent)) *Engine {
	retries := cfg.Retries
	if retries <= 0 {
		retries = 4
	}
	return &Engine{
		httpc:          buildHTTPClient(),
		token:          cfg.Token,
		retries:        retries,
		backoffInitial: parseDurationDefault(cfg.BackoffInitial, 400*time.Millisecond),
		backoffMax:     parseDurationDefault(cfg.BackoffMax, 10*time.Second),
		checker:        checker,
		emit:           emit,
	}
}

// buildHTTPClient creates the streaming HTTP client. No overall timeout:
// large transfers are bounded by context, not by wall clock.
func buildHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

// Transfer executes one download job and reports its outcome. The job is
// taken by value; the engine may rewrite its URL when falling back from the
// accelerator to the mirror, and the outcome reports the source that
// finally served the file.
func (e *Engine) Transfer(ctx context.Context, job DownloadJob) TransferOutcome {
	start := time.Now()
	var transferred int64

	err := e.run(ctx, &job, &transferred)

	out := TransferOutcome{
		Path:    job.Entry.Path,
		Source:  job.Source,
		Bytes:   transferred,
		Elapsed: time.Since(start),
	}
	if err != nil {
		out.Status = StatusFailed
		out.Err = err
	} else {
		out.Status = StatusCompleted
	}
	return out
}

func (e *Engine) run(ctx context.Context, job *DownloadJob, transferred *int64) error {
	if err := os.MkdirAll(filepath.Dir(job.LocalPath), 0o755); err != nil {
		return &LocalError{Op: "mkdir", Path: filepath.Dir(job.LocalPath), Err: err}
	}
	tmp := job.LocalPath + incompleteSuffix

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.backoffInitial
	bo.MaxInterval = e.backoffMax

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.attempt(ctx, job, tmp, transferred)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			// The accelerator may simply not carry this object; the mirror
			// serves everything, just slower. Restart there from zero.
			if job.FallbackURL != "" {
				_ = os.Remove(tmp)
				job.URL = job.FallbackURL
				job.FallbackURL = ""
				job.Source = SourceMirrored
				e.emit(ProgressEvent{
					Event: "retry", Path: job.Entry.Path, Source: job.Source,
					Message: fmt.Sprintf("accelerator refused (%d), switching to mirror", apiErr.StatusCode),
				})
				continue
			}
			return err
		}

		var localErr *LocalError
		if errors.As(err, &localErr) {
			return err
		}
		if !isTransient(err) {
			return err
		}
		if attempt >= e.retries {
			return err
		}

		e.emit(ProgressEvent{
			Event: "retry", Path: job.Entry.Path, Source: job.Source,
			Attempt: attempt + 1, Message: err.Error(),
		})
		if !sleepCtx(ctx, bo.NextBackOff()) {
			return ctx.Err()
		}
	}

	// Verifying: a completed stream that fails verification is a failed
	// job, never a silently accepted file.
	res, err := e.checker.Verify(tmp, job.Entry.Size, job.Entry.SHA256)
	if err != nil {
		return err
	}
	if res != VerifyValid {
		// A corrupt full-length partial can never converge by resuming.
		_ = os.Remove(tmp)
		return integrityFailure(job.Entry, res)
	}

	if err := os.Rename(tmp, job.LocalPath); err != nil {
		return &LocalError{Op: "rename", Path: job.LocalPath, Err: err}
	}
	return nil
}

// attempt performs one probing+streaming pass: learn the current partial
// offset, request the remainder, and append what arrives. Transient errors
// leave the partial in place so the next attempt resumes where this one
// stopped.
func (e *Engine) attempt(ctx context.Context, job *DownloadJob, tmp string, transferred *int64) error {
	var offset int64
	if fi, err := os.Stat(tmp); err == nil {
		offset = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
	if err != nil {
		return &ConfigError{Field: "source URL", Reason: err.Error()}
	}
	addAuth(req, e.token)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := e.httpc.Do(req)
	if err != nil {
		return &TransientError{Op: "connect " + string(job.Source), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// Nothing left to fetch; the partial already holds the object and
		// verification has the final word.
		return nil
	case resp.StatusCode == http.StatusPartialContent:
		// Resuming at offset.
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			// Server ignored the range request; start over.
			if err := os.Truncate(tmp, 0); err != nil {
				return &LocalError{Op: "truncate", Path: tmp, Err: err}
			}
			offset = 0
		}
	default:
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, URL: job.URL}
	}

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &LocalError{Op: "open", Path: tmp, Err: err}
	}

	src := newProgressReader(resp.Body, offset, job.Entry.Size, job.Entry.Path, job.Source, e.emit)
	n, copyErr := e.copyStream(ctx, f, src, tmp)
	*transferred += n

	if closeErr := f.Close(); copyErr == nil && closeErr != nil {
		return &LocalError{Op: "close", Path: tmp, Err: closeErr}
	}
	return copyErr
}

// copyStream writes bytes sequentially, separating source-side failures
// (retriable) from destination-side failures (fatal).
func (e *Engine) copyStream(ctx context.Context, dst *os.File, src io.Reader, tmp string) (int64, error) {
	var written int64
	buf := make([]byte, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, &LocalError{Op: "write", Path: tmp, Err: werr}
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, &TransientError{Op: "stream read", Err: rerr}
		}
	}
}

func integrityFailure(e RepoFileEntry, res VerifyResult) error {
	switch res {
	case VerifyHashMismatch:
		return &IntegrityError{Path: e.Path, Method: "sha256", Expected: e.SHA256, Actual: "different digest"}
	default:
		return &IntegrityError{Path: e.Path, Method: "size", Expected: fmt.Sprintf("%d", e.Size), Actual: res.String()}
	}
}

// progressReader wraps the response body and emits throttled byte-progress
// events with the cumulative downloaded count (partial offset included).
type progressReader struct {
	reader     io.Reader
	downloaded int64
	total      int64
	path       string
	source     SourceKind
	emit       func(ProgressEvent)
	lastEmit   time.Time
	interval   time.Duration
}

func newProgressReader(r io.Reader, offset, total int64, path string, source SourceKind, emit func(ProgressEvent)) *progressReader {
	return &progressReader{
		reader:     r,
		downloaded: offset,
		total:      total,
		path:       path,
		source:     source,
		emit:       emit,
		lastEmit:   time.Now(),
		interval:   200 * time.Millisecond,
	}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.downloaded += int64(n)
		if time.Since(pr.lastEmit) >= pr.interval || err == io.EOF {
			pr.emit(ProgressEvent{
				Event:      "file_progress",
				Path:       pr.path,
				Source:     pr.source,
				Downloaded: pr.downloaded,
				Total:      pr.total,
			})
			pr.lastEmit = time.Now()
		}
	}
	return n, err
}

// sleepCtx waits for d or returns false if ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func parseDurationDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
