// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxget

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// eventLog is a thread-safe ProgressEvent collector.
type eventLog struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (l *eventLog) emit(ev ProgressEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) byName(name string) []ProgressEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ProgressEvent
	for _, ev := range l.events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

func newTestEngine(log *eventLog) *Engine {
	cfg := DefaultSettings()
	cfg.Retries = 3
	cfg.BackoffInitial = "1ms"
	cfg.BackoffMax = "5ms"
	return newEngine(cfg, NewChecker(), log.emit)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func testJob(url, localPath string, content []byte) DownloadJob {
	return DownloadJob{
		Entry: RepoFileEntry{
			Path:   filepath.Base(localPath),
			Size:   int64(len(content)),
			SHA256: sha256Hex(content),
		},
		Source:    SourceMirrored,
		URL:       url,
		LocalPath: localPath,
	}
}

func TestEngineTransfer(t *testing.T) {
	content := []byte(strings.Repeat("abcdefgh", 1024))

	t.Run("full download renames into place", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(content)
		}))
		defer srv.Close()

		local := filepath.Join(t.TempDir(), "file.bin")
		log := &eventLog{}
		out := newTestEngine(log).Transfer(context.Background(), testJob(srv.URL, local, content))

		if out.Status != StatusCompleted {
			t.Fatalf("status = %s (%v), want completed", out.Status, out.Err)
		}
		if out.Bytes != int64(len(content)) {
			t.Errorf("bytes = %d, want %d", out.Bytes, len(content))
		}
		got, err := os.ReadFile(local)
		if err != nil {
			t.Fatalf("read result: %v", err)
		}
		if string(got) != string(content) {
			t.Error("downloaded content differs from source")
		}
		if _, err := os.Stat(local + incompleteSuffix); !os.IsNotExist(err) {
			t.Error("partial file left behind after success")
		}
	})

	t.Run("resumes from existing partial with a range request", func(t *testing.T) {
		var gotRange string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotRange = r.Header.Get("Range")
			var offset int64
			fmt.Sscanf(gotRange, "bytes=%d-", &offset)
			w.Header().Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%d", offset, len(content)-1, len(content)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(content[offset:])
		}))
		defer srv.Close()

		local := filepath.Join(t.TempDir(), "file.bin")
		half := int64(len(content) / 2)
		if err := os.WriteFile(local+incompleteSuffix, content[:half], 0o644); err != nil {
			t.Fatal(err)
		}

		log := &eventLog{}
		out := newTestEngine(log).Transfer(context.Background(), testJob(srv.URL, local, content))

		if out.Status != StatusCompleted {
			t.Fatalf("status = %s (%v), want completed", out.Status, out.Err)
		}
		if want := fmt.Sprintf("bytes=%d-", half); gotRange != want {
			t.Errorf("Range = %q, want %q", gotRange, want)
		}
		if out.Bytes != int64(len(content))-half {
			t.Errorf("bytes transferred = %d, want %d", out.Bytes, int64(len(content))-half)
		}
		got, _ := os.ReadFile(local)
		if string(got) != string(content) {
			t.Error("resumed file differs from source")
		}
	})

	t.Run("retries transient failures then succeeds", func(t *testing.T) {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write(content)
		}))
		defer srv.Close()

		local := filepath.Join(t.TempDir(), "file.bin")
		log := &eventLog{}
		out := newTestEngine(log).Transfer(context.Background(), testJob(srv.URL, local, content))

		if out.Status != StatusCompleted {
			t.Fatalf("status = %s (%v), want completed", out.Status, out.Err)
		}
		if calls != 3 {
			t.Errorf("server calls = %d, want 3", calls)
		}
		if got := log.byName("retry"); len(got) != 2 {
			t.Errorf("retry events = %d, want 2", len(got))
		}
	})

	t.Run("resumes from the reached offset after a mid-stream failure", func(t *testing.T) {
		var calls int
		half := len(content) / 2
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls == 1 {
				// Promise the full body but deliver half, so the client
				// sees an unexpected EOF mid-stream.
				w.Header().Set("Content-Length", fmt.Sprint(len(content)))
				w.Write(content[:half])
				return
			}
			var offset int64
			fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-", &offset)
			if offset == 0 {
				t.Error("second attempt should resume, not restart")
			}
			w.Header().Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%d", offset, len(content)-1, len(content)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(content[offset:])
		}))
		defer srv.Close()

		local := filepath.Join(t.TempDir(), "file.bin")
		log := &eventLog{}
		out := newTestEngine(log).Transfer(context.Background(), testJob(srv.URL, local, content))

		if out.Status != StatusCompleted {
			t.Fatalf("status = %s (%v), want completed", out.Status, out.Err)
		}
		if calls != 2 {
			t.Errorf("server calls = %d, want 2", calls)
		}
		got, _ := os.ReadFile(local)
		if sha256Hex(got) != sha256Hex(content) {
			t.Error("final hash differs after resumed retry")
		}
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		local := filepath.Join(t.TempDir(), "file.bin")
		log := &eventLog{}
		out := newTestEngine(log).Transfer(context.Background(), testJob(srv.URL, local, content))

		if out.Status != StatusFailed {
			t.Fatalf("status = %s, want failed", out.Status)
		}
		// initial attempt + 3 retries
		if calls != 4 {
			t.Errorf("server calls = %d, want 4", calls)
		}
	})

	t.Run("client errors fail immediately without retry", func(t *testing.T) {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		local := filepath.Join(t.TempDir(), "file.bin")
		log := &eventLog{}
		out := newTestEngine(log).Transfer(context.Background(), testJob(srv.URL, local, content))

		if out.Status != StatusFailed {
			t.Fatalf("status = %s, want failed", out.Status)
		}
		if calls != 1 {
			t.Errorf("server calls = %d, want 1", calls)
		}
		if !errors.Is(out.Err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", out.Err)
		}
	})

	t.Run("falls back to mirror when accelerator refuses", func(t *testing.T) {
		mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(content)
		}))
		defer mirror.Close()
		accel := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer accel.Close()

		local := filepath.Join(t.TempDir(), "model.bin")
		job := testJob(accel.URL, local, content)
		job.Source = SourceAccelerated
		job.FallbackURL = mirror.URL

		log := &eventLog{}
		out := newTestEngine(log).Transfer(context.Background(), job)

		if out.Status != StatusCompleted {
			t.Fatalf("status = %s (%v), want completed", out.Status, out.Err)
		}
		if out.Source != SourceMirrored {
			t.Errorf("source = %s, want mirror after fallback", out.Source)
		}
		if got := log.byName("retry"); len(got) != 1 {
			t.Errorf("retry events = %d, want 1 fallback notice", len(got))
		}
	})

	t.Run("range already satisfied means nothing left to fetch", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Range") == "" {
				t.Error("expected a ranged request")
			}
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		}))
		defer srv.Close()

		local := filepath.Join(t.TempDir(), "file.bin")
		if err := os.WriteFile(local+incompleteSuffix, content, 0o644); err != nil {
			t.Fatal(err)
		}

		log := &eventLog{}
		out := newTestEngine(log).Transfer(context.Background(), testJob(srv.URL, local, content))

		if out.Status != StatusCompleted {
			t.Fatalf("status = %s (%v), want completed", out.Status, out.Err)
		}
		if out.Bytes != 0 {
			t.Errorf("bytes = %d, want 0 (partial already held the object)", out.Bytes)
		}
		got, _ := os.ReadFile(local)
		if string(got) != string(content) {
			t.Error("promoted file differs from source")
		}
	})

	t.Run("server ignoring range restarts from zero", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(content) // plain 200, range ignored
		}))
		defer srv.Close()

		local := filepath.Join(t.TempDir(), "file.bin")
		if err := os.WriteFile(local+incompleteSuffix, []byte("stale junk"), 0o644); err != nil {
			t.Fatal(err)
		}

		log := &eventLog{}
		out := newTestEngine(log).Transfer(context.Background(), testJob(srv.URL, local, content))

		if out.Status != StatusCompleted {
			t.Fatalf("status = %s (%v), want completed", out.Status, out.Err)
		}
		got, _ := os.ReadFile(local)
		if string(got) != string(content) {
			t.Error("restarted file differs from source")
		}
	})

	t.Run("integrity failure removes the partial and fails the job", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(content)
		}))
		defer srv.Close()

		local := filepath.Join(t.TempDir(), "file.bin")
		job := testJob(srv.URL, local, content)
		job.Entry.SHA256 = sha256Hex([]byte("something else"))

		log := &eventLog{}
		out := newTestEngine(log).Transfer(context.Background(), job)

		if out.Status != StatusFailed {
			t.Fatalf("status = %s, want failed", out.Status)
		}
		var intErr *IntegrityError
		if !errors.As(out.Err, &intErr) {
			t.Fatalf("err = %T, want IntegrityError", out.Err)
		}
		if _, err := os.Stat(local); !os.IsNotExist(err) {
			t.Error("final file must not exist after integrity failure")
		}
		if _, err := os.Stat(local + incompleteSuffix); !os.IsNotExist(err) {
			t.Error("corrupt partial must be removed, it can never converge")
		}
	})

	t.Run("cancellation keeps the partial for resumption", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		half := len(content) / 2
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", fmt.Sprint(len(content)))
			w.Write(content[:half])
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		defer srv.Close()

		local := filepath.Join(t.TempDir(), "file.bin")
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan TransferOutcome, 1)
		log := &eventLog{}
		go func() {
			done <- newTestEngine(log).Transfer(ctx, testJob(srv.URL, local, content))
		}()

		time.Sleep(150 * time.Millisecond)
		cancel()

		out := <-done
		if out.Status != StatusFailed {
			t.Fatalf("status = %s, want failed", out.Status)
		}
		if !errors.Is(out.Err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", out.Err)
		}
		fi, err := os.Stat(local + incompleteSuffix)
		if err != nil {
			t.Fatalf("partial missing after cancellation: %v", err)
		}
		if fi.Size() == 0 {
			t.Error("partial is empty, expected the received prefix")
		}
	})
}
