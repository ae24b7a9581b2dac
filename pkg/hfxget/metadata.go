// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxget

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// metaStore keeps per-file download metadata in sidecar files under
// <repo dir>/.cache/hfxget/download/<path>.metadata, one file per entry:
// commit hash, etag, unix timestamp, one per line. The layout lets a later
// run recognize files that have no verifiable size or hash by the blob
// identity they were downloaded under.
type metaStore struct {
	root string
}

func newMetaStore(repoDir string) *metaStore {
	return &metaStore{root: filepath.Join(repoDir, ".cache", "hfxget", "download")}
}

func (m *metaStore) sidecarPath(rel string) string {
	return filepath.Join(m.root, filepath.FromSlash(rel)+".metadata")
}

// Write records the commit hash and etag a file was downloaded under.
func (m *metaStore) Write(rel, commit, etag string) error {
	if commit == "" || etag == "" {
		return nil
	}
	p := m.sidecarPath(rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return &LocalError{Op: "mkdir", Path: filepath.Dir(p), Err: err}
	}
	content := fmt.Sprintf("%s\n%s\n%d\n", commit, etag, time.Now().Unix())
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		return &LocalError{Op: "write", Path: p, Err: err}
	}
	return nil
}

// Read returns the recorded commit hash and etag for a file, if any.
func (m *metaStore) Read(rel string) (commit, etag string, ok bool) {
	b, err := os.ReadFile(m.sidecarPath(rel))
	if err != nil {
		return "", "", false
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) < 2 {
		return "", "", false
	}
	if len(lines) >= 3 {
		if _, err := strconv.ParseInt(strings.TrimSpace(lines[2]), 10, 64); err != nil {
			return "", "", false
		}
	}
	return strings.TrimSpace(lines[0]), strings.TrimSpace(lines[1]), true
}

// entryETag is the identity recorded for an entry: the content digest for
// large objects, the git blob id otherwise.
func entryETag(e RepoFileEntry) string {
	if e.SHA256 != "" {
		return e.SHA256
	}
	return e.OID
}
