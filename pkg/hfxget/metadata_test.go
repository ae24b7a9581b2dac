// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxget

import (
	"os"
	"testing"
)

func TestMetaStore(t *testing.T) {
	dir := t.TempDir()
	m := newMetaStore(dir)

	t.Run("round trip", func(t *testing.T) {
		if err := m.Write("weights/model.bin", "abc123", "sha256deadbeef"); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		commit, etag, ok := m.Read("weights/model.bin")
		if !ok {
			t.Fatal("Read reported no sidecar")
		}
		if commit != "abc123" || etag != "sha256deadbeef" {
			t.Errorf("Read = (%s, %s), want (abc123, sha256deadbeef)", commit, etag)
		}
	})

	t.Run("missing sidecar", func(t *testing.T) {
		if _, _, ok := m.Read("never/written.txt"); ok {
			t.Error("Read reported a sidecar for a file never written")
		}
	})

	t.Run("empty identity is not persisted", func(t *testing.T) {
		if err := m.Write("orphan.txt", "", ""); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if _, err := os.Stat(m.sidecarPath("orphan.txt")); !os.IsNotExist(err) {
			t.Error("sidecar written for empty commit/etag")
		}
	})

	t.Run("corrupt sidecar is ignored", func(t *testing.T) {
		p := m.sidecarPath("corrupt.txt")
		if err := os.MkdirAll(dir+"/.cache/hfxget/download", 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("only-one-line\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, _, ok := m.Read("corrupt.txt"); ok {
			t.Error("Read accepted a truncated sidecar")
		}
	})
}

func TestEntryETag(t *testing.T) {
	lfs := RepoFileEntry{Path: "m.bin", SHA256: "digest", OID: "blob1", LFS: true}
	if got := entryETag(lfs); got != "digest" {
		t.Errorf("entryETag(lfs) = %s, want digest", got)
	}
	plain := RepoFileEntry{Path: "c.json", OID: "blob2"}
	if got := entryETag(plain); got != "blob2" {
		t.Errorf("entryETag(plain) = %s, want blob2", got)
	}
}
