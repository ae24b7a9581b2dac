// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxget

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub serves the two hub API shapes the resolver consumes: the revision
// endpoint and the (possibly nested) tree listing.
func fakeHub(t *testing.T, trees map[string][]treeNode) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/models/owner/repo/revision/main", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(revisionInfo{SHA: "commit123"})
	})
	mux.HandleFunc("/api/models/owner/repo/tree/main", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(trees[""])
	})
	mux.HandleFunc("/api/models/owner/repo/tree/main/", func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Path[len("/api/models/owner/repo/tree/main/"):]
		nodes, ok := trees[prefix]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(nodes)
	})
	return httptest.NewServer(mux)
}

func resolverFor(srv *httptest.Server) *Resolver {
	cfg := DefaultSettings()
	cfg.HubAPIBaseURL = srv.URL
	cfg.Retries = 1
	return NewResolver(cfg)
}

func TestResolverResolve(t *testing.T) {
	trees := map[string][]treeNode{
		"": {
			{Type: "file", Path: "config.json", OID: "blob1", Size: 512},
			{Type: "file", Path: "model.bin", OID: "ptr1", Size: 134, LFS: &lfsBlock{
				Oid: "sha256:feedface", Size: 5 << 30,
			}},
			{Type: "directory", Path: "tokenizer"},
		},
		"tokenizer": {
			{Type: "file", Path: "tokenizer/vocab.json", OID: "blob2", Size: 900},
		},
	}
	srv := fakeHub(t, trees)
	defer srv.Close()

	entries, commit, err := resolverFor(srv).Resolve(context.Background(), Job{Repo: "owner/repo"})
	require.NoError(t, err)
	assert.Equal(t, "commit123", commit)
	require.Len(t, entries, 3)

	byPath := map[string]RepoFileEntry{}
	for _, e := range entries {
		byPath[e.Path] = e
	}

	cfg := byPath["config.json"]
	assert.False(t, cfg.LFS)
	assert.Empty(t, cfg.SHA256)
	assert.Equal(t, int64(512), cfg.Size)
	assert.Equal(t, "blob1", cfg.OID)

	bin := byPath["model.bin"]
	assert.True(t, bin.LFS, "entries with a pointer block classify as large objects")
	assert.Equal(t, "feedface", bin.SHA256, "sha256: prefix stripped from the lfs oid")
	assert.Equal(t, int64(5<<30), bin.Size, "object size wins over pointer file size")

	voc, ok := byPath["tokenizer/vocab.json"]
	require.True(t, ok, "nested directories are walked")
	assert.False(t, voc.LFS)
}

func TestResolverExplicitSha256Field(t *testing.T) {
	trees := map[string][]treeNode{
		"": {
			{Type: "file", Path: "model.bin", Size: 10, LFS: &lfsBlock{
				Oid: "opaque-oid", Sha256: "cafebabe", Size: 10,
			}},
		},
	}
	srv := fakeHub(t, trees)
	defer srv.Close()

	entries, _, err := resolverFor(srv).Resolve(context.Background(), Job{Repo: "owner/repo"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cafebabe", entries[0].SHA256)
}

func TestResolverDuplicatePathsCollapse(t *testing.T) {
	trees := map[string][]treeNode{
		"": {
			{Type: "file", Path: "a.txt", Size: 1},
			{Type: "file", Path: "a.txt", Size: 1},
		},
	}
	srv := fakeHub(t, trees)
	defer srv.Close()

	entries, _, err := resolverFor(srv).Resolve(context.Background(), Job{Repo: "owner/repo"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestResolverErrors(t *testing.T) {
	t.Run("invalid repo id", func(t *testing.T) {
		srv := fakeHub(t, nil)
		defer srv.Close()
		_, _, err := resolverFor(srv).Resolve(context.Background(), Job{Repo: "no-owner"})
		assert.ErrorIs(t, err, ErrInvalidRepo)
	})

	t.Run("unknown repo maps to ErrNotFound", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()
		_, _, err := resolverFor(srv).Resolve(context.Background(), Job{Repo: "owner/repo"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("gated repo maps to ErrUnauthorized", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()
		_, _, err := resolverFor(srv).Resolve(context.Background(), Job{Repo: "owner/repo"})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestResolverSendsToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path == "/api/models/owner/repo/revision/main" {
			json.NewEncoder(w).Encode(revisionInfo{SHA: "c"})
			return
		}
		json.NewEncoder(w).Encode([]treeNode{})
	}))
	defer srv.Close()

	cfg := DefaultSettings()
	cfg.HubAPIBaseURL = srv.URL
	cfg.Retries = 1
	cfg.Token = "hf_secret"
	_, _, err := NewResolver(cfg).Resolve(context.Background(), Job{Repo: "owner/repo"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer hf_secret", gotAuth, "token passes through unmodified")
}

func TestIsValidRepoName(t *testing.T) {
	valid := []string{"owner/repo", "TheBloke/Mistral-7B-GGUF"}
	invalid := []string{"", "norepo", "/repo", "owner/", "a/b/c"}
	for _, v := range valid {
		assert.True(t, IsValidRepoName(v), v)
	}
	for _, v := range invalid {
		assert.False(t, IsValidRepoName(v), v)
	}
}
