// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxget

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

// treeNode represents a file or directory in the hub repo tree.
type treeNode struct {
	Type string    `json:"type"` // "file"|"directory" (sometimes "blob"|"tree")
	Path string    `json:"path"`
	OID  string    `json:"oid,omitempty"`
	Size int64     `json:"size,omitempty"`
	LFS  *lfsBlock `json:"lfs,omitempty"`
}

// lfsBlock is the pointer metadata attached to large-object entries.
type lfsBlock struct {
	Oid    string `json:"oid,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Sha256 string `json:"sha256,omitempty"`
}

// revisionInfo is the subset of the revision endpoint we consume.
type revisionInfo struct {
	SHA string `json:"sha"`
}

// Resolver queries the hub API for the canonical file list of a repository.
type Resolver struct {
	httpc    *http.Client
	endpoint string
	token    string
}

// NewResolver builds a resolver against the configured hub API endpoint.
// Metadata calls ride a retrying HTTP client so service hiccups are absorbed
// before they surface as run-level errors.
func NewResolver(cfg Settings) *Resolver {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.Retries
	rc.Logger = nil

	endpoint := cfg.HubAPIBaseURL
	if endpoint == "" {
		endpoint = cfg.MirrorBaseURL
	}

	return &Resolver{
		httpc:    rc.StandardClient(),
		endpoint: strings.TrimSuffix(endpoint, "/"),
		token:    cfg.Token,
	}
}

// Resolve returns every file of the repository at the given revision plus
// the commit SHA the revision resolved to. Classification of each entry as
// large-object vs. regular comes strictly from the lfs block the hub
// reports; file extensions are never consulted.
func (r *Resolver) Resolve(ctx context.Context, job Job) ([]RepoFileEntry, string, error) {
	if !IsValidRepoName(job.Repo) {
		return nil, "", ErrInvalidRepo
	}

	revision := job.Revision
	if revision == "" {
		revision = "main"
	}

	commit, err := r.resolveCommit(ctx, job, revision)
	if err != nil {
		return nil, "", err
	}

	var entries []RepoFileEntry
	seen := make(map[string]struct{}) // each relative path appears once

	err = r.walkTree(ctx, job, revision, "", func(n treeNode) {
		if n.Type != "file" && n.Type != "blob" {
			return
		}
		if _, ok := seen[n.Path]; ok {
			return
		}
		seen[n.Path] = struct{}{}
		entries = append(entries, entryFromNode(n))
	})
	if err != nil {
		return nil, "", err
	}

	return entries, commit, nil
}

// entryFromNode maps a tree node to an immutable RepoFileEntry.
func entryFromNode(n treeNode) RepoFileEntry {
	e := RepoFileEntry{
		Path: n.Path,
		Size: n.Size,
		OID:  n.OID,
		LFS:  n.LFS != nil,
	}
	if n.LFS != nil {
		// The pointer block reports the object size; n.Size would be the
		// pointer file's own few bytes.
		if n.LFS.Size > 0 {
			e.Size = n.LFS.Size
		}
		e.SHA256 = lfsDigest(n.LFS)
	}
	return e
}

// lfsDigest extracts the sha256 digest from a pointer block, accepting
// either the explicit field or a "sha256:<hex>" oid.
func lfsDigest(lfs *lfsBlock) string {
	if lfs.Sha256 != "" {
		return lfs.Sha256
	}
	if rest, ok := strings.CutPrefix(lfs.Oid, "sha256:"); ok {
		return rest
	}
	return lfs.Oid
}

func (r *Resolver) resolveCommit(ctx context.Context, job Job, revision string) (string, error) {
	reqURL := fmt.Sprintf("%s/api/%s/%s/revision/%s",
		r.endpoint, apiNamespace(job.Type), job.Repo, url.PathEscape(revision))

	var info revisionInfo
	if err := r.getJSON(ctx, reqURL, &info); err != nil {
		return "", fmt.Errorf("resolve revision %s@%s: %w", job.Repo, revision, err)
	}
	return info.SHA, nil
}

// walkTree recursively walks the hub repo tree, calling fn for every node.
func (r *Resolver) walkTree(ctx context.Context, job Job, revision, prefix string, fn func(treeNode)) error {
	reqURL := fmt.Sprintf("%s/api/%s/%s/tree/%s",
		r.endpoint, apiNamespace(job.Type), job.Repo, url.PathEscape(revision))
	if prefix != "" {
		reqURL += "/" + pathEscapeAll(prefix)
	}

	var nodes []treeNode
	if err := r.getJSON(ctx, reqURL, &nodes); err != nil {
		return fmt.Errorf("list tree %s@%s: %w", job.Repo, revision, err)
	}

	for _, n := range nodes {
		switch n.Type {
		case "directory", "tree":
			if err := r.walkTree(ctx, job, revision, n.Path, fn); err != nil {
				return err
			}
		default:
			fn(n)
		}
	}
	return nil
}

func (r *Resolver) getJSON(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	addAuth(req, r.token)

	resp, err := r.httpc.Do(req)
	if err != nil {
		return &TransientError{Op: "hub metadata request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, URL: reqURL}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// apiNamespace returns the hub API path segment for a repo type.
func apiNamespace(t RepoType) string {
	switch t {
	case RepoTypeDataset:
		return "datasets"
	case RepoTypeSpace:
		return "spaces"
	default:
		return "models"
	}
}

// addAuth adds authentication and user-agent headers to a request.
// The token is passed through unmodified.
func addAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", "hfxget/1")
}

// IsValidRepoName checks that a repo ID is in "owner/name" format.
func IsValidRepoName(repo string) bool {
	parts := strings.Split(repo, "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}

func pathEscapeAll(p string) string {
	segs := strings.Split(p, "/")
	for i := range segs {
		segs[i] = url.PathEscape(segs[i])
	}
	return strings.Join(segs, "/")
}
