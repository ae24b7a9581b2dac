// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxget

import (
	"fmt"
	"net/url"
	"strings"
)

// Route maps a file entry to its download source. Pure and total:
// large-object entries go to the accelerator, everything else to the mirror.
func Route(e RepoFileEntry) SourceKind {
	if e.LFS {
		return SourceAccelerated
	}
	return SourceMirrored
}

// URLBuilder resolves (entry, source) pairs to concrete absolute URLs.
type URLBuilder struct {
	mirror      string
	accelerator string
}

// NewURLBuilder validates the two base URLs up front so that a malformed
// base fails the run before any transfer starts.
func NewURLBuilder(cfg Settings) (*URLBuilder, error) {
	mirror, err := checkBase("mirror base URL", cfg.MirrorBaseURL)
	if err != nil {
		return nil, err
	}
	accelerator, err := checkBase("accelerator base URL", cfg.AcceleratorBaseURL)
	if err != nil {
		return nil, err
	}
	return &URLBuilder{mirror: mirror, accelerator: accelerator}, nil
}

func checkBase(field, base string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", &ConfigError{Field: field, Reason: "must not be empty"}
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", &ConfigError{Field: field, Reason: fmt.Sprintf("invalid URL %q", base)}
	}
	return strings.TrimSuffix(base, "/"), nil
}

// FileURL joins base + repo namespace + revision + path for the given
// source. Accelerated URLs carry the download hint the accelerator expects.
func (b *URLBuilder) FileURL(job Job, e RepoFileEntry, kind SourceKind) string {
	revision := job.Revision
	if revision == "" {
		revision = "main"
	}

	base := b.mirror
	suffix := ""
	if kind == SourceAccelerated {
		base = b.accelerator
		suffix = "?download=true"
	}

	return fmt.Sprintf("%s%s/%s/resolve/%s/%s%s",
		base, namespacePrefix(job.Type), job.Repo,
		url.PathEscape(revision), pathEscapeAll(e.Path), suffix)
}

// namespacePrefix returns the download-path namespace for a repo type.
// Models live at the root, datasets and spaces under their own prefix.
func namespacePrefix(t RepoType) string {
	switch t {
	case RepoTypeDataset:
		return "/datasets"
	case RepoTypeSpace:
		return "/spaces"
	default:
		return ""
	}
}
