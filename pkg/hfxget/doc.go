// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package hfxget downloads HuggingFace repositories through a mirror and an
// accelerator endpoint. It resolves the repo file list from hub metadata,
// routes large-object files to the accelerator and everything else to the
// mirror, and transfers files concurrently with byte-range resumption,
// retry with exponential backoff, and post-transfer integrity verification.
//
// The main entry point is Download:
//
//	summary, err := hfxget.Download(ctx, hfxget.Job{
//		Repo: "TheBloke/Mistral-7B-GGUF",
//	}, hfxget.DefaultSettings(), nil)
//
// A run only fails as a whole when the repository cannot be resolved or the
// configuration is unusable. Individual file failures are collected in the
// returned RunSummary.
package hfxget
