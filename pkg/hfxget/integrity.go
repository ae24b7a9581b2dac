// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxget

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// VerifyResult is the outcome of checking a local file against the
// metadata's expectations.
type VerifyResult int

const (
	VerifyValid VerifyResult = iota
	VerifyMissing
	VerifySizeMismatch
	VerifyHashMismatch
)

func (r VerifyResult) String() string {
	switch r {
	case VerifyValid:
		return "valid"
	case VerifyMissing:
		return "missing"
	case VerifySizeMismatch:
		return "size mismatch"
	case VerifyHashMismatch:
		return "hash mismatch"
	default:
		return "unknown"
	}
}

// Checker decides whether a local file already satisfies an entry's
// expected size and content hash.
type Checker struct {
	// hashFile is swapped in tests to observe when hashing happens.
	hashFile func(path string) (string, error)
}

func NewChecker() *Checker {
	return &Checker{hashFile: sha256File}
}

// Verify checks localPath against the expected size and sha256 digest.
// The size comparison runs first: hashing is O(file size) and must not run
// when a cheap length check already proves incompleteness. When neither
// size nor hash is known, existence alone counts as valid.
func (c *Checker) Verify(localPath string, expectedSize int64, expectedSHA string) (VerifyResult, error) {
	fi, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return VerifyMissing, nil
		}
		return VerifyMissing, &LocalError{Op: "stat", Path: localPath, Err: err}
	}

	if expectedSize > 0 && fi.Size() != expectedSize {
		return VerifySizeMismatch, nil
	}

	if expectedSHA != "" {
		sum, err := c.hashFile(localPath)
		if err != nil {
			return VerifyHashMismatch, &LocalError{Op: "hash", Path: localPath, Err: err}
		}
		if !strings.EqualFold(sum, expectedSHA) {
			return VerifyHashMismatch, nil
		}
	}

	return VerifyValid, nil
}

// sha256File stream-hashes a file and returns the hex digest.
func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
