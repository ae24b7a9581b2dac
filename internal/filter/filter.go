// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package filter provides glob-based include/exclude matching for repo file
// paths. Patterns use filepath.Match syntax plus ** for matching across
// directory levels.
package filter

import (
	"path/filepath"
	"strings"
)

// Config holds the filtering rules applied to a repo's file list.
type Config struct {
	// Include patterns (glob-style). Empty means include all.
	// Example: []string{"*.safetensors", "tokenizer/*"}
	Include []string

	// Exclude patterns (glob-style). Takes precedence over Include.
	// Example: []string{"*.onnx", "**/.gitattributes"}
	Exclude []string
}

// Empty reports whether the config filters nothing.
func (c Config) Empty() bool {
	return len(c.Include) == 0 && len(c.Exclude) == 0
}

// Keep reports whether a repo-relative path survives the filter. Exclusion
// wins over inclusion; an empty include list includes everything.
func (c Config) Keep(path string) bool {
	path = filepath.ToSlash(path)

	for _, pattern := range c.Exclude {
		if matchPattern(path, filepath.ToSlash(pattern)) {
			return false
		}
		if matched, _ := filepath.Match(pattern, baseName(path)); matched {
			return false
		}
	}

	if len(c.Include) == 0 {
		return true
	}
	for _, pattern := range c.Include {
		if matchPattern(path, filepath.ToSlash(pattern)) {
			return true
		}
		if matched, _ := filepath.Match(pattern, baseName(path)); matched {
			return true
		}
	}
	return false
}

func baseName(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// matchPattern matches a slash-separated path against a single pattern,
// handling ** for recursive directory matching.
func matchPattern(path, pattern string) bool {
	if strings.Contains(pattern, "**") {
		return matchDoubleStar(path, pattern)
	}
	matched, err := filepath.Match(pattern, path)
	if err != nil {
		return false
	}
	return matched
}

// matchDoubleStar handles ** glob patterns.
// Examples:
//   - "**/config.json" matches "config.json", "a/config.json", "a/b/config.json"
//   - "onnx/**" matches everything under onnx/
//   - "run_*/**/*.bin" matches .bin files at any depth below run_* dirs
func matchDoubleStar(path, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		suffix := pattern[3:]
		if matchPattern(path, suffix) {
			return true
		}
		parts := strings.Split(path, "/")
		for i := 1; i < len(parts); i++ {
			if matchPattern(strings.Join(parts[i:], "/"), suffix) {
				return true
			}
		}
		return false
	}

	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		parts := strings.Split(path, "/")
		for i := 1; i < len(parts); i++ {
			if matchPattern(strings.Join(parts[:i], "/"), prefix) {
				return true
			}
		}
		return false
	}

	// Interior **: split on the first occurrence and require the prefix to
	// match a leading portion and the suffix a trailing portion.
	idx := strings.Index(pattern, "/**/")
	if idx < 0 {
		matched, _ := filepath.Match(strings.ReplaceAll(pattern, "**", "*"), path)
		return matched
	}
	head, tail := pattern[:idx], pattern[idx+4:]
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if !matchPattern(strings.Join(parts[:i], "/"), head) {
			continue
		}
		for j := i; j < len(parts); j++ {
			if matchPattern(strings.Join(parts[j:], "/"), tail) {
				return true
			}
		}
	}
	return false
}
