// Copyright 2025 The racedetector Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !go1.23 || go1.26 || !(amd64 || arm64)

// Fallback goroutine ID extraction for unsupported platforms.
//
// This file provides goroutine ID extraction when this package's own
// assembly-optimized implementation cannot be used:
//
//   - Go versions < 1.23 (runtime.g layout not verified)
//   - Go versions >= 1.26 (runtime.g layout may have changed)
//   - Architectures other than amd64/arm64 (no assembly implementation)
//
// Performance: that of github.com/petermattis/goid (see below); the
// runtime.Stack parsing path (~1500ns per call) is used only when it
// returns no positive ID.
//
// Supported platforms (fallback to this):
//   - 386, arm, ppc64, ppc64le, mips, mips64, mips64le
//   - riscv64, s390x, wasm, loong64
//   - Any architecture on Go < 1.23 or Go >= 1.26
//
// The fallback delegates to github.com/petermattis/goid, which knows how to
// read the runtime.g goid field (or parse runtime.Stack, on architectures it
// doesn't have an offset for) without this package's own build-tag matrix.
// It's already the standard choice for this in the Go concurrency-tooling
// ecosystem; there is no benefit to maintaining a second copy of its offset
// table for platforms the fast path above doesn't cover.

package api

import "github.com/petermattis/goid"

// getGoroutineIDFast is the fallback implementation for unsupported platforms.
//
// This function is used when:
//   - Running on unsupported architecture (not amd64/arm64)
//   - Running on unsupported Go version (< 1.23 or >= 1.26)
//
// Returns:
//   - int64: Goroutine ID (always positive, unique per goroutine)
func getGoroutineIDFast() int64 {
	if id := goid.Get(); id > 0 {
		return id
	}
	return getGoroutineIDSlow()
}
