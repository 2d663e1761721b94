// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for key material: the
// content-derived data encryption key, age identities, and anything
// else that must not outlive its use.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped. Because the memory lives
// outside the Go heap, the garbage collector cannot copy or relocate
// it, so no stale copies of the key survive release.
//
// Constructors:
//
//   - [New] allocates a zero-filled buffer of a given size
//   - [NewFromBytes] copies into protected memory, zeros the source
//   - [ReadFromPath] reads a key file (or stdin) into protected memory
//
// Access via [Buffer.Bytes] (slice into the mmap region) or
// [Buffer.String] (heap copy for API boundaries that demand a string).
// After Close, any access panics. Close is idempotent.
//
// Depends on golang.org/x/sys/unix only.
package secret
