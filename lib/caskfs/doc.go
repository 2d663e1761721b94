// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

// Package caskfs implements a read-only FUSE filesystem that exposes
// an open container's payload as a single regular file.
//
// The mount serves one file (named "payload" by default) whose size
// is the container's plaintext length. Applications read it like any
// other file; no unpack to disk is needed.
//
// # Read Path
//
// Each kernel read request maps to a Reader.ReadRange call, which
// decrypts and decompresses only the blocks overlapping the requested
// byte range. A read inside one block touches one block, so random
// access cost is proportional to bytes read, not container size.
//
// # Caching
//
// The payload is immutable for the life of the mount, so files are
// opened with FOPEN_KEEP_CACHE and the kernel page cache absorbs
// repeated reads. The filesystem itself keeps no cache; decrypted
// plaintext lives only in the pages the kernel retains.
//
// # Write Path
//
// Not implemented. Open with write intent returns EROFS. Containers
// are produced by pack, never mutated through the mount.
package caskfs
