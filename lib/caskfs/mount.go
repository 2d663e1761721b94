// Copyright 2026 The Cask Authors
// SPDX-License-Identifier: Apache-2.0

package caskfs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/cask-format/cask/lib/cask"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// DefaultFileName is the name the payload appears under in the mount
// when Options.FileName is empty.
const DefaultFileName = "payload"

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	Mountpoint string

	// Reader is the open container whose payload the mount serves.
	// The caller keeps ownership: close it after unmounting.
	Reader *cask.Reader

	// FileName is the name of the single payload file. Empty uses
	// DefaultFileName.
	FileName string

	// AllowOther permits other users (including root) to access the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Mount mounts the container payload as a single read-only file at
// the configured mountpoint. The caller must call Unmount on the
// returned Server when done. The mountpoint directory is created if
// it does not exist.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Reader == nil {
		return nil, fmt.Errorf("reader is required")
	}

	if options.FileName == "" {
		options.FileName = DefaultFileName
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	// Ensure the mountpoint exists.
	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &rootNode{options: &options}

	// Payload content is immutable for the life of the mount, so the
	// kernel may cache entries and attributes aggressively.
	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "cask",
			Name:       "cask",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("container payload mounted",
		"mountpoint", options.Mountpoint,
		"file", options.FileName,
		"size", options.Reader.Length(),
	)
	return server, nil
}

// rootNode is the filesystem root. Its single child is the payload
// file.
type rootNode struct {
	gofuse.Inode
	options *Options
}

var _ gofuse.InodeEmbedder = (*rootNode)(nil)
var _ gofuse.NodeOnAdder = (*rootNode)(nil)

func (r *rootNode) OnAdd(ctx context.Context) {
	payload := r.NewPersistentInode(ctx, &payloadNode{options: r.options}, gofuse.StableAttr{Mode: syscall.S_IFREG})
	r.AddChild(r.options.FileName, payload, true)
}

// payloadNode presents the container payload as a regular file.
// Reads resolve to Reader.ReadRange, which decrypts only the blocks
// the requested byte range overlaps.
type payloadNode struct {
	gofuse.Inode
	options *Options
}

var _ gofuse.InodeEmbedder = (*payloadNode)(nil)
var _ gofuse.NodeGetattrer = (*payloadNode)(nil)
var _ gofuse.NodeOpener = (*payloadNode)(nil)
var _ gofuse.NodeReader = (*payloadNode)(nil)

func (p *payloadNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = p.options.Reader.Length()
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = p.options.Reader.BlockSize()
	return 0
}

func (p *payloadNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	// Reject anything that isn't a read.
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}

	// Enable kernel page cache. The payload is immutable, so the
	// cache is always valid.
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (p *payloadNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := p.options.Reader.ReadRange(ctx, off, int64(len(dest)))
	if err != nil {
		p.options.Logger.Error("read failed",
			"offset", off,
			"length", len(dest),
			"error", err,
		)
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(data), 0
}
