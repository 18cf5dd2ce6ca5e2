package main

import (
	"context"
	"io"
	"path/filepath"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/rockset/rocksdb-cloud/internal/cloudenv"
	"github.com/rockset/rocksdb-cloud/pkg/cerrors"
)

// dirNode is a directory inode backed by Env.List. Every lookup and readdir
// call goes straight to the environment; nothing is cached, since this tool
// is for browsing, not for serving production traffic.
type dirNode struct {
	fs.Inode
	env  *cloudenv.Env
	path string
}

func join(dir, name string) string {
	if dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

func (n *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	entries, err := n.env.List(ctx, n.path)
	if err != nil {
		return nil, toErrno(err)
	}
	for _, e := range entries {
		if e.Name != name {
			continue
		}
		childPath := join(n.path, name)
		if e.IsDir {
			child := &dirNode{env: n.env, path: childPath}
			out.Mode = fuse.S_IFDIR | 0555
			return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
		}
		child := &fileNode{env: n.env, path: childPath}
		out.Mode = fuse.S_IFREG | 0444
		return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG}), 0
	}
	return nil, syscall.ENOENT
}

func (n *dirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.env.List(ctx, n.path)
	if err != nil {
		return nil, toErrno(err)
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(fuse.S_IFREG)
		if e.IsDir {
			mode = fuse.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return fs.NewListDirStream(out), 0
}

func (n *dirNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFDIR | 0555
	return 0
}

// fileNode is a read-only file inode. Every open re-resolves the backing
// bytes through Env.OpenForRead; writes are rejected at Open.
type fileNode struct {
	fs.Inode
	env  *cloudenv.Env
	path string
}

func (n *fileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFREG | 0444
	if size, err := n.env.Size(ctx, n.path); err == nil {
		out.Size = uint64(size)
	}
	if mtime, err := n.env.Mtime(ctx, n.path); err == nil {
		out.SetTimes(nil, &mtime, nil)
	}
	return 0
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_CREAT|syscall.O_TRUNC) != 0 {
		return nil, 0, syscall.EROFS
	}

	cf, lf, err := n.env.OpenForRead(ctx, n.path)
	if err != nil {
		return nil, 0, toErrno(err)
	}
	if lf != nil {
		defer lf.Close()
		data, rerr := io.ReadAll(lf)
		if rerr != nil {
			return nil, 0, syscall.EIO
		}
		return &bufferedHandle{data: data}, fuse.FOPEN_KEEP_CACHE, 0
	}
	return &cloudHandle{ctx: ctx, cf: cf}, 0, 0
}

// bufferedHandle serves a file whose full contents were already read from
// local disk (or the log tailer's cache) into memory.
type bufferedHandle struct {
	data []byte
}

func (h *bufferedHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	return fuse.ReadResultData(h.data[off:end]), 0
}

// cloudHandle serves a file directly from the object store, one ranged Get
// per FUSE read, via the ReadableCloudFile the environment opened.
type cloudHandle struct {
	ctx context.Context
	cf  *cloudenv.ReadableCloudFile
}

func (h *cloudHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := h.cf.Read(ctx, off, len(dest))
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(data), 0
}

func toErrno(err error) syscall.Errno {
	switch cerrors.KindOf(err) {
	case cerrors.KindNotFound:
		return syscall.ENOENT
	case cerrors.KindInvalidArgument:
		return syscall.EINVAL
	case cerrors.KindNotSupported:
		return syscall.ENOTSUP
	case cerrors.KindBusy:
		return syscall.EBUSY
	case cerrors.KindTimedOut:
		return syscall.ETIMEDOUT
	default:
		return syscall.EIO
	}
}
