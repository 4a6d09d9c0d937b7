// Package debugfs implements the optional campaign introspection mount:
// a tiny read-only FUSE filesystem exposing live campaign state through
// three synthetic, regenerated-on-read files.
package debugfs

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	fusefs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Stats is the snapshot rendered at /stats.
type Stats struct {
	FaultsTried int
	Injections  int
	Elapsed     time.Duration
}

// Source is whatever the mount reads from on every open; the driver
// supplies the live implementation. Every method is called fresh per
// request, so the mount never goes stale between reads.
type Source interface {
	CurrentFault() string // empty between trials
	Stats() Stats
	Report() string // the text-sink rendering of injections recorded so far
}

// Mounter owns the FUSE server lifecycle: the server/path pair plus
// Unmount/Wait.
type Mounter struct {
	server *fuse.Server
	path   string
}

// Mount mounts the introspection filesystem at path. Unmounting never
// affects source's underlying state; this is strictly observational.
func Mount(path string, source Source) (*Mounter, error) {
	root := &fusefs.Inode{}

	timeout := time.Second
	opts := &fusefs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther: false,
			Debug:      false,
			FsName:     "stracefuzz-debugfs",
			Name:       "stracefuzz",
		},
		AttrTimeout:  &timeout,
		EntryTimeout: &timeout,
	}

	server, err := fusefs.Mount(path, root, opts)
	if err != nil {
		return nil, fmt.Errorf("debugfs: mount: %w", err)
	}

	ctx := context.Background()
	addFile(ctx, root, "current-fault", func() []byte {
		return []byte(source.CurrentFault())
	})
	addFile(ctx, root, "stats", func() []byte {
		s := source.Stats()
		return []byte(fmt.Sprintf("faultsTried=%s injections=%s elapsed=%s\n",
			humanize.Comma(int64(s.FaultsTried)), humanize.Comma(int64(s.Injections)), s.Elapsed.Round(time.Second)))
	})
	addFile(ctx, root, "report", func() []byte {
		return []byte(source.Report())
	})

	return &Mounter{server: server, path: path}, nil
}

func addFile(ctx context.Context, root *fusefs.Inode, name string, content func() []byte) {
	node := &fileNode{content: content}
	child := root.NewPersistentInode(ctx, node, fusefs.StableAttr{Mode: fuse.S_IFREG})
	root.AddChild(name, child, false)
}

// Unmount cleanly unmounts the filesystem.
func (m *Mounter) Unmount() error {
	return m.server.Unmount()
}

// Wait blocks until the filesystem is unmounted.
func (m *Mounter) Wait() {
	m.server.Wait()
}

// Path returns the mount path.
func (m *Mounter) Path() string {
	return m.path
}

// Serve starts serving FUSE requests in the background.
func (m *Mounter) Serve() {
	go m.server.Serve()
}

// fileNode is a synthetic read-only regular file whose content is
// recomputed fresh on every Open, not cached across reads.
type fileNode struct {
	fusefs.Inode
	content func() []byte
}

var (
	_ fusefs.InodeEmbedder = (*fileNode)(nil)
	_ fusefs.NodeOpener    = (*fileNode)(nil)
	_ fusefs.NodeGetattrer = (*fileNode)(nil)
)

func (n *fileNode) Getattr(ctx context.Context, fh fusefs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Attr.Mode = 0o444
	out.Attr.Size = uint64(len(n.content()))
	return 0
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (fusefs.FileHandle, uint32, syscall.Errno) {
	return &fileHandle{data: n.content()}, fuse.FOPEN_DIRECT_IO, 0
}

// fileHandle serves one already-rendered snapshot; a new handle (and a
// new snapshot) is created on every Open.
type fileHandle struct {
	data []byte
}

var _ fusefs.FileReader = (*fileHandle)(nil)

func (fh *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off < 0 || off > int64(len(fh.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(fh.data)) {
		end = int64(len(fh.data))
	}
	return fuse.ReadResultData(fh.data[off:end]), 0
}
