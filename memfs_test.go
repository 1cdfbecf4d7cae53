package sftpfs

import (
	"bytes"
	"context"
	"io"
	"os"
	gopath "path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"

	"github.com/go-sftpfs/sftpfs/pool"
	"github.com/go-sftpfs/sftpfs/sfterrors"
)

// memFileInfo is a minimal os.FileInfo over a memNode, used throughout the
// façade tests in place of a real SFTP server.
type memFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
	uid     int
	gid     int
}

func (fi memFileInfo) Name() string       { return fi.name }
func (fi memFileInfo) Size() int64        { return fi.size }
func (fi memFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi memFileInfo) ModTime() time.Time { return fi.modTime }
func (fi memFileInfo) IsDir() bool        { return fi.isDir }

// Sys mirrors what *sftp.Client actually returns from Stat/Lstat/ReadDir, so
// tests driving attrsFromFileInfo through the façade exercise the same type
// switch production code does.
func (fi memFileInfo) Sys() any {
	return &sftp.FileStat{UID: uint32(fi.uid), GID: uint32(fi.gid)}
}

type memNode struct {
	name     string
	isDir    bool
	data     []byte
	mode     os.FileMode
	modTime  time.Time
	uid, gid int
	children map[string]*memNode
	link     string // symlink target, when mode&os.ModeSymlink != 0
}

func newMemDir(name string) *memNode {
	return &memNode{name: name, isDir: true, mode: 0o755, modTime: time.Now(), children: make(map[string]*memNode)}
}

// memClient is an in-memory pool.Client double rooted at "/", standing in
// for a real SFTP server the way backend/sftp's tests stand in for a real
// SSH server with a fake sshClient.
type memClient struct {
	mu   sync.Mutex
	root *memNode
	pwd  string // reported by Getwd; defaults to "/"
}

func newMemClient() *memClient {
	return &memClient{root: newMemDir("/"), pwd: "/"}
}

func (c *memClient) split(p string) []string {
	clean := gopath.Clean(p)
	if clean == "/" || clean == "." {
		return nil
	}
	var parts []string
	for _, seg := range strings.Split(strings.TrimPrefix(clean, "/"), "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return parts
}

// lookup returns the node at p, or nil if absent.
func (c *memClient) lookup(p string) *memNode {
	node := c.root
	for _, part := range c.split(p) {
		if node == nil || !node.isDir {
			return nil
		}
		node = node.children[part]
	}
	return node
}

// parent returns the parent dir node and final name for p.
func (c *memClient) parent(p string) (*memNode, string) {
	parts := c.split(p)
	if len(parts) == 0 {
		return nil, ""
	}
	node := c.root
	for _, part := range parts[:len(parts)-1] {
		if node == nil || !node.isDir {
			return nil, ""
		}
		node = node.children[part]
	}
	return node, parts[len(parts)-1]
}

func toFileInfo(n *memNode) os.FileInfo {
	mode := n.mode
	if n.isDir {
		mode |= os.ModeDir
	}
	return memFileInfo{name: n.name, size: int64(len(n.data)), mode: mode, modTime: n.modTime, isDir: n.isDir, uid: n.uid, gid: n.gid}
}

func (c *memClient) Open(p string) (pool.File, error) { return c.OpenFile(p, os.O_RDONLY) }

func (c *memClient) OpenFile(p string, flags int) (pool.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lookup(p)
	if n == nil {
		if flags&os.O_CREATE == 0 {
			return nil, os.ErrNotExist
		}
		dir, name := c.parent(p)
		if dir == nil {
			return nil, os.ErrNotExist
		}
		n = &memNode{name: name, mode: 0o644, modTime: time.Now()}
		dir.children[name] = n
	} else if flags&os.O_EXCL != 0 && flags&os.O_CREATE != 0 {
		return nil, os.ErrExist
	}
	if n.isDir {
		return nil, &os.PathError{Op: "open", Path: p, Err: os.ErrInvalid}
	}
	if flags&os.O_TRUNC != 0 {
		n.data = nil
	}
	pos := int64(0)
	if flags&os.O_APPEND != 0 {
		pos = int64(len(n.data))
	}
	return &memFile{node: n, pos: pos}, nil
}

func (c *memClient) Create(p string) (pool.File, error) {
	return c.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC)
}

func (c *memClient) Mkdir(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lookup(p) != nil {
		return os.ErrExist
	}
	dir, name := c.parent(p)
	if dir == nil {
		return os.ErrNotExist
	}
	dir.children[name] = newMemDir(name)
	return nil
}

func (c *memClient) MkdirAll(p string) error {
	parts := c.split(p)
	cur := "/"
	for _, part := range parts {
		cur = gopath.Join(cur, part)
		if err := c.Mkdir(cur); err != nil && err != os.ErrExist {
			return err
		}
	}
	return nil
}

func (c *memClient) Remove(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dir, name := c.parent(p)
	if dir == nil || dir.children[name] == nil {
		return os.ErrNotExist
	}
	delete(dir.children, name)
	return nil
}

func (c *memClient) RemoveDirectory(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dir, name := c.parent(p)
	if dir == nil || dir.children[name] == nil {
		return os.ErrNotExist
	}
	if len(dir.children[name].children) > 0 {
		return &os.PathError{Op: "rmdir", Path: p, Err: os.ErrExist}
	}
	delete(dir.children, name)
	return nil
}

func (c *memClient) rename(oldpath, newpath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	srcDir, srcName := c.parent(oldpath)
	if srcDir == nil || srcDir.children[srcName] == nil {
		return os.ErrNotExist
	}
	dstDir, dstName := c.parent(newpath)
	if dstDir == nil {
		return os.ErrNotExist
	}
	node := srcDir.children[srcName]
	node.name = dstName
	delete(srcDir.children, srcName)
	dstDir.children[dstName] = node
	return nil
}

func (c *memClient) Rename(oldpath, newpath string) error      { return c.rename(oldpath, newpath) }
func (c *memClient) PosixRename(oldpath, newpath string) error { return c.rename(oldpath, newpath) }

func (c *memClient) Symlink(oldname, newname string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dir, name := c.parent(newname)
	if dir == nil {
		return os.ErrNotExist
	}
	dir.children[name] = &memNode{name: name, mode: os.ModeSymlink | 0o777, modTime: time.Now(), link: oldname}
	return nil
}

func (c *memClient) ReadLink(p string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lookup(p)
	if n == nil || n.mode&os.ModeSymlink == 0 {
		return "", os.ErrNotExist
	}
	return n.link, nil
}

func (c *memClient) Stat(p string) (os.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lookup(p)
	for n != nil && n.mode&os.ModeSymlink != 0 {
		n = c.lookup(n.link)
	}
	if n == nil {
		return nil, os.ErrNotExist
	}
	return toFileInfo(n), nil
}

func (c *memClient) Lstat(p string) (os.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lookup(p)
	if n == nil {
		return nil, os.ErrNotExist
	}
	return toFileInfo(n), nil
}

func (c *memClient) Chmod(p string, mode os.FileMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lookup(p)
	if n == nil {
		return os.ErrNotExist
	}
	n.mode = mode
	return nil
}

func (c *memClient) Chown(p string, uid, gid int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lookup(p)
	if n == nil {
		return os.ErrNotExist
	}
	n.uid, n.gid = uid, gid
	return nil
}

func (c *memClient) Chtimes(p string, atime, mtime time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lookup(p)
	if n == nil {
		return os.ErrNotExist
	}
	n.modTime = mtime
	return nil
}

func (c *memClient) Truncate(p string, size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lookup(p)
	if n == nil {
		return os.ErrNotExist
	}
	if int64(len(n.data)) > size {
		n.data = n.data[:size]
	} else {
		n.data = append(n.data, make([]byte, size-int64(len(n.data)))...)
	}
	return nil
}

func (c *memClient) ReadDir(p string) ([]os.FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.lookup(p)
	if n == nil || !n.isDir {
		return nil, os.ErrNotExist
	}
	out := make([]os.FileInfo, 0, len(n.children))
	for _, child := range n.children {
		out = append(out, toFileInfo(child))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func (c *memClient) StatVFS(p string) (*sftp.StatVFS, error) {
	return &sftp.StatVFS{Bsize: 512, Frsize: 512, Blocks: 2048, Bfree: 1024, Bavail: 1024}, nil
}

func (c *memClient) Getwd() (string, error) { return c.pwd, nil }
func (c *memClient) Close() error           { return nil }

// memFile is the pool.File returned for open handles into a memNode.
type memFile struct {
	node *memNode
	pos  int64
}

func (f *memFile) Name() string { return f.node.name }

func (f *memFile) Read(p []byte) (int, error) {
	if f.pos >= int64(len(f.node.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.node.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	end := f.pos + int64(len(p))
	if end > int64(len(f.node.data)) {
		grown := make([]byte, end)
		copy(grown, f.node.data)
		f.node.data = grown
	}
	copy(f.node.data[f.pos:end], p)
	f.pos = end
	f.node.modTime = time.Now()
	return len(p), nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.pos = offset
	case io.SeekCurrent:
		f.pos += offset
	case io.SeekEnd:
		f.pos = int64(len(f.node.data)) + offset
	}
	return f.pos, nil
}

func (f *memFile) Close() error { return nil }

func (f *memFile) Stat() (os.FileInfo, error) { return toFileInfo(f.node), nil }

func (f *memFile) Truncate(size int64) error {
	if int64(len(f.node.data)) > size {
		f.node.data = f.node.data[:size]
	} else {
		f.node.data = append(f.node.data, make([]byte, size-int64(len(f.node.data)))...)
	}
	return nil
}

// memSession wraps a shared *memClient as a pool.Session, never actually
// disconnecting since there is no real transport underneath.
type memSession struct {
	client *memClient
	broken bool
}

func (s *memSession) Client() pool.Client { return s.client }
func (s *memSession) Ping() error {
	if s.broken {
		return io.ErrClosedPipe
	}
	return nil
}
func (s *memSession) Close() error { return nil }

// newMemFileSystem builds a FileSystem backed by a single shared memClient
// across capacity pooled channels, bypassing Provider/pool.NewSSHDialer
// entirely so façade tests never touch a real network.
func newMemFileSystem(t *testing.T, capacity int) (*FileSystem, *memClient) {
	t.Helper()
	client := newMemClient()
	dial := func(ctx context.Context) (pool.Session, error) {
		return &memSession{client: client}, nil
	}
	p, err := pool.New(context.Background(), capacity, time.Second, dial)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	fs := &FileSystem{
		pool:       p,
		defaultDir: "/home/user",
		factory:    sfterrors.DefaultFactory{},
		locks:      newKeyedLock(),
		log:        logrus.NewEntry(logrus.New()),
	}
	client.root.children["home"] = newMemDir("home")
	client.root.children["home"].children["user"] = newMemDir("user")
	return fs, client
}

func writeFile(t *testing.T, c *memClient, p string, content string) {
	t.Helper()
	f, err := c.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		t.Fatalf("seed file %s: %v", p, err)
	}
	if _, err := f.Write([]byte(content)); err != nil {
		t.Fatalf("seed write %s: %v", p, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("seed close %s: %v", p, err)
	}
}

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf.String()
}
