package sftpfs

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-sftpfs/sftpfs/pool"
	"github.com/go-sftpfs/sftpfs/sfterrors"
)

// FileSystem is one open SFTP filesystem instance: it owns a channel pool,
// a default directory, the authority it was opened against, a reference to
// its Provider, and the exception factory used to translate remote
// failures.
type FileSystem struct {
	provider   *Provider
	key        authorityKey
	pool       *pool.Pool
	defaultDir string
	factory    sfterrors.Factory
	locks      *keyedLock
	log        *logrus.Entry

	// keepAliveCancel stops the background sweep StartKeepAlive was given at
	// connect time, if serverAliveInterval was configured. Nil when no
	// automatic sweep was started.
	keepAliveCancel context.CancelFunc

	closed int32 // atomic bool
}

// Root returns the filesystem's default directory as an absolute Path.
func (fs *FileSystem) Root() Path { return newPath(fs, fs.defaultDir) }

// Path resolves a possibly-relative string to a Path bound to fs.
func (fs *FileSystem) Path(raw string) Path { return newPath(fs, raw) }

// Closed reports whether Close has already run.
func (fs *FileSystem) Closed() bool { return atomic.LoadInt32(&fs.closed) == 1 }

// Close unregisters fs, then drains and disconnects the pool. Once closed,
// every subsequent public operation fails with ClosedFileSystem. The
// registry entry is removed before the pool is drained.
func (fs *FileSystem) Close() error {
	if !atomic.CompareAndSwapInt32(&fs.closed, 0, 1) {
		return nil
	}
	if fs.keepAliveCancel != nil {
		fs.keepAliveCancel()
	}
	if fs.provider != nil {
		fs.provider.unregister(fs)
	}
	return fs.pool.Close()
}

// withClient acquires one channel for the duration of fn and guarantees its
// release on every exit path, including a panic unwinding through fn.
func (fs *FileSystem) withClient(ctx context.Context, op sfterrors.Op, path string, fn func(pool.Client) error) error {
	if fs.Closed() {
		return sfterrors.NewClosed(op, path)
	}
	ch, err := fs.pool.Get(ctx)
	if err != nil {
		return err
	}
	defer ch.Release()
	return fn(ch.Client())
}

// withAdHocClient performs one non-blocking GetOrCreate acquisition, for
// close-time cleanup work (the delete half of DELETE_ON_CLOSE) that must
// not reuse a channel the caller has already released.
func (fs *FileSystem) withAdHocClient(fn func(pool.Client) error) error {
	ch, err := fs.pool.GetOrCreate(context.Background())
	if err != nil {
		return err
	}
	defer ch.Release()
	return fn(ch.Client())
}

func (fs *FileSystem) translate(op sfterrors.Op, path, second string, cause error) error {
	if cause == nil {
		return nil
	}
	return fs.factory.Translate(op, path, second, cause)
}

// Stat returns p's attribute record, following symlinks iff followLinks is
// set.
func (fs *FileSystem) Stat(p Path, followLinks bool) (Attrs, error) {
	return fs.readAttributes(p, followLinks)
}

// readAttributes stats resolved, choosing Stat (follow) or Lstat (no
// follow).
func (fs *FileSystem) readAttributes(p Path, followLinks bool) (Attrs, error) {
	resolved := p.Resolve()
	var attrs Attrs
	err := fs.withClient(context.Background(), sfterrors.OpStat, resolved, func(c pool.Client) error {
		var fi os.FileInfo
		var err error
		if followLinks {
			fi, err = c.Stat(resolved)
		} else {
			fi, err = c.Lstat(resolved)
		}
		if err != nil {
			return fs.translate(sfterrors.OpStat, resolved, "", err)
		}
		attrs = attrsFromFileInfo(resolved, fi)
		return nil
	})
	return attrs, err
}

// setAttribute dispatches "view:name" writes to chmod/chown/chgrp/setMtime.
// It stats first under followLinks to verify the target exists.
func (fs *FileSystem) setAttribute(p Path, view, name string, value any, followLinks bool) error {
	resolved := p.Resolve()
	if _, err := fs.readAttributes(p, followLinks); err != nil {
		return err
	}

	return fs.withClient(context.Background(), sfterrors.OpChmod, resolved, func(c pool.Client) error {
		switch {
		case view == "posix" && name == "permissions":
			mode, ok := value.(os.FileMode)
			if !ok {
				return sfterrors.NewIllegalArgument(sfterrors.OpChmod, "permissions value must be os.FileMode")
			}
			return fs.translate(sfterrors.OpChmod, resolved, "", c.Chmod(resolved, mode))
		case (view == "owner" || view == "posix") && name == "owner":
			uid, ok := value.(int)
			if !ok {
				return sfterrors.NewIllegalArgument(sfterrors.OpChown, "owner value must be int uid")
			}
			return fs.withCurrentGID(c, resolved, func(gid int) error {
				return fs.translate(sfterrors.OpChown, resolved, "", c.Chown(resolved, uid, gid))
			})
		case (view == "owner" || view == "posix") && name == "group":
			gid, ok := value.(int)
			if !ok {
				return sfterrors.NewIllegalArgument(sfterrors.OpChgrp, "group value must be int gid")
			}
			return fs.withCurrentUID(c, resolved, func(uid int) error {
				return fs.translate(sfterrors.OpChgrp, resolved, "", c.Chown(resolved, uid, gid))
			})
		case view == "basic" && name == "lastModifiedTime":
			t, ok := value.(time.Time)
			if !ok {
				return sfterrors.NewIllegalArgument(sfterrors.OpSetMtime, "lastModifiedTime value must be time.Time")
			}
			fi, err := c.Stat(resolved)
			if err != nil {
				return fs.translate(sfterrors.OpSetMtime, resolved, "", err)
			}
			return fs.translate(sfterrors.OpSetMtime, resolved, "", c.Chtimes(resolved, fi.ModTime(), t))
		default:
			return sfterrors.NewIllegalArgument(sfterrors.OpChmod, "unsupported attribute "+view+":"+name)
		}
	})
}

// withCurrentGID/withCurrentUID preserve the half of the ownership pair the
// caller did not ask to change, since SFTP's chown always sets both.
func (fs *FileSystem) withCurrentGID(c pool.Client, resolved string, fn func(gid int) error) error {
	fi, err := c.Stat(resolved)
	if err != nil {
		return fs.translate(sfterrors.OpStat, resolved, "", err)
	}
	return fn(attrsFromFileInfo(resolved, fi).GID)
}

func (fs *FileSystem) withCurrentUID(c pool.Client, resolved string, fn func(uid int) error) error {
	fi, err := c.Stat(resolved)
	if err != nil {
		return fs.translate(sfterrors.OpStat, resolved, "", err)
	}
	return fn(attrsFromFileInfo(resolved, fi).UID)
}

// ReadSymlink resolves the target of a symbolic link, returned as a
// filesystem-bound Path that is not necessarily normalized.
func (fs *FileSystem) ReadSymlink(p Path) (Path, error) {
	resolved := p.Resolve()
	var target string
	err := fs.withClient(context.Background(), sfterrors.OpReadlink, resolved, func(c pool.Client) error {
		t, err := c.ReadLink(resolved)
		if err != nil {
			return fs.translate(sfterrors.OpReadlink, resolved, "", err)
		}
		target = t
		return nil
	})
	if err != nil {
		return Path{}, err
	}
	return newPath(fs, target), nil
}

// StartKeepAlive runs the pool's keep-alive sweep on a ticker until ctx is
// cancelled or fs is closed, wiring the serverAliveInterval environment key
// to a concrete scheduled operation rather than leaving keep-alive purely a
// manually-invoked convenience. Errors from individual sweeps are logged,
// not returned, since a transient keep-alive failure should not tear down
// the background loop.
func (fs *FileSystem) StartKeepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if fs.Closed() {
					return
				}
				if err := fs.pool.KeepAlive(); err != nil {
					fs.log.WithError(err).Debug("sftpfs: keep-alive sweep reported errors")
				}
			}
		}
	}()
}

// IsSameFile reports whether a and b name the same file: equal after
// normalization on the same filesystem, or both regular files with
// identical file-keys after following links. Cross-filesystem comparisons
// always return false without raising.
func (fs *FileSystem) IsSameFile(a, b Path) (bool, error) {
	if a.fs != b.fs {
		return false, nil
	}
	if a.Equal(b) {
		return true, nil
	}
	aa, err := fs.readAttributes(a, true)
	if err != nil {
		return false, err
	}
	ba, err := fs.readAttributes(b, true)
	if err != nil {
		return false, err
	}
	return aa.Type == TypeRegular && ba.Type == TypeRegular && aa.FileKey == ba.FileKey, nil
}
