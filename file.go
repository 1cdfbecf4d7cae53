package sftpfs

import (
	"context"
	"io"
	"os"

	"github.com/go-sftpfs/sftpfs/options"
	"github.com/go-sftpfs/sftpfs/pool"
	"github.com/go-sftpfs/sftpfs/sfterrors"
)

// inputStream is the adapter wrapping a remote read handle: the call site
// already holds one borrow from Get; opening the stream adds a second via
// channel.AddRef, and this adapter's first Close drops exactly that second
// borrow.
type inputStream struct {
	file       pool.File
	channel    *pool.Channel
	fs         *FileSystem
	path       string
	deleteOnClose bool
	closed     bool
}

func (s *inputStream) Read(p []byte) (int, error) { return s.file.Read(p) }

func (s *inputStream) Seek(offset int64, whence int) (int64, error) {
	return s.file.Seek(offset, whence)
}

// Close is idempotent: only the first call tears anything down. Every
// opened stream must release its extra refcount exactly once.
func (s *inputStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	closeErr := s.file.Close()
	s.channel.Release()

	if !s.deleteOnClose {
		return closeErr
	}

	// DELETE_ON_CLOSE: a close error takes precedence and is returned as is;
	// a delete error is reported only when the close itself succeeded.
	var deleteErr error
	withErr := s.fs.withAdHocClient(func(c pool.Client) error {
		deleteErr = c.Remove(s.path)
		return nil
	})
	if withErr != nil {
		deleteErr = withErr
	}
	if closeErr != nil {
		return closeErr
	}
	if deleteErr != nil {
		return s.fs.translate(sfterrors.OpDeleteFile, s.path, "", deleteErr)
	}
	return nil
}

// outputStream is the write-side counterpart of inputStream.
type outputStream struct {
	file    pool.File
	channel *pool.Channel
	closed  bool
}

func (s *outputStream) Write(p []byte) (int, error) { return s.file.Write(p) }

func (s *outputStream) Seek(offset int64, whence int) (int64, error) {
	return s.file.Seek(offset, whence)
}

func (s *outputStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.file.Close()
	s.channel.Release()
	return err
}

// OpenInput opens a remote file for reading: validates options, acquires a
// channel, issues the SFTP get, and wraps the result in a
// reference-holding adapter. DELETE_ON_CLOSE makes the adapter issue a
// delete as part of its close sequence.
func (fs *FileSystem) OpenInput(p Path, tokens []options.Token) (io.ReadSeekCloser, error) {
	resolved := p.Resolve()
	opts, err := options.Parse(tokens, options.ForRead)
	if err != nil {
		return nil, sfterrors.NewIllegalArgument(sfterrors.OpOpenInput, err.Error())
	}
	if opts.Write || opts.Append {
		return nil, sfterrors.NewIllegalArgument(sfterrors.OpOpenInput, "open-for-read cannot carry WRITE/APPEND")
	}
	if fs.Closed() {
		return nil, sfterrors.NewClosed(sfterrors.OpOpenInput, resolved)
	}

	ch, err := fs.pool.Get(context.Background())
	if err != nil {
		return nil, err
	}

	f, err := ch.Client().Open(resolved)
	if err != nil {
		ch.Release()
		return nil, fs.translate(sfterrors.OpOpenInput, resolved, "", err)
	}
	ch.AddRef() // second borrow, dropped by the stream's Close
	ch.Release() // the call site's own borrow from Get

	return &inputStream{
		file:          f,
		channel:       ch,
		fs:            fs,
		path:          resolved,
		deleteOnClose: opts.DeleteOnClose,
	}, nil
}

// OpenOutput opens a remote file for writing: a stat pre-check enforces
// CREATE_NEW/CREATE/TRUNCATE_EXISTING semantics before any write is
// attempted.
func (fs *FileSystem) OpenOutput(p Path, tokens []options.Token) (io.WriteSeekCloser, error) {
	resolved := p.Resolve()
	opts, err := options.Parse(tokens, options.ForWrite)
	if err != nil {
		return nil, sfterrors.NewIllegalArgument(sfterrors.OpOpenOutput, err.Error())
	}
	if fs.Closed() {
		return nil, sfterrors.NewClosed(sfterrors.OpOpenOutput, resolved)
	}

	ch, err := fs.pool.Get(context.Background())
	if err != nil {
		return nil, err
	}

	existing, statErr := ch.Client().Stat(resolved)
	exists := statErr == nil
	switch {
	case opts.CreateNew && exists:
		ch.Release()
		return nil, sfterrors.NewAlreadyExists(sfterrors.OpOpenOutput, resolved, nil)
	case !opts.Create && !opts.CreateNew && !exists:
		ch.Release()
		return nil, sfterrors.NewNoSuchFile(sfterrors.OpOpenOutput, resolved)
	case opts.Truncate && !opts.Create && !exists:
		ch.Release()
		return nil, sfterrors.NewNoSuchFile(sfterrors.OpOpenOutput, resolved)
	case exists && existing.IsDir():
		ch.Release()
		return nil, &sfterrors.FileSystemError{Kind: sfterrors.IsADirectory, Operation: sfterrors.OpOpenOutput, Path: resolved}
	}

	flags := os.O_WRONLY
	switch {
	case opts.Append:
		flags |= os.O_APPEND | os.O_CREATE
	default:
		flags |= os.O_CREATE | os.O_TRUNC
	}

	f, err := ch.Client().OpenFile(resolved, flags)
	if err != nil {
		ch.Release()
		return nil, fs.translate(sfterrors.OpOpenOutput, resolved, "", err)
	}
	ch.AddRef()
	ch.Release() // the call site's own borrow from Get

	return &outputStream{file: f, channel: ch}, nil
}

// ByteChannel is a random-access handle: position/read/write/size/
// truncate/close over the same stream primitives as OpenOutput, limited
// by what the underlying SFTP transport actually supports.
type ByteChannel struct {
	file    pool.File
	channel *pool.Channel
	append  bool
	closed  bool
}

// OpenByteChannel opens path for combined random access. append mirrors
// OpenOutput's APPEND handling; it is not meaningful together with read.
func (fs *FileSystem) OpenByteChannel(p Path, tokens []options.Token) (*ByteChannel, error) {
	resolved := p.Resolve()
	opts, err := options.Parse(tokens, options.ForWrite)
	if err != nil {
		return nil, sfterrors.NewIllegalArgument(sfterrors.OpOpenOutput, err.Error())
	}
	if fs.Closed() {
		return nil, sfterrors.NewClosed(sfterrors.OpOpenOutput, resolved)
	}

	ch, err := fs.pool.Get(context.Background())
	if err != nil {
		return nil, err
	}

	flags := os.O_RDWR
	switch {
	case opts.CreateNew:
		flags |= os.O_CREATE | os.O_EXCL
	case opts.Create:
		flags |= os.O_CREATE
	}
	if opts.Append {
		flags |= os.O_APPEND
	}

	f, err := ch.Client().OpenFile(resolved, flags)
	if err != nil {
		ch.Release()
		return nil, fs.translate(sfterrors.OpOpenOutput, resolved, "", err)
	}
	ch.AddRef()
	ch.Release() // the call site's own borrow from Get

	return &ByteChannel{file: f, channel: ch, append: opts.Append}, nil
}

func (b *ByteChannel) Read(p []byte) (int, error)  { return b.file.Read(p) }
func (b *ByteChannel) Write(p []byte) (int, error) { return b.file.Write(p) }
func (b *ByteChannel) Seek(offset int64, whence int) (int64, error) {
	return b.file.Seek(offset, whence)
}

// Size reports the current file size via Stat.
func (b *ByteChannel) Size() (int64, error) {
	fi, err := b.file.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Truncate resizes the file, equivalent to re-opening it in overwrite mode
// up to size bytes, since SFTP's SSH_FXP_FSETSTAT truncate is exactly that.
func (b *ByteChannel) Truncate(size int64) error { return b.file.Truncate(size) }

func (b *ByteChannel) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	err := b.file.Close()
	b.channel.Release()
	return err
}
