package sftpfs

import (
	"context"

	"github.com/go-sftpfs/sftpfs/pool"
	"github.com/go-sftpfs/sftpfs/sfterrors"
)

// FileStore reports space usage for the volume backing a path, via SFTP's
// statVFS extension. If the server does not support statVFS, every
// accessor raises UnsupportedOperation.
type FileStore struct {
	TotalSpace     uint64
	UsableSpace    uint64
	UnallocatedSpace uint64
}

// GetFileStore issues statVFS against the volume containing p.
func (fs *FileSystem) GetFileStore(p Path) (FileStore, error) {
	resolved := p.Resolve()
	var store FileStore
	err := fs.withClient(context.Background(), sfterrors.OpStatVFS, resolved, func(c pool.Client) error {
		vfs, err := c.StatVFS(resolved)
		if err != nil {
			return fs.translate(sfterrors.OpStatVFS, resolved, "", err)
		}
		blockSize := vfs.Bsize
		store = FileStore{
			TotalSpace:       blockSize * vfs.Blocks,
			UsableSpace:      blockSize * vfs.Bavail,
			UnallocatedSpace: blockSize * vfs.Bfree,
		}
		return nil
	})
	return store, err
}
