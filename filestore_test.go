package sftpfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFileStoreReportsSpace(t *testing.T) {
	fs, _ := newMemFileSystem(t, 1)
	store, err := fs.GetFileStore(fs.Path("/"))
	require.NoError(t, err)
	assert.Equal(t, uint64(512*2048), store.TotalSpace)
	assert.Equal(t, uint64(512*1024), store.UsableSpace)
}
