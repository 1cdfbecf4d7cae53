package sfterrors

import (
	"errors"
	"os"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFactoryNilCause(t *testing.T) {
	var f DefaultFactory
	require.NoError(t, f.Translate(OpStat, "/a", "", nil))
}

func TestDefaultFactoryClassifiesStatusCodes(t *testing.T) {
	var f DefaultFactory

	err := f.Translate(OpStat, "/missing", "", &sftp.StatusError{Code: uint32(sftp.ErrSSHFxNoSuchFile)})
	var fsErr *FileSystemError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, NoSuchFile, fsErr.Kind)
	assert.Equal(t, "/missing", fsErr.Path)

	err = f.Translate(OpOpenInput, "/secret", "", &sftp.StatusError{Code: uint32(sftp.ErrSSHFxPermissionDenied)})
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, AccessDenied, fsErr.Kind)

	err = f.Translate(OpStatVFS, "/", "", &sftp.StatusError{Code: uint32(sftp.ErrSSHFxOpUnsupported)})
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, UnsupportedOperation, fsErr.Kind)
}

func TestDefaultFactoryClassifiesWrappedOSErrors(t *testing.T) {
	var f DefaultFactory

	err := f.Translate(OpStat, "/x", "", pkgerrors.Wrap(os.ErrNotExist, "stat failed"))
	var fsErr *FileSystemError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, NoSuchFile, fsErr.Kind)
}

func TestFileSystemErrorIsSentinel(t *testing.T) {
	err := NewNoSuchFile(OpStat, "/b")
	assert.True(t, errors.Is(err, Sentinel(NoSuchFile)))
	assert.False(t, errors.Is(err, Sentinel(AccessDenied)))
}

func TestFileSystemErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &FileSystemError{Kind: Generic, Cause: cause}
	assert.ErrorIs(t, err, cause)
}
