package sftpfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathEqualityIncludesFileSystemIdentity(t *testing.T) {
	fsA, _ := newMemFileSystem(t, 1)
	fsB, _ := newMemFileSystem(t, 1)

	a := fsA.Path("/foo")
	b := fsB.Path("/foo")
	assert.False(t, a.Equal(b), "equal path strings on different filesystems must not be Equal")

	c := fsA.Path("/foo")
	assert.True(t, a.Equal(c))
}

func TestPathToURIRoundTripsThroughProvider(t *testing.T) {
	p := NewProvider()
	key := authorityKey{host: "example.com", port: 22}
	fs := registerMemFileSystem(t, p, key, 1)

	original := fs.Path("/foo/bar")
	uri := original.ToURI()

	roundTripped, err := p.GetPath(uri)
	if err != nil {
		t.Fatalf("GetPath(%q): %v", uri, err)
	}
	assert.True(t, original.Equal(roundTripped), "provider.GetPath(p.ToURI()) must round-trip back to an equal Path")
}

func TestPathJoinAndParent(t *testing.T) {
	fs, _ := newMemFileSystem(t, 1)
	p := fs.Path("/a").Join("b")
	assert.Equal(t, "/a/b", p.Resolve())
	assert.Equal(t, "/a", p.Parent().Resolve())
}
