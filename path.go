package sftpfs

import (
	"path"
	"strings"
)

// Path is an immutable POSIX-style path bound to the FileSystem that
// produced it. Equality includes filesystem identity: two Paths with the
// same string on different FileSystem instances are not equal.
type Path struct {
	fs  *FileSystem
	raw string
}

// newPath wraps raw (absolute or relative) for fs without resolving it.
func newPath(fs *FileSystem, raw string) Path {
	if raw == "" {
		raw = "."
	}
	return Path{fs: fs, raw: raw}
}

// String returns the path exactly as supplied, unresolved.
func (p Path) String() string { return p.raw }

// IsAbsolute reports whether the path starts at the filesystem root.
func (p Path) IsAbsolute() bool { return strings.HasPrefix(p.raw, "/") }

// FileSystem returns the owning filesystem.
func (p Path) FileSystem() *FileSystem { return p.fs }

// Resolve converts p to an absolute, cleaned SFTP path string, resolving a
// relative path against the filesystem's default directory captured at
// connect time.
func (p Path) Resolve() string {
	if p.IsAbsolute() {
		return path.Clean(p.raw)
	}
	base := "/"
	if p.fs != nil {
		base = p.fs.defaultDir
	}
	return path.Clean(path.Join(base, p.raw))
}

// Join returns a new Path on the same filesystem with elem appended.
func (p Path) Join(elem string) Path {
	return newPath(p.fs, path.Join(p.raw, elem))
}

// Parent returns the path's parent, or p itself if it has none.
func (p Path) Parent() Path {
	resolved := p.Resolve()
	dir := path.Dir(resolved)
	return newPath(p.fs, dir)
}

// Name returns the final path element.
func (p Path) Name() string { return path.Base(p.raw) }

// ToURI renders p as an absolute sftp:// URI including its resolved path.
// Feeding the result back through Provider.GetPath round-trips to an equal
// Path.
func (p Path) ToURI() string {
	if p.fs == nil {
		return ""
	}
	return buildAuthorityURI(p.fs.key) + p.Resolve()
}

// Equal is filesystem-identity-inclusive: two Paths are equal iff they
// resolve to the same string on the same FileSystem instance.
func (p Path) Equal(other Path) bool {
	return p.fs == other.fs && p.Resolve() == other.Resolve()
}
