package sftpfs

import (
	"os"
	"time"

	"github.com/pkg/sftp"

	"github.com/go-sftpfs/sftpfs/sfterrors"
)

// FileType classifies a path's attribute record.
type FileType int

const (
	TypeRegular FileType = iota
	TypeDirectory
	TypeSymlink
	TypeOther
)

// Attrs is the POSIX-shaped attribute record every stat-based operation
// produces.
type Attrs struct {
	ModTime    time.Time
	AccessTime time.Time
	Type       FileType
	Size       int64
	FileKey    string // synthesized from the resolved path; SFTP has no inode concept
	UID        int
	GID        int
	Mode       os.FileMode // 9-bit POSIX permission mask
}

func attrsFromFileInfo(resolvedPath string, fi os.FileInfo) Attrs {
	a := Attrs{
		ModTime:    fi.ModTime(),
		AccessTime: fi.ModTime(), // atime unavailable from os.FileInfo; reported as mtime
		Size:       fi.Size(),
		FileKey:    resolvedPath,
		Mode:       fi.Mode().Perm(),
	}
	switch {
	case fi.IsDir():
		a.Type = TypeDirectory
	case fi.Mode()&os.ModeSymlink != 0:
		a.Type = TypeSymlink
	case fi.Mode().IsRegular():
		a.Type = TypeRegular
	default:
		a.Type = TypeOther
	}
	if s, ok := fi.Sys().(*sftp.FileStat); ok {
		a.UID, a.GID = int(s.UID), int(s.GID)
	}
	return a
}

// NamedAttributes implements a selector-based read, e.g. "size" or
// "lastModifiedTime" against the "basic" view, or "permissions", "owner" or
// "group" against the "posix" view. The posix view does not include the
// basic names. Unknown views or names yield IllegalArgument.
func (a Attrs) NamedAttributes(view string, names []string) (map[string]any, error) {
	out := make(map[string]any, len(names))
	for _, name := range names {
		v, err := a.namedAttribute(view, name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func (a Attrs) namedAttribute(view, name string) (any, error) {
	switch view {
	case "basic":
		switch name {
		case "lastModifiedTime":
			return a.ModTime, nil
		case "lastAccessTime":
			return a.AccessTime, nil
		case "creationTime":
			return a.ModTime, nil // unavailable over SFTP; reported as mtime
		case "size":
			return a.Size, nil
		case "isDirectory":
			return a.Type == TypeDirectory, nil
		case "isRegularFile":
			return a.Type == TypeRegular, nil
		case "isSymbolicLink":
			return a.Type == TypeSymlink, nil
		case "fileKey":
			return a.FileKey, nil
		}
	case "posix":
		switch name {
		case "permissions":
			return a.Mode, nil
		case "owner":
			return a.UID, nil
		case "group":
			return a.GID, nil
		}
	case "owner":
		if name == "owner" {
			return a.UID, nil
		}
	}
	return nil, sfterrors.NewIllegalArgument(sfterrors.OpStat, "unsupported attribute "+view+":"+name)
}

// View is the polymorphic accessor over {basic, owner, posix} attribute
// views. It holds the path and followLinks flag it was constructed
// with; reads and writes delegate to the owning FileSystem.
type View struct {
	fs         *FileSystem
	path       Path
	name       string
	followLinks bool
}

// NewView returns the named view over path, or (View{}, false) if the name
// is not one of "basic", "owner", "posix". Unsupported view requests get a
// null view rather than an error.
func NewView(path Path, name string, followLinks bool) (View, bool) {
	switch name {
	case "basic", "owner", "posix":
		return View{fs: path.fs, path: path, name: name, followLinks: followLinks}, true
	default:
		return View{}, false
	}
}

// Name returns the view's literal name.
func (v View) Name() string { return v.name }

// ReadAttributes stats the target and returns its record.
func (v View) ReadAttributes() (Attrs, error) {
	return v.fs.readAttributes(v.path, v.followLinks)
}

// SetTimes writes lastModifiedTime when non-zero, matching the basic view's
// write surface.
func (v View) SetTimes(modTime time.Time) error {
	if modTime.IsZero() {
		return nil
	}
	return v.fs.setAttribute(v.path, "basic", "lastModifiedTime", modTime, v.followLinks)
}

// SetPermissions writes the POSIX mode, valid on the posix view.
func (v View) SetPermissions(mode os.FileMode) error {
	return v.fs.setAttribute(v.path, "posix", "permissions", mode, v.followLinks)
}

// SetOwner writes uid/gid, valid on the owner and posix views.
func (v View) SetOwner(uid, gid int) error {
	if err := v.fs.setAttribute(v.path, v.name, "owner", uid, v.followLinks); err != nil {
		return err
	}
	return v.fs.setAttribute(v.path, v.name, "group", gid, v.followLinks)
}
