package vterm

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"syscall"
)

var errOutsideWorkspace = errors.New("path escapes the workspace")

// resolve maps an argument to an absolute virtual path. ".." never climbs
// above "/".
func (t *Terminal) resolve(arg string) string {
	base := t.cwd
	rest := arg
	switch {
	case arg == "":
		return t.cwd
	case arg == "~":
		return t.home
	case strings.HasPrefix(arg, "~/"):
		base, rest = t.home, arg[2:]
	case strings.HasPrefix(arg, "/"):
		base = "/"
	}
	return joinVirtual(base, rest)
}

func joinVirtual(base, rel string) string {
	segs := splitVirtual(base)
	for _, seg := range strings.Split(rel, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(segs) > 0 {
				segs = segs[:len(segs)-1]
			}
		default:
			segs = append(segs, seg)
		}
	}
	return "/" + strings.Join(segs, "/")
}

func splitVirtual(p string) []string {
	var segs []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}

// realize translates a virtual path to a path under the workspace root. It is
// the only place virtual paths become host paths.
func (t *Terminal) realize(virtual string) (string, error) {
	real := filepath.Join(t.root, filepath.FromSlash(strings.TrimPrefix(virtual, "/")))
	if !within(t.root, real) {
		return "", errOutsideWorkspace
	}
	// Symlinks may point anywhere: check the nearest existing ancestor.
	for p := real; ; {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			if !within(t.root, resolved) {
				return "", errOutsideWorkspace
			}
			break
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	return real, nil
}

// virtualize is the inverse of realize for paths inside the root.
func (t *Terminal) virtualize(real string) string {
	rel, err := filepath.Rel(t.root, real)
	if err != nil || rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// lookup resolves and realizes an operand.
func (t *Terminal) lookup(arg string) (virtual, real string, err error) {
	virtual = t.resolve(arg)
	real, err = t.realize(virtual)
	return virtual, real, err
}

// errText renders a filesystem error the way coreutils prints it.
func errText(err error) string {
	switch {
	case errors.Is(err, errOutsideWorkspace), errors.Is(err, fs.ErrPermission):
		return "Permission denied"
	case errors.Is(err, fs.ErrNotExist):
		return "No such file or directory"
	case errors.Is(err, fs.ErrExist):
		return "File exists"
	case errors.Is(err, syscall.ENOTDIR):
		return "Not a directory"
	case errors.Is(err, syscall.EISDIR):
		return "Is a directory"
	case errors.Is(err, syscall.ENOTEMPTY):
		return "Directory not empty"
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	return err.Error()
}
