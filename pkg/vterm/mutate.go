package vterm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

func (t *Terminal) echo(_ context.Context, args []string, _ *string) result {
	newline, escapes := true, false
	for len(args) > 0 && len(args[0]) > 1 && args[0][0] == '-' && strings.Trim(args[0][1:], "neE") == "" {
		for _, c := range args[0][1:] {
			switch c {
			case 'n':
				newline = false
			case 'e':
				escapes = true
			case 'E':
				escapes = false
			}
		}
		args = args[1:]
	}
	out := strings.Join(args, " ")
	if escapes {
		out = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\\`, `\`).Replace(out)
	}
	if newline {
		out += "\n"
	}
	return ok(out)
}

func (t *Terminal) touch(_ context.Context, args []string, _ *string) result {
	f, operands, bad := parseFlags("touch", args, "c", map[string]byte{"no-create": 'c'})
	if bad != nil {
		return *bad
	}
	if len(operands) == 0 {
		return failf(1, "touch: missing file operand\n")
	}
	var res result
	now := time.Now()
	for _, op := range operands {
		_, real, err := t.lookup(op)
		if err == nil {
			if _, err = os.Stat(real); err == nil {
				err = os.Chtimes(real, now, now)
			} else if errors.Is(err, fs.ErrNotExist) {
				if f['c'] {
					continue
				}
				var file *os.File
				if file, err = os.OpenFile(real, os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
					err = file.Close()
				}
			}
		}
		if err != nil {
			res.add(failf(1, "touch: cannot touch '%s': %s\n", op, errText(err)))
		}
	}
	return res
}

func (t *Terminal) mkdir(_ context.Context, args []string, _ *string) result {
	f, operands, bad := parseFlags("mkdir", args, "pv", map[string]byte{"parents": 'p', "verbose": 'v'})
	if bad != nil {
		return *bad
	}
	if len(operands) == 0 {
		return failf(1, "mkdir: missing operand\n")
	}
	var res result
	for _, op := range operands {
		_, real, err := t.lookup(op)
		if err == nil {
			if f['p'] {
				if info, statErr := os.Stat(real); statErr == nil && !info.IsDir() {
					err = fs.ErrExist
				} else {
					err = os.MkdirAll(real, 0o755)
				}
			} else {
				err = os.Mkdir(real, 0o755)
			}
		}
		if err != nil {
			res.add(failf(1, "mkdir: cannot create directory '%s': %s\n", op, errText(err)))
			continue
		}
		if f['v'] {
			res.stdout += fmt.Sprintf("mkdir: created directory '%s'\n", op)
		}
	}
	return res
}

func (t *Terminal) rm(_ context.Context, args []string, _ *string) result {
	f, operands, bad := parseFlags("rm", args, "rRfdv", map[string]byte{
		"recursive": 'r', "force": 'f', "dir": 'd', "verbose": 'v',
	})
	if bad != nil {
		return *bad
	}
	if len(operands) == 0 {
		if f['f'] {
			return result{}
		}
		return failf(1, "rm: missing operand\n")
	}
	recursive := f.has("rR")

	var res result
	for _, op := range operands {
		if base := path.Base(op); base == "." || base == ".." {
			res.add(failf(1, "rm: refusing to remove '.' or '..' directory: skipping '%s'\n", op))
			continue
		}
		virtual, real, err := t.lookup(op)
		if err != nil {
			res.add(failf(1, "rm: cannot remove '%s': %s\n", op, errText(err)))
			continue
		}
		if virtual == "/" {
			res.add(failf(1, "rm: it is dangerous to operate recursively on '%s'\n", op))
			continue
		}
		info, err := os.Lstat(real)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && f['f'] {
				continue
			}
			res.add(failf(1, "rm: cannot remove '%s': %s\n", op, errText(err)))
			continue
		}
		switch {
		case info.IsDir() && recursive:
			err = os.RemoveAll(real)
		case info.IsDir() && f['d']:
			err = os.Remove(real)
		case info.IsDir():
			res.add(failf(1, "rm: cannot remove '%s': Is a directory\n", op))
			continue
		default:
			err = os.Remove(real)
		}
		if err != nil {
			res.add(failf(1, "rm: cannot remove '%s': %s\n", op, errText(err)))
			continue
		}
		if f['v'] {
			res.stdout += fmt.Sprintf("removed '%s'\n", op)
		}
	}
	return res
}

func (t *Terminal) cp(_ context.Context, args []string, _ *string) result {
	f, operands, bad := parseFlags("cp", args, "rRafpv", map[string]byte{
		"recursive": 'r', "archive": 'a', "force": 'f', "verbose": 'v',
	})
	if bad != nil {
		return *bad
	}
	return t.transfer("cp", operands, f, func(src, dst string, info fs.FileInfo) error {
		if info.IsDir() {
			if !f.has("rRa") {
				return errOmitDir
			}
			return copyTree(src, dst)
		}
		return copyFile(src, dst, info.Mode())
	})
}

func (t *Terminal) mv(_ context.Context, args []string, _ *string) result {
	f, operands, bad := parseFlags("mv", args, "fnv", map[string]byte{
		"force": 'f', "no-clobber": 'n', "verbose": 'v',
	})
	if bad != nil {
		return *bad
	}
	return t.transfer("mv", operands, f, func(src, dst string, _ fs.FileInfo) error {
		if f['n'] {
			if _, err := os.Lstat(dst); err == nil {
				return nil
			}
		}
		return os.Rename(src, dst)
	})
}

var errOmitDir = errors.New("omitting directory")

// transfer implements the shared operand handling of cp and mv: the last
// operand is the destination, and an existing directory destination receives
// the sources by base name.
func (t *Terminal) transfer(verb string, operands []string, f flags, op func(src, dst string, info fs.FileInfo) error) result {
	switch len(operands) {
	case 0:
		return failf(1, "%s: missing file operand\n", verb)
	case 1:
		return failf(1, "%s: missing destination file operand after '%s'\n", verb, operands[0])
	}
	sources, dest := operands[:len(operands)-1], operands[len(operands)-1]

	destVirtual, destReal, err := t.lookup(dest)
	if err != nil {
		return failf(1, "%s: cannot create '%s': %s\n", verb, dest, errText(err))
	}
	destInfo, destErr := os.Stat(destReal)
	destIsDir := destErr == nil && destInfo.IsDir()
	if len(sources) > 1 && !destIsDir {
		return failf(1, "%s: target '%s' is not a directory\n", verb, dest)
	}

	var res result
	for _, src := range sources {
		srcVirtual, srcReal, err := t.lookup(src)
		if err != nil {
			res.add(failf(1, "%s: cannot stat '%s': %s\n", verb, src, errText(err)))
			continue
		}
		info, err := os.Lstat(srcReal)
		if err != nil {
			res.add(failf(1, "%s: cannot stat '%s': %s\n", verb, src, errText(err)))
			continue
		}
		if srcVirtual == "/" {
			res.add(failf(1, "%s: cannot move or copy the workspace root\n", verb))
			continue
		}

		targetVirtual, targetReal := destVirtual, destReal
		if destIsDir {
			targetVirtual = joinVirtual(destVirtual, path.Base(srcVirtual))
			if targetReal, err = t.realize(targetVirtual); err != nil {
				res.add(failf(1, "%s: cannot create '%s': %s\n", verb, dest, errText(err)))
				continue
			}
		}
		if targetVirtual == srcVirtual {
			res.add(failf(1, "%s: '%s' and '%s' are the same file\n", verb, src, dest))
			continue
		}
		if info.IsDir() && strings.HasPrefix(targetVirtual+"/", srcVirtual+"/") {
			if verb == "mv" {
				res.add(failf(1, "mv: cannot move '%s' to a subdirectory of itself, '%s'\n", src, dest))
			} else {
				res.add(failf(1, "cp: cannot copy a directory, '%s', into itself, '%s'\n", src, dest))
			}
			continue
		}

		if err := op(srcReal, targetReal, info); err != nil {
			if errors.Is(err, errOmitDir) {
				res.add(failf(1, "cp: -r not specified; omitting directory '%s'\n", src))
			} else {
				res.add(failf(1, "%s: cannot %s '%s' to '%s': %s\n", verb, verbAction(verb), src, dest, errText(err)))
			}
			continue
		}
		if f['v'] {
			shown := dest
			if destIsDir {
				shown = displayJoin(dest, path.Base(srcVirtual))
			}
			res.stdout += fmt.Sprintf("'%s' -> '%s'\n", src, shown)
		}
	}
	return res
}

func verbAction(verb string) string {
	if verb == "mv" {
		return "move"
	}
	return "copy"
}

func copyFile(src, dst string, mode fs.FileMode) error {
	if mode&fs.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		_ = os.Remove(dst)
		return os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(p, target, info.Mode())
	})
}
