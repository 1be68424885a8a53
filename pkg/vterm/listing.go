package vterm

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

type lsEntry struct {
	name   string
	info   fs.FileInfo
	target string // symlink destination
}

func (t *Terminal) ls(_ context.Context, args []string, _ *string) result {
	f, operands, bad := parseFlags("ls", args, "alAh1dFrt", map[string]byte{
		"all": 'a', "almost-all": 'A', "human-readable": 'h', "directory": 'd', "reverse": 'r',
	})
	if bad != nil {
		return *bad
	}
	if len(operands) == 0 {
		operands = []string{"."}
	}

	var (
		res   result
		files []lsEntry
		dirs  []string
	)
	for _, op := range operands {
		_, real, err := t.lookup(op)
		if err == nil {
			var info fs.FileInfo
			if info, err = os.Stat(real); err == nil {
				if info.IsDir() && !f['d'] {
					dirs = append(dirs, op)
				} else {
					files = append(files, t.entry(op, real, info))
				}
				continue
			}
		}
		res.stderr += fmt.Sprintf("ls: cannot access '%s': %s\n", op, errText(err))
		res.code = 1
	}

	var sections []string
	if len(files) > 0 {
		sortEntries(files, f)
		sections = append(sections, formatEntries(files, f))
	}
	banner := len(operands) > 1
	for _, op := range dirs {
		_, real, _ := t.lookup(op)
		entries, err := t.readDirEntries(real, f)
		if err != nil {
			res.stderr += fmt.Sprintf("ls: cannot open directory '%s': %s\n", op, errText(err))
			res.code = 1
			continue
		}
		sortEntries(entries, f)
		body := formatEntries(entries, f)
		if banner {
			body = op + ":\n" + body
		}
		sections = append(sections, body)
	}
	res.stdout = strings.Join(sections, "\n")
	return res
}

func (t *Terminal) entry(name, real string, info fs.FileInfo) lsEntry {
	e := lsEntry{name: name, info: info}
	if li, err := os.Lstat(real); err == nil && li.Mode()&fs.ModeSymlink != 0 {
		e.info = li
		e.target, _ = os.Readlink(real)
	}
	return e
}

func (t *Terminal) readDirEntries(real string, f flags) ([]lsEntry, error) {
	dirents, err := os.ReadDir(real)
	if err != nil {
		return nil, err
	}

	var entries []lsEntry
	if f['a'] {
		for _, dot := range []string{".", ".."} {
			p := filepath.Join(real, dot)
			if !within(t.root, p) {
				p = real
			}
			if info, err := os.Stat(p); err == nil {
				entries = append(entries, lsEntry{name: dot, info: info})
			}
		}
	}
	for _, d := range dirents {
		name := d.Name()
		if strings.HasPrefix(name, ".") && !f.has("aA") {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		e := lsEntry{name: name, info: info}
		if info.Mode()&fs.ModeSymlink != 0 {
			e.target, _ = os.Readlink(filepath.Join(real, name))
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func sortEntries(entries []lsEntry, f flags) {
	sort.SliceStable(entries, func(i, j int) bool {
		if f['t'] {
			return entries[i].info.ModTime().After(entries[j].info.ModTime())
		}
		return entries[i].name < entries[j].name
	})
	if f['r'] {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
}

func formatEntries(entries []lsEntry, f flags) string {
	var b strings.Builder
	if !f['l'] {
		for _, e := range entries {
			b.WriteString(e.name + classify(e, f) + "\n")
		}
		return b.String()
	}

	sizes := make([]string, len(entries))
	width := 0
	for i, e := range entries {
		sizes[i] = formatSize(e.info.Size(), f['h'])
		width = max(width, len(sizes[i]))
	}
	for i, e := range entries {
		name := e.name + classify(e, f)
		if e.target != "" {
			name += " -> " + e.target
		}
		fmt.Fprintf(&b, "%s 1 user user %*s %s %s\n",
			permString(e.info.Mode()), width, sizes[i], e.info.ModTime().Format("Jan _2 15:04"), name)
	}
	return b.String()
}

func classify(e lsEntry, f flags) string {
	if !f['F'] {
		return ""
	}
	switch m := e.info.Mode(); {
	case m.IsDir():
		return "/"
	case m&fs.ModeSymlink != 0:
		return "@"
	case m&0o111 != 0:
		return "*"
	}
	return ""
}

func formatSize(size int64, human bool) string {
	if !human || size < 1024 {
		return strconv.FormatInt(size, 10)
	}
	return units.CustomSize("%.4g%s", float64(size), 1024.0, []string{"", "K", "M", "G", "T", "P"})
}

// permString renders a mode as ls does ("drwxr-xr-x").
func permString(m fs.FileMode) string {
	kind := "-"
	switch {
	case m.IsDir():
		kind = "d"
	case m&fs.ModeSymlink != 0:
		kind = "l"
	case m&fs.ModeNamedPipe != 0:
		kind = "p"
	case m&fs.ModeSocket != 0:
		kind = "s"
	}
	return kind + m.Perm().String()[1:]
}
