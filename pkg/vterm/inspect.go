package vterm

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// input is one named source for the text-processing verbs. An empty name
// means stdin.
type input struct {
	name    string
	content string
}

// readInputs loads operands, or stdin when there are none. Unreadable
// operands are reported with the verb's prefix.
func (t *Terminal) readInputs(verb string, operands []string, stdin *string) ([]input, result) {
	var res result
	if len(operands) == 0 {
		if stdin == nil {
			return []input{{}}, res
		}
		return []input{{content: *stdin}}, res
	}
	var inputs []input
	for _, op := range operands {
		if op == "-" && stdin != nil {
			inputs = append(inputs, input{name: op, content: *stdin})
			continue
		}
		content, err := t.readFile(op)
		if err != nil {
			res.stderr += fmt.Sprintf("%s: %s: %s\n", verb, op, errText(err))
			res.code = 1
			continue
		}
		inputs = append(inputs, input{name: op, content: content})
	}
	return inputs, res
}

func (t *Terminal) cat(_ context.Context, args []string, stdin *string) result {
	f, operands, bad := parseFlags("cat", args, "n", map[string]byte{"number": 'n'})
	if bad != nil {
		return *bad
	}
	inputs, res := t.readInputs("cat", operands, stdin)
	var b strings.Builder
	n := 0
	for _, in := range inputs {
		if !f['n'] {
			b.WriteString(in.content)
			continue
		}
		for _, line := range splitLines(in.content) {
			n++
			fmt.Fprintf(&b, "%6d\t%s", n, line)
		}
	}
	res.stdout = b.String()
	return res
}

// lineCount parses head/tail counts: "-n N", "-nN", "--lines=N", "-N". For
// tail a leading "+" means "starting at line N".
func lineCount(verb string, args []string) (n int, fromStart bool, operands []string, bad *result) {
	n = 10
	parse := func(s string) bool {
		if strings.HasPrefix(s, "+") && verb == "tail" {
			fromStart = true
			s = s[1:]
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			r := failf(1, "%s: invalid number of lines: '%s'\n", verb, s)
			bad = &r
			return false
		}
		n = v
		return true
	}

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-n":
			if i+1 >= len(args) {
				r := failf(1, "%s: option requires an argument -- 'n'\n", verb)
				return 0, false, nil, &r
			}
			i++
			if !parse(args[i]) {
				return 0, false, nil, bad
			}
		case strings.HasPrefix(a, "--lines="):
			if !parse(strings.TrimPrefix(a, "--lines=")) {
				return 0, false, nil, bad
			}
		case strings.HasPrefix(a, "-n"):
			if !parse(a[2:]) {
				return 0, false, nil, bad
			}
		case len(a) > 1 && a[0] == '-' && a[1] >= '0' && a[1] <= '9':
			if !parse(a[1:]) {
				return 0, false, nil, bad
			}
		case len(a) > 1 && a[0] == '-':
			r := failf(1, "%s: invalid option -- '%c'\n", verb, a[1])
			return 0, false, nil, &r
		default:
			operands = append(operands, a)
		}
	}
	return n, fromStart, operands, nil
}

func (t *Terminal) head(_ context.Context, args []string, stdin *string) result {
	return t.headTail("head", args, stdin)
}

func (t *Terminal) tail(_ context.Context, args []string, stdin *string) result {
	return t.headTail("tail", args, stdin)
}

func (t *Terminal) headTail(verb string, args []string, stdin *string) result {
	n, fromStart, operands, bad := lineCount(verb, args)
	if bad != nil {
		return *bad
	}
	inputs, res := t.readInputs(verb, operands, stdin)

	var sections []string
	for _, in := range inputs {
		lines := splitLines(in.content)
		switch {
		case verb == "head":
			lines = lines[:min(n, len(lines))]
		case fromStart:
			lines = lines[min(max(n-1, 0), len(lines)):]
		default:
			lines = lines[len(lines)-min(n, len(lines)):]
		}
		body := strings.Join(lines, "")
		if len(operands) > 1 {
			body = "==> " + in.name + " <==\n" + body
		}
		sections = append(sections, body)
	}
	res.stdout = strings.Join(sections, "\n")
	return res
}

func (t *Terminal) wc(_ context.Context, args []string, stdin *string) result {
	f, operands, bad := parseFlags("wc", args, "lwcm", map[string]byte{
		"lines": 'l', "words": 'w', "bytes": 'c', "chars": 'm',
	})
	if bad != nil {
		return *bad
	}
	if !f.has("lwcm") {
		f['l'], f['w'], f['c'] = true, true, true
	}
	inputs, res := t.readInputs("wc", operands, stdin)

	type row struct {
		counts []int
		name   string
	}
	count := func(s string) []int {
		var c []int
		if f['l'] {
			c = append(c, strings.Count(s, "\n"))
		}
		if f['w'] {
			c = append(c, len(strings.Fields(s)))
		}
		if f['m'] {
			c = append(c, utf8.RuneCountInString(s))
		}
		if f['c'] {
			c = append(c, len(s))
		}
		return c
	}

	var rows []row
	var all strings.Builder
	for _, in := range inputs {
		rows = append(rows, row{counts: count(in.content), name: in.name})
		all.WriteString(in.content)
	}
	if len(inputs) > 1 {
		rows = append(rows, row{counts: count(all.String()), name: "total"})
	}

	width := 1
	for _, r := range rows {
		for _, c := range r.counts {
			width = max(width, len(strconv.Itoa(c)))
		}
	}
	var b strings.Builder
	for _, r := range rows {
		cols := make([]string, len(r.counts))
		for i, c := range r.counts {
			cols[i] = fmt.Sprintf("%*d", width, c)
		}
		line := strings.Join(cols, " ")
		if r.name != "" {
			line += " " + r.name
		}
		b.WriteString(line + "\n")
	}
	res.stdout = b.String()
	return res
}

func (t *Terminal) grep(_ context.Context, args []string, stdin *string) result {
	f, operands, bad := parseFlags("grep", args, "nivrRlcEFHhsqw", map[string]byte{
		"line-number": 'n', "ignore-case": 'i', "invert-match": 'v', "recursive": 'r',
		"files-with-matches": 'l', "count": 'c', "extended-regexp": 'E', "fixed-strings": 'F',
		"with-filename": 'H', "no-filename": 'h', "quiet": 'q', "silent": 'q', "no-messages": 's',
		"word-regexp": 'w',
	})
	if bad != nil {
		return *bad
	}
	if len(operands) == 0 {
		return failf(2, "Usage: grep [OPTION]... PATTERNS [FILE]...\n")
	}
	re := compilePattern(operands[0], f)
	targets := operands[1:]
	recursive := f.has("rR")
	if len(targets) == 0 && recursive {
		targets = []string{"."}
	}

	var inputs []input
	var res result
	if len(targets) == 0 {
		content := ""
		if stdin != nil {
			content = *stdin
		}
		inputs = append(inputs, input{content: content})
	}
	for _, op := range targets {
		_, real, err := t.lookup(op)
		var info fs.FileInfo
		if err == nil {
			info, err = os.Stat(real)
		}
		if err != nil {
			if !f['s'] {
				res.stderr += fmt.Sprintf("grep: %s: %s\n", op, errText(err))
			}
			res.code = 2
			continue
		}
		if !info.IsDir() {
			data, err := os.ReadFile(real)
			if err != nil {
				res.stderr += fmt.Sprintf("grep: %s: %s\n", op, errText(err))
				res.code = 2
				continue
			}
			inputs = append(inputs, input{name: op, content: string(data)})
			continue
		}
		if !recursive {
			if !f['s'] {
				res.stderr += fmt.Sprintf("grep: %s: Is a directory\n", op)
			}
			res.code = 2
			continue
		}
		_ = filepath.WalkDir(real, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return nil
			}
			rel, _ := filepath.Rel(real, p)
			inputs = append(inputs, input{name: displayJoin(op, rel), content: string(data)})
			return nil
		})
	}

	prefix := ((len(targets) > 1 || recursive) && !f['h']) || f['H']
	matched := false
	var b strings.Builder
	for _, in := range inputs {
		name := in.name
		if name == "" {
			name = "(standard input)"
		}
		hits := 0
		for i, line := range splitLines(in.content) {
			text := strings.TrimSuffix(line, "\n")
			if re.MatchString(text) == f['v'] {
				continue
			}
			hits++
			if f.has("lcq") {
				continue
			}
			if prefix {
				b.WriteString(name + ":")
			}
			if f['n'] {
				b.WriteString(strconv.Itoa(i+1) + ":")
			}
			b.WriteString(text + "\n")
		}
		if hits > 0 {
			matched = true
		}
		switch {
		case f['q']:
		case f['l']:
			if hits > 0 {
				b.WriteString(name + "\n")
			}
		case f['c']:
			if prefix {
				b.WriteString(name + ":")
			}
			b.WriteString(strconv.Itoa(hits) + "\n")
		}
	}

	if !f['q'] {
		res.stdout = b.String()
	}
	switch {
	case res.code == 2 && !(f['q'] && matched):
	case matched:
		res.code = 0
	default:
		res.code = 1
	}
	return res
}

// compilePattern builds the matcher. A pattern that is not a valid regular
// expression is matched literally.
func compilePattern(pattern string, f flags) *regexp.Regexp {
	expr := pattern
	if f['F'] {
		expr = regexp.QuoteMeta(pattern)
	} else if !f['E'] {
		expr = basicToExtended(pattern)
	}
	if f['w'] {
		expr = `\b(?:` + expr + `)\b`
	}
	if f['i'] {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		lit := regexp.QuoteMeta(pattern)
		if f['i'] {
			lit = "(?i)" + lit
		}
		re = regexp.MustCompile(lit)
	}
	return re
}

// basicToExtended rewrites POSIX basic regular expression syntax, where
// \( \) \{ \} \+ \? \| are operators and the bare characters are literals.
func basicToExtended(expr string) string {
	var b strings.Builder
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if c == '\\' && i+1 < len(expr) {
			next := expr[i+1]
			if strings.IndexByte("(){}+?|", next) >= 0 {
				b.WriteByte(next)
			} else {
				b.WriteByte('\\')
				b.WriteByte(next)
			}
			i++
			continue
		}
		if strings.IndexByte("(){}+?|", c) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// displayJoin joins a relative host path onto an operand as typed.
func displayJoin(operand, rel string) string {
	if rel == "." {
		return operand
	}
	rel = filepath.ToSlash(rel)
	if strings.HasSuffix(operand, "/") {
		return operand + rel
	}
	return operand + "/" + rel
}

func (t *Terminal) find(_ context.Context, args []string, _ *string) result {
	var starts []string
	i := 0
	for ; i < len(args) && !strings.HasPrefix(args[i], "-"); i++ {
		starts = append(starts, args[i])
	}
	if len(starts) == 0 {
		starts = []string{"."}
	}

	var (
		namePat  string
		nameFold bool
		kind     string
		maxDepth = -1
		minDepth = 0
	)
	for ; i < len(args); i++ {
		pred := args[i]
		if i+1 >= len(args) {
			return failf(1, "find: missing argument to `%s'\n", pred)
		}
		val := args[i+1]
		i++
		switch pred {
		case "-name", "-iname":
			if _, err := filepath.Match(val, ""); err != nil {
				return failf(1, "find: invalid pattern '%s'\n", val)
			}
			namePat, nameFold = val, pred == "-iname"
		case "-type":
			if val != "f" && val != "d" {
				return failf(1, "find: Unknown argument to -type: %s\n", val)
			}
			kind = val
		case "-maxdepth", "-mindepth":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return failf(1, "find: Expected a positive decimal integer argument to %s, but got `%s'\n", pred, val)
			}
			if pred == "-maxdepth" {
				maxDepth = n
			} else {
				minDepth = n
			}
		default:
			return failf(1, "find: unknown predicate `%s'\n", pred)
		}
	}

	var res result
	var b strings.Builder
	for _, start := range starts {
		_, real, err := t.lookup(start)
		if err == nil {
			_, err = os.Stat(real)
		}
		if err != nil {
			res.stderr += fmt.Sprintf("find: '%s': %s\n", start, errText(err))
			res.code = 1
			continue
		}
		_ = filepath.WalkDir(real, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			rel, _ := filepath.Rel(real, p)
			depth := 0
			if rel != "." {
				depth = strings.Count(filepath.ToSlash(rel), "/") + 1
			}
			if maxDepth >= 0 && depth > maxDepth {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if depth < minDepth {
				return nil
			}
			if (kind == "f" && d.IsDir()) || (kind == "d" && !d.IsDir()) {
				return nil
			}
			if namePat != "" {
				base, pat := d.Name(), namePat
				if rel == "." {
					base = filepath.Base(strings.TrimSuffix(start, "/"))
				}
				if nameFold {
					base, pat = strings.ToLower(base), strings.ToLower(pat)
				}
				if m, _ := filepath.Match(pat, base); !m {
					return nil
				}
			}
			b.WriteString(displayJoin(start, rel) + "\n")
			return nil
		})
	}
	res.stdout = b.String()
	return res
}
