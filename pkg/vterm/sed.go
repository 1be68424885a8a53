package vterm

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// substitution is a parsed "s/search/replace/flags" command.
type substitution struct {
	re     *regexp.Regexp
	repl   string
	global bool
}

type sedError struct {
	char int
	msg  string
}

func parseSubstitution(expr string, extended bool) (*substitution, *sedError) {
	if expr == "" {
		return nil, nil
	}
	if expr[0] != 's' {
		return nil, &sedError{char: 1, msg: "unknown command: `" + expr[:1] + "'"}
	}
	unterminated := &sedError{char: len(expr), msg: "unterminated `s' command"}
	if len(expr) < 2 || expr[1] == '\\' || expr[1] == '\n' {
		return nil, unterminated
	}
	delim := expr[1]

	pattern, i, found := scanPart(expr, 2, delim)
	if !found {
		return nil, unterminated
	}
	repl, i, found := scanPart(expr, i, delim)
	if !found {
		return nil, unterminated
	}

	sub := &substitution{repl: repl}
	fold := false
	for k := i; k < len(expr); k++ {
		switch expr[k] {
		case 'g':
			sub.global = true
		case 'i', 'I':
			fold = true
		case ' ', '\t', ';':
		default:
			return nil, &sedError{char: k + 1, msg: "unknown option to `s'"}
		}
	}

	if pattern == "" {
		return nil, &sedError{char: len(expr), msg: "no previous regular expression"}
	}
	if !extended {
		pattern = basicToExtended(pattern)
	}
	if fold {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &sedError{char: len(expr), msg: "Invalid regular expression"}
	}
	if ref := maxBackref(repl); ref > re.NumSubexp() {
		return nil, &sedError{char: len(expr), msg: fmt.Sprintf("invalid reference \\%d on `s' command's RHS", ref)}
	}
	sub.re = re
	return sub, nil
}

// scanPart reads up to the next unescaped delim. An escaped delimiter becomes
// the bare character; other escapes are kept for the regexp or replacement.
func scanPart(expr string, from int, delim byte) (string, int, bool) {
	var b strings.Builder
	for i := from; i < len(expr); i++ {
		c := expr[i]
		if c == '\\' && i+1 < len(expr) {
			if expr[i+1] == delim {
				b.WriteByte(delim)
			} else {
				b.WriteByte(c)
				b.WriteByte(expr[i+1])
			}
			i++
			continue
		}
		if c == delim {
			return b.String(), i + 1, true
		}
		b.WriteByte(c)
	}
	return "", len(expr), false
}

func maxBackref(repl string) int {
	highest := 0
	for i := 0; i+1 < len(repl); i++ {
		if repl[i] != '\\' {
			continue
		}
		if d := repl[i+1]; d >= '1' && d <= '9' {
			highest = max(highest, int(d-'0'))
		}
		i++
	}
	return highest
}

// apply replaces the first match in line, or every match when global.
func (s *substitution) apply(line string) string {
	n := 1
	if s.global {
		n = -1
	}
	matches := s.re.FindAllStringSubmatchIndex(line, n)
	if len(matches) == 0 {
		return line
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(line[last:m[0]])
		s.expand(&b, line, m)
		last = m[1]
	}
	b.WriteString(line[last:])
	return b.String()
}

func (s *substitution) expand(b *strings.Builder, line string, m []int) {
	for i := 0; i < len(s.repl); i++ {
		c := s.repl[i]
		switch {
		case c == '&':
			b.WriteString(line[m[0]:m[1]])
		case c == '\\' && i+1 < len(s.repl):
			i++
			d := s.repl[i]
			switch {
			case d >= '0' && d <= '9':
				g := int(d - '0')
				if 2*g+1 < len(m) && m[2*g] >= 0 {
					b.WriteString(line[m[2*g]:m[2*g+1]])
				}
			case d == 'n':
				b.WriteByte('\n')
			case d == 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(d)
			}
		default:
			b.WriteByte(c)
		}
	}
}

func applyAll(subs []*substitution, content string) string {
	var b strings.Builder
	for _, line := range splitLines(content) {
		text, nl := strings.CutSuffix(line, "\n")
		for _, s := range subs {
			text = s.apply(text)
		}
		b.WriteString(text)
		if nl {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (t *Terminal) sed(_ context.Context, args []string, stdin *string) result {
	var (
		exprs    []string
		files    []string
		inPlace  bool
		backup   string
		extended bool
	)
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-e" || a == "--expression":
			if i+1 >= len(args) {
				return failf(1, "sed: option requires an argument -- 'e'\n")
			}
			i++
			exprs = append(exprs, args[i])
		case a == "--in-place":
			inPlace = true
		case a == "--regexp-extended":
			extended = true
		case strings.HasPrefix(a, "-i"):
			inPlace, backup = true, a[2:]
		case len(a) > 1 && a[0] == '-':
			for _, c := range a[1:] {
				switch c {
				case 'E', 'r':
					extended = true
				case 'i':
					inPlace = true
				default:
					return failf(1, "sed: invalid option -- '%c'\n", c)
				}
			}
		default:
			files = append(files, a)
		}
	}
	if len(exprs) == 0 {
		if len(files) == 0 {
			return failf(1, "Usage: sed [OPTION]... {script-only-if-no-other-script} [input-file]...\n")
		}
		exprs, files = files[:1], files[1:]
	}

	var subs []*substitution
	for n, expr := range exprs {
		sub, serr := parseSubstitution(expr, extended)
		if serr != nil {
			return failf(1, "sed: -e expression #%d, char %d: %s\n", n+1, serr.char, serr.msg)
		}
		if sub != nil {
			subs = append(subs, sub)
		}
	}

	if inPlace {
		if len(files) == 0 {
			return failf(1, "sed: no input files\n")
		}
		var res result
		for _, name := range files {
			_, real, err := t.lookup(name)
			var data []byte
			if err == nil {
				data, err = os.ReadFile(real)
			}
			if err != nil {
				res.add(failf(2, "sed: can't read %s: %s\n", name, errText(err)))
				continue
			}
			updated := applyAll(subs, string(data))
			if updated == string(data) {
				continue
			}
			info, err := os.Stat(real)
			if err != nil {
				res.add(failf(4, "sed: couldn't edit %s: %s\n", name, errText(err)))
				continue
			}
			if backup != "" {
				if err := os.WriteFile(real+backup, data, info.Mode().Perm()); err != nil {
					res.add(failf(4, "sed: couldn't write %s%s: %s\n", name, backup, errText(err)))
					continue
				}
			}
			if err := os.WriteFile(real, []byte(updated), info.Mode().Perm()); err != nil {
				res.add(failf(4, "sed: couldn't edit %s: %s\n", name, errText(err)))
			}
		}
		return res
	}

	inputs, res := t.readInputs("sed", files, stdin)
	if res.code != 0 {
		res.code = 2
		res.stderr = strings.ReplaceAll(res.stderr, "sed: ", "sed: can't read ")
	}
	var b strings.Builder
	for _, in := range inputs {
		b.WriteString(applyAll(subs, in.content))
	}
	res.stdout = b.String()
	return res
}
