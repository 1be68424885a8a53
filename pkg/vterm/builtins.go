package vterm

import (
	"context"
	"fmt"
	"strings"
)

type result struct {
	stdout string
	stderr string
	code   int
}

func ok(stdout string) result {
	return result{stdout: stdout}
}

func failf(code int, format string, args ...any) result {
	return result{stderr: fmt.Sprintf(format, args...), code: code}
}

// add appends another result's streams, keeping the worst exit code.
func (r *result) add(o result) {
	r.stdout += o.stdout
	r.stderr += o.stderr
	if o.code > r.code {
		r.code = o.code
	}
}

type builtin func(t *Terminal, ctx context.Context, args []string, stdin *string) result

var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"pwd": (*Terminal).pwd,
		"cd":  (*Terminal).cd,

		"ls":   (*Terminal).ls,
		"cat":  (*Terminal).cat,
		"head": (*Terminal).head,
		"tail": (*Terminal).tail,
		"wc":   (*Terminal).wc,
		"grep": (*Terminal).grep,
		"find": (*Terminal).find,

		"echo":  (*Terminal).echo,
		"touch": (*Terminal).touch,
		"mkdir": (*Terminal).mkdir,
		"rm":    (*Terminal).rm,
		"cp":    (*Terminal).cp,
		"mv":    (*Terminal).mv,
		"sed":   (*Terminal).sed,

		"env":     (*Terminal).envCmd,
		"export":  (*Terminal).export,
		"unset":   (*Terminal).unset,
		"history": (*Terminal).historyCmd,

		"ps":    (*Terminal).ps,
		"kill":  (*Terminal).kill,
		"which": (*Terminal).which,

		"clear": func(*Terminal, context.Context, []string, *string) result { return result{} },
		"true":  func(*Terminal, context.Context, []string, *string) result { return result{} },
		"false": func(*Terminal, context.Context, []string, *string) result { return result{code: 1} },
		"sleep": (*Terminal).sleep,
	}
}

// flags holds parsed short options; long options are mapped to letters.
type flags map[byte]bool

func (f flags) has(letters string) bool {
	for i := 0; i < len(letters); i++ {
		if f[letters[i]] {
			return true
		}
	}
	return false
}

// parseFlags splits args into option letters and operands. "--" ends option
// parsing and a lone "-" is an operand. Letters outside allowed are rejected
// with coreutils' message.
func parseFlags(verb string, args []string, allowed string, long map[string]byte) (flags, []string, *result) {
	f := flags{}
	var operands []string
	done := false
	for _, a := range args {
		switch {
		case done || a == "-" || !strings.HasPrefix(a, "-"):
			operands = append(operands, a)
		case a == "--":
			done = true
		case strings.HasPrefix(a, "--"):
			letter, ok := long[a[2:]]
			if !ok {
				r := failf(usageCode(verb), "%s: unrecognized option '%s'\n", verb, a)
				return nil, nil, &r
			}
			f[letter] = true
		default:
			for i := 1; i < len(a); i++ {
				if strings.IndexByte(allowed, a[i]) < 0 {
					r := failf(usageCode(verb), "%s: invalid option -- '%c'\n", verb, a[i])
					return nil, nil, &r
				}
				f[a[i]] = true
			}
		}
	}
	return f, operands, nil
}

func usageCode(verb string) int {
	switch verb {
	case "ls", "grep":
		return 2
	}
	return 1
}

// assignment splits NAME=value.
func assignment(word string) (name, value string, ok bool) {
	i := strings.IndexByte(word, '=')
	if i <= 0 || !validName(word[:i]) {
		return "", "", false
	}
	return word[:i], word[i+1:], true
}

// splitLines splits content into lines that keep their newline.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
