package vterm

import (
	"strings"
)

// ParseError is a malformed command line. It surfaces as exit status 1.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string {
	return e.Msg
}

func unexpectedToken(tok string) *ParseError {
	return &ParseError{Msg: "syntax error near unexpected token `" + tok + "'"}
}

// Command is one simple command with at most one redirection or pipe.
type Command struct {
	Args []string
	// Op is "", ">", ">>", "<" or "|".
	Op     string
	Target string
	// Pipe is the consumer of a "|".
	Pipe []string
	// Stderr is the target of a "2>" redirect; "&1" merges into stdout.
	Stderr string
}

// step is a command plus the list operator that precedes it.
type step struct {
	src string
	sep string // "", "&&", "||" or ";"
}

type token struct {
	text string
	op   string
	pos  int
}

// lookupFunc expands a variable name. A nil lookupFunc leaves "$..." text
// untouched, which is used when only the structure of a line matters.
type lookupFunc func(name string) string

func lex(src string, lookup lookupFunc) ([]token, error) {
	var (
		toks   []token
		cur    strings.Builder
		inWord bool
		quoted bool
		start  int
	)
	begin := func(i int) {
		if !inWord {
			inWord = true
			start = i
		}
	}
	flush := func() {
		if inWord {
			toks = append(toks, token{text: cur.String(), pos: start})
		}
		cur.Reset()
		inWord = false
		quoted = false
	}
	emit := func(op string, pos int) {
		flush()
		toks = append(toks, token{op: op, pos: pos})
	}

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
			i++

		case c == '\'':
			begin(i)
			quoted = true
			end := strings.IndexByte(src[i+1:], '\'')
			if end < 0 {
				return nil, &ParseError{Msg: "unexpected EOF while looking for matching `''"}
			}
			cur.WriteString(src[i+1 : i+1+end])
			i += end + 2

		case c == '"':
			begin(i)
			quoted = true
			i++
			closed := false
			for i < len(src) {
				d := src[i]
				if d == '"' {
					closed = true
					i++
					break
				}
				if d == '\\' && i+1 < len(src) && strings.IndexByte("\"\\$`", src[i+1]) >= 0 {
					cur.WriteByte(src[i+1])
					i += 2
					continue
				}
				if d == '$' {
					if val, n := expandVar(src[i:], lookup); n > 0 {
						cur.WriteString(val)
						i += n
						continue
					}
				}
				cur.WriteByte(d)
				i++
			}
			if !closed {
				return nil, &ParseError{Msg: "unexpected EOF while looking for matching `\"'"}
			}

		case c == '$':
			val, n := expandVar(src[i:], lookup)
			if n == 0 {
				begin(i)
				cur.WriteByte(c)
				i++
				continue
			}
			// An unquoted expansion to nothing does not create a word.
			if val != "" {
				begin(i)
				cur.WriteString(val)
			}
			i += n

		case c == '&' && strings.HasPrefix(src[i:], "&&"):
			emit("&&", i)
			i += 2

		case c == '|':
			if strings.HasPrefix(src[i:], "||") {
				emit("||", i)
				i += 2
			} else {
				emit("|", i)
				i++
			}

		case c == ';':
			emit(";", i)
			i++

		case c == '<':
			emit("<", i)
			i++

		case c == '>':
			if inWord && !quoted && cur.String() == "2" {
				pos := start
				cur.Reset()
				inWord = false
				toks = append(toks, token{op: "2>", pos: pos})
				i++
				continue
			}
			if strings.HasPrefix(src[i:], ">>") {
				emit(">>", i)
				i += 2
			} else {
				emit(">", i)
				i++
			}

		default:
			begin(i)
			cur.WriteByte(c)
			i++
		}
	}
	flush()
	return toks, nil
}

// expandVar expands a "$NAME", "${NAME}" or "$?" prefix of s. It returns the
// number of bytes consumed, 0 when s does not start an expansion.
func expandVar(s string, lookup lookupFunc) (string, int) {
	if len(s) < 2 || s[0] != '$' {
		return "", 0
	}
	var name string
	n := 0
	switch {
	case s[1] == '{':
		end := strings.IndexByte(s, '}')
		if end < 0 || !validName(s[2:end]) {
			return "", 0
		}
		name, n = s[2:end], end+1
	case s[1] == '?':
		name, n = "?", 2
	case isNameStart(s[1]):
		j := 2
		for j < len(s) && isNameChar(s[j]) {
			j++
		}
		name, n = s[1:j], j
	default:
		return "", 0
	}
	if lookup == nil {
		return s[:n], n
	}
	return lookup(name), n
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

func validName(s string) bool {
	if s == "" || !isNameStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isNameChar(s[i]) {
			return false
		}
	}
	return true
}

// splitSteps splits a line on "&&", "||" and ";" and checks every command's
// syntax. Expansion is deferred until each step runs.
func splitSteps(line string) ([]step, error) {
	toks, err := lex(line, nil)
	if err != nil {
		return nil, err
	}

	var steps []step
	sep := ""
	segStart := 0
	for _, tok := range toks {
		switch tok.op {
		case "&&", "||", ";":
		default:
			continue
		}
		src := line[segStart:tok.pos]
		if strings.TrimSpace(src) == "" {
			return nil, unexpectedToken(tok.op)
		}
		steps = append(steps, step{src: src, sep: sep})
		sep = tok.op
		segStart = tok.pos + len(tok.op)
	}

	rest := line[segStart:]
	switch {
	case strings.TrimSpace(rest) != "":
		steps = append(steps, step{src: rest, sep: sep})
	case sep == "&&" || sep == "||":
		return nil, &ParseError{Msg: "syntax error: unexpected end of file"}
	}

	for _, s := range steps {
		if _, err := parseCommand(s.src, nil); err != nil {
			return nil, err
		}
	}
	return steps, nil
}

// parseCommand turns one simple command into a Command, expanding variables
// through lookup.
func parseCommand(src string, lookup lookupFunc) (*Command, error) {
	toks, err := lex(src, lookup)
	if err != nil {
		return nil, err
	}

	cmd := &Command{}
	stderrSet := false
	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if tok.op == "" {
			if cmd.Op == "|" {
				cmd.Pipe = append(cmd.Pipe, tok.text)
			} else {
				cmd.Args = append(cmd.Args, tok.text)
			}
			continue
		}

		switch tok.op {
		case ">", ">>", "<", "2>":
			if i+1 >= len(toks) {
				return nil, unexpectedToken("newline")
			}
			if next := toks[i+1]; next.op != "" {
				return nil, unexpectedToken(next.op)
			}
			target := toks[i+1].text
			i++
			if tok.op == "2>" {
				if stderrSet {
					return nil, &ParseError{Msg: "only one stderr redirection is supported"}
				}
				stderrSet = true
				cmd.Stderr = target
				continue
			}
			if cmd.Op != "" {
				return nil, &ParseError{Msg: "only one redirection or pipe per command is supported"}
			}
			cmd.Op, cmd.Target = tok.op, target

		case "|":
			if len(cmd.Args) == 0 {
				return nil, unexpectedToken("|")
			}
			if cmd.Op != "" {
				return nil, &ParseError{Msg: "only one redirection or pipe per command is supported"}
			}
			cmd.Op = "|"

		default:
			return nil, unexpectedToken(tok.op)
		}
	}

	if cmd.Op == "|" && len(cmd.Pipe) == 0 {
		return nil, unexpectedToken("newline")
	}
	// No words at all (for example "$UNSET") is a no-op, not an error.
	if len(cmd.Args) == 0 && cmd.Op != "" {
		return nil, &ParseError{Msg: "missing command before `" + cmd.Op + "'"}
	}
	return cmd, nil
}
