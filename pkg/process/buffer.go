package process

import (
	"regexp"
	"sync"
)

// DefaultMaxOutput caps the output retained per process.
const DefaultMaxOutput = 256 * 1024

// outputBuffer keeps the most recent maxBytes written to it.
type outputBuffer struct {
	mu       sync.Mutex
	buf      []byte
	maxBytes int
}

func newOutputBuffer(maxBytes int) *outputBuffer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxOutput
	}
	return &outputBuffer{maxBytes: maxBytes}
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.maxBytes; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// matchesAny reports whether the retained output matches any pattern.
func (b *outputBuffer) matchesAny(patterns []*regexp.Regexp) bool {
	if len(patterns) == 0 {
		return false
	}
	out := b.String()
	for _, re := range patterns {
		if re.MatchString(out) {
			return true
		}
	}
	return false
}

// markerPatterns compiles markers into case-insensitive patterns anchored on
// word boundaries, so "ready" does not match inside "already".
func markerPatterns(markers []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(markers))
	for _, m := range markers {
		if m == "" {
			continue
		}
		expr := regexp.QuoteMeta(m)
		if isWordByte(m[0]) {
			expr = `\b` + expr
		}
		if isWordByte(m[len(m)-1]) {
			expr += `\b`
		}
		patterns = append(patterns, regexp.MustCompile(`(?i)`+expr))
	}
	return patterns
}

func isWordByte(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
