package engine

import (
	"context"
	"encoding/base64"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

var (
	writeCmd = regexp.MustCompile(`^(?:mkdir -p '[^']*' && )?echo '([A-Za-z0-9+/=]*)' \| base64 -d (>>?) '([^']*)'$`)
	touchCmd = regexp.MustCompile(`^mkdir -p '[^']*' && : > '([^']*)'$`)
	readCmd  = regexp.MustCompile(`^stat -c %Y '([^']*)' && base64 '([^']*)'$`)
)

// shellFS answers the transfer commands against an in-memory file table, the
// way bash and coreutils would inside the container.
type shellFS struct {
	files map[string][]byte
}

func (s *shellFS) exec(cmd []string) execReply {
	line := cmd[len(cmd)-1]
	switch {
	case writeCmd.MatchString(line):
		m := writeCmd.FindStringSubmatch(line)
		data, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			return execReply{stderr: "base64: invalid input\n", code: 1}
		}
		if m[2] == ">>" {
			s.files[m[3]] = append(s.files[m[3]], data...)
		} else {
			s.files[m[3]] = data
		}
	case touchCmd.MatchString(line):
		s.files[touchCmd.FindStringSubmatch(line)[1]] = nil
	case strings.HasPrefix(line, "chmod "):
	case readCmd.MatchString(line):
		data, ok := s.files[readCmd.FindStringSubmatch(line)[1]]
		if !ok {
			return execReply{stderr: "stat: cannot statx: No such file or directory\n", code: 1}
		}
		return execReply{stdout: "1700000000\n" + wrap76(base64.StdEncoding.EncodeToString(data))}
	default:
		return execReply{stderr: "unexpected command: " + line + "\n", code: 2}
	}
	return execReply{}
}

// wrap76 mimics the line wrapping of coreutils base64.
func wrap76(s string) string {
	var b strings.Builder
	for len(s) > 76 {
		b.WriteString(s[:76] + "\n")
		s = s[76:]
	}
	if s != "" {
		b.WriteString(s + "\n")
	}
	return b.String()
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	large := strings.Repeat("línea ✓ 日本語 \t\"quotes\" 'single' $HOME `tick`\n", 3000)
	require.Greater(t, len(base64.StdEncoding.EncodeToString([]byte(large))), 2*uploadChunk)

	files := []sandbox.FileUpload{
		{Path: "/app/small.txt", Content: "hello\n"},
		{Path: "/app/unicode.md", Content: "héllo wörld 🚀\r\nno trailing newline"},
		{Path: "/app/empty.txt", Content: ""},
		{Path: "/app/dir with space/notes.txt", Content: "spaced path"},
		{Path: "/app/large.txt", Content: large, Mode: 0o644},
	}

	fs := &shellFS{files: map[string][]byte{}}
	eng := newFakeEngine()
	eng.onExec = fs.exec
	m := newTestManager(eng)
	id := startContainer(t, eng, m)

	ctx := context.Background()
	require.NoError(t, m.UploadFiles(ctx, id, files))

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	got, err := m.DownloadFiles(ctx, id, paths)
	require.NoError(t, err)
	require.Len(t, got, len(files))
	for i, f := range files {
		assert.Equal(t, f.Path, got[i].Path)
		assert.Equal(t, f.Content, got[i].Content, f.Path)
		assert.Equal(t, int64(len(f.Content)), got[i].Size, f.Path)
	}
}

func TestParseDownloadAcceptsWrappedOutput(t *testing.T) {
	content := strings.Repeat("0123456789abcdef", 20)
	f, err := parseDownload("/app/f", "1700000000\n"+wrap76(base64.StdEncoding.EncodeToString([]byte(content))))
	require.NoError(t, err)
	assert.Equal(t, content, f.Content)
	assert.Equal(t, int64(1700000000), f.Modified.Unix())
}
