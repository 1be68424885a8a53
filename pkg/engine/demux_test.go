package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

func rawFrame(stream byte, payload string) []byte {
	hdr := make([]byte, frameHeaderLen)
	hdr[0] = stream
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(payload)))
	return append(hdr, payload...)
}

func TestDemuxSplitsStreams(t *testing.T) {
	var buf bytes.Buffer
	out := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	errw := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
	_, _ = out.Write([]byte("hello "))
	_, _ = errw.Write([]byte("oops\n"))
	_, _ = out.Write([]byte("world\n"))

	stdout, stderr, err := Demux(context.Background(), &buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", stdout)
	assert.Equal(t, "oops\n", stderr)
}

func TestDemuxEdgeCases(t *testing.T) {
	tests := []struct {
		name       string
		input      []byte
		wantStdout string
		wantStderr string
	}{
		{name: "empty stream"},
		{
			name:       "unknown stream ids skipped",
			input:      bytes.Join([][]byte{rawFrame(0, "stdin"), rawFrame(3, "sys"), rawFrame(1, "out")}, nil),
			wantStdout: "out",
		},
		{
			name:       "trailing short header dropped",
			input:      append(rawFrame(1, "out"), 1, 0, 0),
			wantStdout: "out",
		},
		{
			name:       "truncated payload keeps bytes present",
			input:      rawFrame(2, "complete")[:frameHeaderLen+4],
			wantStderr: "comp",
		},
		{
			name:       "zero length frame",
			input:      append(rawFrame(1, ""), rawFrame(1, "x")...),
			wantStdout: "x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, err := Demux(context.Background(), bytes.NewReader(tt.input), time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStdout, stdout)
			assert.Equal(t, tt.wantStderr, stderr)
		})
	}
}

func TestDemuxLargeFrame(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 1<<20)
	stdout, _, err := Demux(context.Background(), bytes.NewReader(rawFrame(1, string(payload))), time.Second)
	require.NoError(t, err)
	assert.Len(t, stdout, 1<<20)
}

// blockingStream never ends until closed.
type blockingStream struct {
	closed chan struct{}
}

func (b *blockingStream) Read(p []byte) (int, error) {
	<-b.closed
	return 0, io.ErrClosedPipe
}

func (b *blockingStream) Close() error {
	close(b.closed)
	return nil
}

func TestDemuxTimeoutClosesStream(t *testing.T) {
	stream := &blockingStream{closed: make(chan struct{})}

	stdout, stderr, err := Demux(context.Background(), stream, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, sandbox.IsTimeout(err))
	assert.Empty(t, stdout)
	assert.Empty(t, stderr)

	select {
	case <-stream.closed:
	default:
		t.Fatal("stream was not closed on timeout")
	}
}

func TestDemuxContextCancel(t *testing.T) {
	stream := &blockingStream{closed: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Demux(ctx, stream, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
