package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

const (
	frameHeaderLen = 8

	streamStdout = 1
	streamStderr = 2
)

// demuxFrames splits an engine attach stream into stdout and stderr. Each
// frame is an 8-byte header (stream id in byte 0, big-endian payload length
// in bytes 4-7) followed by the payload. Frames for other stream ids are
// skipped. A trailing partial header is dropped and a truncated payload
// contributes the bytes that arrived.
func demuxFrames(r io.Reader, stdout, stderr io.Writer) error {
	var hdr [frameHeaderLen]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}

		var dst io.Writer
		switch hdr[0] {
		case streamStdout:
			dst = stdout
		case streamStderr:
			dst = stderr
		default:
			dst = io.Discard
		}

		size := int64(binary.BigEndian.Uint32(hdr[4:]))
		if _, err := io.CopyN(dst, r, size); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

type demuxResult struct {
	stdout string
	stderr string
	err    error
}

// Demux reads r to completion and returns the separated streams. The result
// is only produced once the stream ends. When timeout elapses first, r is
// closed if it implements io.Closer and a *sandbox.TimeoutError is returned
// instead of partial output.
func Demux(ctx context.Context, r io.Reader, timeout time.Duration) (string, string, error) {
	done := make(chan demuxResult, 1)
	go func() {
		var stdout, stderr bytes.Buffer
		err := demuxFrames(r, &stdout, &stderr)
		done <- demuxResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-done:
		return res.stdout, res.stderr, res.err
	case <-expired:
		closeStream(r)
		return "", "", &sandbox.TimeoutError{Op: "exec stream", After: timeout}
	case <-ctx.Done():
		closeStream(r)
		return "", "", ctx.Err()
	}
}

func closeStream(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		_ = c.Close()
	}
}
