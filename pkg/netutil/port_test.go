package netutil

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortOpen(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	assert.True(t, PortOpen(context.Background(), "127.0.0.1", port, time.Second))
}

func TestPortOpen_Closed(t *testing.T) {
	port, err := FindFreePort()
	require.NoError(t, err)

	assert.False(t, PortOpen(context.Background(), "127.0.0.1", port, 100*time.Millisecond))
}

func TestPortOpen_ContextCanceled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, PortOpen(ctx, "127.0.0.1", port, time.Second))
}
