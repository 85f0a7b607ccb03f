package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/internal/addressing"
)

func freeListenAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestSendAndReceiveFrame(t *testing.T) {
	addr := freeListenAddr(t)
	server := New(addr, time.Second, 0)

	received := make(chan []byte, 1)
	server.RegisterHandler(1, func(ctx context.Context, from addressing.PhysicalAddress, appID uint32, payload []byte) {
		received <- payload
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, server.Start(ctx))
	time.Sleep(20 * time.Millisecond)

	client := New("", time.Second, 0)
	err := client.Send(ctx, 1, addressing.PhysicalAddressFromString(addr), []byte("hello"))
	require.NoError(t, err)

	select {
	case payload := <-received:
		assert.Equal(t, "hello", string(payload))
	case <-time.After(time.Second):
		t.Fatal("did not receive frame")
	}
}

func TestFrameExceedingMaxSizeRejected(t *testing.T) {
	addr := freeListenAddr(t)
	server := New(addr, time.Second, 8)
	server.RegisterHandler(1, func(ctx context.Context, from addressing.PhysicalAddress, appID uint32, payload []byte) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, server.Start(ctx))
	time.Sleep(20 * time.Millisecond)

	client := New("", time.Second, 0)
	err := client.Send(ctx, 1, addressing.PhysicalAddressFromString(addr), []byte("way too big for an 8 byte frame"))
	assert.Error(t, err)
}

func TestBoundApplicationSend(t *testing.T) {
	addr := freeListenAddr(t)
	server := New(addr, time.Second, 0)
	received := make(chan []byte, 1)
	server.RegisterHandler(7, func(ctx context.Context, from addressing.PhysicalAddress, appID uint32, payload []byte) {
		received <- payload
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, server.Start(ctx))
	time.Sleep(20 * time.Millisecond)

	client := New("", time.Second, 0)
	bound := Bind(client, 7)
	require.NoError(t, bound.Send(ctx, addressing.PhysicalAddressFromString(addr), []byte("bound")))

	select {
	case payload := <-received:
		assert.Equal(t, "bound", string(payload))
	case <-time.After(time.Second):
		t.Fatal("did not receive frame")
	}
}
