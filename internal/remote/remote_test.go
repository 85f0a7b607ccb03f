package remote

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/internal/addressing"
	"nexus/internal/coordination"
	"nexus/internal/dispatch"
	"nexus/internal/router"
	"nexus/internal/transport"
)

type pingMessage struct {
	Text string `json:"text"`
}

type recordingLocal struct {
	called bool
}

func (l *recordingLocal) Dispatch(ctx context.Context, data dispatch.Data, publish bool) dispatch.Result {
	l.called = true
	return dispatch.NewSuccess("pong")
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// TestDispatchBypassesLocallyResolvedTarget covers spec.md §4.8's local
// bypass: when the resolved physical address is this process's own, the
// remote dispatcher must never touch the transport.
func TestDispatchBypassesLocallyResolvedTarget(t *testing.T) {
	manager := coordination.NewManager(coordination.NewMemoryStorage(), 10*time.Millisecond)
	addr := freeAddr(t)
	self := addressing.PhysicalAddressFromString(addr)

	session, err := addressing.NewSession(self)
	require.NoError(t, err)
	require.NoError(t, manager.Begin(context.Background(), session, time.Now().Add(time.Minute)))

	endPoint := addressing.EndPointAddressFromString("billing")
	tp := transport.New(addr, time.Second, 0)
	r := router.NewRouter(manager, transport.Bind(tp, DispatchAppID))
	require.NoError(t, r.Register(context.Background(), endPoint, self, session))

	registry := dispatch.NewRegistry()
	local := &recordingLocal{}
	d := New(local, r, tp, registry, self, time.Second)

	data, err := dispatch.NewData(pingMessage{Text: "hi"}, nil)
	require.NoError(t, err)

	result := d.Dispatch(context.Background(), data, endPoint, false)
	assert.True(t, local.called)
	assert.True(t, result.IsSuccess())
}

// TestDispatchRoundTripsToRemotePeer covers spec.md §4.8's remote path:
// serialize, hand off to transport, await and deserialize the result.
func TestDispatchRoundTripsToRemotePeer(t *testing.T) {
	serverAddr := freeAddr(t)
	clientAddr := freeAddr(t)
	serverPhysical := addressing.PhysicalAddressFromString(serverAddr)
	clientPhysical := addressing.PhysicalAddressFromString(clientAddr)

	serverManager := coordination.NewManager(coordination.NewMemoryStorage(), 10*time.Millisecond)
	serverSession, err := addressing.NewSession(serverPhysical)
	require.NoError(t, err)
	require.NoError(t, serverManager.Begin(context.Background(), serverSession, time.Now().Add(time.Minute)))

	endPoint := addressing.EndPointAddressFromString("billing")
	serverTransport := transport.New(serverAddr, time.Second, 0)
	serverRouter := router.NewRouter(serverManager, transport.Bind(serverTransport, DispatchAppID))
	require.NoError(t, serverRouter.Register(context.Background(), endPoint, serverPhysical, serverSession))

	serverRegistry := dispatch.NewRegistry()
	serverLocal := &recordingLocal{}
	_ = New(serverLocal, serverRouter, serverTransport, serverRegistry, serverPhysical, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, serverTransport.Start(ctx))
	time.Sleep(20 * time.Millisecond)

	clientManager := coordination.NewManager(coordination.NewMemoryStorage(), 10*time.Millisecond)
	clientTransport := transport.New(clientAddr, time.Second, 0)
	clientRouter := router.NewRouter(clientManager, transport.Bind(clientTransport, DispatchAppID))
	// The client resolves the same logical route by sharing coordination
	// state in a real deployment; here it dials the server address
	// directly via a manually-registered session pointing at it.
	remoteSessionView, err := addressing.NewSession(serverPhysical)
	require.NoError(t, err)
	require.NoError(t, clientManager.Begin(context.Background(), remoteSessionView, time.Now().Add(time.Minute)))
	require.NoError(t, clientRouter.Register(context.Background(), endPoint, serverPhysical, remoteSessionView))

	clientRegistry := dispatch.NewRegistry()
	serverRegistry.Register(pingMessage{}, func(ctx context.Context) (dispatch.Handler, error) {
		return dispatch.HandlerFunc(func(ctx context.Context, d dispatch.Data) dispatch.Result {
			return dispatch.NewSuccess("unused")
		}), nil
	}, dispatch.Configuration{})
	clientLocal := &recordingLocal{}
	clientDispatcher := New(clientLocal, clientRouter, clientTransport, clientRegistry, clientPhysical, time.Second)
	require.NoError(t, clientTransport.Start(ctx))
	time.Sleep(20 * time.Millisecond)

	data, err := dispatch.NewData(pingMessage{Text: "hi"}, nil)
	require.NoError(t, err)

	result := clientDispatcher.Dispatch(context.Background(), data, endPoint, false)
	assert.True(t, serverLocal.called, "server's local dispatcher must have been invoked")
	assert.True(t, result.IsSuccess())
}

// TestDispatchWithNoDefaultRouteReturnsNotDispatched covers the Unknown
// end-point fallback path when no handler ever registered a default type
// route.
func TestDispatchWithNoDefaultRouteReturnsNotDispatched(t *testing.T) {
	manager := coordination.NewManager(coordination.NewMemoryStorage(), 10*time.Millisecond)
	addr := freeAddr(t)
	self := addressing.PhysicalAddressFromString(addr)
	tp := transport.New(addr, time.Second, 0)
	r := router.NewRouter(manager, transport.Bind(tp, DispatchAppID))
	registry := dispatch.NewRegistry()
	local := &recordingLocal{}
	d := New(local, r, tp, registry, self, time.Second)

	data, err := dispatch.NewData(pingMessage{Text: "hi"}, nil)
	require.NoError(t, err)

	result := d.Dispatch(context.Background(), data, addressing.Unknown, false)
	assert.Equal(t, dispatch.NotDispatched, result)
	assert.False(t, local.called)
}
