package auth

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outpost-games/authd/internal/session"
	"github.com/outpost-games/authd/internal/srp"
	"github.com/outpost-games/authd/pkg/credstore"
)

// startTestServer starts an auth server on a random UDP port. It is
// stopped automatically when the test completes.
func startTestServer(t *testing.T, users *fakeUsers) *Server {
	t.Helper()

	store := session.NewMemoryStore(30 * time.Second)
	handler := NewHandler(users, store, nil)
	srv := NewServer(ServerConfig{
		Port:    0, // Random port
		Workers: 2,
	}, handler, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	srv.WaitReady()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
		_ = store.Close()
	})

	return srv
}

// dialServer opens a client socket against the test server.
func dialServer(t *testing.T, srv *Server) *net.UDPConn {
	t.Helper()

	udpAddr, err := net.ResolveUDPAddr("udp", srv.UDPAddr())
	require.NoError(t, err)
	conn, err := net.DialUDP("udp", nil, udpAddr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// exchange sends one packet and decodes the reply.
func exchange(t *testing.T, conn *net.UDPConn, pkt Packet) Packet {
	t.Helper()

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := conn.Write(pkt.Encode())
	require.NoError(t, err)

	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	decoded, err := Decode(buf[:n])
	require.NoError(t, err)
	return decoded
}

func TestServerHandshakeOverUDP(t *testing.T) {
	users := newFakeUsers()
	users.add(1, "alice", "hunter2", credstore.AccessUser, true)
	srv := startTestServer(t, users)
	conn := dialServer(t, srv)

	neg := exchange(t, conn, &ServerNegotiate{Version: ProtocolV2, ClientSession: 0xCAFE, Username: "alice"})
	authNeg, ok := neg.(*AuthNegotiate)
	require.True(t, ok, "expected AUTH_NEGOTIATE, got %T", neg)
	assert.Equal(t, uint32(0xCAFE), authNeg.ClientSession)

	A, a, err := srp.ClientEphemeral()
	require.NoError(t, err)

	eph := exchange(t, conn, &ServerEphemeral{Session: authNeg.Session, Ephemeral: A})
	authEph, ok := eph.(*AuthEphemeral)
	require.True(t, ok, "expected AUTH_EPHEMERAL, got %T", eph)

	proof, err := srp.ClientSessionKey(
		[]byte(authNeg.Username), []byte("hunter2"),
		authNeg.Salt, A, a, authEph.Ephemeral)
	require.NoError(t, err)

	pr := exchange(t, conn, &ServerProof{Session: authNeg.Session, Proof: proof.ClientProof})
	authProof, ok := pr.(*AuthProof)
	require.True(t, ok, "expected AUTH_PROOF, got %T", pr)
	assert.Equal(t, proof.ServerProof, authProof.Proof)
}

func TestServerDropsMalformedSilently(t *testing.T) {
	users := newFakeUsers()
	users.add(1, "alice", "hunter2", credstore.AccessUser, true)
	srv := startTestServer(t, users)
	conn := dialServer(t, srv)

	_, err := conn.Write([]byte{0xDE, 0xAD})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	buf := make([]byte, 64)
	_, err = conn.Read(buf)
	netErr, ok := err.(net.Error)
	require.True(t, ok, "expected read timeout, got %v", err)
	assert.True(t, netErr.Timeout())

	// The server is still alive afterwards.
	reply := exchange(t, conn, &ServerNegotiate{Version: ProtocolV2, Username: "alice"})
	_, ok = reply.(*AuthNegotiate)
	assert.True(t, ok)
}

func TestServerErrorReplyOverUDP(t *testing.T) {
	srv := startTestServer(t, newFakeUsers())
	conn := dialServer(t, srv)

	reply := exchange(t, conn, &ServerNegotiate{Version: ProtocolV2, Username: "mallory"})
	errUser, ok := reply.(*ErrorUser)
	require.True(t, ok, "expected ERROR_USER, got %T", reply)
	assert.Equal(t, uint8(UserErrNoExist), errUser.Code)
	assert.Equal(t, "mallory", errUser.Username)
}

func TestServerStopIsIdempotent(t *testing.T) {
	srv := startTestServer(t, newFakeUsers())
	srv.Stop()
	srv.Stop()
}
