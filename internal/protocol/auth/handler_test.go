package auth

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outpost-games/authd/internal/session"
	"github.com/outpost-games/authd/internal/srp"
	"github.com/outpost-games/authd/pkg/credstore"
)

// fakeUsers is an in-memory UserStore for handler tests.
type fakeUsers struct {
	mu      sync.Mutex
	users   map[string]*credstore.User
	err     error
	actions []string
}

func (f *fakeUsers) FindUserByName(_ context.Context, name string) (*credstore.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	user, ok := f.users[strings.ToLower(name)]
	if !ok {
		return nil, credstore.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeUsers) RecordAuthAction(_ context.Context, _ uint32, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, ip)
	return nil
}

func (f *fakeUsers) add(id uint32, name, password string, access credstore.Access, active bool) *credstore.User {
	salt := []byte{0x5e, 0xed, 0x5a, 0x17}
	user := &credstore.User{
		ID:       id,
		Username: name,
		Salt:     salt,
		Verifier: srp.ComputeVerifier(salt, []byte(name), []byte(password)),
		Access:   access,
		Active:   active,
	}
	f.users[name] = user
	return user
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[string]*credstore.User)}
}

func newTestHandler(users *fakeUsers, ttl time.Duration) (*Handler, session.Store) {
	store := session.NewMemoryStore(ttl)
	return NewHandler(users, store, nil), store
}

var testAddr = &net.UDPAddr{IP: net.IPv4(192, 0, 2, 7), Port: 40000}

// handle runs one datagram through the handler and decodes the reply.
func handle(t *testing.T, h *Handler, pkt Packet) Packet {
	t.Helper()
	reply := h.Handle(context.Background(), pkt.Encode(), testAddr)
	require.NotNil(t, reply, "expected a reply")
	decoded, err := Decode(reply)
	require.NoError(t, err, "reply must decode")
	return decoded
}

// clientHandshake drives a complete handshake from the client side and
// returns the server's HAMK along with the client's expected one.
func clientHandshake(t *testing.T, h *Handler, version uint8, clientSession uint32, username, password string) (got, want []byte) {
	t.Helper()

	neg := handle(t, h, &ServerNegotiate{Version: version, ClientSession: clientSession, Username: username})
	authNeg, ok := neg.(*AuthNegotiate)
	require.True(t, ok, "expected AUTH_NEGOTIATE, got %T", neg)
	require.NotZero(t, authNeg.Session)
	assert.Equal(t, version, authNeg.Version)

	A, a, err := srp.ClientEphemeral()
	require.NoError(t, err)

	eph := handle(t, h, &ServerEphemeral{Session: authNeg.Session, Ephemeral: A})
	authEph, ok := eph.(*AuthEphemeral)
	require.True(t, ok, "expected AUTH_EPHEMERAL, got %T", eph)
	assert.Equal(t, authNeg.Session, authEph.Session)

	proof, err := srp.ClientSessionKey(
		[]byte(authNeg.Username), []byte(password),
		authNeg.Salt, A, a, authEph.Ephemeral)
	require.NoError(t, err)

	pr := handle(t, h, &ServerProof{Session: authNeg.Session, Proof: proof.ClientProof})
	authProof, ok := pr.(*AuthProof)
	require.True(t, ok, "expected AUTH_PROOF, got %T", pr)
	assert.Equal(t, authNeg.Session, authProof.Session)

	return authProof.Proof, proof.ServerProof
}

func TestHandshakeHappyPath(t *testing.T) {
	users := newFakeUsers()
	users.add(1, "alice", "hunter2", credstore.AccessUser, true)
	h, _ := newTestHandler(users, 30*time.Second)

	neg := handle(t, h, &ServerNegotiate{Version: ProtocolV2, ClientSession: 0x11223344, Username: "ALICE"})
	authNeg := neg.(*AuthNegotiate)
	assert.Equal(t, uint32(0x11223344), authNeg.ClientSession, "client session echoed")
	assert.Equal(t, "alice", authNeg.Username, "stored lowercase name returned")
	assert.Equal(t, users.users["alice"].Salt, authNeg.Salt)

	got, want := clientHandshake(t, h, ProtocolV2, 0x11223344, "alice", "hunter2")
	assert.Equal(t, want, got, "server proof must match the client's expectation")

	assert.Equal(t, []string{"192.0.2.7"}, users.actions, "successful auth recorded")
}

func TestHandshakeV1(t *testing.T) {
	users := newFakeUsers()
	users.add(1, "alice", "hunter2", credstore.AccessUser, true)
	h, _ := newTestHandler(users, 30*time.Second)

	got, want := clientHandshake(t, h, ProtocolV1, 0, "alice", "hunter2")
	assert.Equal(t, want, got)
}

func TestNegotiateUnknownUser(t *testing.T) {
	users := newFakeUsers()
	h, _ := newTestHandler(users, 30*time.Second)

	reply := handle(t, h, &ServerNegotiate{Version: ProtocolV2, Username: "mallory"})
	errUser, ok := reply.(*ErrorUser)
	require.True(t, ok, "expected ERROR_USER, got %T", reply)
	assert.Equal(t, uint8(UserErrNoExist), errUser.Code)
	assert.Equal(t, "mallory", errUser.Username)
}

func TestNegotiateCollapsesAccountState(t *testing.T) {
	// Unknown, inactive, and unverified users must all produce the
	// same reply so the protocol cannot be used to enumerate accounts.
	unknown := newFakeUsers()

	inactive := newFakeUsers()
	inactive.add(1, "mallory", "pw", credstore.AccessUser, false)

	unverified := newFakeUsers()
	unverified.add(1, "mallory", "pw", credstore.AccessUnverified, true)

	var replies [][]byte
	for _, users := range []*fakeUsers{unknown, inactive, unverified} {
		h, _ := newTestHandler(users, 30*time.Second)
		reply := h.Handle(context.Background(),
			(&ServerNegotiate{Version: ProtocolV2, Username: "mallory"}).Encode(), testAddr)
		require.NotNil(t, reply)
		replies = append(replies, reply)
	}

	assert.Equal(t, replies[0], replies[1], "inactive must be indistinguishable from unknown")
	assert.Equal(t, replies[0], replies[2], "unverified must be indistinguishable from unknown")
}

func TestNegotiateStoreErrorTryLater(t *testing.T) {
	users := newFakeUsers()
	users.err = errors.New("connection refused")
	h, _ := newTestHandler(users, 30*time.Second)

	reply := handle(t, h, &ServerNegotiate{Version: ProtocolV2, Username: "alice"})
	errUser := reply.(*ErrorUser)
	assert.Equal(t, uint8(UserErrTryLater), errUser.Code)
}

func TestNegotiateUnsupportedVersion(t *testing.T) {
	users := newFakeUsers()
	users.add(1, "alice", "hunter2", credstore.AccessUser, true)
	h, _ := newTestHandler(users, 30*time.Second)
	h.SetSupportedVersions(ProtocolV2)

	reply := handle(t, h, &ServerNegotiate{Version: ProtocolV1, Username: "alice"})
	errUser := reply.(*ErrorUser)
	assert.Equal(t, uint8(UserErrOutdatedProtocol), errUser.Code)
}

func TestWrongPasswordKillsSession(t *testing.T) {
	users := newFakeUsers()
	users.add(1, "alice", "hunter2", credstore.AccessUser, true)
	h, _ := newTestHandler(users, 30*time.Second)

	neg := handle(t, h, &ServerNegotiate{Version: ProtocolV2, Username: "alice"}).(*AuthNegotiate)

	A, a, err := srp.ClientEphemeral()
	require.NoError(t, err)
	eph := handle(t, h, &ServerEphemeral{Session: neg.Session, Ephemeral: A}).(*AuthEphemeral)

	proof, err := srp.ClientSessionKey(
		[]byte(neg.Username), []byte("wrong password"),
		neg.Salt, A, a, eph.Ephemeral)
	require.NoError(t, err)

	reply := handle(t, h, &ServerProof{Session: neg.Session, Proof: proof.ClientProof})
	errSess, ok := reply.(*ErrorSession)
	require.True(t, ok, "expected ERROR_SESSION, got %T", reply)
	assert.Equal(t, uint8(SessionErrAuthFailed), errSess.Code)

	t.Run("SessionDeadAfterFailure", func(t *testing.T) {
		reply := handle(t, h, &ServerProof{Session: neg.Session, Proof: proof.ClientProof})
		errSess := reply.(*ErrorSession)
		assert.Equal(t, uint8(SessionErrNoExist), errSess.Code)
	})

	assert.Empty(t, users.actions, "failed auth must not be recorded")
}

func TestUnsafeClientEphemeral(t *testing.T) {
	users := newFakeUsers()
	users.add(1, "alice", "hunter2", credstore.AccessUser, true)
	h, _ := newTestHandler(users, 30*time.Second)

	neg := handle(t, h, &ServerNegotiate{Version: ProtocolV2, Username: "alice"}).(*AuthNegotiate)

	// A = 0 would force the shared secret to zero.
	reply := handle(t, h, &ServerEphemeral{Session: neg.Session, Ephemeral: []byte{0}})
	errSess, ok := reply.(*ErrorSession)
	require.True(t, ok, "expected ERROR_SESSION, got %T", reply)
	assert.Equal(t, uint8(SessionErrVerifierUnsafe), errSess.Code)

	t.Run("SessionDeadAfterUnsafe", func(t *testing.T) {
		A, _, err := srp.ClientEphemeral()
		require.NoError(t, err)
		reply := handle(t, h, &ServerEphemeral{Session: neg.Session, Ephemeral: A})
		errSess := reply.(*ErrorSession)
		assert.Equal(t, uint8(SessionErrNoExist), errSess.Code)
	})
}

func TestExpiredSession(t *testing.T) {
	users := newFakeUsers()
	users.add(1, "alice", "hunter2", credstore.AccessUser, true)
	h, _ := newTestHandler(users, time.Millisecond)

	neg := handle(t, h, &ServerNegotiate{Version: ProtocolV2, Username: "alice"}).(*AuthNegotiate)

	time.Sleep(5 * time.Millisecond)

	A, _, err := srp.ClientEphemeral()
	require.NoError(t, err)
	reply := handle(t, h, &ServerEphemeral{Session: neg.Session, Ephemeral: A})
	errSess, ok := reply.(*ErrorSession)
	require.True(t, ok, "expected ERROR_SESSION, got %T", reply)
	assert.Equal(t, uint8(SessionErrNoExist), errSess.Code)
}

func TestUnknownSession(t *testing.T) {
	users := newFakeUsers()
	h, _ := newTestHandler(users, 30*time.Second)

	reply := handle(t, h, &ServerProof{Session: 0xDEAD, Proof: []byte{1, 2, 3}})
	errSess := reply.(*ErrorSession)
	assert.Equal(t, uint8(SessionErrNoExist), errSess.Code)
	assert.Equal(t, uint32(0xDEAD), errSess.Session)
}

func TestReplayedEphemeral(t *testing.T) {
	users := newFakeUsers()
	users.add(1, "alice", "hunter2", credstore.AccessUser, true)
	h, _ := newTestHandler(users, 30*time.Second)

	neg := handle(t, h, &ServerNegotiate{Version: ProtocolV2, Username: "alice"}).(*AuthNegotiate)

	A, _, err := srp.ClientEphemeral()
	require.NoError(t, err)

	first := handle(t, h, &ServerEphemeral{Session: neg.Session, Ephemeral: A})
	_, ok := first.(*AuthEphemeral)
	require.True(t, ok)

	second := handle(t, h, &ServerEphemeral{Session: neg.Session, Ephemeral: A})
	errSess, ok := second.(*ErrorSession)
	require.True(t, ok, "replay must not receive a second ephemeral")
	assert.Equal(t, uint8(SessionErrNoExist), errSess.Code)
}

func TestConcurrentEphemeralSingleWinner(t *testing.T) {
	users := newFakeUsers()
	users.add(1, "alice", "hunter2", credstore.AccessUser, true)
	h, _ := newTestHandler(users, 30*time.Second)

	neg := handle(t, h, &ServerNegotiate{Version: ProtocolV2, Username: "alice"}).(*AuthNegotiate)

	A, _, err := srp.ClientEphemeral()
	require.NoError(t, err)
	payload := (&ServerEphemeral{Session: neg.Session, Ephemeral: A}).Encode()

	const racers = 8
	replies := make([][]byte, racers)
	var wg sync.WaitGroup
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(i int) {
			defer wg.Done()
			replies[i] = h.Handle(context.Background(), payload, testAddr)
		}(i)
	}
	wg.Wait()

	var ephemerals, errs int
	for _, reply := range replies {
		require.NotNil(t, reply)
		pkt, err := Decode(reply)
		require.NoError(t, err)
		switch pkt.(type) {
		case *AuthEphemeral:
			ephemerals++
		case *ErrorSession:
			errs++
		default:
			t.Fatalf("unexpected reply %T", pkt)
		}
	}
	assert.Equal(t, 1, ephemerals, "exactly one datagram may win the transition")
	assert.Equal(t, racers-1, errs)
}

func TestMalformedDatagramsSilentlyDropped(t *testing.T) {
	users := newFakeUsers()
	users.add(1, "alice", "hunter2", credstore.AccessUser, true)
	h, _ := newTestHandler(users, 30*time.Second)

	cases := map[string][]byte{
		"Empty":        {},
		"ShortMagic":   {0x01, 0xCA},
		"UnknownMagic": {0xEF, 0xBE, 0xAD, 0xDE, 0x00},
		"Truncated":    (&ServerNegotiate{Version: ProtocolV2, Username: "alice"}).Encode()[:7],
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, h.Handle(context.Background(), payload, testAddr))
		})
	}

	t.Run("OutboundMagicInbound", func(t *testing.T) {
		// Server-to-client packets looped back must not be answered.
		payloads := [][]byte{
			(&AuthNegotiate{Version: ProtocolV2, Session: 1, Salt: []byte{1, 2, 3, 4}, Username: "alice"}).Encode(),
			(&AuthEphemeral{Session: 1, Ephemeral: []byte{1}}).Encode(),
			(&AuthProof{Session: 1, Proof: []byte{1}}).Encode(),
			(&ErrorUser{Code: UserErrNoExist, Username: "alice"}).Encode(),
			(&ErrorSession{Code: SessionErrNoExist, Session: 1}).Encode(),
		}
		for _, payload := range payloads {
			assert.Nil(t, h.Handle(context.Background(), payload, testAddr))
		}
	})
}

func TestProofBeforeEphemeral(t *testing.T) {
	users := newFakeUsers()
	users.add(1, "alice", "hunter2", credstore.AccessUser, true)
	h, _ := newTestHandler(users, 30*time.Second)

	neg := handle(t, h, &ServerNegotiate{Version: ProtocolV2, Username: "alice"}).(*AuthNegotiate)

	// Skipping the ephemeral exchange entirely.
	reply := handle(t, h, &ServerProof{Session: neg.Session, Proof: []byte{1, 2, 3}})
	errSess, ok := reply.(*ErrorSession)
	require.True(t, ok)
	assert.Equal(t, uint8(SessionErrNoExist), errSess.Code)
}

func TestUserDeletedMidHandshake(t *testing.T) {
	users := newFakeUsers()
	users.add(1, "alice", "hunter2", credstore.AccessUser, true)
	h, _ := newTestHandler(users, 30*time.Second)

	neg := handle(t, h, &ServerNegotiate{Version: ProtocolV2, Username: "alice"}).(*AuthNegotiate)

	users.mu.Lock()
	delete(users.users, "alice")
	users.mu.Unlock()

	A, _, err := srp.ClientEphemeral()
	require.NoError(t, err)
	reply := handle(t, h, &ServerEphemeral{Session: neg.Session, Ephemeral: A})
	errSess, ok := reply.(*ErrorSession)
	require.True(t, ok)
	assert.Equal(t, uint8(SessionErrNoExist), errSess.Code)
}

func TestFreshSessionsPerNegotiate(t *testing.T) {
	users := newFakeUsers()
	users.add(1, "alice", "hunter2", credstore.AccessUser, true)
	h, store := newTestHandler(users, 30*time.Second)

	seen := make(map[uint32]bool)
	for i := 0; i < 16; i++ {
		neg := handle(t, h, &ServerNegotiate{Version: ProtocolV2, Username: "alice"}).(*AuthNegotiate)
		assert.False(t, seen[neg.Session], "session ids must not repeat while live")
		seen[neg.Session] = true
	}
	assert.Equal(t, 16, store.Count())
}
