package auth

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/outpost-games/authd/internal/logger"
	"github.com/outpost-games/authd/internal/session"
	"github.com/outpost-games/authd/internal/srp"
	"github.com/outpost-games/authd/pkg/credstore"
	"github.com/outpost-games/authd/pkg/metrics"
)

// UserStore is the slice of the credential store the handler needs:
// one hot read plus the fire-and-forget audit append.
type UserStore interface {
	FindUserByName(ctx context.Context, name string) (*credstore.User, error)
	RecordAuthAction(ctx context.Context, userID uint32, ip string) error
}

// Handler advances SRP handshakes, one datagram at a time. It holds no
// per-session state of its own; everything lives in the session store,
// whose compare-and-set transitions serialize concurrent datagrams for
// the same session id.
type Handler struct {
	users    UserStore
	sessions session.Store
	metrics  metrics.AuthMetrics

	// supported lists the protocol versions this deployment accepts.
	// Versions the codec knows but this set excludes get
	// ERROR_USER{OUTDATED_PROTOCOL} instead of a silent drop.
	supported map[uint8]bool
}

// NewHandler creates a protocol handler. metrics may be nil.
func NewHandler(users UserStore, sessions session.Store, m metrics.AuthMetrics) *Handler {
	return &Handler{
		users:    users,
		sessions: sessions,
		metrics:  m,
		supported: map[uint8]bool{
			ProtocolV1: true,
			ProtocolV2: true,
		},
	}
}

// SetSupportedVersions restricts the accepted protocol versions, e.g.
// to retire v1 ahead of the clients.
func (h *Handler) SetSupportedVersions(versions ...uint8) {
	h.supported = make(map[uint8]bool, len(versions))
	for _, v := range versions {
		h.supported[v] = true
	}
}

// Handle processes one inbound datagram and returns the reply to send,
// or nil for a silent drop. Every inbound datagram yields at most one
// reply. A panic anywhere below is contained here and treated like a
// malformed packet.
func (h *Handler) Handle(ctx context.Context, payload []byte, src net.Addr) (reply []byte) {
	start := time.Now()
	kind := "malformed"

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Handler panic", "panic", r, "client", src.String())
			reply = nil
		}
		if h.metrics != nil {
			outcome := "drop"
			if reply != nil {
				outcome = replyOutcome(reply)
			}
			h.metrics.RecordRequest(kind, outcome, time.Since(start))
		}
	}()

	pkt, err := Decode(payload)
	if err != nil {
		logger.Debug("Dropping malformed datagram", "client", src.String(), "error", err)
		return nil
	}

	switch p := pkt.(type) {
	case *ServerNegotiate:
		kind = "negotiate"
		return h.handleNegotiate(ctx, p)
	case *ServerEphemeral:
		kind = "ephemeral"
		return h.handleEphemeral(ctx, p)
	case *ServerProof:
		kind = "proof"
		return h.handleProof(ctx, p, src)
	default:
		// A server-to-client magic arriving inbound. Not ours to
		// answer.
		logger.Debug("Dropping unexpected packet", "client", src.String(), "magic", pkt.Magic())
		return nil
	}
}

// handleNegotiate starts a handshake: looks up the user, allocates a
// session, and returns the salt.
//
// Unknown, inactive, and unverified users all collapse to NO_EXIST so
// the reply does not reveal which usernames have accounts.
func (h *Handler) handleNegotiate(ctx context.Context, p *ServerNegotiate) []byte {
	user, err := h.users.FindUserByName(ctx, p.Username)
	if errors.Is(err, credstore.ErrUserNotFound) {
		return (&ErrorUser{Code: UserErrNoExist, Username: p.Username}).Encode()
	}
	if err != nil {
		logger.Warn("Credential store unavailable", "error", err)
		return (&ErrorUser{Code: UserErrTryLater, Username: p.Username}).Encode()
	}
	if !user.CanAuthenticate() {
		return (&ErrorUser{Code: UserErrNoExist, Username: p.Username}).Encode()
	}

	if !h.supported[p.Version] {
		return (&ErrorUser{Code: UserErrOutdatedProtocol, Username: p.Username}).Encode()
	}

	id, err := h.sessions.Create(user.ID, user.Username, p.Version, p.ClientSession)
	if err != nil {
		if !errors.Is(err, session.ErrBusy) {
			logger.Warn("Session create failed", "user", user.Username, "error", err)
		}
		return (&ErrorUser{Code: UserErrTryLater, Username: p.Username}).Encode()
	}

	logger.Debug("Handshake negotiated", "user", user.Username, "session", id, "version", p.Version)

	return (&AuthNegotiate{
		Version:       p.Version,
		ClientSession: p.ClientSession,
		Session:       id,
		Salt:          user.Salt,
		Username:      user.Username,
	}).Encode()
}

// handleEphemeral performs the key exchange: derives (B, b) and the
// expected proofs, then commits them with the one-shot
// NEGOTIATED -> EPHEMERAL_SENT transition.
func (h *Handler) handleEphemeral(ctx context.Context, p *ServerEphemeral) []byte {
	sess, err := h.sessions.Get(p.Session)
	if err != nil {
		return sessionError(p.Session, err)
	}

	user, err := h.users.FindUserByName(ctx, sess.Username)
	if errors.Is(err, credstore.ErrUserNotFound) {
		// Deleted between negotiate and now.
		_ = h.sessions.Kill(p.Session)
		return (&ErrorSession{Code: SessionErrNoExist, Session: p.Session}).Encode()
	}
	if err != nil {
		logger.Warn("Credential store unavailable", "error", err)
		return (&ErrorSession{Code: SessionErrTryLater, Session: p.Session}).Encode()
	}

	B, b, err := srp.ServerEphemeral(user.Verifier)
	if err != nil {
		logger.Error("Ephemeral generation failed", "error", err)
		return (&ErrorSession{Code: SessionErrTryLater, Session: p.Session}).Encode()
	}

	proof, err := srp.ServerSessionKey(p.Ephemeral, B, b, user.Verifier, user.Salt, []byte(user.Username))
	if errors.Is(err, srp.ErrUnsafeEphemeral) {
		_ = h.sessions.Kill(p.Session)
		logger.Warn("Unsafe client ephemeral", "user", user.Username, "session", p.Session)
		return (&ErrorSession{Code: SessionErrVerifierUnsafe, Session: p.Session}).Encode()
	}
	if err != nil {
		return (&ErrorSession{Code: SessionErrTryLater, Session: p.Session}).Encode()
	}

	err = h.sessions.SetEphemeral(p.Session, session.Ephemeral{
		ClientEphemeral: p.Ephemeral,
		ServerEphemeral: B,
		Secret:          b,
		ClientProof:     proof.ClientProof,
		ServerProof:     proof.ServerProof,
	})
	if err != nil {
		// A replayed SERVER_EPHEMERAL loses the compare-and-set.
		return sessionError(p.Session, err)
	}

	return (&AuthEphemeral{Session: p.Session, Ephemeral: B}).Encode()
}

// handleProof checks the client proof and, on success, releases HAMK.
// A failed proof kills the session; the next attempt starts over at
// SERVER_NEGOTIATE.
func (h *Handler) handleProof(ctx context.Context, p *ServerProof, src net.Addr) []byte {
	sess, err := h.sessions.Get(p.Session)
	if err != nil {
		return sessionError(p.Session, err)
	}
	if sess.State != session.StateEphemeralSent {
		return (&ErrorSession{Code: SessionErrNoExist, Session: p.Session}).Encode()
	}

	if !srp.VerifyProof(p.Proof, sess.ClientProof) {
		_ = h.sessions.Kill(p.Session)
		logger.Info("Authentication failed", "user", sess.Username, "session", p.Session, "client", src.String())
		return (&ErrorSession{Code: SessionErrAuthFailed, Session: p.Session}).Encode()
	}

	if err := h.sessions.MarkProven(p.Session); err != nil {
		return sessionError(p.Session, err)
	}

	if err := h.users.RecordAuthAction(ctx, sess.UserID, hostOnly(src)); err != nil {
		logger.Debug("Auth action not recorded", "user", sess.Username, "error", err)
	}

	if h.metrics != nil {
		h.metrics.RecordHandshakeCompleted()
	}
	logger.Info("Authentication succeeded", "user", sess.Username, "session", p.Session, "client", src.String())

	return (&AuthProof{Session: p.Session, Proof: sess.ServerProof}).Encode()
}

// sessionError maps store errors onto the wire. Unknown, expired, and
// replayed all collapse to NO_EXIST.
func sessionError(id uint32, err error) []byte {
	code := SessionErrNoExist
	if !errors.Is(err, session.ErrNotFound) && !errors.Is(err, session.ErrConflict) {
		logger.Warn("Session store error", "session", id, "error", err)
		code = SessionErrTryLater
	}
	return (&ErrorSession{Code: code, Session: id}).Encode()
}

// hostOnly strips the port from a datagram source address.
func hostOnly(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// replyOutcome labels a reply buffer for metrics by its leading magic.
func replyOutcome(reply []byte) string {
	if len(reply) < 4 {
		return "drop"
	}
	switch uint32(reply[0]) | uint32(reply[1])<<8 | uint32(reply[2])<<16 | uint32(reply[3])<<24 {
	case MagicErrorUser, MagicErrorSession:
		return "error"
	default:
		return "ok"
	}
}
