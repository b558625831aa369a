// Package auth implements the datagram handshake protocol spoken
// between game servers and the authentication daemon: the wire codec,
// the per-packet protocol state machine, and the UDP listener.
package auth

import "errors"

// Packet magics. Every datagram starts with one of these as a 32-bit
// little-endian value. SERVER_* packets are inbound (sent by the game
// server), AUTH_* and ERROR_* packets are outbound.
const (
	MagicServerNegotiate uint32 = 0xD003CA01
	MagicServerEphemeral uint32 = 0xD003CA02
	MagicServerProof     uint32 = 0xD003CA03
	MagicAuthNegotiate   uint32 = 0xD003CA10
	MagicAuthEphemeral   uint32 = 0xD003CA20
	MagicAuthProof       uint32 = 0xD003CA30
	MagicErrorUser       uint32 = 0xD003CAFF
	MagicErrorSession    uint32 = 0xD003CAEE
)

// ERROR_USER codes.
const (
	UserErrTryLater         uint8 = 0
	UserErrNoExist          uint8 = 1
	UserErrOutdatedProtocol uint8 = 2
	UserErrWillNotAuth      uint8 = 3
)

// ERROR_SESSION codes.
const (
	SessionErrTryLater       uint8 = 0
	SessionErrNoExist        uint8 = 1
	SessionErrVerifierUnsafe uint8 = 2
	SessionErrAuthFailed     uint8 = 3
)

// Protocol versions accepted in SERVER_NEGOTIATE. Version 2 adds the
// client_session correlation field.
const (
	ProtocolV1 uint8 = 1
	ProtocolV2 uint8 = 2
)

// MaxUsernameLen bounds usernames on the wire. The credential store
// enforces the same limit on write.
const MaxUsernameLen = 32

// ErrMalformedPacket is returned by Decode for any buffer that does not
// parse as a known packet: truncated data, unknown magic, unsupported
// version, missing string terminator, or a length field running past
// the end of the buffer. Malformed datagrams are dropped without reply.
var ErrMalformedPacket = errors.New("auth: malformed packet")

// Packet is implemented by every wire packet. Encode returns the
// packet's exact wire image.
type Packet interface {
	Magic() uint32
	Encode() []byte
}

// ServerNegotiate opens a handshake. Version 1 packets carry no
// ClientSession; the decoder leaves it zero.
type ServerNegotiate struct {
	Version       uint8
	ClientSession uint32
	Username      string
}

// AuthNegotiate answers SERVER_NEGOTIATE with the session id and the
// user's salt. Version selects the reply framing: version 1 omits the
// ClientSession echo.
type AuthNegotiate struct {
	Version       uint8
	ClientSession uint32
	Session       uint32
	Salt          []byte
	Username      string
}

// ServerEphemeral carries the client's public ephemeral A.
type ServerEphemeral struct {
	Session   uint32
	Ephemeral []byte
}

// AuthEphemeral carries the server's public ephemeral B.
type AuthEphemeral struct {
	Session   uint32
	Ephemeral []byte
}

// ServerProof carries the client proof M.
type ServerProof struct {
	Session uint32
	Proof   []byte
}

// AuthProof carries the server proof HAMK.
type AuthProof struct {
	Session uint32
	Proof   []byte
}

// ErrorUser reports a failure before a session exists, keyed by the
// username the client asked about.
type ErrorUser struct {
	Code     uint8
	Username string
}

// ErrorSession reports a failure on an established session.
type ErrorSession struct {
	Code    uint8
	Session uint32
}

func (*ServerNegotiate) Magic() uint32 { return MagicServerNegotiate }
func (*AuthNegotiate) Magic() uint32   { return MagicAuthNegotiate }
func (*ServerEphemeral) Magic() uint32 { return MagicServerEphemeral }
func (*AuthEphemeral) Magic() uint32   { return MagicAuthEphemeral }
func (*ServerProof) Magic() uint32     { return MagicServerProof }
func (*AuthProof) Magic() uint32       { return MagicAuthProof }
func (*ErrorUser) Magic() uint32       { return MagicErrorUser }
func (*ErrorSession) Magic() uint32    { return MagicErrorSession }
