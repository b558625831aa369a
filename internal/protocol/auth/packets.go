package auth

import (
	"encoding/binary"
	"fmt"
)

// Wire format notes:
//
// All integers are little-endian. Strings are ASCII, NUL-terminated,
// with no embedded NULs. Variable-width byte strings (salt, ephemerals,
// proofs) are length-prefixed; salt with one byte, ephemerals and
// proofs with an unsigned 16-bit count. Encoders size their output
// buffer exactly; decoders reject any buffer with trailing bytes.

// Decode parses a datagram into one of the eight packet types. Any
// buffer that does not parse exactly yields ErrMalformedPacket.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: short buffer (%d bytes)", ErrMalformedPacket, len(buf))
	}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	body := buf[4:]

	switch magic {
	case MagicServerNegotiate:
		return decodeServerNegotiate(body)
	case MagicAuthNegotiate:
		return decodeAuthNegotiate(body)
	case MagicServerEphemeral:
		sess, data, err := decodeSessionBlob(body)
		if err != nil {
			return nil, err
		}
		return &ServerEphemeral{Session: sess, Ephemeral: data}, nil
	case MagicAuthEphemeral:
		sess, data, err := decodeSessionBlob(body)
		if err != nil {
			return nil, err
		}
		return &AuthEphemeral{Session: sess, Ephemeral: data}, nil
	case MagicServerProof:
		sess, data, err := decodeSessionBlob(body)
		if err != nil {
			return nil, err
		}
		return &ServerProof{Session: sess, Proof: data}, nil
	case MagicAuthProof:
		sess, data, err := decodeSessionBlob(body)
		if err != nil {
			return nil, err
		}
		return &AuthProof{Session: sess, Proof: data}, nil
	case MagicErrorUser:
		return decodeErrorUser(body)
	case MagicErrorSession:
		return decodeErrorSession(body)
	default:
		return nil, fmt.Errorf("%w: unknown magic 0x%08X", ErrMalformedPacket, magic)
	}
}

func decodeServerNegotiate(body []byte) (*ServerNegotiate, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: negotiate without version", ErrMalformedPacket)
	}
	p := &ServerNegotiate{Version: body[0]}
	rest := body[1:]

	switch p.Version {
	case ProtocolV1:
	case ProtocolV2:
		if len(rest) < 4 {
			return nil, fmt.Errorf("%w: negotiate v2 truncated", ErrMalformedPacket)
		}
		p.ClientSession = binary.LittleEndian.Uint32(rest[0:4])
		rest = rest[4:]
	default:
		return nil, fmt.Errorf("%w: unknown protocol version %d", ErrMalformedPacket, p.Version)
	}

	name, err := takeCString(rest)
	if err != nil {
		return nil, err
	}
	p.Username = name
	return p, nil
}

func decodeAuthNegotiate(body []byte) (*AuthNegotiate, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: negotiate without version", ErrMalformedPacket)
	}
	p := &AuthNegotiate{Version: body[0]}
	rest := body[1:]

	switch p.Version {
	case ProtocolV1:
	case ProtocolV2:
		if len(rest) < 4 {
			return nil, fmt.Errorf("%w: negotiate v2 truncated", ErrMalformedPacket)
		}
		p.ClientSession = binary.LittleEndian.Uint32(rest[0:4])
		rest = rest[4:]
	default:
		return nil, fmt.Errorf("%w: unknown protocol version %d", ErrMalformedPacket, p.Version)
	}

	if len(rest) < 5 {
		return nil, fmt.Errorf("%w: negotiate reply truncated", ErrMalformedPacket)
	}
	p.Session = binary.LittleEndian.Uint32(rest[0:4])
	saltLen := int(rest[4])
	rest = rest[5:]

	if saltLen == 0 {
		return nil, fmt.Errorf("%w: zero-length salt", ErrMalformedPacket)
	}
	if len(rest) < saltLen {
		return nil, fmt.Errorf("%w: salt exceeds buffer", ErrMalformedPacket)
	}
	p.Salt = append([]byte(nil), rest[:saltLen]...)
	rest = rest[saltLen:]

	name, err := takeCString(rest)
	if err != nil {
		return nil, err
	}
	p.Username = name
	return p, nil
}

// decodeSessionBlob parses the shared `session u32 | len u16 | bytes`
// body used by the ephemeral and proof packets. The length is unsigned
// in both directions.
func decodeSessionBlob(body []byte) (uint32, []byte, error) {
	if len(body) < 6 {
		return 0, nil, fmt.Errorf("%w: session blob truncated", ErrMalformedPacket)
	}
	sess := binary.LittleEndian.Uint32(body[0:4])
	n := int(binary.LittleEndian.Uint16(body[4:6]))
	rest := body[6:]

	if len(rest) != n {
		return 0, nil, fmt.Errorf("%w: blob length %d, have %d bytes", ErrMalformedPacket, n, len(rest))
	}
	return sess, append([]byte(nil), rest...), nil
}

func decodeErrorUser(body []byte) (*ErrorUser, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: user error truncated", ErrMalformedPacket)
	}
	name, err := takeCString(body[1:])
	if err != nil {
		return nil, err
	}
	return &ErrorUser{Code: body[0], Username: name}, nil
}

func decodeErrorSession(body []byte) (*ErrorSession, error) {
	if len(body) != 5 {
		return nil, fmt.Errorf("%w: session error truncated", ErrMalformedPacket)
	}
	return &ErrorSession{
		Code:    body[0],
		Session: binary.LittleEndian.Uint32(body[1:5]),
	}, nil
}

// takeCString consumes a NUL-terminated string that must span the whole
// remaining buffer.
func takeCString(buf []byte) (string, error) {
	for i, c := range buf {
		if c == 0 {
			if i != len(buf)-1 {
				return "", fmt.Errorf("%w: trailing bytes after string", ErrMalformedPacket)
			}
			return string(buf[:i]), nil
		}
	}
	return "", fmt.Errorf("%w: unterminated string", ErrMalformedPacket)
}

// Encode implementations. Each computes the exact output size up front.

func (p *ServerNegotiate) Encode() []byte {
	size := 4 + 1 + len(p.Username) + 1
	if p.Version == ProtocolV2 {
		size += 4
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], MagicServerNegotiate)
	buf[4] = p.Version
	off := 5
	if p.Version == ProtocolV2 {
		binary.LittleEndian.PutUint32(buf[off:off+4], p.ClientSession)
		off += 4
	}
	putCString(buf[off:], p.Username)
	return buf
}

func (p *AuthNegotiate) Encode() []byte {
	size := 4 + 1 + 4 + 1 + len(p.Salt) + len(p.Username) + 1
	if p.Version == ProtocolV2 {
		size += 4
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], MagicAuthNegotiate)
	buf[4] = p.Version
	off := 5
	if p.Version == ProtocolV2 {
		binary.LittleEndian.PutUint32(buf[off:off+4], p.ClientSession)
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], p.Session)
	off += 4
	buf[off] = uint8(len(p.Salt))
	off++
	copy(buf[off:], p.Salt)
	off += len(p.Salt)
	putCString(buf[off:], p.Username)
	return buf
}

func (p *ServerEphemeral) Encode() []byte {
	return encodeSessionBlob(MagicServerEphemeral, p.Session, p.Ephemeral)
}

func (p *AuthEphemeral) Encode() []byte {
	return encodeSessionBlob(MagicAuthEphemeral, p.Session, p.Ephemeral)
}

func (p *ServerProof) Encode() []byte {
	return encodeSessionBlob(MagicServerProof, p.Session, p.Proof)
}

func (p *AuthProof) Encode() []byte {
	return encodeSessionBlob(MagicAuthProof, p.Session, p.Proof)
}

func encodeSessionBlob(magic, session uint32, data []byte) []byte {
	buf := make([]byte, 4+4+2+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], session)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(data)))
	copy(buf[10:], data)
	return buf
}

func (p *ErrorUser) Encode() []byte {
	buf := make([]byte, 4+1+len(p.Username)+1)
	binary.LittleEndian.PutUint32(buf[0:4], MagicErrorUser)
	buf[4] = p.Code
	putCString(buf[5:], p.Username)
	return buf
}

func (p *ErrorSession) Encode() []byte {
	buf := make([]byte, 4+1+4)
	binary.LittleEndian.PutUint32(buf[0:4], MagicErrorSession)
	buf[4] = p.Code
	binary.LittleEndian.PutUint32(buf[5:9], p.Session)
	return buf
}

func putCString(dst []byte, s string) {
	copy(dst, s)
	dst[len(s)] = 0
}
