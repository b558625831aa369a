// Package srp implements the server and client sides of the SRP-6a
// password-authenticated key exchange (RFC 2945 / RFC 5054) over the
// fixed 2048-bit group used by the game authentication protocol.
//
// All exported values (verifier, ephemerals, proofs) are minimal-length
// big-endian byte strings as they appear on the wire. Inside hash
// computations the ephemerals A and B are left-padded to the width of N
// per RFC 5054; every other operand is hashed as transmitted.
//
// The package never logs and never retains secrets beyond the values it
// returns.
package srp

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrUnsafeEphemeral is returned when a peer ephemeral reduces to
	// zero mod N, or when the scrambling parameter u comes out zero.
	// Proceeding would let an attacker force a known session key.
	ErrUnsafeEphemeral = errors.New("srp: unsafe ephemeral value")
)

// SaltLength is the number of random bytes generated for new salts.
// The wire format allows 1-255 bytes; deployed clients expect 4.
const SaltLength = 4

var bigZero = big.NewInt(0)

// NewSalt returns a fresh random salt of SaltLength bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("srp: generate salt: %w", err)
	}
	return salt, nil
}

// ComputeVerifier derives the password verifier v = g^x mod N with
// x = H(salt | H(username ":" password)). The username must already be
// lowercased by the caller; verifiers are bound to the exact bytes
// hashed here.
func ComputeVerifier(salt, username, password []byte) []byte {
	x := computeX(salt, username, password)
	v := new(big.Int).Exp(groupG, x, groupN)
	return v.Bytes()
}

// ServerEphemeral generates the server key pair for one handshake:
// a private exponent b drawn uniformly from [1, N-1] and the public
// value B = (k*v + g^b) mod N. B is regenerated in the unlikely case
// it reduces to zero.
func ServerEphemeral(verifier []byte) (B, b []byte, err error) {
	v := new(big.Int).SetBytes(verifier)

	for {
		priv, err := rand.Int(rand.Reader, new(big.Int).Sub(groupN, big.NewInt(1)))
		if err != nil {
			return nil, nil, fmt.Errorf("srp: generate ephemeral: %w", err)
		}
		priv.Add(priv, big.NewInt(1)) // [1, N-1]

		kv := new(big.Int).Mul(groupK, v)
		kv.Mod(kv, groupN)
		gb := new(big.Int).Exp(groupG, priv, groupN)

		pub := new(big.Int).Add(kv, gb)
		pub.Mod(pub, groupN)

		if pub.Cmp(bigZero) == 0 {
			continue
		}
		return pub.Bytes(), priv.Bytes(), nil
	}
}

// SessionProof holds the values the server derives once it has both
// ephemerals: the shared session key and the two proofs exchanged in
// the final round trip.
type SessionProof struct {
	// Key is the shared session key K = H(S). Upper layers may use it
	// for traffic protection; the handshake itself only hashes it.
	Key []byte

	// ClientProof is the value M the client must present.
	ClientProof []byte

	// ServerProof is HAMK, returned to the client after M verifies.
	ServerProof []byte
}

// ServerSessionKey computes the shared secret and both proofs from the
// client ephemeral A and the server's (b, B, v) for the named user.
// It returns ErrUnsafeEphemeral if A mod N == 0 or the scrambling
// parameter u = H(PAD(A) | PAD(B)) is zero.
func ServerSessionKey(clientA, serverB, serverSecret, verifier, salt, username []byte) (*SessionProof, error) {
	A := new(big.Int).SetBytes(clientA)
	B := new(big.Int).SetBytes(serverB)
	b := new(big.Int).SetBytes(serverSecret)
	v := new(big.Int).SetBytes(verifier)

	if new(big.Int).Mod(A, groupN).Cmp(bigZero) == 0 {
		return nil, ErrUnsafeEphemeral
	}

	u := computeU(A, B)
	if u.Cmp(bigZero) == 0 {
		return nil, ErrUnsafeEphemeral
	}

	// S = (A * v^u)^b mod N
	base := new(big.Int).Exp(v, u, groupN)
	base.Mul(base, A)
	base.Mod(base, groupN)
	S := new(big.Int).Exp(base, b, groupN)

	K := hashBytes(S.Bytes())
	M := computeM(username, salt, A, B, K)
	hamk := computeHAMK(A, M, K)

	return &SessionProof{Key: K, ClientProof: M, ServerProof: hamk}, nil
}

// VerifyProof compares a presented proof against the expected one in
// constant time.
func VerifyProof(got, want []byte) bool {
	return subtle.ConstantTimeCompare(got, want) == 1
}

// computeX derives the private key x = H(salt | H(username ":" password)).
func computeX(salt, username, password []byte) *big.Int {
	inner := sha1.New()
	inner.Write(username)
	inner.Write([]byte{':'})
	inner.Write(password)

	outer := sha1.New()
	outer.Write(salt)
	outer.Write(inner.Sum(nil))

	return new(big.Int).SetBytes(outer.Sum(nil))
}

// computeU derives the scrambling parameter u = H(PAD(A) | PAD(B)).
func computeU(A, B *big.Int) *big.Int {
	h := sha1.New()
	h.Write(pad(A))
	h.Write(pad(B))
	return new(big.Int).SetBytes(h.Sum(nil))
}

// computeM derives the client proof
// M = H(H(N) XOR H(g) | H(username) | salt | A | B | K).
func computeM(username, salt []byte, A, B *big.Int, K []byte) []byte {
	hN := hashBytes(groupN.Bytes())
	hg := hashBytes(groupG.Bytes())
	groupXOR := make([]byte, len(hN))
	for i := range hN {
		groupXOR[i] = hN[i] ^ hg[i]
	}

	h := sha1.New()
	h.Write(groupXOR)
	h.Write(hashBytes(username))
	h.Write(salt)
	h.Write(A.Bytes())
	h.Write(B.Bytes())
	h.Write(K)
	return h.Sum(nil)
}

// computeHAMK derives the server proof HAMK = H(A | M | K).
func computeHAMK(A *big.Int, M, K []byte) []byte {
	h := sha1.New()
	h.Write(A.Bytes())
	h.Write(M)
	h.Write(K)
	return h.Sum(nil)
}

func hashBytes(b []byte) []byte {
	sum := sha1.Sum(b)
	return sum[:]
}
