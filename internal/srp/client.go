package srp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Client-side counterparts of the server operations. The daemon itself
// never runs these; they back the admin CLI's self-check and the test
// suite's protocol-conformant peer.

// ClientEphemeral generates the client key pair: a private exponent a
// and the public value A = g^a mod N.
func ClientEphemeral() (A, a []byte, err error) {
	priv, err := rand.Int(rand.Reader, new(big.Int).Sub(groupN, big.NewInt(1)))
	if err != nil {
		return nil, nil, fmt.Errorf("srp: generate ephemeral: %w", err)
	}
	priv.Add(priv, big.NewInt(1))

	pub := new(big.Int).Exp(groupG, priv, groupN)
	return pub.Bytes(), priv.Bytes(), nil
}

// ClientSessionKey computes the client's view of the handshake from the
// server's salt and ephemeral B: the session key K and the proof M to
// present. Returns ErrUnsafeEphemeral if B mod N == 0 or u == 0.
func ClientSessionKey(username, password, salt, clientA, clientSecret, serverB []byte) (*SessionProof, error) {
	A := new(big.Int).SetBytes(clientA)
	a := new(big.Int).SetBytes(clientSecret)
	B := new(big.Int).SetBytes(serverB)

	if new(big.Int).Mod(B, groupN).Cmp(bigZero) == 0 {
		return nil, ErrUnsafeEphemeral
	}

	u := computeU(A, B)
	if u.Cmp(bigZero) == 0 {
		return nil, ErrUnsafeEphemeral
	}

	x := computeX(salt, username, password)

	// S = (B - k*g^x)^(a + u*x) mod N
	gx := new(big.Int).Exp(groupG, x, groupN)
	kgx := new(big.Int).Mul(groupK, gx)
	kgx.Mod(kgx, groupN)

	base := new(big.Int).Sub(B, kgx)
	base.Mod(base, groupN)

	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, a)

	S := new(big.Int).Exp(base, exp, groupN)

	K := hashBytes(S.Bytes())
	M := computeM(username, salt, A, B, K)
	hamk := computeHAMK(A, M, K)

	return &SessionProof{Key: K, ClientProof: M, ServerProof: hamk}, nil
}
