// Package session owns the lifecycle of in-flight SRP handshakes. Each
// handshake is keyed by a random 32-bit id handed to the game server in
// AUTH_NEGOTIATE and quoted back in the two follow-up datagrams.
//
// State transitions go through the store's compare-and-set operations,
// which is what serializes concurrent datagrams for the same session:
// the loser of a race observes a failed precondition and reports the
// session as gone.
package session

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for unknown, expired, or dead sessions.
	// Callers must not distinguish the three on the wire.
	ErrNotFound = errors.New("session: not found")

	// ErrConflict is returned by a compare-and-set whose precondition
	// failed, i.e. a replayed or out-of-order handshake step.
	ErrConflict = errors.New("session: state conflict")

	// ErrBusy is returned when a fresh session id cannot be allocated
	// within the retry bound. The client should try again later.
	ErrBusy = errors.New("session: store busy")
)

// State tracks how far a handshake has progressed.
type State uint8

const (
	// StateNegotiated: session created, salt sent, waiting for the
	// client ephemeral.
	StateNegotiated State = iota

	// StateEphemeralSent: ephemerals exchanged, waiting for the proof.
	StateEphemeralSent

	// StateProven: the client proved knowledge of the password.
	StateProven

	// StateDead: protocol violation, failed proof, or kill; the id
	// answers nothing further.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateNegotiated:
		return "negotiated"
	case StateEphemeralSent:
		return "ephemeral_sent"
	case StateProven:
		return "proven"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Session is one in-flight handshake. A, B and Secret are written
// exactly once, by the NEGOTIATED -> EPHEMERAL_SENT transition.
type Session struct {
	ID            uint32    `json:"id"`
	UserID        uint32    `json:"user_id"`
	Username      string    `json:"username"`
	Version       uint8     `json:"version"`
	ClientSession uint32    `json:"client_session"`
	State         State     `json:"state"`
	CreatedAt     time.Time `json:"created_at"`

	// Handshake material, populated by SetEphemeral. Secret never
	// leaves the process.
	ClientEphemeral []byte `json:"client_ephemeral,omitempty"`
	ServerEphemeral []byte `json:"server_ephemeral,omitempty"`
	Secret          []byte `json:"secret,omitempty"`

	// Expected proofs, cached so SERVER_PROOF does not redo the
	// modular exponentiation.
	ClientProof []byte `json:"client_proof,omitempty"`
	ServerProof []byte `json:"server_proof,omitempty"`
}

// Ephemeral bundles the values written by the single
// NEGOTIATED -> EPHEMERAL_SENT transition.
type Ephemeral struct {
	ClientEphemeral []byte
	ServerEphemeral []byte
	Secret          []byte
	ClientProof     []byte
	ServerProof     []byte
}

// Store is the session store consumed by the protocol state machine.
// Implementations serialize state transitions per session id.
type Store interface {
	// Create allocates a session in StateNegotiated with a fresh
	// non-zero random id, retrying on collision with live sessions.
	// Returns ErrBusy when the retry bound is exhausted.
	Create(userID uint32, username string, version uint8, clientSession uint32) (uint32, error)

	// Get returns a copy of the session if it is live: present, not
	// dead, and younger than the TTL. Anything else is ErrNotFound.
	Get(id uint32) (*Session, error)

	// SetEphemeral performs the NEGOTIATED -> EPHEMERAL_SENT
	// transition. A second call for the same session is a replay and
	// returns ErrConflict.
	SetEphemeral(id uint32, eph Ephemeral) error

	// MarkProven performs the EPHEMERAL_SENT -> PROVEN transition.
	MarkProven(id uint32) error

	// Kill moves the session to StateDead.
	Kill(id uint32) error

	// Sweep removes sessions past the TTL and dead sessions, returning
	// the number removed.
	Sweep() int

	// Count reports live sessions, for the active-sessions gauge.
	Count() int

	Close() error
}

// createAttempts bounds the random-id redraw loop in Create. With a
// 32-bit id space and realistic session counts a single draw almost
// always suffices.
const createAttempts = 8
