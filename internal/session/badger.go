package session

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Key namespace: "sess:" + 4-byte big-endian session id. Values are
// JSON-encoded Session records.
const keyPrefix = "sess:"

// BadgerStore persists sessions in a BadgerDB so half-open handshakes
// survive a daemon restart. Transitions run inside Badger update
// transactions, which gives the same compare-and-set semantics as the
// in-memory backend.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration

	now func() time.Time
}

// NewBadgerStore opens (or creates) the database at path.
func NewBadgerStore(path string, ttl time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("session: open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db, ttl: ttl, now: time.Now}, nil
}

// errIDTaken signals an id collision inside Create's redraw loop.
var errIDTaken = errors.New("session: id taken")

// runUpdate retries fn when Badger's optimistic concurrency control
// aborts the transaction. The per-session compare-and-set semantics
// come from the state checks inside fn, not from the abort.
func (s *BadgerStore) runUpdate(fn func(txn *badger.Txn) error) error {
	for {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
}

func sessionKey(id uint32) []byte {
	key := make([]byte, len(keyPrefix)+4)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint32(key[len(keyPrefix):], id)
	return key
}

func (s *BadgerStore) Create(userID uint32, username string, version uint8, clientSession uint32) (uint32, error) {
	for range createAttempts {
		id, err := randomID()
		if err != nil {
			return 0, err
		}

		err = s.runUpdate(func(txn *badger.Txn) error {
			if existing, err := getSession(txn, id); err == nil && s.live(existing) {
				return errIDTaken
			} else if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			return putSession(txn, &Session{
				ID:            id,
				UserID:        userID,
				Username:      username,
				Version:       version,
				ClientSession: clientSession,
				State:         StateNegotiated,
				CreatedAt:     s.now(),
			})
		})
		if errors.Is(err, errIDTaken) {
			continue // redraw
		}
		if err != nil {
			return 0, fmt.Errorf("session: create: %w", err)
		}
		return id, nil
	}
	return 0, ErrBusy
}

func (s *BadgerStore) Get(id uint32) (*Session, error) {
	var sess *Session
	err := s.db.View(func(txn *badger.Txn) error {
		found, err := getSession(txn, id)
		if err != nil {
			return err
		}
		if !s.live(found) {
			return ErrNotFound
		}
		sess = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *BadgerStore) SetEphemeral(id uint32, eph Ephemeral) error {
	return s.update(id, func(sess *Session) error {
		if sess.State != StateNegotiated {
			return ErrConflict
		}
		sess.ClientEphemeral = eph.ClientEphemeral
		sess.ServerEphemeral = eph.ServerEphemeral
		sess.Secret = eph.Secret
		sess.ClientProof = eph.ClientProof
		sess.ServerProof = eph.ServerProof
		sess.State = StateEphemeralSent
		return nil
	})
}

func (s *BadgerStore) MarkProven(id uint32) error {
	return s.update(id, func(sess *Session) error {
		if sess.State != StateEphemeralSent {
			return ErrConflict
		}
		sess.State = StateProven
		return nil
	})
}

func (s *BadgerStore) Kill(id uint32) error {
	return s.runUpdate(func(txn *badger.Txn) error {
		sess, err := getSession(txn, id)
		if err != nil {
			return err
		}
		sess.State = StateDead
		return putSession(txn, sess)
	})
}

func (s *BadgerStore) Sweep() int {
	removed := 0
	_ = s.runUpdate(func(txn *badger.Txn) error {
		removed = 0
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var sess Session
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			})
			if err != nil || !s.live(&sess) {
				stale = append(stale, item.KeyCopy(nil))
			}
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed
}

func (s *BadgerStore) Count() int {
	n := 0
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var sess Session
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			})
			if err == nil && s.live(&sess) {
				n++
			}
		}
		return nil
	})
	return n
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// update applies fn to a live session inside one transaction.
func (s *BadgerStore) update(id uint32, fn func(*Session) error) error {
	return s.runUpdate(func(txn *badger.Txn) error {
		sess, err := getSession(txn, id)
		if err != nil {
			return err
		}
		if !s.live(sess) {
			return ErrNotFound
		}
		if err := fn(sess); err != nil {
			return err
		}
		return putSession(txn, sess)
	})
}

func (s *BadgerStore) live(sess *Session) bool {
	if sess.State == StateDead {
		return false
	}
	return s.now().Sub(sess.CreatedAt) <= s.ttl
}

func getSession(txn *badger.Txn, id uint32) (*Session, error) {
	item, err := txn.Get(sessionKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &sess)
	}); err != nil {
		return nil, err
	}
	return &sess, nil
}

func putSession(txn *badger.Txn, sess *Session) error {
	val, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return txn.Set(sessionKey(sess.ID), val)
}
