package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/execution-hub/contractsync/internal/domain/contract"
)

var (
	sessionsBucket = []byte("sessions")
	messagesBucket = []byte("messages")
)

// Gateway implements contract.Gateway on an embedded bbolt file. Sessions are
// stored as JSON; each session's messages live in a nested bucket keyed by a
// monotonically increasing sequence.
type Gateway struct {
	db *bolt.DB
}

// Open opens (or creates) the database file at path.
func Open(path string) (*Gateway, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(sessionsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(messagesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	return &Gateway{db: db}, nil
}

func (g *Gateway) Close() error {
	return g.db.Close()
}

func (g *Gateway) LoadSession(ctx context.Context, sessionID uuid.UUID) (*contract.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *contract.Session
	err := g.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(sessionsBucket).Get(sessionID[:])
		if data == nil {
			return nil
		}
		var s contract.Session
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode session %s: %w", sessionID, err)
		}
		if s.Devices == nil {
			s.Devices = []string{}
		}
		out = &s
		return nil
	})
	return out, err
}

func (g *Gateway) SaveSession(ctx context.Context, s *contract.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return g.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put(s.SessionID[:], data)
	})
}

func (g *Gateway) AppendMessage(ctx context.Context, sessionID uuid.UUID, m *contract.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := *m
	msg.SessionID = sessionID
	data, err := json.Marshal(&msg)
	if err != nil {
		return err
	}
	return g.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(messagesBucket).CreateBucketIfNotExists(sessionID[:])
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(seq), data)
	})
}

func (g *Gateway) LoadMessages(ctx context.Context, sessionID uuid.UUID) ([]*contract.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*contract.Message, 0)
	err := g.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket).Bucket(sessionID[:])
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var m contract.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, &m)
			return nil
		})
	})
	return out, err
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
