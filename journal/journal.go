// Package journal persists emitted engine events append-only so operators can
// audit or replay the escrow lifecycle. The journal is a best-effort sink:
// a write failure is logged by the caller, never propagated into the
// operation that produced the event.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"swapyard/core/events"
	"swapyard/core/types"
)

var eventsBucket = []byte("events")

// Entry is one journalled event with its assigned sequence number.
type Entry struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Journal is a bbolt-backed append-only event log implementing
// events.Emitter.
type Journal struct {
	db    *bolt.DB
	onErr func(error)
}

// Open creates or opens the journal file at the given path.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(eventsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// SetErrorFunc registers a callback invoked when an append fails. Emission
// stays fire-and-forget either way.
func (j *Journal) SetErrorFunc(fn func(error)) { j.onErr = fn }

// Close releases the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// Emit implements events.Emitter by appending the event to the log.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	if err := j.Append(evt); err != nil && j.onErr != nil {
		j.onErr(err)
	}
}

// Append records the event and assigns it the next sequence number.
func (j *Journal) Append(evt events.Event) error {
	record, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return fmt.Errorf("journal: event %q carries no payload", evt.EventType())
	}
	payload := record.Event()
	if payload == nil {
		return fmt.Errorf("journal: event %q carries no payload", evt.EventType())
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(eventsBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		entry := Entry{Sequence: seq, Type: payload.Type, Attributes: payload.Attributes}
		raw, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		return bucket.Put(key[:], raw)
	})
}

// Replay invokes fn for every journalled entry in sequence order, starting at
// the given sequence number. Iteration stops on the first error from fn.
func (j *Journal) Replay(from uint64, fn func(Entry) error) error {
	return j.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(eventsBucket).Cursor()
		var start [8]byte
		binary.BigEndian.PutUint64(start[:], from)
		for key, raw := cursor.Seek(start[:]); key != nil; key, raw = cursor.Next() {
			var entry Entry
			if err := json.Unmarshal(raw, &entry); err != nil {
				return err
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		return nil
	})
}
