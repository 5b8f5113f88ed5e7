// Package outbox is a durable FIFO of opaque payloads backed by pebble.
// Entries survive process restarts and are removed only on explicit ack.
package outbox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// ErrFull is returned by Enqueue when the outbox holds capacity entries.
var ErrFull = errors.New("outbox: full")

var keyPrefix = []byte("outbox:")

// Entry is one queued payload. Seq orders entries in enqueue order.
type Entry struct {
	Seq     uint64
	Payload []byte
}

type Outbox struct {
	mu       sync.Mutex
	db       *pebble.DB
	capacity int
	next     uint64
	count    int
}

type options struct {
	fs vfs.FS
}

type Option func(*options)

// InMemory keeps all data in memory; used in tests and local mode.
func InMemory() Option {
	return func(o *options) { o.fs = vfs.NewMem() }
}

// Open opens or creates the outbox at path. An empty path implies InMemory.
func Open(path string, capacity int, opts ...Option) (*Outbox, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if path == "" && o.fs == nil {
		o.fs = vfs.NewMem()
		path = "outbox"
	}
	popts := &pebble.Options{}
	if o.fs != nil {
		popts.FS = o.fs
	} else if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("outbox: mkdir: %w", err)
	}
	if capacity <= 0 {
		capacity = 1000
	}

	db, err := pebble.Open(path, popts)
	if err != nil {
		return nil, fmt.Errorf("outbox: open: %w", err)
	}
	ob := &Outbox{db: db, capacity: capacity, next: 1}
	if err := ob.recover(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ob, nil
}

// recover rebuilds the in-memory count and next sequence from disk.
func (o *Outbox) recover() error {
	it, err := o.db.NewIter(prefixBounds())
	if err != nil {
		return fmt.Errorf("outbox: iter: %w", err)
	}
	defer it.Close()
	for ok := it.First(); ok; ok = it.Next() {
		o.count++
		if seq := decodeKey(it.Key()); seq >= o.next {
			o.next = seq + 1
		}
	}
	return it.Error()
}

func prefixBounds() *pebble.IterOptions {
	upper := append([]byte(nil), keyPrefix...)
	upper[len(upper)-1]++
	return &pebble.IterOptions{LowerBound: keyPrefix, UpperBound: upper}
}

func encodeKey(seq uint64) []byte {
	k := make([]byte, len(keyPrefix)+8)
	copy(k, keyPrefix)
	binary.BigEndian.PutUint64(k[len(keyPrefix):], seq)
	return k
}

func decodeKey(k []byte) uint64 {
	if len(k) != len(keyPrefix)+8 {
		return 0
	}
	return binary.BigEndian.Uint64(k[len(keyPrefix):])
}

// Enqueue appends payload and returns its sequence number.
func (o *Outbox) Enqueue(payload []byte) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.count >= o.capacity {
		return 0, ErrFull
	}
	seq := o.next
	if err := o.db.Set(encodeKey(seq), payload, pebble.Sync); err != nil {
		return 0, fmt.Errorf("outbox: set: %w", err)
	}
	o.next++
	o.count++
	return seq, nil
}

// Pending returns up to limit entries in enqueue order. limit <= 0 means all.
func (o *Outbox) Pending(limit int) ([]Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	it, err := o.db.NewIter(prefixBounds())
	if err != nil {
		return nil, fmt.Errorf("outbox: iter: %w", err)
	}
	defer it.Close()

	var out []Entry
	for ok := it.First(); ok; ok = it.Next() {
		v := it.Value()
		payload := make([]byte, len(v))
		copy(payload, v)
		out = append(out, Entry{Seq: decodeKey(it.Key()), Payload: payload})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, it.Error()
}

// Remove acks an entry. Removing an unknown seq is a no-op.
func (o *Outbox) Remove(seq uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := encodeKey(seq)
	_, closer, err := o.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("outbox: get: %w", err)
	}
	_ = closer.Close()
	if err := o.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("outbox: delete: %w", err)
	}
	o.count--
	return nil
}

// Len reports the number of pending entries.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

func (o *Outbox) Close() error {
	if o == nil || o.db == nil {
		return nil
	}
	return o.db.Close()
}
