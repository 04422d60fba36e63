// Package store implements a participant's durable key-value store: an
// in-memory map backed by an append-only journal so that a batch of
// WRITE/DELETE operations either lands in full or not at all, even
// across a crash. The durable log records whole commit batches instead
// of one entry per key — that is what makes ApplyBatch atomic.
package store

import (
	"sync"

	"github.com/twopc/commit/domain"
	"github.com/twopc/commit/pkg/journal"
)

// Batch is the durable record of one commit: every WRITE/DELETE applied
// atomically. READ operations never appear here — they have no durable
// effect at commit.
type Batch struct {
	TxID  string
	Puts  map[string][]byte
	Dels  []string
}

// Store is a durable key-value mapping with atomic multi-key apply.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
	log  *journal.Journal[Batch]
}

// Open opens (or creates) the store's durable log at path and replays
// it into memory.
func Open(path string) (*Store, error) {
	log, err := journal.Open[Batch](path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		data: make(map[string][]byte),
		log:  log,
	}

	batches, err := log.ReadAll()
	if err != nil {
		return nil, err
	}
	for _, b := range batches {
		s.applyInMemory(b)
	}
	return s, nil
}

// Get returns the last committed value for key, or ok=false if absent.
// Reads bypass the lock table by design — there are no read locks.
func (s *Store) Get(key string) (value []byte, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	return v, ok
}

// ApplyBatch durably applies every WRITE/DELETE in ops as one atomic
// unit: the batch is journaled and fsynced before it is visible to
// Get, and a crash before the journal write lands leaves the prior
// state entirely intact.
func (s *Store) ApplyBatch(txID string, ops []domain.Operation) error {
	batch := Batch{TxID: txID, Puts: make(map[string][]byte)}
	for _, op := range ops {
		switch op.Kind {
		case domain.OpWrite:
			batch.Puts[op.Key] = op.Value
		case domain.OpDelete:
			batch.Dels = append(batch.Dels, op.Key)
		case domain.OpRead:
			// no durable effect
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.log.Append(batch); err != nil {
		return domain.WrapInternal(err, "failed to journal commit batch")
	}
	s.applyInMemoryLocked(batch)
	return nil
}

func (s *Store) applyInMemory(b Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyInMemoryLocked(b)
}

func (s *Store) applyInMemoryLocked(b Batch) {
	for k, v := range b.Puts {
		s.data[k] = v
	}
	for _, k := range b.Dels {
		delete(s.data, k)
	}
}

func (s *Store) Close() error {
	return s.log.Close()
}
