// Package journal implements a small durable append-only log: encode a
// record, append it to a file, fsync before returning. It backs both
// the participant's prepared-transaction journal and the coordinator's
// decision log — the same durability primitive, used for two different
// record types via generics.
package journal

import (
	"encoding/gob"
	"io"
	"os"
	"sync"
)

// Journal is a durable, append-only sequence of records of type T.
type Journal[T any] struct {
	mu      sync.Mutex
	file    *os.File
	encoder *gob.Encoder
}

// Open opens (creating if necessary) the journal file at path for
// appending and replay.
func Open[T any](path string) (*Journal[T], error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &Journal[T]{
		file:    f,
		encoder: gob.NewEncoder(f),
	}, nil
}

// Append encodes record and fsyncs it before returning, so a crash
// immediately after Append never loses the record.
func (j *Journal[T]) Append(record T) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.encoder.Encode(record); err != nil {
		return err
	}
	return j.file.Sync()
}

// ReadAll replays every record in the journal, in append order.
func (j *Journal[T]) ReadAll() ([]T, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	defer j.file.Seek(0, io.SeekEnd)

	var records []T
	decoder := gob.NewDecoder(j.file)
	for {
		var rec T
		if err := decoder.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Truncate discards every record, used once a journal entry's outcome
// has been durably superseded elsewhere (e.g. the store itself) and the
// journal no longer needs to carry it.
func (j *Journal[T]) Truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Truncate(0); err != nil {
		return err
	}
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	j.encoder = gob.NewEncoder(j.file)
	return nil
}

func (j *Journal[T]) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
