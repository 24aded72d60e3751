// Package journal persists recently emitted decisions to a local BadgerDB
// so the decision ring survives a process restart. The journal is strictly
// an operator convenience: with no path configured the core stays memory-only.
package journal

import (
	"encoding/binary"
	"encoding/json"

	"ashare-quote-core/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// retainCount matches the in-memory decision ring capacity.
const retainCount = 1000

var keyPrefix = []byte("dec:")

// Journal is an append-only decision log with bounded retention.
type Journal struct {
	db      *badger.DB
	nextSeq uint64
}

// Open opens (or creates) the journal at path.
func Open(path string) (*Journal, error) {
	opts := badger.DefaultOptions(path)
	// Badger's own logging would drown ours; errors still surface from the API.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	j := &Journal{db: db}
	if err := j.loadNextSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// loadNextSeq scans for the highest existing sequence number.
func (j *Journal) loadNextSeq() error {
	return j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the prefix range end to land on the newest key.
		seek := append(append([]byte{}, keyPrefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seek)
		if it.ValidForPrefix(keyPrefix) {
			key := it.Item().Key()
			j.nextSeq = binary.BigEndian.Uint64(key[len(keyPrefix):]) + 1
		}
		return nil
	})
}

// Append records one decision and prunes entries beyond the retention window.
func (j *Journal) Append(d models.Decision) error {
	data, err := json.Marshal(&d)
	if err != nil {
		return err
	}

	seq := j.nextSeq
	j.nextSeq++

	return j.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(seqKey(seq), data); err != nil {
			return err
		}
		if seq >= retainCount {
			// Best effort: drop the entry that just fell out of the window.
			if err := txn.Delete(seqKey(seq - retainCount)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
}

// LoadRecent returns up to n most recent decisions, oldest first,
// ready to be replayed into the in-memory ring.
func (j *Journal) LoadRecent(n int) ([]models.Decision, error) {
	var out []models.Decision
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, keyPrefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		for it.Seek(seek); it.ValidForPrefix(keyPrefix) && len(out) < n; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var d models.Decision
				if err := json.Unmarshal(val, &d); err != nil {
					return err
				}
				out = append(out, d)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reverse to oldest-first replay order.
	for i, jj := 0, len(out)-1; i < jj; i, jj = i+1, jj-1 {
		out[i], out[jj] = out[jj], out[i]
	}
	return out, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seq)
	return key
}
