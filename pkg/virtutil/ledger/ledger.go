// Package ledger remembers which files have been loaded into which server
// so that an interrupted parallel load can be resumed without submitting
// any file twice.
package ledger

import (
	"bytes"
	"encoding/gob"
	"errors"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by Get for a file with no record.
var ErrNotFound = errors.New("no ledger record")

const keySeparator = '\x00'

// Record is stored per loaded file.
type Record struct {
	Size     int64
	LoadedAt time.Time
	Duration time.Duration
	RunID    string
}

func (r *Record) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Record) decode(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(r)
}

// Ledger is a badger-backed set of loaded files, partitioned by scope. A
// scope identifies the target server, for example "localhost:1111".
type Ledger struct {
	db *badger.DB
}

// DefaultPath is $XDG_DATA_HOME/virtutil/ledger.
func DefaultPath() string {
	return filepath.Join(xdg.DataHome, "virtutil", "ledger")
}

// Open opens or creates the ledger database in dir.
func Open(dir string) (*Ledger, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func key(scope, file string) []byte {
	return []byte(scope + string(keySeparator) + file)
}

func prefix(scope string) []byte {
	return []byte(scope + string(keySeparator))
}

// Mark records file as loaded in scope.
func (l *Ledger) Mark(scope, file string, rec Record) error {
	value, err := rec.encode()
	if err != nil {
		return err
	}
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(scope, file), value)
	})
}

// Get returns the record for file in scope.
func (l *Ledger) Get(scope, file string) (Record, error) {
	var rec Record
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(scope, file))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(rec.decode)
	})
	return rec, err
}

// Loaded returns every record in scope keyed by file path.
func (l *Ledger) Loaded(scope string) (map[string]Record, error) {
	out := map[string]Record{}
	p := prefix(scope)
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			var rec Record
			if err := item.Value(rec.decode); err != nil {
				return err
			}
			out[string(item.Key()[len(p):])] = rec
		}
		return nil
	})
	return out, err
}

// Forget removes every record in scope and returns how many were removed.
func (l *Ledger) Forget(scope string) (int, error) {
	p := prefix(scope)
	n := 0
	err := l.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}
