package changelog

import (
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/strombase/strom/internal/address"
)

// Key space:
//
//	c/<table>\x00<dataID>       -> cbor(Record), latest change per row
//	t/<time:be64><changeID>     -> row key suffix, ordering index
//	x/<changeID>                -> <time:be64> + row key suffix
//	r/<address>                 -> <time:be64><changeID>, per-remote cursor
const (
	prefixRow    = 'c'
	prefixSeq    = 't'
	prefixID     = 'x'
	prefixRemote = 'r'
)

// Log is the pebble-backed change log. All mutating operations are
// serialized internally; reads operate on consistent point lookups and
// bounded scans.
type Log struct {
	mu sync.Mutex
	db *pebble.DB
}

// Open opens (or creates) a change log at dirname. A nil fs uses the
// default filesystem; pass vfs.NewMem() for tests.
func Open(dirname string, fs vfs.FS) (*Log, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dirname, opts)
	if err != nil {
		return nil, errors.Wrap(err, "changelog: open store")
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error { return l.db.Close() }

// Append records a local mutation. The record's change id supersedes any
// previous change for the same data row.
func (l *Log) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.upsert(rec)
}

// Apply folds a remotely received record into the log. It is idempotent:
// a change id already present is a no-op, as is a record older than the
// row's current state. The first return reports whether the record was
// applied.
func (l *Log) Apply(rec Record) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.get(idKey(rec.ChangeID)); err == nil {
		return false, nil
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return false, err
	}
	current, err := l.get(rowKey(rec.Table, rec.DataID))
	if err == nil {
		var existing Record
		if err := cbor.Unmarshal(current, &existing); err != nil {
			return false, errors.Wrap(err, "changelog: decode existing row")
		}
		// The row already moved past this record.
		if !existing.Position().Before(rec.UpdatedAt, rec.ChangeID) {
			return false, nil
		}
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return false, err
	}
	return true, l.upsert(rec)
}

// ChangesSince returns the ids of every change strictly after the
// cursor, ordered by (updated-at, change-id).
func (l *Log) ChangesSince(c Cursor) ([]uuid.UUID, error) {
	lower := []byte{prefixSeq}
	if !c.IsZero() {
		// One past the cursor's own position; keys are fixed length so a
		// trailing zero byte is the immediate successor.
		lower = append(seqKey(c.Time, c.ChangeID), 0)
	}
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: []byte{prefixSeq + 1},
	})
	if err != nil {
		return nil, errors.Wrap(err, "changelog: open scan")
	}
	defer iter.Close()
	var ids []uuid.UUID
	for valid := iter.First(); valid; valid = iter.Next() {
		_, id, err := parseSeqKey(iter.Key())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, iter.Error()
}

// Fetch returns the current record for the data row that changeID
// belongs to. The second return is false when the id is unknown.
func (l *Log) Fetch(changeID uuid.UUID) (Record, bool, error) {
	val, err := l.get(idKey(changeID))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, false, nil
	} else if err != nil {
		return Record{}, false, err
	}
	if len(val) <= 8 {
		return Record{}, false, errors.New("changelog: corrupt id index entry")
	}
	row, err := l.get(append([]byte{prefixRow}, val[8:]...))
	if err != nil {
		return Record{}, false, errors.Wrap(err, "changelog: fetch row for change id")
	}
	var rec Record
	if err := cbor.Unmarshal(row, &rec); err != nil {
		return Record{}, false, errors.Wrap(err, "changelog: decode record")
	}
	return rec, true, nil
}

// Watermark returns the position of the newest change in the log, or the
// zero cursor when the log is empty.
func (l *Log) Watermark() (Cursor, error) {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{prefixSeq},
		UpperBound: []byte{prefixSeq + 1},
	})
	if err != nil {
		return Cursor{}, errors.Wrap(err, "changelog: open scan")
	}
	defer iter.Close()
	if !iter.Last() {
		return Cursor{}, iter.Error()
	}
	t, id, err := parseSeqKey(iter.Key())
	if err != nil {
		return Cursor{}, err
	}
	return Cursor{Time: t, ChangeID: id}, nil
}

// RemoteCursor returns the recorded catch-up cursor for the given remote,
// or the zero cursor when the remote has never completed an exchange.
func (l *Log) RemoteCursor(addr address.Address) (Cursor, error) {
	val, err := l.get(remoteKey(addr))
	if errors.Is(err, pebble.ErrNotFound) {
		return Cursor{}, nil
	} else if err != nil {
		return Cursor{}, err
	}
	if len(val) != 24 {
		return Cursor{}, errors.New("changelog: corrupt remote cursor")
	}
	var id uuid.UUID
	copy(id[:], val[8:])
	return Cursor{Time: int64(binary.BigEndian.Uint64(val)), ChangeID: id}, nil
}

// SetRemoteCursor records the catch-up cursor for the given remote.
func (l *Log) SetRemoteCursor(addr address.Address, c Cursor) error {
	val := make([]byte, 24)
	binary.BigEndian.PutUint64(val, uint64(c.Time))
	copy(val[8:], c.ChangeID[:])
	return errors.Wrap(
		l.db.Set(remoteKey(addr), val, pebble.Sync),
		"changelog: set remote cursor",
	)
}

// upsert must be called with the lock held.
func (l *Log) upsert(rec Record) error {
	row := rowKey(rec.Table, rec.DataID)
	batch := l.db.NewBatch()
	defer batch.Close()
	if current, err := l.get(row); err == nil {
		var existing Record
		if err := cbor.Unmarshal(current, &existing); err != nil {
			return errors.Wrap(err, "changelog: decode existing row")
		}
		if err := batch.Delete(seqKey(existing.UpdatedAt, existing.ChangeID), nil); err != nil {
			return err
		}
		if err := batch.Delete(idKey(existing.ChangeID), nil); err != nil {
			return err
		}
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	val, err := cbor.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "changelog: encode record")
	}
	if err := batch.Set(row, val, nil); err != nil {
		return err
	}
	if err := batch.Set(seqKey(rec.UpdatedAt, rec.ChangeID), row[1:], nil); err != nil {
		return err
	}
	idVal := make([]byte, 8+len(row)-1)
	binary.BigEndian.PutUint64(idVal, uint64(rec.UpdatedAt))
	copy(idVal[8:], row[1:])
	if err := batch.Set(idKey(rec.ChangeID), idVal, nil); err != nil {
		return err
	}
	return errors.Wrap(batch.Commit(pebble.Sync), "changelog: commit change")
}

func (l *Log) get(key []byte) ([]byte, error) {
	val, closer, err := l.db.Get(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, closer.Close()
}

func rowKey(table string, dataID uuid.UUID) []byte {
	key := make([]byte, 0, 2+len(table)+16)
	key = append(key, prefixRow)
	key = append(key, table...)
	key = append(key, 0)
	return append(key, dataID[:]...)
}

func seqKey(t int64, changeID uuid.UUID) []byte {
	key := make([]byte, 25)
	key[0] = prefixSeq
	binary.BigEndian.PutUint64(key[1:], uint64(t))
	copy(key[9:], changeID[:])
	return key
}

func parseSeqKey(key []byte) (int64, uuid.UUID, error) {
	if len(key) != 25 || key[0] != prefixSeq {
		return 0, uuid.Nil, errors.New("changelog: corrupt ordering key")
	}
	var id uuid.UUID
	copy(id[:], key[9:])
	return int64(binary.BigEndian.Uint64(key[1:])), id, nil
}

func idKey(changeID uuid.UUID) []byte {
	key := make([]byte, 17)
	key[0] = prefixID
	copy(key[1:], changeID[:])
	return key
}

func remoteKey(addr address.Address) []byte {
	return append([]byte{prefixRemote}, addr...)
}
