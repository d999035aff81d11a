// Package changelog implements the node-local append-only record of
// database mutations that the change propagator reconciles across the
// cluster. The log keeps the latest change per data row, indexed in
// (updated-at, change-id) order so a peer's cursor can be answered with
// an ordered diff. Change ids are UUIDv7, giving a time-ordered logical
// clock that is unique across nodes.
package changelog

import (
	"bytes"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Kind is the mutation type recorded by a change.
type Kind uint8

const (
	Create Kind = iota + 1
	Update
	Delete
)

// Record is one immutable entry in the change log. UpdatedAt is unix
// microseconds; together with ChangeID it forms the record's logical
// position, the cursor unit used for catch-up across the cluster.
type Record struct {
	Kind      Kind      `cbor:"1,keyasint"`
	Table     string    `cbor:"2,keyasint"`
	DataID    uuid.UUID `cbor:"3,keyasint"`
	ChangeID  uuid.UUID `cbor:"4,keyasint"`
	UpdatedAt int64     `cbor:"5,keyasint"`
	Data      []byte    `cbor:"6,keyasint,omitempty"`
}

// New stamps a record for a local mutation with a fresh UUIDv7 change id
// and the current time.
func New(kind Kind, table string, dataID uuid.UUID, data []byte) (Record, error) {
	changeID, err := uuid.NewV7()
	if err != nil {
		return Record{}, errors.Wrap(err, "changelog: generate change id")
	}
	return Record{
		Kind:      kind,
		Table:     table,
		DataID:    dataID,
		ChangeID:  changeID,
		UpdatedAt: time.Now().UnixMicro(),
		Data:      data,
	}, nil
}

// Position returns the record's logical position as a cursor.
func (r Record) Position() Cursor { return Cursor{Time: r.UpdatedAt, ChangeID: r.ChangeID} }

// Time returns the record's update time.
func (r Record) Time() time.Time { return time.UnixMicro(r.UpdatedAt) }

// Cursor identifies a position in the cluster-wide change order:
// "everything at or before here is already known". The zero Cursor
// precedes every record.
type Cursor struct {
	Time     int64
	ChangeID uuid.UUID
}

// IsZero reports whether the cursor precedes the entire log.
func (c Cursor) IsZero() bool { return c.Time == 0 && c.ChangeID == uuid.Nil }

// Before reports whether the cursor sits strictly before the position
// (t, id). Ties on time break on the change id bytes.
func (c Cursor) Before(t int64, id uuid.UUID) bool {
	if c.Time != t {
		return c.Time < t
	}
	return bytes.Compare(c.ChangeID[:], id[:]) < 0
}
