// Package wire defines the envelope exchanged between gossip peers and
// its binary encoding. The envelope is a closed tagged union: exactly one
// of the Sampling, Header, or Content bodies is set. Encoding is CBOR
// with integer keys, framed by a four byte big-endian length prefix so
// that a connection is never delimited by its close.
package wire

import (
	"github.com/google/uuid"
	"github.com/strombase/strom/internal/address"
	"github.com/strombase/strom/internal/changelog"
	"github.com/strombase/strom/internal/peer"
)

// Kind tags a message within an exchange.
type Kind uint8

const (
	KindRequest Kind = iota + 1
	KindResponse
	// KindBroadcast marks unsolicited content pushed ahead of the
	// periodic anti-entropy cycle. Valid for Content only.
	KindBroadcast
)

// Variant identifies which body an Envelope carries.
type Variant uint8

const (
	VariantInvalid Variant = iota
	VariantSampling
	VariantHeader
	VariantContent
)

// Envelope is the single frame written per connection. From names the
// sender's gossip listen address so the receiver can reply over a fresh
// connection of its own.
type Envelope struct {
	From     address.Address `cbor:"1,keyasint"`
	Sampling *Sampling       `cbor:"2,keyasint,omitempty"`
	Header   *Header         `cbor:"3,keyasint,omitempty"`
	Content  *Content        `cbor:"4,keyasint,omitempty"`
}

// Variant returns the envelope's body tag, or VariantInvalid when zero or
// multiple bodies are set.
func (e Envelope) Variant() Variant {
	switch {
	case e.Sampling != nil && e.Header == nil && e.Content == nil:
		return VariantSampling
	case e.Header != nil && e.Sampling == nil && e.Content == nil:
		return VariantHeader
	case e.Content != nil && e.Sampling == nil && e.Header == nil:
		return VariantContent
	}
	return VariantInvalid
}

// Sampling carries a membership exchange. A Request with nil Peers
// solicits a response without offering a sample.
type Sampling struct {
	Kind  Kind        `cbor:"1,keyasint"`
	Peers []peer.Peer `cbor:"2,keyasint,omitempty"`
}

// Header negotiates the change diff before any payload moves. A Request
// carries the cursor below which the requester considers itself caught
// up; a Response lists the change ids the responder holds strictly after
// that cursor, in log order.
type Header struct {
	Kind         Kind        `cbor:"1,keyasint"`
	FromTime     int64       `cbor:"2,keyasint,omitempty"` // unix microseconds
	LastChangeID uuid.UUID   `cbor:"3,keyasint,omitempty"`
	ChangeIDs    []uuid.UUID `cbor:"4,keyasint,omitempty"`
}

// Cursor returns the request cursor carried by a Header request.
func (h Header) Cursor() changelog.Cursor {
	return changelog.Cursor{Time: h.FromTime, ChangeID: h.LastChangeID}
}

// Content transfers change payloads. A Request lists the wanted ids; a
// Response or Broadcast carries full records.
type Content struct {
	Kind      Kind               `cbor:"1,keyasint"`
	ChangeIDs []uuid.UUID        `cbor:"2,keyasint,omitempty"`
	Changes   []changelog.Record `cbor:"3,keyasint,omitempty"`
}
