// Package peer implements the peer record and the bounded partial view
// maintained by the peer sampling service.
package peer

import (
	"math"

	"github.com/google/uuid"
	"github.com/strombase/strom/internal/address"
)

// Peer is a single entry in a node's partial view of the cluster. Identity
// is defined solely by Address; ID is an optional stable identifier that
// plays no role in equality, and Age counts the gossip rounds since the
// peer was last refreshed.
type Peer struct {
	ID      uuid.UUID       `cbor:"1,keyasint,omitempty"`
	Address address.Address `cbor:"2,keyasint"`
	Age     uint16          `cbor:"3,keyasint,omitempty"`
}

// New returns a fresh peer record for addr with age zero.
func New(addr address.Address) Peer { return Peer{Address: addr} }

// Equal reports whether p and other name the same peer. Two records with
// the same address are the same peer regardless of ID or Age.
func (p Peer) Equal(other Peer) bool { return p.Address == other.Address }

// IncrementAge bumps the peer's age by one, saturating at the maximum
// representable value rather than wrapping.
func (p *Peer) IncrementAge() {
	if p.Age < math.MaxUint16 {
		p.Age++
	}
}
