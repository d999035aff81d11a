package wire

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/fxamacker/cbor/v2"
)

// ErrSerialization marks encode or decode failures. Serialization errors
// are fatal for the specific message and must never propagate as a
// process fault.
var ErrSerialization = errors.New("wire: serialization failure")

// MaxFrameSize bounds a single decoded frame. Frames beyond it are
// rejected before allocation so a hostile peer cannot force unbounded
// buffering.
const MaxFrameSize = 64 << 20

const lenPrefixSize = 4

// Encode serializes the envelope into a single length-prefixed frame.
func Encode(e Envelope) ([]byte, error) {
	if e.Variant() == VariantInvalid {
		return nil, errors.Mark(errors.New("wire: envelope has no valid body"), ErrSerialization)
	}
	body, err := cbor.Marshal(e)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "wire: encode envelope"), ErrSerialization)
	}
	frame := make([]byte, lenPrefixSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[lenPrefixSize:], body)
	return frame, nil
}

// Decode reads exactly one length-prefixed envelope from r.
func Decode(r io.Reader) (Envelope, error) {
	var prefix [lenPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Envelope{}, errors.Wrap(err, "wire: read frame prefix")
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size == 0 || size > MaxFrameSize {
		return Envelope{}, errors.Mark(
			errors.Newf("wire: invalid frame size %d", size), ErrSerialization)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, errors.Wrap(err, "wire: read frame body")
	}
	var e Envelope
	if err := cbor.Unmarshal(body, &e); err != nil {
		return Envelope{}, errors.Mark(errors.Wrap(err, "wire: decode envelope"), ErrSerialization)
	}
	if e.Variant() == VariantInvalid {
		return Envelope{}, errors.Mark(errors.New("wire: envelope has no valid body"), ErrSerialization)
	}
	return e, nil
}
