// Package record implements the fixed 24 byte Info Record used both between
// the aggregator and its sinks and as the on-disk storage format.
//
// Layout of a record:
//
//	bytes 0-7   timestamp, microseconds since the Unix epoch, little endian
//	byte  8     kind tag
//	bytes 9-23  kind dependent fixed-point payload, unused bytes zeroed
//
// There is no file header and no delimiter, the fixed size is the framing.
package record

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

const (
	Size        = 24
	PayloadSize = Size - payloadOffset

	kindOffset    = 8
	payloadOffset = 9
)

var (
	ErrUnknownKind = errors.New("unknown record kind")
	ErrShortRecord = errors.New("short record")
)

type Kind uint8

const (
	KindEngine   Kind = 0x01
	KindFuel     Kind = 0x02
	KindTemps    Kind = 0x03
	KindInertial Kind = 0x04
	KindGPS      Kind = 0x05
	KindPosition Kind = 0x06
	KindTimeSync Kind = 0x07
	KindDTC      Kind = 0x08
	KindMagnetic Kind = 0x09
	KindOBD      Kind = 0x0a
)

func (k Kind) String() string {
	if l, ok := defaultLayouts[k]; ok {
		return l.Name
	}
	return fmt.Sprintf("kind(0x%02x)", uint8(k))
}

type Record [Size]byte

func newRecord(kind Kind, stamp int64) Record {
	var r Record
	binary.LittleEndian.PutUint64(r[0:kindOffset], uint64(stamp))
	r[kindOffset] = byte(kind)
	return r
}

func (r Record) Stamp() int64 {
	return int64(binary.LittleEndian.Uint64(r[0:kindOffset]))
}

func (r Record) Kind() Kind {
	return Kind(r[kindOffset])
}

// Payload returns a copy of the 15 payload bytes.
func (r Record) Payload() []byte {
	p := make([]byte, PayloadSize)
	copy(p, r[payloadOffset:])
	return p
}

func (r Record) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, r[:])
	return b
}

// FromBytes copies the first Size bytes of b into a Record.
func FromBytes(b []byte) (Record, error) {
	var r Record
	if len(b) < Size {
		return r, errors.Wrapf(ErrShortRecord, "%d bytes", len(b))
	}
	copy(r[:], b[:Size])
	return r, nil
}

// Reader yields consecutive records from a stream.
type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns io.EOF at a clean end of stream and ErrShortRecord when the
// stream ends in the middle of a record, which happens after a power loss
// during a write.
func (rd *Reader) Next() (Record, error) {
	var r Record
	n, err := io.ReadFull(rd.r, r[:])
	switch err {
	case nil:
		return r, nil
	case io.ErrUnexpectedEOF:
		return r, errors.Wrapf(ErrShortRecord, "trailing %d bytes", n)
	default:
		return r, err
	}
}
