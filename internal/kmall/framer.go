// Package kmall frames and decodes the modern partitioned capture
// format. Every datagram is self-describing: a little-endian header
// declares the total byte length (repeated as a trailer word) and a
// four-character type tag, so the framer advances by exactly the
// declared length and never scans for a sentinel.
package kmall

import (
	"errors"
	"fmt"
	"io"

	"example.com/swathconv/internal/wire"
)

const (
	// HeaderSize is the fixed datagram header: length u32, type [4]byte,
	// version u8, system id u8, sounder id u16, time sec u32, time ns u32.
	HeaderSize = 20
	// TrailerSize is the repeated length word closing each datagram.
	TrailerSize = 4
	// MinRecordSize is an empty datagram: header plus trailer.
	MinRecordSize = HeaderSize + TrailerSize
)

var (
	// ErrTruncated reports a datagram whose declared length runs past
	// end of file. Framing cannot resynchronize past it.
	ErrTruncated = errors.New("datagram extends past end of file")
	// ErrBadHeader reports a header that cannot describe a datagram.
	ErrBadHeader = errors.New("invalid datagram header")
)

// Header is the fixed leading block of every datagram.
type Header struct {
	NumBytes  uint32
	Type      string
	Version   uint8
	SystemID  uint8
	SounderID uint16
	TimeSec   uint32
	TimeNanos uint32
}

// TimeUs returns the datagram timestamp in microseconds since epoch.
func (h Header) TimeUs() int64 {
	return int64(h.TimeSec)*1_000_000 + int64(h.TimeNanos)/1_000
}

// Record is one framed datagram: the parsed header plus the body bytes
// between header and trailer. TrailerOK reports whether the closing
// length word matched the header's declaration.
type Record struct {
	Header    Header
	Body      []byte
	Offset    int64
	TrailerOK bool
}

// Framer walks a capture as a sequence of datagrams. It advances
// monotonically; no record is framed twice.
type Framer struct {
	src    io.ReaderAt
	size   int64
	offset int64
}

func NewFramer(src io.ReaderAt, size int64) *Framer {
	return &Framer{src: src, size: size}
}

// Offset returns the byte position of the next unframed record.
func (f *Framer) Offset() int64 {
	return f.offset
}

// Next frames the following datagram. It returns io.EOF at a clean end
// of file and ErrTruncated when the declared length cannot be
// satisfied; either way framing stops and prior records stand.
func (f *Framer) Next() (Record, error) {
	if f.offset >= f.size {
		return Record{}, io.EOF
	}
	if f.offset+MinRecordSize > f.size {
		return Record{}, fmt.Errorf("%w: %d bytes at offset %d", ErrTruncated, f.size-f.offset, f.offset)
	}
	raw := make([]byte, HeaderSize)
	if _, err := f.src.ReadAt(raw, f.offset); err != nil {
		return Record{}, err
	}
	hdr, err := parseHeader(raw)
	if err != nil {
		return Record{}, err
	}
	total := int64(hdr.NumBytes)
	if total < MinRecordSize {
		return Record{}, fmt.Errorf("%w: declared length %d below minimum %d at offset %d", ErrBadHeader, total, MinRecordSize, f.offset)
	}
	if f.offset+total > f.size {
		return Record{}, fmt.Errorf("%w: declared length %d at offset %d, %d bytes remain", ErrTruncated, total, f.offset, f.size-f.offset)
	}

	body := make([]byte, total-MinRecordSize)
	if len(body) > 0 {
		if _, err := f.src.ReadAt(body, f.offset+HeaderSize); err != nil {
			return Record{}, err
		}
	}
	trailer := make([]byte, TrailerSize)
	if _, err := f.src.ReadAt(trailer, f.offset+total-TrailerSize); err != nil {
		return Record{}, err
	}
	cur := wire.NewCursor(trailer)
	closing, _ := cur.Uint32()

	rec := Record{
		Header:    hdr,
		Body:      body,
		Offset:    f.offset,
		TrailerOK: closing == hdr.NumBytes,
	}
	f.offset += total
	return rec, nil
}

func parseHeader(raw []byte) (Header, error) {
	c := wire.NewCursor(raw)
	var hdr Header
	var err error
	if hdr.NumBytes, err = c.Uint32(); err != nil {
		return hdr, err
	}
	tag, err := c.Bytes(4)
	if err != nil {
		return hdr, err
	}
	if tag[0] != '#' {
		return hdr, fmt.Errorf("%w: type tag %q does not start with '#'", ErrBadHeader, tag)
	}
	hdr.Type = string(tag)
	if hdr.Version, err = c.Uint8(); err != nil {
		return hdr, err
	}
	if hdr.SystemID, err = c.Uint8(); err != nil {
		return hdr, err
	}
	if hdr.SounderID, err = c.Uint16(); err != nil {
		return hdr, err
	}
	if hdr.TimeSec, err = c.Uint32(); err != nil {
		return hdr, err
	}
	hdr.TimeNanos, err = c.Uint32()
	return hdr, err
}
