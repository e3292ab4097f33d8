// Package allfmt frames and decodes the legacy sequential capture
// format. Records are length-prefixed like the modern format but carry
// an STX-led header with the sounder model and a date/time pair, and
// close with an ETX byte plus a 16-bit byte-sum checksum over
// everything between STX and ETX.
package allfmt

import (
	"errors"
	"fmt"
	"io"
	"time"

	"example.com/swathconv/internal/wire"
)

const (
	stx = 0x02
	etx = 0x03

	// headerSize covers STX through the serial word.
	headerSize = 16
	// trailerSize covers ETX plus the checksum word.
	trailerSize = 3
	// MinRecordSize is the smallest framable record: the length word is
	// not counted by itself, so this is length word + header + trailer.
	MinRecordSize = 4 + headerSize + trailerSize
)

var (
	// ErrTruncated reports a record whose declared length runs past end
	// of file; framing stops.
	ErrTruncated = errors.New("record extends past end of file")
	// ErrBadHeader reports a record that does not open with STX.
	ErrBadHeader = errors.New("invalid record header")
)

// Header is the fixed record header following the length word.
type Header struct {
	NumBytes uint32 // bytes following the length word
	TypeID   uint8
	Model    uint16
	Date     uint32 // YYYYMMDD
	TimeMs   uint32 // milliseconds since midnight
	Counter  uint16
	Serial   uint16
}

// TimeUs converts the recorded date and time-of-day to microseconds
// since epoch. An undecodable date yields zero rather than an error;
// identity collisions are then still broken by the counter.
func (h Header) TimeUs() int64 {
	year := int(h.Date / 10_000)
	month := int(h.Date / 100 % 100)
	day := int(h.Date % 100)
	if year == 0 || month < 1 || month > 12 || day < 1 || day > 31 {
		return int64(h.TimeMs) * 1_000
	}
	midnight := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return midnight.UnixMicro() + int64(h.TimeMs)*1_000
}

// Record is one framed legacy record. ChecksumOK reports whether the
// trailer checksum matched the byte sum between STX and ETX.
type Record struct {
	Header     Header
	Body       []byte
	Offset     int64
	ChecksumOK bool
}

// Framer walks a legacy capture sequentially, advancing by each
// record's declared length.
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

// Next frames the following record. io.EOF signals a clean end of
// file; ErrTruncated signals a declared length past end of file.
func (f *Framer) Next() (Record, error) {
	if f.offset >= f.size {
		return Record{}, io.EOF
	}
	if f.offset+MinRecordSize > f.size {
		return Record{}, fmt.Errorf("%w: %d bytes at offset %d", ErrTruncated, f.size-f.offset, f.offset)
	}
	lenWord := make([]byte, 4)
	if _, err := f.src.ReadAt(lenWord, f.offset); err != nil {
		return Record{}, err
	}
	numBytes := uint32(lenWord[0]) | uint32(lenWord[1])<<8 | uint32(lenWord[2])<<16 | uint32(lenWord[3])<<24
	total := int64(numBytes) + 4
	if total < MinRecordSize {
		return Record{}, fmt.Errorf("%w: declared length %d below minimum at offset %d", ErrBadHeader, numBytes, f.offset)
	}
	if f.offset+total > f.size {
		return Record{}, fmt.Errorf("%w: declared length %d at offset %d, %d bytes remain", ErrTruncated, numBytes, f.offset, f.size-f.offset)
	}

	raw := make([]byte, total-4)
	if _, err := f.src.ReadAt(raw, f.offset+4); err != nil {
		return Record{}, err
	}
	if raw[0] != stx {
		return Record{}, fmt.Errorf("%w: record at offset %d does not start with STX", ErrBadHeader, f.offset)
	}

	c := wire.NewCursor(raw[1:])
	hdr := Header{NumBytes: numBytes}
	hdr.TypeID, _ = c.Uint8()
	hdr.Model, _ = c.Uint16()
	hdr.Date, _ = c.Uint32()
	hdr.TimeMs, _ = c.Uint32()
	hdr.Counter, _ = c.Uint16()
	var err error
	if hdr.Serial, err = c.Uint16(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}

	trailer := raw[len(raw)-trailerSize:]
	body := raw[headerSize : len(raw)-trailerSize]
	checksumOK := false
	if trailer[0] == etx {
		declared := uint16(trailer[1]) | uint16(trailer[2])<<8
		checksumOK = declared == Checksum(raw[1:len(raw)-trailerSize])
	}

	rec := Record{
		Header:     hdr,
		Body:       body,
		Offset:     f.offset,
		ChecksumOK: checksumOK,
	}
	f.offset += total
	return rec, nil
}

// Checksum sums the bytes between STX and ETX, exclusive of both.
func Checksum(p []byte) uint16 {
	var sum uint16
	for _, b := range p {
		sum += uint16(b)
	}
	return sum
}
