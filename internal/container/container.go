// Package container persists the canonical record model to a compact
// single-file container and restores it. The container is versioned
// and fails closed: an unknown version tag, a checksum mismatch, or an
// undecodable payload yields ErrContainerFormat and no partial model.
// Compression is an orthogonal encoding of the same logical bytes.
package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"

	"example.com/swathconv/internal/swath"
)

const (
	// Version is the container format revision this build reads and
	// writes. Readers reject any other value outright.
	Version = 1

	// Ext is the conventional container file extension.
	Ext = ".swc"

	headerSize   = 12
	flagCompress = 0x01
)

var magic = [4]byte{'S', 'W', 'C', '1'}

// ErrContainerFormat reports a container that cannot be trusted:
// wrong magic, unknown version, corrupt payload.
var ErrContainerFormat = errors.New("container format error")

// Sniff reports whether the leading bytes carry the container magic.
// It says nothing about integrity; Load still verifies the rest.
func Sniff(r io.ReaderAt) bool {
	lead := make([]byte, len(magic))
	if _, err := r.ReadAt(lead, 0); err != nil {
		return false
	}
	return bytes.Equal(lead, magic[:])
}

// Save writes the model to path atomically: the container appears
// complete and round-trip valid, or not at all. The stored metadata
// records whether compression was applied.
func Save(path string, m *swath.Model, compress bool) error {
	stored := *m
	stored.Meta.Compressed = compress
	payload, err := cbor.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	var flags byte
	if compress {
		flags |= flagCompress
		var buf bytes.Buffer
		zw, err := gzip.NewWriterLevel(&buf, 6)
		if err != nil {
			return err
		}
		if _, err := zw.Write(payload); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		payload = buf.Bytes()
	}

	header := make([]byte, headerSize)
	copy(header[0:4], magic[:])
	binary.LittleEndian.PutUint16(header[4:6], Version)
	header[6] = flags
	header[7] = 0
	binary.LittleEndian.PutUint32(header[8:12], crc32.ChecksumIEEE(payload))

	return writeAtomic(path, header, payload)
}

// Load reads a container and restores the model. Everything that could
// indicate corruption or an unreadable revision fails closed.
func Load(path string) (*swath.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes, smaller than header", ErrContainerFormat, len(data))
	}
	if !bytes.Equal(data[0:4], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrContainerFormat, data[0:4])
	}
	version := binary.LittleEndian.Uint16(data[4:6])
	if version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrContainerFormat, version)
	}
	flags := data[6]
	declaredCRC := binary.LittleEndian.Uint32(data[8:12])
	payload := data[headerSize:]
	if crc32.ChecksumIEEE(payload) != declaredCRC {
		return nil, fmt.Errorf("%w: payload checksum mismatch", ErrContainerFormat)
	}
	if flags&flagCompress != 0 {
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContainerFormat, err)
		}
		payload, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContainerFormat, err)
		}
		if err := zr.Close(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContainerFormat, err)
		}
	}
	var m swath.Model
	if err := cbor.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContainerFormat, err)
	}
	return &m, nil
}

// writeAtomic stages the container in the target directory and renames
// it into place, so an interrupted write never leaves a file that
// could be mistaken for a valid container.
func writeAtomic(path string, chunks ...[]byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".swc-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	for _, chunk := range chunks {
		if _, err := tmp.Write(chunk); err != nil {
			cleanup()
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
