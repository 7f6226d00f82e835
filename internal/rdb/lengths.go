// Package rdb reads and writes the subset of the RDB snapshot format this
// server relies on: the header, AUX/SELECTDB/RESIZEDB/EXPIRETIME_MS/EOF
// opcodes, and length-prefixed string records with their five
// length-encoding variants.
package rdb

import (
	"encoding/binary"
	"fmt"
	"io"

	lzf "github.com/zhuyie/golzf"
)

// Length-encoding marker bits (top two bits of the first byte), matching
// the canonical reference RDB format.
const (
	len6Bit    = 0
	len14Bit   = 1
	lenEncoded = 3

	len32BitMarker = 0x80
	len64BitMarker = 0x81
)

// Special-integer/LZF sub-encodings used when the top two bits are `11`.
const (
	encInt8  = 0
	encInt16 = 1
	encInt32 = 2
	encLZF   = 3
)

// readLength reads a packed length field. If the field is a special
// encoding (top bits `11`), special is true and value carries the raw
// sub-encoding selector (0-3) rather than a length.
//
// The 14-bit and 32/64-bit variants are decoded big-endian: this
// resolves the spec's documented ambiguity by following the same
// convention real RDB files and reference parsers use, rather than the
// little-endian reading found in one early prototype of this loader.
func readLength(r io.Reader) (value uint64, special bool, err error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return 0, false, err
	}
	b0 := first[0]

	switch b0 >> 6 {
	case len6Bit:
		return uint64(b0 & 0x3F), false, nil

	case len14Bit:
		var next [1]byte
		if _, err := io.ReadFull(r, next[:]); err != nil {
			return 0, false, err
		}
		return (uint64(b0&0x3F) << 8) | uint64(next[0]), false, nil

	case 2:
		switch b0 {
		case len32BitMarker:
			var buf [4]byte
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return 0, false, err
			}
			return uint64(binary.BigEndian.Uint32(buf[:])), false, nil
		case len64BitMarker:
			var buf [8]byte
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return 0, false, err
			}
			return binary.BigEndian.Uint64(buf[:]), false, nil
		default:
			return 0, false, fmt.Errorf("rdb: invalid length marker 0x%02x", b0)
		}

	case lenEncoded:
		return uint64(b0 & 0x3F), true, nil

	default:
		return 0, false, fmt.Errorf("rdb: unreachable length marker 0x%02x", b0)
	}
}

// writeLength emits n using the smallest non-special encoding that fits,
// the exact inverse of readLength's non-special branches.
func writeLength(w io.Writer, n uint64) error {
	switch {
	case n < 64:
		_, err := w.Write([]byte{byte(n)})
		return err
	case n < 16384:
		b0 := byte(len14Bit<<6) | byte(n>>8)
		b1 := byte(n)
		_, err := w.Write([]byte{b0, b1})
		return err
	case n <= 0xFFFFFFFF:
		buf := make([]byte, 5)
		buf[0] = len32BitMarker
		binary.BigEndian.PutUint32(buf[1:], uint32(n))
		_, err := w.Write(buf)
		return err
	default:
		buf := make([]byte, 9)
		buf[0] = len64BitMarker
		binary.BigEndian.PutUint64(buf[1:], n)
		_, err := w.Write(buf)
		return err
	}
}

// readString reads a length-prefixed string, resolving integer and LZF
// special encodings (the fifth length-encoding variant, RDB_ENCVAL).
func readString(r io.Reader) ([]byte, error) {
	length, special, err := readLength(r)
	if err != nil {
		return nil, fmt.Errorf("rdb: read string length: %w", err)
	}
	if !special {
		if length == 0 {
			return []byte{}, nil
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("rdb: read string payload: %w", err)
		}
		return buf, nil
	}

	switch length {
	case encInt8:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf("%d", int8(b[0]))), nil
	case encInt16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf("%d", int16(binary.LittleEndian.Uint16(b[:])))), nil
	case encInt32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf("%d", int32(binary.LittleEndian.Uint32(b[:])))), nil
	case encLZF:
		return readLZFString(r)
	default:
		return nil, fmt.Errorf("rdb: unsupported special string encoding %d", length)
	}
}

// readLZFString decodes the [compressed_len][original_len][payload] LZF
// record shape via the golzf library.
func readLZFString(r io.Reader) ([]byte, error) {
	compressedLen, _, err := readLength(r)
	if err != nil {
		return nil, fmt.Errorf("rdb: read lzf compressed length: %w", err)
	}
	originalLen, _, err := readLength(r)
	if err != nil {
		return nil, fmt.Errorf("rdb: read lzf original length: %w", err)
	}
	compressed := make([]byte, compressedLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("rdb: read lzf payload: %w", err)
	}
	dst := make([]byte, originalLen)
	n, err := lzf.Decompress(compressed, dst)
	if err != nil {
		return nil, fmt.Errorf("rdb: lzf decompress: %w", err)
	}
	if uint64(n) != originalLen {
		return nil, fmt.Errorf("rdb: lzf decompressed length mismatch: want %d got %d", originalLen, n)
	}
	return dst, nil
}

// writeString emits a plain (non-special) length-prefixed string record.
func writeString(w io.Writer, s []byte) error {
	if err := writeLength(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := w.Write(s)
	return err
}
