package rdb

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"

	"redis-server/internal/store"
)

const rdbVersion = "0011"

// Save serializes s to path in the §4.4 byte format, the exact inverse of
// Load, plus the documented stream extension.
func Save(path string, s *store.Store) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("rdb: create %s: %w", tmp, err)
	}
	if err := WriteTo(f, s); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// WriteTo serializes the store's contents to w.
func WriteTo(w io.Writer, s *store.Store) error {
	hw := &hashingWriter{w: w}

	if _, err := hw.Write([]byte("REDIS" + rdbVersion)); err != nil {
		return err
	}
	if err := writeAux(hw, "redis-ver", "7.4.0"); err != nil {
		return err
	}

	if err := writeOp(hw, opSelectDB); err != nil {
		return err
	}
	if err := writeLength(hw, 0); err != nil {
		return err
	}

	data := s.Data()
	if err := writeOp(hw, opResizeDB); err != nil {
		return err
	}
	if err := writeLength(hw, uint64(len(data))); err != nil {
		return err
	}
	expiring := 0
	for _, d := range data {
		if !d.ExpiresAt.IsZero() {
			expiring++
		}
	}
	if err := writeLength(hw, uint64(expiring)); err != nil {
		return err
	}

	for _, d := range data {
		if !d.ExpiresAt.IsZero() {
			if err := writeOp(hw, opExpireMS); err != nil {
				return err
			}
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], uint64(d.ExpiresAt.UnixMilli()))
			if _, err := hw.Write(buf[:]); err != nil {
				return err
			}
		}
		if err := writeOp(hw, valueTypeStr); err != nil {
			return err
		}
		if err := writeString(hw, []byte(d.Key)); err != nil {
			return err
		}
		if err := writeString(hw, d.Value); err != nil {
			return err
		}
	}

	if blob := streamExtensionBlob(s); blob != "" {
		if err := writeAux(hw, streamAuxKey, blob); err != nil {
			return err
		}
	}

	if err := writeOp(hw, opEOF); err != nil {
		return err
	}
	sum := hw.Sum()
	var sumBuf [8]byte
	binary.LittleEndian.PutUint64(sumBuf[:], sum)
	_, err := w.Write(sumBuf[:])
	return err
}

func writeOp(w io.Writer, op byte) error {
	_, err := w.Write([]byte{op})
	return err
}

func writeAux(w io.Writer, key, value string) error {
	if err := writeOp(w, opAux); err != nil {
		return err
	}
	if err := writeString(w, []byte(key)); err != nil {
		return err
	}
	return writeString(w, []byte(value))
}

// streamExtensionBlob serializes every stream's entries into the
// documented "<key>\t<id>\t<field>=<value>,..." line format.
func streamExtensionBlob(s *store.Store) string {
	var b strings.Builder
	for _, key := range s.StreamKeys() {
		entries := s.StreamRange(key, store.MinID, store.MaxID)
		for _, e := range entries {
			fieldParts := make([]string, len(e.Fields))
			for i, f := range e.Fields {
				fieldParts[i] = f.Field + "=" + f.Value
			}
			b.WriteString(key)
			b.WriteByte('\t')
			b.WriteString(e.ID.String())
			b.WriteByte('\t')
			b.WriteString(strings.Join(fieldParts, ","))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// hashingWriter mirrors every write into a running xxhash digest, standing
// in for Redis's own CRC64 EOF checksum; the reader tolerates any 8 bytes
// there per spec.md §4.4, so this is a self-consistent choice rather than
// wire compatibility with real Redis checksums.
type hashingWriter struct {
	w      io.Writer
	digest xxhash.Digest
	inited bool
}

func (h *hashingWriter) Write(p []byte) (int, error) {
	if !h.inited {
		h.digest.Reset()
		h.inited = true
	}
	h.digest.Write(p)
	return h.w.Write(p)
}

func (h *hashingWriter) Sum() uint64 {
	return h.digest.Sum64()
}
