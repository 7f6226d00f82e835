package rdb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"redis-server/internal/logger"
	"redis-server/internal/store"
)

const (
	opAux        = 0xFA
	opSelectDB   = 0xFE
	opResizeDB   = 0xFB
	opExpireMS   = 0xFC
	opEOF        = 0xFF
	valueTypeStr = 0

	// streamAuxKey is a reserved AUX key this server's own writer uses to
	// persist stream entries; see Load's stream extension below.
	streamAuxKey = "rdbx-stream-entries"
)

// Load reads an RDB file at path into store s. A missing file is treated
// as an empty store, per spec.md §4.4's "tolerant" reader contract;
// Startup-kind errors are returned for anything else so the caller can
// decide whether to exit or proceed empty.
func Load(path string, s *store.Store) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		logger.Info("rdb: no snapshot at %s, starting with an empty store", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("rdb: open %s: %w", path, err)
	}
	defer f.Close()
	return LoadFrom(bufio.NewReader(f), s)
}

// LoadFrom parses an RDB byte stream into s.
func LoadFrom(r io.Reader, s *store.Store) error {
	var magic [9]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return fmt.Errorf("rdb: read header: %w", err)
	}
	if string(magic[:5]) != "REDIS" {
		return fmt.Errorf("rdb: bad magic %q", magic[:5])
	}

	var opByte [1]byte
	var pendingExpiry time.Time
	hasPendingExpiry := false

	for {
		if _, err := io.ReadFull(r, opByte[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("rdb: read opcode: %w", err)
		}

		switch opByte[0] {
		case opAux:
			key, err := readString(r)
			if err != nil {
				return fmt.Errorf("rdb: aux key: %w", err)
			}
			val, err := readString(r)
			if err != nil {
				return fmt.Errorf("rdb: aux value: %w", err)
			}
			if string(key) == streamAuxKey {
				loadStreamExtension(val, s)
			} else {
				logger.Debug("rdb: ignoring unknown AUX field %q", key)
			}

		case opSelectDB:
			if _, _, err := readLength(r); err != nil {
				return fmt.Errorf("rdb: selectdb: %w", err)
			}

		case opResizeDB:
			if _, _, err := readLength(r); err != nil {
				return fmt.Errorf("rdb: resizedb data table size: %w", err)
			}
			if _, _, err := readLength(r); err != nil {
				return fmt.Errorf("rdb: resizedb expiry table size: %w", err)
			}

		case opExpireMS:
			var buf [8]byte
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return fmt.Errorf("rdb: expiretime_ms: %w", err)
			}
			ms := binary.LittleEndian.Uint64(buf[:])
			pendingExpiry = time.UnixMilli(int64(ms))
			hasPendingExpiry = true

		case opEOF:
			var checksum [8]byte
			io.ReadFull(r, checksum[:]) // not verified, per spec.md §4.4
			return nil

		default:
			valueType := opByte[0]
			key, err := readString(r)
			if err != nil {
				return fmt.Errorf("rdb: key: %w", err)
			}
			if valueType != valueTypeStr {
				return fmt.Errorf("rdb: unsupported value type %d for key %q", valueType, key)
			}
			val, err := readString(r)
			if err != nil {
				return fmt.Errorf("rdb: value: %w", err)
			}

			if hasPendingExpiry {
				if time.Now().Before(pendingExpiry) {
					s.SetAt(string(key), val, pendingExpiry)
				}
				hasPendingExpiry = false
			} else {
				s.Set(string(key), val, 0)
			}
		}
	}
}

// loadStreamExtension decodes the documented stream-persistence extension:
// one line per entry, "<streamKey>\t<id>\t<field>=<value>,<field>=<value>".
// This is an internally-consistent addition since spec.md's RDB subset
// has no native stream encoding; see DESIGN.md.
func loadStreamExtension(blob []byte, s *store.Store) {
	for _, line := range strings.Split(string(blob), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			logger.Debug("rdb: skipping malformed stream extension line %q", line)
			continue
		}
		streamKey, id, fieldsStr := parts[0], parts[1], parts[2]

		var fields []store.Field
		if fieldsStr != "" {
			for _, kv := range strings.Split(fieldsStr, ",") {
				fv := strings.SplitN(kv, "=", 2)
				if len(fv) != 2 {
					continue
				}
				fields = append(fields, store.Field{Field: fv[0], Value: fv[1]})
			}
		}
		if _, err := s.StreamAppend(streamKey, id, fields); err != nil {
			logger.Debug("rdb: skipping stream entry %s/%s: %v", streamKey, id, err)
		}
	}
}
