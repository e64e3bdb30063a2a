package diskmap

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/calvinalkan/diskmap/internal/mmapfile"
)

// record is a chain node read out of the secondary file into owned memory.
//
// On disk the layout is: hash(8) nextRecordPos(8) keyLen(4) key(keyLen)
// valLen(4) val(valLen), for a total size of 24+keyLen+valLen. Every field
// is written once at allocation except nextRecordPos, which is mutated in
// place by setNextRecordPos as chains are relinked.
type record struct {
	pos           int64
	hash          uint64
	nextRecordPos uint64
	key           []byte
	val           []byte
}

const (
	recHashOff   = 0
	recNextOff   = 8
	recKeyLenOff = 16
	recFixedSize = 20 // hash + next + keyLen, before the variable portion
)

// recordSize returns the on-disk size of a node with the given key/value
// lengths.
func recordSize(keyLen, valLen int) int64 {
	return int64(recFixedSize) + int64(keyLen) + 4 + int64(valLen)
}

// readRecord reads the node at pos into owned byte slices.
func readRecord(m *mmapfile.Mapper, pos int64) (record, error) {
	fixed, err := m.GetBytes(pos, recFixedSize)
	if err != nil {
		return record{}, fmt.Errorf("diskmap: read record header at %d: %w", pos, err)
	}

	hash := binary.LittleEndian.Uint64(fixed[recHashOff:])
	next := binary.LittleEndian.Uint64(fixed[recNextOff:])
	keyLen := binary.LittleEndian.Uint32(fixed[recKeyLenOff:])

	if int64(keyLen) > maxKeySizeBytes {
		return record{}, fmt.Errorf("%w: record at %d claims key length %d", ErrCorrupt, pos, keyLen)
	}

	key, err := m.GetBytes(pos+recFixedSize, int(keyLen))
	if err != nil {
		return record{}, fmt.Errorf("diskmap: read record key at %d: %w", pos, err)
	}

	valLenOff := pos + recFixedSize + int64(keyLen)

	valLenBuf, err := m.GetBytes(valLenOff, 4)
	if err != nil {
		return record{}, fmt.Errorf("diskmap: read record value length at %d: %w", pos, err)
	}

	valLen := binary.LittleEndian.Uint32(valLenBuf)
	if int64(valLen) > maxValueSizeBytes {
		return record{}, fmt.Errorf("%w: record at %d claims value length %d", ErrCorrupt, pos, valLen)
	}

	val, err := m.GetBytes(valLenOff+4, int(valLen))
	if err != nil {
		return record{}, fmt.Errorf("diskmap: read record value at %d: %w", pos, err)
	}

	return record{pos: pos, hash: hash, nextRecordPos: next, key: key, val: val}, nil
}

// writeRecord writes a brand-new node at pos. The caller must have already
// reserved recordSize(len(key), len(val)) bytes starting at pos.
func writeRecord(m *mmapfile.Mapper, pos int64, hash, next uint64, key, val []byte) error {
	buf := make([]byte, recordSize(len(key), len(val)))

	binary.LittleEndian.PutUint64(buf[recHashOff:], hash)
	binary.LittleEndian.PutUint64(buf[recNextOff:], next)
	binary.LittleEndian.PutUint32(buf[recKeyLenOff:], uint32(len(key)))
	copy(buf[recFixedSize:], key)
	binary.LittleEndian.PutUint32(buf[recFixedSize+len(key):], uint32(len(val)))
	copy(buf[recFixedSize+len(key)+4:], val)

	if err := m.PutBytes(pos, buf); err != nil {
		return fmt.Errorf("diskmap: write record at %d: %w", pos, err)
	}

	return nil
}

// setNextRecordPos overwrites the 8-byte next pointer of the node at pos.
func setNextRecordPos(m *mmapfile.Mapper, pos int64, next uint64) error {
	if err := m.PutLong(pos+recNextOff, next); err != nil {
		return fmt.Errorf("diskmap: relink record at %d: %w", pos, err)
	}

	return nil
}

// keyEquals reports whether the node matches hash and keyBytes. The hash
// comparison short-circuits the overwhelming majority of mismatches before
// the (more expensive) byte comparison.
func (r record) keyEquals(hash uint64, keyBytes []byte) bool {
	if r.hash != hash {
		return false
	}

	return bytes.Equal(r.key, keyBytes)
}
