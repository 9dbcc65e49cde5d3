package engine

import (
	"encoding/binary"

	"github.com/marcbinz/hlkv/hlog"
)

// align8 rounds n up to the next multiple of 8, per spec.md §3 ("Key
// bytes (aligned to 8)", "Value bytes (aligned to 8)").
func align8(n int) int { return (n + 7) &^ 7 }

// sizesHeaderLen is a Go-specific addition to the record layout spec.md
// §3 describes: two uint32 fields immediately after the 8-byte record
// header, carrying the exact (unaligned) key and value byte lengths.
// spec.md's 64-bit header has no room for them (its 13 reserved bits
// cannot hold two 32-bit lengths), but a key or value type is free to
// have a size that varies per record (kv/nexmark's strings, for
// instance), so something has to record where the key ends and the
// value begins without re-parsing either one. This is the one place the
// physical layout here is not byte-for-byte what spec.md §3 describes.
const sizesHeaderLen = 8

// recordSize returns the total byte footprint of a record: the 8-byte
// header, the 8-byte size pair, the key aligned to 8 bytes, and the
// value aligned to 8 bytes.
func recordSize(keySize, valueSize int) uint64 {
	return uint64(8 + sizesHeaderLen + align8(keySize) + align8(valueSize))
}

// recordLayout locates the key and value regions within a record's raw
// bytes, as returned by hlog.Log.Allocate/Get.
type recordLayout struct {
	raw []byte
}

func (r recordLayout) header() *hlog.AtomicHeader { return hlog.HeaderAt(r.raw) }

func (r recordLayout) keySize() int   { return int(binary.LittleEndian.Uint32(r.raw[8:12])) }
func (r recordLayout) valueSize() int { return int(binary.LittleEndian.Uint32(r.raw[12:16])) }

func (r recordLayout) keyBytes() []byte {
	ks := r.keySize()
	return r.raw[16 : 16+ks]
}

func (r recordLayout) valueBytes() []byte {
	ks, vs := r.keySize(), r.valueSize()
	start := 16 + align8(ks)
	return r.raw[start : start+vs]
}

// layoutAt wraps a record's raw bytes, as returned by hlog.Log.Get, once
// its header and sizes have already been written.
func layoutAt(raw []byte) recordLayout { return recordLayout{raw: raw} }

// writeRecord lays out a complete new record into raw (which must be
// exactly recordSize(keySize, valueSize) bytes), writes the size prefix
// and key/value bytes, and installs the header with the given previous
// back-pointer.
func writeRecord(raw []byte, previous hlog.Address, tombstone bool, encodeKey func([]byte), keySize int, encodeValue func([]byte), valueSize int) recordLayout {
	binary.LittleEndian.PutUint32(raw[8:12], uint32(keySize))
	binary.LittleEndian.PutUint32(raw[12:16], uint32(valueSize))
	layout := recordLayout{raw: raw}
	encodeKey(layout.keyBytes())
	if encodeValue != nil {
		encodeValue(layout.valueBytes())
	}
	layout.header().Store(hlog.NewRecordHeader(previous, tombstone))
	return layout
}
