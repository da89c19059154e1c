package racekv

import (
	"encoding/binary"
	"fmt"
	"hash/crc64"
	"sync"
)

// crc64RedisTable is the CRC-64/REDIS (Jones) table, per spec §3. The stdlib
// table builder takes the bit-reversed polynomial, so the Jones polynomial
// 0xad93d23594c935a9 is passed in its reflected form.
var crc64RedisTable = sync.OnceValue(func() *crc64.Table {
	return crc64.MakeTable(0x95ac9329ac4bc9b5)
})

// crc64Redis computes CRC-64/REDIS (initial value 0, no final xor). The
// stdlib Update inverts the CRC on entry and on exit; both inversions are
// cancelled here.
func crc64Redis(p []byte) uint64 {
	return ^crc64.Update(^uint64(0), crc64RedisTable(), p)
}

// kvBlock is the length-prefixed, immutable record backing a non-empty
// slot: {klen: u16, vlen: u16, crc64: u64} followed by klen+vlen bytes.
//
// encodeKVBlock/decodeKVBlock are the only places that touch this layout;
// everything else in the package operates on (key, value) or on a raw
// encoded block plus its handle.
func encodeKVBlock(key, value []byte) ([]byte, error) {
	total := kvHeaderSize + len(key) + len(value)
	if total > maxKVTotalSize {
		return nil, fmt.Errorf("kv block %d bytes exceeds %d: %w", total, maxKVTotalSize, ErrInvalidInput)
	}

	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(key)))
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(value)))

	copy(buf[kvHeaderSize:], key)
	copy(buf[kvHeaderSize+len(key):], value)

	crc := crc64Redis(buf[kvHeaderSize:])
	binary.BigEndian.PutUint64(buf[4:12], crc)

	return buf, nil
}

// decodeKVBlock parses an encoded block and verifies its CRC. A CRC
// mismatch means the block is being concurrently rewritten underneath the
// reader (spec §4.5 step 3 / §7 crc-mismatch) and is reported via ok=false
// rather than an error, so callers can retry without allocating.
func decodeKVBlock(buf []byte) (key, value []byte, ok bool) {
	if len(buf) < kvHeaderSize {
		return nil, nil, false
	}

	klen := int(binary.BigEndian.Uint16(buf[0:2]))
	vlen := int(binary.BigEndian.Uint16(buf[2:4]))
	wantCRC := binary.BigEndian.Uint64(buf[4:12])

	if kvHeaderSize+klen+vlen != len(buf) {
		return nil, nil, false
	}

	gotCRC := crc64Redis(buf[kvHeaderSize:])
	if gotCRC != wantCRC {
		return nil, nil, false
	}

	key = make([]byte, klen)
	copy(key, buf[kvHeaderSize:kvHeaderSize+klen])

	value = make([]byte, vlen)
	copy(value, buf[kvHeaderSize+klen:])

	return key, value, true
}
