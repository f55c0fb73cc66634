package vectorindex

import (
	"encoding/binary"
	"fmt"
)

// headerSize is the fixed on-disk header: magic, version, and the offset
// and size of each of the two regions that follow it. Fixed-width and
// padded to 64 bytes so the metadata region always starts at a predictable
// file offset regardless of version.
const headerSize = 64

var magic = [6]byte{'M', 'D', 'V', 'D', 'B', 0}

const formatVersion uint32 = 1

// header is the on-disk layout at the start of an index file:
//
//	offset  0..6   magic
//	offset  8..12  version (uint32)
//	offset 16..24  metadata region offset
//	offset 24..32  metadata region size
//	offset 32..40  hnsw region offset
//	offset 40..48  hnsw region size
//	offset 48..64  reserved, zero
type header struct {
	Version    uint32
	MetaOffset uint64
	MetaSize   uint64
	HNSWOffset uint64
	HNSWSize   uint64
}

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:6], magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.Version)
	binary.LittleEndian.PutUint64(buf[16:24], h.MetaOffset)
	binary.LittleEndian.PutUint64(buf[24:32], h.MetaSize)
	binary.LittleEndian.PutUint64(buf[32:40], h.HNSWOffset)
	binary.LittleEndian.PutUint64(buf[40:48], h.HNSWSize)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, fmt.Errorf("index header truncated: got %d bytes, want %d", len(buf), headerSize)
	}
	if string(buf[0:6]) != string(magic[:]) {
		return header{}, fmt.Errorf("index header has bad magic %q", buf[0:6])
	}
	h := header{
		Version:    binary.LittleEndian.Uint32(buf[8:12]),
		MetaOffset: binary.LittleEndian.Uint64(buf[16:24]),
		MetaSize:   binary.LittleEndian.Uint64(buf[24:32]),
		HNSWOffset: binary.LittleEndian.Uint64(buf[32:40]),
		HNSWSize:   binary.LittleEndian.Uint64(buf[40:48]),
	}
	if h.Version != formatVersion {
		return header{}, fmt.Errorf("unsupported index format version %d", h.Version)
	}
	return h, nil
}
