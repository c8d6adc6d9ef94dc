package pipeline

import (
	"encoding/binary"
	"fmt"
)

// Fragment layout sizes.
const (
	BlobIDSize   = 16
	ChecksumSize = 8
	LengthSize   = 4
	HeaderSize   = BlobIDSize + ChecksumSize + LengthSize
)

// Fragment is one encoded value as it is appended to a blob.
type Fragment struct {
	// BlobID is truncated or NUL-padded to 16 bytes on the wire.
	BlobID string
	// Checksum is the 8-character lowercase CRC32 hex.
	Checksum string
	Data     []byte
}

// EncodeFragment writes blobID(16) + checksum(8) + length(4, big-endian) + data.
func EncodeFragment(f Fragment) []byte {
	buf := make([]byte, HeaderSize+len(f.Data))
	copy(buf[:BlobIDSize], f.BlobID)
	copy(buf[BlobIDSize:BlobIDSize+ChecksumSize], f.Checksum)
	binary.BigEndian.PutUint32(buf[BlobIDSize+ChecksumSize:HeaderSize], uint32(len(f.Data)))
	copy(buf[HeaderSize:], f.Data)
	return buf
}

// DecodeFragment parses a fragment produced by EncodeFragment. Trailing NUL
// padding is stripped from the id and checksum fields.
func DecodeFragment(buf []byte) (Fragment, error) {
	if len(buf) < HeaderSize {
		return Fragment{}, fmt.Errorf("%w: fragment is %d bytes", ErrShortFragment, len(buf))
	}
	n := binary.BigEndian.Uint32(buf[BlobIDSize+ChecksumSize : HeaderSize])
	if uint64(len(buf)-HeaderSize) < uint64(n) {
		return Fragment{}, fmt.Errorf("%w: header declares %d data bytes, have %d", ErrShortFragment, n, len(buf)-HeaderSize)
	}
	return Fragment{
		BlobID:   trimNUL(buf[:BlobIDSize]),
		Checksum: trimNUL(buf[BlobIDSize : BlobIDSize+ChecksumSize]),
		Data:     append([]byte(nil), buf[HeaderSize:HeaderSize+int(n)]...),
	}, nil
}

func trimNUL(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}
