// Package pipeline models the four-stage value processing path a GC task runs
// over each live value: decode, adapt, compute, encode. Stage latencies are
// accounted, never slept.
package pipeline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/dray-io/blobgc/internal/logging"
)

var (
	// ErrMissingHeader is returned for values shorter than the length header.
	ErrMissingHeader = errors.New("pipeline: value missing length header")

	// ErrTruncatedValue is returned when the header declares more data than
	// the value carries.
	ErrTruncatedValue = errors.New("pipeline: value shorter than declared length")

	// ErrShortFragment is returned when decoding a truncated fragment.
	ErrShortFragment = errors.New("pipeline: short fragment")
)

const (
	// ValueHeaderSize is the big-endian uint32 data length prefix.
	ValueHeaderSize = 4

	// SmallValueThreshold is the value size below which data is padded to
	// one package of this size.
	SmallValueThreshold = 1024

	// LargeChunkSize is the split size for values at or above the threshold.
	LargeChunkSize = 4096
)

// Stage latencies.
const (
	DecodeLatency  = 5 * time.Millisecond
	AdaptLatency   = 4 * time.Millisecond
	ComputeLatency = 8 * time.Millisecond
	EncodeLatency  = 5 * time.Millisecond

	TotalLatency = DecodeLatency + AdaptLatency + ComputeLatency + EncodeLatency
)

// Result is the outcome of processing one value.
type Result struct {
	// Encoded is the fragment bytes.
	Encoded  []byte
	Checksum string
	// DataLen is the valid data length with padding stripped.
	DataLen int
	// Padded reports the small-value path; Chunks is the 4KiB split count
	// for the large-value path.
	Padded  bool
	Chunks  int
	Latency time.Duration
}

// Pipeline processes values into blob fragments.
type Pipeline struct {
	logger *logging.Logger
}

func New(logger *logging.Logger) *Pipeline {
	return &Pipeline{logger: logging.OrGlobal(logger)}
}

// Process runs value through all four stages for blobID.
func (p *Pipeline) Process(value []byte, blobID string) (Result, error) {
	var res Result

	data, err := decodeValue(value)
	if err != nil {
		return res, err
	}
	res.Latency += DecodeLatency

	adapted, chunks := adapt(data, len(value))
	res.Padded = chunks == 0
	res.Chunks = chunks
	res.Latency += AdaptLatency

	// Padding is never part of the valid data.
	valid := adapted[:len(data)]
	res.Checksum = Checksum(valid)
	res.DataLen = len(valid)
	res.Latency += ComputeLatency

	res.Encoded = EncodeFragment(Fragment{BlobID: blobID, Checksum: res.Checksum, Data: valid})
	res.Latency += EncodeLatency

	p.logger.Debugf("value processed", map[string]any{
		"blobId":    blobID,
		"size":      len(value),
		"padded":    res.Padded,
		"chunks":    res.Chunks,
		"checksum":  res.Checksum,
		"latencyMs": res.Latency.Milliseconds(),
	})
	return res, nil
}

// Checksum returns the CRC32 (IEEE) of data as 8 lowercase hex characters.
func Checksum(data []byte) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE(data))
}

func decodeValue(value []byte) ([]byte, error) {
	if len(value) < ValueHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMissingHeader, len(value))
	}
	n := binary.BigEndian.Uint32(value[:ValueHeaderSize])
	data := value[ValueHeaderSize:]
	if uint64(len(data)) < uint64(n) {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrTruncatedValue, n, len(data))
	}
	return data[:n], nil
}

// adapt pads small values to SmallValueThreshold and splits large values
// into LargeChunkSize pieces. It returns 0 chunks for the padded path.
func adapt(data []byte, valueSize int) ([]byte, int) {
	if valueSize < SmallValueThreshold {
		padded := make([]byte, SmallValueThreshold)
		copy(padded, data)
		return padded, 0
	}
	chunks := (len(data) + LargeChunkSize - 1) / LargeChunkSize
	out := make([]byte, 0, len(data))
	for off := 0; off < len(data); off += LargeChunkSize {
		end := min(off+LargeChunkSize, len(data))
		out = append(out, data[off:end]...)
	}
	return out, chunks
}

// NewValue builds a value with the big-endian length header.
func NewValue(data []byte) []byte {
	v := make([]byte, ValueHeaderSize+len(data))
	binary.BigEndian.PutUint32(v, uint32(len(data)))
	copy(v[ValueHeaderSize:], data)
	return v
}
