package pipeline

import (
	"bytes"
	"errors"
	"hash/crc32"
	"testing"
	"time"

	"github.com/dray-io/blobgc/internal/logging"
)

func TestProcessSmallValue(t *testing.T) {
	p := New(logging.Discard())
	data := bytes.Repeat([]byte("test_value_"), 10)[:80]
	res, err := p.Process(NewValue(data), "blob-0001")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Padded || res.Chunks != 0 {
		t.Errorf("expected padded path, got padded=%v chunks=%d", res.Padded, res.Chunks)
	}
	if res.DataLen != 80 {
		t.Errorf("DataLen = %d, want 80", res.DataLen)
	}
	if res.Latency != 22*time.Millisecond {
		t.Errorf("Latency = %v, want 22ms", res.Latency)
	}
	if len(res.Encoded) != HeaderSize+80 {
		t.Errorf("encoded len = %d, want %d", len(res.Encoded), HeaderSize+80)
	}
	if res.Checksum != Checksum(data) {
		t.Errorf("checksum %s does not cover valid data only", res.Checksum)
	}

	frag, err := DecodeFragment(res.Encoded)
	if err != nil {
		t.Fatalf("DecodeFragment: %v", err)
	}
	if frag.BlobID != "blob-0001" || frag.Checksum != res.Checksum || !bytes.Equal(frag.Data, data) {
		t.Errorf("unexpected fragment %+v", frag)
	}
}

func TestProcessLargeValue(t *testing.T) {
	p := New(logging.Discard())
	data := bytes.Repeat([]byte{0xab}, 3*LargeChunkSize+10)
	res, err := p.Process(NewValue(data), "blob-large")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Padded {
		t.Error("large value must not be padded")
	}
	if res.Chunks != 4 {
		t.Errorf("Chunks = %d, want 4", res.Chunks)
	}
	if res.DataLen != len(data) {
		t.Errorf("DataLen = %d, want %d", res.DataLen, len(data))
	}
}

func TestProcessKeepsTrailingZeroBytes(t *testing.T) {
	p := New(logging.Discard())
	data := []byte{1, 2, 0, 0}
	res, err := p.Process(NewValue(data), "b")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.DataLen != 4 {
		t.Errorf("DataLen = %d, want 4", res.DataLen)
	}
}

func TestProcessErrors(t *testing.T) {
	p := New(logging.Discard())
	tests := []struct {
		name  string
		value []byte
		want  error
	}{
		{"empty", nil, ErrMissingHeader},
		{"short header", []byte{0, 0, 1}, ErrMissingHeader},
		{"truncated", []byte{0, 0, 0, 9, 'a'}, ErrTruncatedValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Process(tt.value, "b")
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestChecksumFormat(t *testing.T) {
	got := Checksum([]byte("hello"))
	if len(got) != ChecksumSize {
		t.Fatalf("checksum %q is not %d chars", got, ChecksumSize)
	}
	if got != "3610a686" {
		t.Errorf("Checksum(hello) = %s", got)
	}
	if crc32.ChecksumIEEE(nil) != 0 || Checksum(nil) != "00000000" {
		t.Error("empty checksum")
	}
}

func TestFragmentBlobIDTruncated(t *testing.T) {
	enc := EncodeFragment(Fragment{BlobID: "0123456789abcdefXYZ", Checksum: "deadbeef", Data: []byte("x")})
	frag, err := DecodeFragment(enc)
	if err != nil {
		t.Fatalf("DecodeFragment: %v", err)
	}
	if frag.BlobID != "0123456789abcdef" {
		t.Errorf("BlobID = %q", frag.BlobID)
	}

	if _, err := DecodeFragment(enc[:HeaderSize-1]); !errors.Is(err, ErrShortFragment) {
		t.Errorf("short header err = %v", err)
	}
	if _, err := DecodeFragment(enc[:HeaderSize]); !errors.Is(err, ErrShortFragment) {
		t.Errorf("missing data err = %v", err)
	}
}
