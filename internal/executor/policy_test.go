package executor

import (
	"testing"

	"github.com/dray-io/blobgc/internal/blob"
)

func TestProbabilisticBounds(t *testing.T) {
	never := NewProbabilistic(0, 1)
	always := NewProbabilistic(1.5, 1)
	for i := 0; i < 100; i++ {
		if never.ShouldInterrupt("t", i) {
			t.Fatalf("p=0 interrupted at chunk %d", i)
		}
		if !always.ShouldInterrupt("t", i) {
			t.Fatalf("p=1 skipped chunk %d", i)
		}
	}
}

func TestProbabilisticRate(t *testing.T) {
	p := NewProbabilistic(0.1, 99)
	hits := 0
	const n = 10000
	for i := 0; i < n; i++ {
		if p.ShouldInterrupt("t", i) {
			hits++
		}
	}
	if hits < 800 || hits > 1200 {
		t.Errorf("hits = %d, want about %d", hits, n/10)
	}
}

func TestScripted(t *testing.T) {
	s := AtChunks(3, 10)
	for chunk, want := range map[int]bool{0: false, 3: true, 9: false, 10: true} {
		if got := s.ShouldInterrupt("any", chunk); got != want {
			t.Errorf("chunk %d: got %v, want %v", chunk, got, want)
		}
	}
}

func TestGenerateBlobs(t *testing.T) {
	cfg := DefaultWorkload(4)
	cfg.Seed = 3
	blobs := GenerateBlobs(cfg)
	if len(blobs) != 40 {
		t.Fatalf("len = %d, want 40", len(blobs))
	}
	ids := make(map[string]bool)
	for i, b := range blobs {
		if b.ShardID != i/10 {
			t.Errorf("blob %d on shard %d, want %d", i, b.ShardID, i/10)
		}
		if b.Size != blob.DefaultSize {
			t.Errorf("size = %d", b.Size)
		}
		if b.ValueCount < 1000 || b.ValueCount > 5000 {
			t.Errorf("value count %d out of range", b.ValueCount)
		}
		// Recomputed from integer valid counts, so allow a little slack.
		if b.GarbageRatio < 0.29 || b.GarbageRatio > 0.81 {
			t.Errorf("garbage ratio %v out of range", b.GarbageRatio)
		}
		if err := b.Validate(); err != nil {
			t.Error(err)
		}
		if ids[b.ID] {
			t.Errorf("duplicate id %s", b.ID)
		}
		ids[b.ID] = true
	}

	again := GenerateBlobs(cfg)
	if again[5].ID != blobs[5].ID || again[5].GarbageRatio != blobs[5].GarbageRatio {
		t.Error("same seed produced a different workload")
	}
}
