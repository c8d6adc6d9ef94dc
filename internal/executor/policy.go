package executor

import (
	"math/rand/v2"
	"sync"
)

// InterruptPolicy decides whether a task is interrupted before finishing a
// chunk. Implementations must be safe for concurrent use.
type InterruptPolicy interface {
	ShouldInterrupt(taskID string, chunk int) bool
}

// Never is a policy that never interrupts.
type Never struct{}

func (Never) ShouldInterrupt(string, int) bool { return false }

// Probabilistic interrupts each chunk independently with probability P.
type Probabilistic struct {
	p float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewProbabilistic returns a seeded probabilistic policy. p is clamped to
// [0,1].
func NewProbabilistic(p float64, seed uint64) *Probabilistic {
	p = max(0, min(1, p))
	return &Probabilistic{p: p, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (pp *Probabilistic) ShouldInterrupt(string, int) bool {
	if pp.p == 0 {
		return false
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.rng.Float64() < pp.p
}

// Scripted interrupts every task at the listed chunk indices.
type Scripted struct {
	chunks map[int]struct{}
}

func AtChunks(chunks ...int) *Scripted {
	s := &Scripted{chunks: make(map[int]struct{}, len(chunks))}
	for _, c := range chunks {
		s.chunks[c] = struct{}{}
	}
	return s
}

func (s *Scripted) ShouldInterrupt(_ string, chunk int) bool {
	_, ok := s.chunks[chunk]
	return ok
}
