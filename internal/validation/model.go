// Package validation decides when a metadata record is verified: before the
// write, at read time, or at merge time. The decision comes from a finite
// Markov decision process solved once by value iteration; lookups afterwards
// are table reads.
package validation

import (
	"errors"
	"fmt"
	"math"

	"github.com/dray-io/blobgc/internal/blob"
)

// ErrOutOfDomain is returned when a record's delay cannot be bucketed.
var ErrOutOfDomain = errors.New("validation: delay out of domain")

// Action is a validation timing.
type Action int

const (
	WriteBefore Action = iota
	ReadTime
	MergeTime
)

// Actions lists every action in enumeration order. Ties in the solver go to
// the earliest action in this list.
var Actions = [...]Action{WriteBefore, ReadTime, MergeTime}

func (a Action) String() string {
	switch a {
	case WriteBefore:
		return "Write-Before"
	case ReadTime:
		return "Read-Time"
	case MergeTime:
		return "Merge-Time"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// DelayBucket is a coarse delay range.
type DelayBucket int

const (
	// DelayLow covers delays up to and including 50ms.
	DelayLow DelayBucket = iota
	// DelayMid covers (50ms, 100ms].
	DelayMid
	// DelayHigh covers everything above 100ms.
	DelayHigh
)

const numBuckets = 3

// BucketFor maps a delay in milliseconds to its bucket.
func BucketFor(delayMs float64) (DelayBucket, error) {
	switch {
	case math.IsNaN(delayMs) || delayMs < 0:
		return 0, fmt.Errorf("%w: %v ms", ErrOutOfDomain, delayMs)
	case delayMs <= 50:
		return DelayLow, nil
	case delayMs <= 100:
		return DelayMid, nil
	default:
		return DelayHigh, nil
	}
}

// State is one point of the 12-state space.
type State struct {
	Type      blob.MetaType
	Validated bool
	Bucket    DelayBucket
}

// NumStates is |MetaType| x |validated| x |DelayBucket|.
const NumStates = 2 * 2 * numBuckets

// Index returns the state's position in enumeration order
// (type, then validated, then bucket).
func (s State) Index() int {
	v := 0
	if s.Validated {
		v = 1
	}
	return int(s.Type)*2*numBuckets + v*numBuckets + int(s.Bucket)
}

// StateAt is the inverse of Index.
func StateAt(i int) State {
	return State{
		Type:      blob.MetaType(i / (2 * numBuckets)),
		Validated: (i/numBuckets)%2 == 1,
		Bucket:    DelayBucket(i % numBuckets),
	}
}

// StateOf maps a metadata record to its state.
func StateOf(m blob.Meta) (State, error) {
	if m.Type != blob.MetaNormal && m.Type != blob.MetaGC {
		return State{}, fmt.Errorf("%w: meta type %v", ErrOutOfDomain, m.Type)
	}
	b, err := BucketFor(m.DelayMs)
	if err != nil {
		return State{}, err
	}
	return State{Type: m.Type, Validated: m.Validated, Bucket: b}, nil
}

// Model is the designer-supplied cost model. Transitions are fixed: every
// action validates, write-before raises the delay bucket, read-time keeps
// it, merge-time lowers it.
type Model struct {
	// DelayCostMs is the latency cost of each action.
	DelayCostMs [len(Actions)]float64
	// ErrorProb is the consistency-break probability of each action.
	ErrorProb [len(Actions)]float64

	DelayWeight float64
	ErrorWeight float64
}

// DefaultModel returns the reference cost model.
func DefaultModel() Model {
	return Model{
		DelayCostMs: [len(Actions)]float64{WriteBefore: 4.0, ReadTime: 1.0, MergeTime: 2.0},
		ErrorProb:   [len(Actions)]float64{WriteBefore: 0.0, ReadTime: 0.1, MergeTime: 0.05},
		DelayWeight: 0.6,
		ErrorWeight: 0.4,
	}
}

// Reward is the negated weighted cost of a. It does not depend on the state.
func (m Model) Reward(a Action) float64 {
	return -(m.DelayWeight*m.DelayCostMs[a] + m.ErrorWeight*m.ErrorProb[a])
}

// Next returns the deterministic successor of s under a.
func Next(s State, a Action) State {
	next := State{Type: s.Type, Validated: true, Bucket: s.Bucket}
	switch a {
	case WriteBefore:
		if next.Bucket < DelayHigh {
			next.Bucket++
		}
	case ReadTime:
	case MergeTime:
		if next.Bucket > DelayLow {
			next.Bucket--
		}
	}
	return next
}
