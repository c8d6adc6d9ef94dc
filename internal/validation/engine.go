package validation

import (
	"math"
	"sort"

	"github.com/dray-io/blobgc/internal/blob"
	"github.com/dray-io/blobgc/internal/logging"
	"github.com/dray-io/blobgc/internal/metrics"
)

// Config configures the policy engine.
type Config struct {
	// Discount is the value-iteration discount factor.
	Discount float64
	// MaxSweeps caps the number of full value-iteration sweeps.
	MaxSweeps int
	// Epsilon stops iteration once a sweep changes no value by this much.
	Epsilon float64
	// BatchDelayMs is the delay stamped on records by BatchValidate.
	BatchDelayMs float64

	// Model overrides DefaultModel when non-nil.
	Model *Model

	Logger  *logging.Logger
	Metrics *metrics.ValidationMetrics
}

// DefaultConfig returns the reference solver settings.
func DefaultConfig() Config {
	return Config{
		Discount:     0.9,
		MaxSweeps:    50,
		Epsilon:      1e-4,
		BatchDelayMs: 0.4,
	}
}

// Engine holds a solved policy. Its tables are written once by NewEngine and
// only read afterwards, so it is safe for concurrent use.
type Engine struct {
	model        Model
	batchDelayMs float64
	values       [NumStates]float64
	policy       [NumStates]Action
	sweeps       int
	residual     float64
	logger       *logging.Logger
	metrics      *metrics.ValidationMetrics
}

// NewEngine builds the model and solves it.
func NewEngine(cfg Config) *Engine {
	if cfg.MaxSweeps <= 0 {
		cfg.MaxSweeps = DefaultConfig().MaxSweeps
	}
	model := DefaultModel()
	if cfg.Model != nil {
		model = *cfg.Model
	}
	e := &Engine{
		model:        model,
		batchDelayMs: cfg.BatchDelayMs,
		logger:       logging.OrGlobal(cfg.Logger),
		metrics:      cfg.Metrics,
	}
	e.solve(cfg.Discount, cfg.MaxSweeps, cfg.Epsilon)
	return e
}

// solve runs in-place value iteration: a state's update within a sweep sees
// the values already updated earlier in the same sweep.
func (e *Engine) solve(discount float64, maxSweeps int, epsilon float64) {
	for sweep := 1; sweep <= maxSweeps; sweep++ {
		delta := 0.0
		for i := 0; i < NumStates; i++ {
			s := StateAt(i)
			best, bestAction := math.Inf(-1), Actions[0]
			for _, a := range Actions {
				q := e.model.Reward(a) + discount*e.values[Next(s, a).Index()]
				if q > best {
					best, bestAction = q, a
				}
			}
			delta = math.Max(delta, math.Abs(best-e.values[i]))
			e.values[i] = best
			e.policy[i] = bestAction
		}
		e.sweeps, e.residual = sweep, delta
		if delta < epsilon {
			break
		}
	}

	e.metrics.RecordSolve(e.sweeps, e.residual)
	e.logger.Infof("validation policy solved", map[string]any{
		"sweeps":   e.sweeps,
		"residual": e.residual,
	})
}

// Sweeps returns how many sweeps the solver ran.
func (e *Engine) Sweeps() int {
	return e.sweeps
}

// Residual returns the last sweep's maximum value change.
func (e *Engine) Residual() float64 {
	return e.residual
}

// Value returns the solved value of s.
func (e *Engine) Value(s State) float64 {
	return e.values[s.Index()]
}

// Policy returns a copy of the action table indexed by State.Index.
func (e *Engine) Policy() [NumStates]Action {
	return e.policy
}

// OptimalAction returns the policy's action for the record's state.
func (e *Engine) OptimalAction(m blob.Meta) (Action, error) {
	s, err := StateOf(m)
	if err != nil {
		e.metrics.RecordOutOfDomain()
		return 0, err
	}
	a := e.policy[s.Index()]
	e.metrics.RecordDecision(a.String())
	e.logger.Debugf("validation action chosen", map[string]any{
		"key":    m.Key,
		"state":  s.Index(),
		"action": a.String(),
	})
	return a, nil
}

// BatchValidate returns the records sorted by key, each marked validated
// with the batched-validation delay. The input slice is not modified.
func (e *Engine) BatchValidate(metas []blob.Meta) []blob.Meta {
	out := make([]blob.Meta, len(metas))
	copy(out, metas)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	for i := range out {
		out[i].Validated = true
		out[i].DelayMs = e.batchDelayMs
	}
	e.metrics.RecordBatchValidated(len(out))
	return out
}
