// Package solver implements the inference-stage fixpoint solver: a small
// constraint engine that runs a set of rules -- equals, given, given2 --
// repeatedly over a collection of proxy variables until no rule can make
// further progress, or a contradiction is found.
//
// Each proxy variable (a node's dtype, rank, or one shape coordinate) starts
// unknown and is resolved at most once; once two variables are known to be
// equal, setting either one also sets the other. Because every variable can
// only move from unknown to known (never back), and there are finitely many
// of them, the fixpoint is reached in a bounded number of passes.
package solver

import (
	"github.com/gomlx/opgraph/datum"
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/shape"
	"github.com/pkg/errors"
)

// Cell is a single proxy variable, backed by live get/set closures over a
// fact's field rather than an internal snapshot: every Cell built against
// the same underlying field (e.g. two separate DTypeCell(f) calls) reads and
// writes through to that same field, so they stay consistent no matter how
// many independent call sites construct one.
type Cell[T comparable] struct {
	get func() (T, bool)
	set func(T)
}

// Get returns the cell's value and whether it is known.
func (c *Cell[T]) Get() (T, bool) {
	return c.get()
}

// Set resolves the cell to v. It is a no-op (no error) if the cell is
// already known to be v, and fails with a contradiction error if the cell is
// already known to be something else. Returns whether this call actually
// changed the cell's state.
func (c *Cell[T]) Set(v T) (bool, error) {
	cur, ok := c.get()
	if ok {
		if cur != v {
			return false, errors.Errorf("contradiction: already resolved to %v, cannot also resolve to %v", cur, v)
		}
		return false, nil
	}
	c.set(v)
	return true, nil
}

// DTypeCell returns a cell reading from and writing back to f.DType.
func DTypeCell(f *facts.InferenceFact) *Cell[datum.DType] {
	return &Cell[datum.DType]{
		get: func() (datum.DType, bool) {
			if f.DType == nil {
				return datum.Invalid, false
			}
			return *f.DType, true
		},
		set: func(v datum.DType) { f.DType = &v },
	}
}

// RankCell returns a cell reading from and writing back to f.Rank. Resolving
// the rank also grows f.Shape to the right length (with unknown entries) so
// that ShapeDimCell can subsequently be used on any axis.
func RankCell(f *facts.InferenceFact) *Cell[int] {
	return &Cell[int]{
		get: func() (int, bool) {
			if f.Rank == nil {
				return 0, false
			}
			return *f.Rank, true
		},
		set: func(v int) {
			f.Rank = &v
			if len(f.Shape) < v {
				grown := make([]*shape.TDim, v)
				copy(grown, f.Shape)
				f.Shape = grown
			}
		},
	}
}

// ShapeDimCell returns a cell reading from and writing back to f.Shape[axis].
// The caller must ensure f.Shape is already long enough (i.e. rank is known
// and at least axis+1), typically by nesting this inside a Given on the rank
// cell.
func ShapeDimCell(f *facts.InferenceFact, axis int) *Cell[shape.TDim] {
	return &Cell[shape.TDim]{
		get: func() (shape.TDim, bool) {
			if axis >= len(f.Shape) || f.Shape[axis] == nil {
				return shape.TDim{}, false
			}
			return *f.Shape[axis], true
		},
		set: func(v shape.TDim) {
			if axis >= len(f.Shape) {
				grown := make([]*shape.TDim, axis+1)
				copy(grown, f.Shape)
				f.Shape = grown
			}
			f.Shape[axis] = &v
		},
	}
}

// rule is one registered constraint. It is invoked on every pass until it
// reports done=true (satisfied, or permanently deferred is NOT a thing --
// equals rules simply report no progress and get retried next pass, which is
// harmless since they are idempotent).
type rule struct {
	// run attempts progress; returns whether it changed solver state, and
	// whether the rule is now fully discharged and should not run again.
	run func() (progress bool, done bool, err error)
}

// Solver accumulates equals/given/given2 rules and runs them to fixpoint.
type Solver struct {
	rules []rule
	// maxPasses bounds the fixpoint loop defensively; the lattice is finite
	// (each cell resolves at most once) so this is never expected to bind in
	// practice.
	maxPasses int
}

// New returns an empty solver.
func New() *Solver {
	return &Solver{maxPasses: 10000}
}

// Equals registers the constraint that a and b always hold the same value:
// whichever becomes known first propagates to the other; if both are known
// they must already agree.
func Equals[T comparable](s *Solver, a, b *Cell[T]) {
	s.rules = append(s.rules, rule{run: func() (bool, bool, error) {
		av, aok := a.Get()
		bv, bok := b.Get()
		switch {
		case aok && bok:
			if av != bv {
				return false, true, errors.Errorf("contradiction: %v != %v", av, bv)
			}
			return false, true, nil
		case aok && !bok:
			changed, err := b.Set(av)
			return changed, true, err
		case !aok && bok:
			changed, err := a.Set(bv)
			return changed, true, err
		default:
			return false, false, nil
		}
	}})
}

// EqualsConst registers the constraint that cell must equal the given
// constant value.
func EqualsConst[T comparable](s *Solver, c *Cell[T], v T) {
	s.rules = append(s.rules, rule{run: func() (bool, bool, error) {
		changed, err := c.Set(v)
		return changed, true, err
	}})
}

// Given registers a rule that fires action exactly once, as soon as c
// becomes known, passing the resolved value. action may itself register
// further rules on s (e.g. Given registering ShapeDimCell constraints once
// Rank is known) -- these are appended after the rules of the pass currently
// running and are picked up on the next pass of the same Run call.
func Given[T comparable](s *Solver, c *Cell[T], action func(s *Solver, v T) error) {
	s.rules = append(s.rules, rule{run: func() (bool, bool, error) {
		v, ok := c.Get()
		if !ok {
			return false, false, nil
		}
		if err := action(s, v); err != nil {
			return false, true, err
		}
		return true, true, nil
	}})
}

// Given2 is Given over a pair of cells: action fires once both are known.
func Given2[A, B comparable](s *Solver, a *Cell[A], b *Cell[B], action func(s *Solver, av A, bv B) error) {
	s.rules = append(s.rules, rule{run: func() (bool, bool, error) {
		av, aok := a.Get()
		bv, bok := b.Get()
		if !aok || !bok {
			return false, false, nil
		}
		if err := action(s, av, bv); err != nil {
			return false, true, err
		}
		return true, true, nil
	}})
}

// When registers a rule that fires action exactly once, as soon as ready
// reports true. Useful for constraints that depend on more than two cells
// (e.g. "once every axis of both shapes is known, compute the output
// shape"), which Given/Given2 cannot express directly.
func When(s *Solver, ready func() bool, action func(s *Solver) error) {
	s.rules = append(s.rules, rule{run: func() (bool, bool, error) {
		if !ready() {
			return false, false, nil
		}
		if err := action(s); err != nil {
			return false, true, err
		}
		return true, true, nil
	}})
}

// Run executes all registered rules to fixpoint: repeated passes until a
// full pass makes no progress, or a rule reports a contradiction. Rules that
// remain permanently unresolved (e.g. an Equals between two cells neither of
// which is ever otherwise constrained) are not an error -- they simply leave
// the corresponding facts unknown.
func (s *Solver) Run() error {
	for pass := 0; pass < s.maxPasses; pass++ {
		progressed := false
		live := s.rules[:0:0]
		registered := len(s.rules)
		for _, r := range s.rules[:registered] {
			changed, done, err := r.run()
			if err != nil {
				return errors.WithMessage(err, "inference solver")
			}
			if changed {
				progressed = true
			}
			if !done {
				live = append(live, r)
			}
		}
		// Keep the rules that actions registered during this pass.
		s.rules = append(live, s.rules[registered:]...)
		if len(s.rules) == 0 {
			return nil
		}
		if !progressed {
			return nil
		}
	}
	return errors.New("inference solver: exceeded maximum number of fixpoint passes")
}
