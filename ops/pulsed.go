package ops

import (
	"github.com/gomlx/opgraph/facts"
	"github.com/gomlx/opgraph/op"
)

// PulsedPassthrough pulsifies a streaming-safe typed operator -- one whose
// Eval touches each output position independently of its neighbors along
// the streaming axis, so pulsing it needs no extra buffered context: the
// pulsed fact mirrors whatever PulsedFactFromTyped computed for one pulse
// window, and AsTyped hands back the wrapped typed operator.
// PulsedPassthrough has no Eval method of its own.
type PulsedPassthrough struct {
	Typed op.TypedOp
	Fact  facts.PulsedFact
}

func (p *PulsedPassthrough) Name() string              { return p.Typed.Name() }
func (p *PulsedPassthrough) Validation() op.Validation { return p.Typed.Validation() }
func (p *PulsedPassthrough) Info() []string             { return p.Typed.Info() }

func (p *PulsedPassthrough) SameAs(other op.Op) bool {
	o, ok := other.(*PulsedPassthrough)
	return ok && o.Typed.SameAs(p.Typed)
}

func (p *PulsedPassthrough) PulsedOutputFacts([]facts.PulsedFact) ([]facts.PulsedFact, error) {
	return []facts.PulsedFact{p.Fact}, nil
}

func (p *PulsedPassthrough) AsTyped() op.TypedOp { return p.Typed }
