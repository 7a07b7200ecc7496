package graph

import "github.com/pkg/errors"

// Patch is a partial mini-model describing an atomic rewrite of a base
// model: its Interior nodes reference the base model only through Taps
// (placeholder interior nodes standing in for a base outlet), and its
// Shunts declare which existing consumers of a base outlet must be rewired
// to read from an interior outlet instead.
//
// Applying a patch grafts Interior's non-tap nodes into a fresh copy of the
// base model and rewires every shunted consumer in one atomic step -- there
// is no way to observe a partially-applied patch.
type Patch[F any, O any] struct {
	Interior *Model[F, O]
	// taps maps an interior node id (a placeholder, zero-input node created
	// by Tap) to the base-model outlet it stands in for.
	taps map[int]Outlet
	// Shunts maps a base-model outlet to the interior outlet that should
	// replace it for every existing consumer in the base model.
	Shunts map[Outlet]Outlet
}

// NewPatch returns an empty patch with a fresh interior model.
func NewPatch[F any, O any]() *Patch[F, O] {
	return &Patch[F, O]{
		Interior: New[F, O](),
		taps:     map[int]Outlet{},
		Shunts:   map[Outlet]Outlet{},
	}
}

// Tap creates a placeholder node inside the patch's interior standing in for
// the given base-model outlet: other interior nodes may take its outlet
// (slot 0) as an input exactly as if it were a real node, but at Apply time
// no node is actually grafted for it -- references resolve straight through
// to the base outlet.
func (p *Patch[F, O]) Tap(name string, base Outlet, fact F) (Outlet, error) {
	n, err := p.Interior.AddNode(name, zeroOp[O](), nil, []F{fact})
	if err != nil {
		return Outlet{}, err
	}
	p.taps[n.ID] = base
	return n.Outlet(0), nil
}

// Shunt declares that every existing consumer of the base outlet must be
// rewired, after Apply, to read from the given interior outlet instead.
func (p *Patch[F, O]) Shunt(base Outlet, interior Outlet) {
	p.Shunts[base] = interior
}

func zeroOp[O any]() O {
	var zero O
	return zero
}

// Apply grafts the patch onto base, returning a new model with the
// interior's non-tap nodes appended and every shunted consumer rewired. base
// itself is not modified.
func (p *Patch[F, O]) Apply(base *Model[F, O]) (*Model[F, O], error) {
	result := base.Clone()

	// resolved maps an interior node id to the outlet it resolves to in the
	// result model: either a tap's underlying base outlet, or the outlet of
	// a freshly-appended node.
	resolved := make(map[int]Outlet, len(p.Interior.nodes))

	for _, n := range p.Interior.nodes {
		if baseOutlet, isTap := p.taps[n.ID]; isTap {
			resolved[n.ID] = baseOutlet
			continue
		}
		newInputs := make([]Outlet, len(n.Inputs))
		for i, in := range n.Inputs {
			r, ok := resolved[in.NodeID]
			if !ok {
				return nil, errors.Errorf("patch interior node %q references unresolved interior node id %d", n.Name, in.NodeID)
			}
			newInputs[i] = Outlet{NodeID: r.NodeID, Slot: in.Slot}
		}
		grafted, err := result.AddNode(n.Name, n.Op, newInputs, n.Outputs)
		if err != nil {
			return nil, errors.WithMessagef(err, "applying patch, grafting node %q", n.Name)
		}
		// Only NodeID matters here -- callers resolve the specific slot
		// themselves from the original interior outlet's Slot.
		resolved[n.ID] = grafted.Outlet(0)
	}

	// Rewire every consumer of a shunted base outlet.
	for baseOutlet, interiorOutlet := range p.Shunts {
		r, ok := resolved[interiorOutlet.NodeID]
		if !ok {
			return nil, errors.Errorf("patch shunts %s to an interior outlet that was never resolved", baseOutlet)
		}
		replacement := Outlet{NodeID: r.NodeID, Slot: interiorOutlet.Slot}
		for _, n := range result.nodes {
			for i, in := range n.Inputs {
				if in == baseOutlet {
					n.Inputs[i] = replacement
				}
			}
		}
		for i, o := range result.outputs {
			if o == baseOutlet {
				result.outputs[i] = replacement
			}
		}
	}

	return result, nil
}
