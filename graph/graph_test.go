package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeOp string

func TestAddNodeRejectsForwardReference(t *testing.T) {
	m := New[int, fakeOp]()
	_, err := m.AddNode("bad", "op", []Outlet{{NodeID: 5}}, []int{0})
	require.Error(t, err)
}

func TestAddNodeTopological(t *testing.T) {
	m := New[int, fakeOp]()
	src, err := m.AddNode("src", "source", nil, []int{1})
	require.NoError(t, err)
	dbl, err := m.AddNode("double", "double", []Outlet{src.Outlet(0)}, []int{2})
	require.NoError(t, err)
	m.SetInputs(src.Outlet(0))
	m.SetOutputs(dbl.Outlet(0))

	require.Len(t, m.Nodes(), 2)
	fact, err := m.Fact(dbl.Outlet(0))
	require.NoError(t, err)
	require.Equal(t, 2, fact)
}

func TestPatchApplyGraftsAndShunts(t *testing.T) {
	base := New[int, fakeOp]()
	src, err := base.AddNode("src", "source", nil, []int{1})
	require.NoError(t, err)
	old, err := base.AddNode("old", "old", []Outlet{src.Outlet(0)}, []int{1})
	require.NoError(t, err)
	consumer, err := base.AddNode("consumer", "consumer", []Outlet{old.Outlet(0)}, []int{1})
	require.NoError(t, err)
	base.SetOutputs(consumer.Outlet(0))

	patch := NewPatch[int, fakeOp]()
	tap, err := patch.Tap("tap", src.Outlet(0), 1)
	require.NoError(t, err)
	replacement, err := patch.Interior.AddNode("new", "new", []Outlet{tap}, []int{1})
	require.NoError(t, err)
	patch.Shunt(old.Outlet(0), replacement.Outlet(0))

	result, err := patch.Apply(base)
	require.NoError(t, err)

	require.Len(t, result.Nodes(), 4) // src, old (kept, now unused), consumer, new
	consumerNode, err := result.Node(consumer.ID)
	require.NoError(t, err)
	require.NotEqual(t, old.Outlet(0), consumerNode.Inputs[0])

	// base is untouched.
	baseConsumer, err := base.Node(consumer.ID)
	require.NoError(t, err)
	require.Equal(t, old.Outlet(0), baseConsumer.Inputs[0])
}
