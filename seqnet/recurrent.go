package seq

import (
	"fmt"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// CellState is the state carried by one LSTM cell between forward calls.
// It is owned by exactly one cell of exactly one Net.
type CellState struct {
	H, C *tensor.Dense // (batch, hidden)
}

func zeroState(batch, hidden int) CellState {
	return CellState{
		H: tensor.New(tensor.Of(Float), tensor.WithShape(batch, hidden)),
		C: tensor.New(tensor.Of(Float), tensor.WithShape(batch, hidden)),
	}
}

// cell holds the graph side of an LSTM stage: the state inputs, the new state and where it is read to.
type cell struct {
	RecurrentPlan

	hx, cx     *G.Node
	hOut, cOut *G.Node
	hVal, cVal G.Value
}

// lstm builds one LSTM step with gates ordered i, f, g, o:
//	c' = σ(f)⊙c + σ(i)⊙tanh(g)
//	h' = σ(o)⊙tanh(c')
func (m *maebe) lstm(input *G.Node, l RecurrentPlan, batch, layer int) (c *cell) {
	if m.err != nil {
		return nil
	}
	g := input.Graph()
	c = &cell{RecurrentPlan: l}
	name := stageName(RecurrentStage, layer)
	c.hx = G.NewMatrix(g, Float, G.WithShape(batch, l.Hidden), G.WithName(name+"_h"))
	c.cx = G.NewMatrix(g, Float, G.WithShape(batch, l.Hidden), G.WithName(name+"_c"))

	gate := func(gname string, act func(*G.Node) (*G.Node, error)) *G.Node {
		xw := m.linear(input, l.In, l.Hidden, l.Bias, fmt.Sprintf("%s_%s_x", name, gname))
		uh := m.linear(c.hx, l.Hidden, l.Hidden, false, fmt.Sprintf("%s_%s_h", name, gname))
		pre := m.do(func() (*G.Node, error) { return G.Add(xw, uh) })
		return m.do(func() (*G.Node, error) { return act(pre) })
	}
	i := gate("i", G.Sigmoid)
	f := gate("f", G.Sigmoid)
	cand := gate("g", G.Tanh)
	o := gate("o", G.Sigmoid)

	kept := m.do(func() (*G.Node, error) { return G.HadamardProd(f, c.cx) })
	written := m.do(func() (*G.Node, error) { return G.HadamardProd(i, cand) })
	c.cOut = m.do(func() (*G.Node, error) { return G.Add(kept, written) })
	squashed := m.do(func() (*G.Node, error) { return G.Tanh(c.cOut) })
	c.hOut = m.do(func() (*G.Node, error) { return G.HadamardProd(o, squashed) })
	if m.err != nil {
		return nil
	}
	G.Read(c.hOut, &c.hVal)
	G.Read(c.cOut, &c.cVal)
	return c
}

// load binds the carried state to the cell's inputs.
func (c *cell) load(s CellState) error {
	if err := G.Let(c.hx, s.H); err != nil {
		return errors.WithStack(err)
	}
	if err := G.Let(c.cx, s.C); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// carry copies the state produced by the last run out of the machine's memory.
func (c *cell) carry() (retVal CellState, err error) {
	h, ok := c.hVal.(*tensor.Dense)
	if !ok {
		return retVal, errors.Errorf("hidden state of %v was not produced", c.hOut)
	}
	cs, ok := c.cVal.(*tensor.Dense)
	if !ok {
		return retVal, errors.Errorf("cell state of %v was not produced", c.cOut)
	}
	retVal.H = h.Clone().(*tensor.Dense)
	retVal.C = cs.Clone().(*tensor.Dense)
	return retVal, nil
}
