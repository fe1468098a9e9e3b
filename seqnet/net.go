package seq

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var Float = G.Float32

// graphKey identifies what a built graph can run. Graphs are static, so a
// different batch size or a different set of loss gates needs a new graph.
type graphKey struct {
	batch            int
	train            bool
	follow, undefine bool
}

// Net is the quaternion sequence network: convolution blocks, an optional
// global pool, LSTM cells, fully connected layers and a unit quaternion head.
//
// A Net is not safe for concurrent use. Parallel batches need their own Net (see Clone).
type Net struct {
	Config
	plan Plan

	key        graphKey
	g          *G.ExprGraph
	m          G.VM
	ops        []batchNormOp
	learnables G.Nodes
	testing    bool

	input    *G.Node
	output   *G.Node
	outValue G.Value
	cells    []*cell
	obj      *objective

	// recurrent state, owned by this Net
	batch  int
	states []CellState
}

// New returns a new, uninitialized *Net. The configuration is validated and
// shape inference is run, so a nil error means the chain is well formed.
func New(conf Config) (*Net, error) {
	plan, err := conf.Plan()
	if err != nil {
		return nil, err
	}
	return &Net{Config: conf, plan: plan}, nil
}

// Plan returns the resolved chain.
func (n *Net) Plan() Plan { return n.plan }

// Init creates the parameters of the network.
func (n *Net) Init() error {
	batch := n.batch
	if batch == 0 {
		batch = 1
	}
	return n.build(graphKey{batch: batch})
}

// InitHidden resets the state of every LSTM cell to zeros sized for batch.
// It must be called before the first Forward of every new sequence.
func (n *Net) InitHidden(batch int) error {
	if batch < 1 {
		return errors.Errorf("batch size must be positive, got %d", batch)
	}
	n.batch = batch
	n.states = make([]CellState, len(n.plan.Recurrent))
	for i, l := range n.plan.Recurrent {
		n.states[i] = zeroState(batch, l.Hidden)
	}
	return nil
}

// State returns the carried state of the given LSTM cell.
func (n *Net) State(layer int) CellState { return n.states[layer] }

// Forward runs the network on a (batch, features) input and returns the
// (batch, 4) unit quaternions. Every LSTM cell's state is advanced.
func (n *Net) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	if n.states == nil {
		return nil, errors.New("InitHidden must be called before Forward")
	}
	if err := n.ensure(graphKey{batch: n.batch}); err != nil {
		return nil, err
	}
	n.m.Reset()
	if err := n.letInput(x); err != nil {
		return nil, err
	}
	if err := n.run(); err != nil {
		return nil, err
	}
	return n.Output()
}

// Output returns a copy of the quaternions produced by the last Forward or training Step.
func (n *Net) Output() (*tensor.Dense, error) {
	out, ok := n.outValue.(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("output was not produced (%T)", n.outValue)
	}
	return out.Clone().(*tensor.Dense), nil
}

// run executes the loaded graph and carries the new state of every cell.
func (n *Net) run() error {
	for i, c := range n.cells {
		if err := c.load(n.states[i]); err != nil {
			return err
		}
	}
	if err := n.m.RunAll(); err != nil {
		return errors.WithStack(err)
	}
	for i, c := range n.cells {
		s, err := c.carry()
		if err != nil {
			return err
		}
		n.states[i] = s
	}
	return nil
}

func (n *Net) letInput(x *tensor.Dense) error {
	if x == nil {
		return errors.New("no input")
	}
	s := x.Shape()
	if len(s) < 2 {
		return errors.Errorf("expected a (batch, features) input, got %v", s)
	}
	if s[0] != n.batch {
		return shapeError("input batch", s[0], n.batch)
	}
	if per := s.TotalSize() / s[0]; per != n.plan.InputWidth() {
		return shapeError("input features", per, n.plan.InputWidth())
	}
	shaped := x.ShallowClone()
	if err := shaped.Reshape(n.input.Shape()...); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(G.Let(n.input, shaped))
}

// ensure makes sure the current graph can run key, rebuilding it if necessary.
func (n *Net) ensure(key graphKey) error {
	if n.g != nil && n.key == key {
		return nil
	}
	return n.build(key)
}

// build constructs the graph for key. Parameters of a previous graph are carried over by value.
func (n *Net) build(key graphKey) error {
	old := n.learnables
	if err := n.closeMachine(); err != nil {
		return err
	}

	g := G.NewGraph()
	m := maebe{init: n.WeightInit}

	shape := append([]int{key.batch}, n.plan.Input...)
	input := G.NewTensor(g, Float, len(shape), G.WithShape(shape...), G.WithName("Input"))

	out := input
	for i, l := range n.plan.Conv {
		out = m.conv(out, l, stageName(ConvStage, i))
		if n.CNN.BatchNorm {
			out = m.batchnorm(out, stageName(ConvStage, i))
		}
		out = m.activate(out, n.CNN.Activation)
		if l.Pooling != nil {
			out = m.maxpool(out, *l.Pooling)
		}
	}
	if len(n.plan.Conv) > 0 {
		if n.plan.GAP {
			out = m.gap(out)
		}
		out = m.reshape(out, tensor.Shape{key.batch, n.plan.Flattened})
	}

	var cells []*cell
	for i, l := range n.plan.Recurrent {
		c := m.lstm(out, l, key.batch, i)
		if m.err != nil {
			return m.err
		}
		cells = append(cells, c)
		out = c.hOut
	}

	for i, l := range n.plan.FC {
		if l.DropOut > 0 && key.train {
			out = m.dropout(out, l.DropOut)
		}
		out = m.linear(out, l.In, l.Out, l.Bias, stageName(FCStage, i))
		if l.BatchNorm {
			// batch norm works on (N, C, H, W)
			out = m.reshape(out, tensor.Shape{key.batch, l.Out, 1, 1})
			out = m.batchnorm(out, stageName(FCStage, i))
			out = m.reshape(out, tensor.Shape{key.batch, l.Out})
		}
		if l.Activate {
			out = m.activate(out, l.Activation)
		}
	}
	out = m.normQuat(out)
	if m.err != nil {
		return m.err
	}

	n.key = graphKey{}
	n.g = g
	n.input = input
	n.output = out
	n.outValue = nil
	n.cells = cells
	n.ops = m.ops
	n.learnables = m.learnables
	G.Read(out, &n.outValue)

	if old != nil {
		if len(old) != len(n.learnables) {
			return errors.Errorf("cannot carry %d parameters into %d", len(old), len(n.learnables))
		}
		for i, p := range n.learnables {
			if err := G.Let(p, old[i].Value()); err != nil {
				return errors.Wrapf(err, "carrying %v", p.Name())
			}
		}
	}

	if key.train {
		if n.obj == nil {
			return errors.New("no objective to train")
		}
		if err := n.obj.build(n, key); err != nil {
			return err
		}
	}

	if n.testing {
		for _, op := range n.ops {
			op.SetTesting()
		}
	}

	if key.train {
		n.m = G.NewTapeMachine(g, G.BindDualValues(n.learnables...))
	} else {
		n.m = G.NewTapeMachine(g)
	}
	n.key = key
	return nil
}

// Model returns the learnable parameters in a stable order.
func (n *Net) Model() G.Nodes { return n.learnables }

// Params returns a copy of every learnable parameter, in the order of Model.
func (n *Net) Params() ([]*tensor.Dense, error) {
	retVal := make([]*tensor.Dense, 0, len(n.learnables))
	for _, p := range n.learnables {
		v, ok := p.Value().(*tensor.Dense)
		if !ok {
			return nil, errors.Errorf("parameter %v holds %T, not a *tensor.Dense", p.Name(), p.Value())
		}
		retVal = append(retVal, v.Clone().(*tensor.Dense))
	}
	return retVal, nil
}

// SetParams replaces every learnable parameter. The next run rebuilds its graph.
func (n *Net) SetParams(params []*tensor.Dense) error {
	if n.learnables == nil {
		if err := n.Init(); err != nil {
			return err
		}
	}
	if len(params) != len(n.learnables) {
		return errors.Errorf("expected %d parameters, got %d", len(n.learnables), len(params))
	}
	for i, p := range n.learnables {
		if !p.Shape().Eq(params[i].Shape()) {
			return shapeError(p.Name(), params[i].Shape().TotalSize(), p.Shape().TotalSize())
		}
		if err := G.Let(p, params[i]); err != nil {
			return errors.Wrapf(err, "setting %v", p.Name())
		}
	}
	n.key = graphKey{}
	return nil
}

// SetTesting switches batch norm to its running statistics.
func (n *Net) SetTesting() {
	n.testing = true
	for _, op := range n.ops {
		op.SetTesting()
	}
}

// SetTraining switches batch norm back to batch statistics.
func (n *Net) SetTraining() {
	n.testing = false
	for _, op := range n.ops {
		op.SetTraining()
	}
}

// Clone returns a Net with the same configuration and a copy of the parameters.
// The clone has its own graph and its own recurrent state.
func (n *Net) Clone() (*Net, error) {
	n2, err := New(n.Config)
	if err != nil {
		return nil, err
	}
	if err = n2.Init(); err != nil {
		return nil, err
	}
	if n.learnables == nil {
		return n2, nil
	}
	params, err := n.Params()
	if err != nil {
		return nil, err
	}
	if err = n2.SetParams(params); err != nil {
		return nil, err
	}
	return n2, nil
}

// Close releases the VM.
func (n *Net) Close() error { return n.closeMachine() }

func (n *Net) closeMachine() error {
	if n.m == nil {
		return nil
	}
	err := n.m.Close()
	n.m = nil
	return errors.WithStack(err)
}

func (n *Net) GobEncode() (retVal []byte, err error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	params, err := n.Params()
	if err != nil {
		return nil, err
	}
	for _, p := range params {
		if err = enc.Encode(p); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// GobDecode reads parameters written by GobEncode. The Net must have been created with New.
func (n *Net) GobDecode(p []byte) error {
	if len(n.plan.FC) == 0 {
		return errors.New("a Net must be created with New before decoding into it")
	}
	if err := n.Init(); err != nil {
		return err
	}
	dec := gob.NewDecoder(bytes.NewBuffer(p))
	params := make([]*tensor.Dense, len(n.learnables))
	for i := range params {
		params[i] = new(tensor.Dense)
		if err := dec.Decode(params[i]); err != nil {
			return errors.WithStack(err)
		}
	}
	return n.SetParams(params)
}
