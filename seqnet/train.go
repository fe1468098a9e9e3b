package seq

import (
	"github.com/gorgonia/dvs/loss"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Batch is one time step of training data. Every matrix has one row per sequence in the batch.
type Batch struct {
	Input *tensor.Dense // (batch, features)

	Virtual       *tensor.Dense // (batch, 4*NumberVirtual), the latest sample last
	Real          *tensor.Dense // (batch, 4*(2*NumberReal+1)), centered on the current sample
	ProjectionsT  *tensor.Dense // (batch, projection width)
	ProjectionsT1 *tensor.Dense // (batch, projection width)
	PositionStep  *tensor.Dense // (batch, 1)
}

// objective is the training side of a graph: the auxiliary inputs, the cost and its gradients.
type objective struct {
	agg             *loss.Aggregator
	projectionWidth int

	virtual, real *G.Node
	projT, projT1 *G.Node
	step          *G.Node
	cost          *G.Node
	costVal       G.Value
}

func (o *objective) build(n *Net, key graphKey) (err error) {
	if o.agg.Enabled(key.follow, key.undefine) == 0 {
		return errors.New("no loss term is enabled")
	}
	g := n.g
	aux := func(w int, name string) *G.Node {
		if w < 1 {
			return nil
		}
		return G.NewMatrix(g, Float, G.WithShape(key.batch, w), G.WithName(name))
	}
	o.virtual = aux(n.VirtualWidth(), "Virtual")
	o.real = aux(n.RealWidth(), "Real")
	o.projT = aux(o.projectionWidth, "ProjectionsT")
	o.projT1 = aux(o.projectionWidth, "ProjectionsT1")
	o.step = aux(1, "PositionStep")

	in := loss.Inputs{
		Virtual:       o.virtual,
		Real:          o.real,
		ProjectionsT:  o.projT,
		ProjectionsT1: o.projT1,
		PositionStep:  o.step,
	}
	if o.cost, err = o.agg.Compute(n.output, in, key.follow, key.undefine); err != nil {
		return err
	}
	o.costVal = nil
	G.Read(o.cost, &o.costVal)
	if _, err = G.Grad(o.cost, n.learnables...); err != nil {
		return errors.Wrap(err, "unable to compute gradients")
	}
	return nil
}

func (o *objective) let(b Batch) error {
	pairs := []struct {
		name string
		node *G.Node
		val  *tensor.Dense
	}{
		{"virtual", o.virtual, b.Virtual},
		{"real", o.real, b.Real},
		{"projections at t", o.projT, b.ProjectionsT},
		{"projections at t+1", o.projT1, b.ProjectionsT1},
		{"position step", o.step, b.PositionStep},
	}
	for _, p := range pairs {
		if p.node == nil {
			continue
		}
		if p.val == nil {
			// unused inputs still need a value for the machine to run
			p.val = tensor.New(tensor.Of(Float), tensor.WithShape(p.node.Shape()...))
		}
		if !p.val.Shape().Eq(p.node.Shape()) {
			return errors.Errorf("%s: expected %v, got %v", p.name, p.node.Shape(), p.val.Shape())
		}
		if err := G.Let(p.node, p.val); err != nil {
			return errors.Wrapf(err, "%s", p.name)
		}
	}
	return nil
}

func (o *objective) value() (float64, error) {
	if o.costVal == nil {
		return 0, errors.New("cost was not produced")
	}
	switch v := o.costVal.Data().(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, errors.Errorf("unsupported cost type %T", o.costVal.Data())
}

// Trainer trains a Net one time step at a time.
type Trainer struct {
	*Net
	Loss   *loss.Aggregator
	Solver G.Solver
}

// NewTrainer attaches an objective to n. projectionWidth is the width of the
// camera projection inputs; zero means the graph has none.
func NewTrainer(n *Net, agg *loss.Aggregator, solver G.Solver, projectionWidth int) (*Trainer, error) {
	if n.FwdOnly {
		return nil, configErrorf("fwd_only", "a forward only network cannot be trained")
	}
	if agg == nil {
		return nil, errors.New("no loss aggregator")
	}
	if solver == nil {
		return nil, errors.New("no solver")
	}
	if projectionWidth < 0 {
		return nil, configErrorf("data.projection_width", "must not be negative, got %d", projectionWidth)
	}
	n.obj = &objective{agg: agg, projectionWidth: projectionWidth}
	n.key = graphKey{}
	return &Trainer{Net: n, Loss: agg, Solver: solver}, nil
}

// Step runs one forward and backward pass over b and updates every parameter.
// The follow and undefine gates select which terms take part in this step.
// Like Forward, Step advances the recurrent state. It returns the cost.
func (t *Trainer) Step(b Batch, follow, undefine bool) (float64, error) {
	n := t.Net
	if n.states == nil {
		return 0, errors.New("InitHidden must be called before Step")
	}
	if err := n.ensure(graphKey{batch: n.batch, train: true, follow: follow, undefine: undefine}); err != nil {
		return 0, err
	}
	n.m.Reset()
	if err := n.letInput(b.Input); err != nil {
		return 0, err
	}
	if err := n.obj.let(b); err != nil {
		return 0, err
	}
	if err := n.run(); err != nil {
		return 0, err
	}
	cost, err := n.obj.value()
	if err != nil {
		return 0, err
	}
	if err := t.Solver.Step(G.NodesToValueGrads(n.learnables)); err != nil {
		return cost, errors.Wrap(err, "solver")
	}
	return cost, nil
}
