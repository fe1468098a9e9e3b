// Package loss combines independently weighted error terms into the scalar
// training objective of a quaternion sequence network.
//
// Every term is a function that builds part of a gorgonia expression graph.
// The Aggregator decides which terms are built at all: a term whose weight is
// not positive, whose function is nil, or whose gate is closed is never
// called, so it adds neither nodes nor work to the graph.
package loss

import (
	"math"

	"github.com/gorgonia/dvs/quaternion"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// AngleThreshold is the dead zone of the angle term: 8 degrees.
const AngleThreshold = 8.0 / 180.0 * math.Pi

// FollowOffsets are the sample offsets around the midpoint the follow term compares against.
var FollowOffsets = [...]int{-2, -1, 0, 1, 2}

// Weights holds one weight per term. A weight that is not positive disables its term.
type Weights struct {
	Smooth   float64
	Angle    float64
	Follow   float64
	C2Smooth float64
	Undefine float64
}

// Inputs are the auxiliary graph inputs the terms are computed against.
// Virtual and Real are (batch, 4*k) matrices of flattened quaternions.
type Inputs struct {
	Virtual       *G.Node
	Real          *G.Node
	ProjectionsT  *G.Node
	ProjectionsT1 *G.Node
	PositionStep  *G.Node
}

type (
	// SmoothFunc penalizes the distance from the previous virtual orientation.
	SmoothFunc func(out, prev, step *G.Node) (*G.Node, error)
	// AngleFunc penalizes the rotation between out and target beyond threshold radians.
	AngleFunc func(out, target *G.Node, threshold float64) (*G.Node, error)
	// FollowFunc penalizes the distance from a real orientation.
	FollowFunc func(out, target *G.Node) (*G.Node, error)
	// C2SmoothFunc penalizes the second difference over the two previous virtual orientations.
	C2SmoothFunc func(out, prev, prevprev *G.Node) (*G.Node, error)
	// UndefineFunc penalizes projections that leave the defined region.
	UndefineFunc func(out, projections *G.Node) (*G.Node, error)
)

// Terms are the term functions. A nil function disables its term.
type Terms struct {
	Smooth   SmoothFunc
	Angle    AngleFunc
	Follow   FollowFunc
	C2Smooth C2SmoothFunc
	Undefine UndefineFunc
}

// Aggregator owns the weighted terms.
type Aggregator struct {
	Weights
	Terms
}

// New creates an Aggregator.
func New(w Weights, t Terms) *Aggregator { return &Aggregator{Weights: w, Terms: t} }

// Default creates an Aggregator using DefaultTerms.
func Default(w Weights) *Aggregator { return New(w, DefaultTerms()) }

type term struct {
	name    string
	weight  float64
	present bool
	gate    bool
	evals   int
	eval    func() ([]*G.Node, error)
}

func (t term) enabled() bool { return t.weight > 0 && t.present && t.gate }

// terms lists the terms in evaluation order.
func (a *Aggregator) terms(out *G.Node, in Inputs, follow, undefine bool) []term {
	return []term{
		{"smooth", a.Weights.Smooth, a.Terms.Smooth != nil, true, 1, func() ([]*G.Node, error) {
			prev, err := head(in.Virtual, "smooth")
			if err != nil {
				return nil, err
			}
			v, err := a.Terms.Smooth(out, prev, in.PositionStep)
			return []*G.Node{v}, err
		}},
		{"angle", a.Weights.Angle, a.Terms.Angle != nil, true, 1, func() ([]*G.Node, error) {
			target, err := RealWindow(in.Real, 0)
			if err != nil {
				return nil, err
			}
			v, err := a.Terms.Angle(out, target, AngleThreshold)
			return []*G.Node{v}, err
		}},
		{"follow", a.Weights.Follow, a.Terms.Follow != nil, follow, len(FollowOffsets), func() ([]*G.Node, error) {
			retVal := make([]*G.Node, 0, len(FollowOffsets))
			for _, off := range FollowOffsets {
				target, err := RealWindow(in.Real, off)
				if err != nil {
					return nil, err
				}
				v, err := a.Terms.Follow(out, target)
				if err != nil {
					return nil, err
				}
				retVal = append(retVal, v)
			}
			return retVal, nil
		}},
		{"c2_smooth", a.Weights.C2Smooth, a.Terms.C2Smooth != nil, true, 1, func() ([]*G.Node, error) {
			prev, prevprev, err := tail(in.Virtual)
			if err != nil {
				return nil, err
			}
			v, err := a.Terms.C2Smooth(out, prev, prevprev)
			return []*G.Node{v}, err
		}},
		{"undefine", a.Weights.Undefine, a.Terms.Undefine != nil, undefine, 1, func() ([]*G.Node, error) {
			if in.ProjectionsT == nil {
				return nil, errors.New("undefine: no projections input")
			}
			v, err := a.Terms.Undefine(out, in.ProjectionsT)
			return []*G.Node{v}, err
		}},
	}
}

// Enabled returns the number of term evaluations Compute will make with the given gates.
func (a *Aggregator) Enabled(follow, undefine bool) int {
	var retVal int
	for _, t := range a.terms(nil, Inputs{}, follow, undefine) {
		if t.enabled() {
			retVal += t.evals
		}
	}
	return retVal
}

// Compute builds the weighted sum of every enabled term, in the order smooth,
// angle, follow, c2 smooth, undefine. The follow term is gated by follow and
// the undefine term by undefine. With nothing enabled the result is a constant zero.
func (a *Aggregator) Compute(out *G.Node, in Inputs, follow, undefine bool) (*G.Node, error) {
	if out == nil {
		return nil, errors.New("no output to compute the loss of")
	}
	dt := out.Dtype()
	var total *G.Node
	for _, t := range a.terms(out, in, follow, undefine) {
		if !t.enabled() {
			continue
		}
		vals, err := t.eval()
		if err != nil {
			return nil, errors.Wrapf(err, "loss term %s", t.name)
		}
		for _, v := range vals {
			scaled, err := G.Mul(scalar(dt, t.weight), v)
			if err != nil {
				return nil, errors.Wrapf(err, "weighting %s", t.name)
			}
			if total == nil {
				total = scaled
				continue
			}
			if total, err = G.Add(total, scaled); err != nil {
				return nil, errors.Wrapf(err, "adding %s", t.name)
			}
		}
	}
	if total == nil {
		return scalar(dt, 0), nil
	}
	return total, nil
}

// Mid is the index of the midpoint quaternion in a flat window of the given width.
func Mid(width int) int { return width / (2 * quaternion.Width) }

// Window returns the column range of the quaternion offset samples from mid.
func Window(mid, offset int) (start, end int) {
	start = quaternion.Width * (offset + mid)
	return start, start + quaternion.Width
}

// RealWindow slices the quaternion offset samples from the midpoint of reals.
func RealWindow(reals *G.Node, offset int) (*G.Node, error) {
	if reals == nil {
		return nil, errors.New("no real input")
	}
	width := reals.Shape()[1]
	start, end := Window(Mid(width), offset)
	if start < 0 || end > width {
		return nil, errors.Errorf("real window %d..%d out of range for width %d", start, end, width)
	}
	retVal, err := G.Slice(reals, nil, G.S(start, end))
	return retVal, errors.WithStack(err)
}

// head is the first quaternion of virtual.
func head(virtual *G.Node, name string) (*G.Node, error) {
	if virtual == nil || virtual.Shape()[1] < quaternion.Width {
		return nil, errors.Errorf("%s: needs at least one virtual sample", name)
	}
	retVal, err := G.Slice(virtual, nil, G.S(0, quaternion.Width))
	return retVal, errors.WithStack(err)
}

// tail is the last two quaternions of virtual, the latest first.
func tail(virtual *G.Node) (prev, prevprev *G.Node, err error) {
	if virtual == nil || virtual.Shape()[1] < 2*quaternion.Width {
		return nil, nil, errors.New("c2_smooth: needs at least two virtual samples")
	}
	w := virtual.Shape()[1]
	if prev, err = G.Slice(virtual, nil, G.S(w-quaternion.Width, w)); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	if prevprev, err = G.Slice(virtual, nil, G.S(w-2*quaternion.Width, w-quaternion.Width)); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	return prev, prevprev, nil
}

func scalar(dt tensor.Dtype, v float64) *G.Node {
	if dt == tensor.Float64 {
		return G.NewConstant(v)
	}
	return G.NewConstant(float32(v))
}
