package loss

import (
	"math"
	"testing"

	"github.com/gorgonia/dvs/quaternion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// repeat returns a (rows, 4*k) matrix with q in every sample.
func repeat(rows, k int, q ...float32) *tensor.Dense {
	backing := make([]float32, 0, rows*k*quaternion.Width)
	for i := 0; i < rows*k; i++ {
		backing = append(backing, q...)
	}
	return tensor.New(tensor.WithShape(rows, k*quaternion.Width), tensor.WithBacking(backing))
}

type fixture struct {
	g   *G.ExprGraph
	out *G.Node
	in  Inputs
}

// newFixture outputs the identity rotation for a batch of 4. Every virtual sample is the
// identity and every real sample is a quarter turn away from it.
func newFixture() fixture {
	const batch = 4
	g := G.NewGraph()
	matrix := func(name string, v *tensor.Dense) *G.Node {
		return G.NewMatrix(g, G.Float32, G.WithShape(v.Shape()...), G.WithName(name), G.WithValue(v))
	}
	step := tensor.New(tensor.WithShape(batch, 1), tensor.WithBacking([]float32{1, 1, 1, 1}))
	return fixture{
		g:   g,
		out: matrix("out", repeat(batch, 1, 1, 0, 0, 0)),
		in: Inputs{
			Virtual:      matrix("virtual", repeat(batch, 2, 1, 0, 0, 0)),
			Real:         matrix("real", repeat(batch, 5, 0, 1, 0, 0)),
			PositionStep: matrix("step", step),
		},
	}
}

func (f fixture) eval(t *testing.T, cost *G.Node) float32 {
	vm := G.NewTapeMachine(f.g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	v, ok := cost.Value().Data().(float32)
	require.True(t, ok, "%T", cost.Value().Data())
	return v
}

func TestAngleThreshold(t *testing.T) {
	assert.InDelta(t, 0.13962634, AngleThreshold, 1e-8)
}

func TestWindow(t *testing.T) {
	mid := Mid(20)
	assert.Equal(t, 2, mid)
	cases := []struct{ offset, start, end int }{
		{-2, 0, 4},
		{-1, 4, 8},
		{0, 8, 12},
		{1, 12, 16},
		{2, 16, 20},
	}
	for _, c := range cases {
		start, end := Window(mid, c.offset)
		assert.Equal(t, c.start, start, "offset %d", c.offset)
		assert.Equal(t, c.end, end, "offset %d", c.offset)
	}
	assert.Equal(t, 0, Mid(4))
}

func TestEnabled(t *testing.T) {
	agg := Default(Weights{Smooth: 1, Angle: 1, Follow: 1, C2Smooth: 1, Undefine: 1})
	assert.Equal(t, 8, agg.Enabled(true, true), "undefine has no default term")
	assert.Equal(t, 3, agg.Enabled(false, true))

	agg.Terms.Undefine = func(out, projections *G.Node) (*G.Node, error) { return G.Mean(projections) }
	assert.Equal(t, 9, agg.Enabled(true, true))
	assert.Equal(t, 8, agg.Enabled(true, false))

	assert.Equal(t, 0, Default(Weights{Smooth: -1}).Enabled(true, true))
	assert.Equal(t, 5, Default(Weights{Follow: 0.5}).Enabled(true, false))
}

func TestComputeNothingEnabled(t *testing.T) {
	f := newFixture()
	var calls int
	agg := New(Weights{}, Terms{
		Follow: func(out, target *G.Node) (*G.Node, error) {
			calls++
			return MSE(out, target)
		},
	})
	cost, err := agg.Compute(f.out, f.in, true, true)
	require.NoError(t, err)
	require.NotNil(t, cost.Value(), "a constant carries its value without running")
	assert.Equal(t, float32(0), cost.Value().Data())
	assert.Zero(t, calls)

	// a positive weight behind a closed gate is not evaluated either
	agg.Weights.Follow = 1
	cost, err = agg.Compute(f.out, f.in, false, true)
	require.NoError(t, err)
	require.NotNil(t, cost.Value())
	assert.Equal(t, float32(0), cost.Value().Data())
	assert.Zero(t, calls)
}

func TestComputeFollowOnly(t *testing.T) {
	f := newFixture()
	var calls int
	agg := New(Weights{Follow: 1}, Terms{
		Follow: func(out, target *G.Node) (*G.Node, error) {
			calls++
			return MSE(out, target)
		},
		Smooth: func(out, prev, step *G.Node) (*G.Node, error) {
			t.Error("smooth has no weight and must not be called")
			return nil, nil
		},
	})
	cost, err := agg.Compute(f.out, f.in, true, false)
	require.NoError(t, err)
	assert.Equal(t, len(FollowOffsets), calls)

	// every sample differs by (1, -1, 0, 0): each offset contributes 2/4
	assert.InDelta(t, 2.5, f.eval(t, cost), 1e-5)
}

func TestComputeDefaultTerms(t *testing.T) {
	f := newFixture()
	agg := Default(Weights{Smooth: 1, Angle: 2, Follow: 1, C2Smooth: 1})
	cost, err := agg.Compute(f.out, f.in, true, false)
	require.NoError(t, err)

	// smooth and c2 smooth are zero: the output matches every virtual sample.
	// The real samples are π apart from the output, far outside the dead zone.
	want := 2.5 + 2*math.Cos(AngleThreshold/2)
	assert.InDelta(t, want, f.eval(t, cost), 1e-4)
}

func TestComputeErrors(t *testing.T) {
	f := newFixture()

	_, err := Default(Weights{Follow: 1}).Compute(nil, f.in, true, false)
	assert.Error(t, err)

	in := f.in
	in.Virtual = nil
	_, err = Default(Weights{Smooth: 1}).Compute(f.out, in, true, false)
	assert.Error(t, err, "smooth needs a virtual sample")

	in = f.in
	in.Real = nil
	_, err = Default(Weights{Angle: 1}).Compute(f.out, in, true, false)
	assert.Error(t, err, "angle needs the real window")

	agg := New(Weights{Undefine: 1}, Terms{
		Undefine: func(out, projections *G.Node) (*G.Node, error) { return G.Mean(projections) },
	})
	_, err = agg.Compute(f.out, f.in, false, true)
	assert.Error(t, err, "undefine needs projections")
}
