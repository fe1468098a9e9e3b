package seq

import (
	"fmt"
	"math"

	"github.com/gorgonia/dvs/quaternion"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/gorgonia/ops/nn"
	"gorgonia.org/tensor"
)

type maebe struct {
	err  error
	init InitScheme

	learnables G.Nodes
	ops        []batchNormOp
}

type batchNormOp interface {
	SetTraining()
	SetTesting()
	Reset() error
}

// generic monad... may be useful
func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// weights returns the initializer for a weight tensor with the given fan in.
func (m *maebe) weights(fanIn int) G.NodeConsOpt {
	switch m.init {
	case XavierUniform:
		return G.WithInit(G.GlorotU(1.0))
	case XavierNormal:
		return G.WithInit(G.GlorotN(1.0))
	}
	bound := 1 / math.Sqrt(float64(fanIn))
	return G.WithInit(G.Uniform(-bound, bound))
}

func (m *maebe) param(g *G.ExprGraph, fanIn int, name string, shape ...int) *G.Node {
	if m.err != nil {
		return nil
	}
	retVal := G.NewTensor(g, Float, len(shape), G.WithShape(shape...), G.WithName(name), m.weights(fanIn))
	m.learnables = append(m.learnables, retVal)
	return retVal
}

func (m *maebe) bias(g *G.ExprGraph, units int, name string) *G.Node {
	if m.err != nil {
		return nil
	}
	retVal := G.NewMatrix(g, Float, G.WithShape(1, units), G.WithName(name), G.WithInit(G.Zeroes()))
	m.learnables = append(m.learnables, retVal)
	return retVal
}

func (m *maebe) conv(input *G.Node, l ConvPlan, name string) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	fanIn := l.InChannels * l.Kernel.H() * l.Kernel.W()
	filter := m.param(input.Graph(), fanIn, "Filter"+name, l.OutChannels, l.InChannels, l.Kernel.H(), l.Kernel.W())
	kernel := tensor.Shape{l.Kernel.H(), l.Kernel.W()}
	pad := []int{l.Padding.H(), l.Padding.W()}
	stride := []int{l.Stride.H(), l.Stride.W()}
	if retVal, m.err = nnops.Conv2d(input, filter, kernel, pad, stride, []int{1, 1}); m.err != nil {
		m.err = errors.Wrapf(m.err, "conv %s", name)
	}
	return
}

func (m *maebe) maxpool(input *G.Node, size Pair) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	window := []int{size.H(), size.W()}
	if retVal, m.err = nnops.MaxPool2D(input, tensor.Shape(window), []int{0, 0}, window); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// batchnorm normalizes a (N, C, H, W) input with one learned scale and shift per channel.
func (m *maebe) batchnorm(input *G.Node, name string) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	g := input.Graph()
	shape := input.Shape()
	if len(shape) != 4 {
		m.err = errors.Errorf("%s: batch norm expects (N, C, H, W), got %v", name, shape)
		return nil
	}
	gamma := G.NewTensor(g, Float, 4, G.WithShape(1, shape[1], 1, 1), G.WithName(name+"_gamma"), G.WithInit(G.Ones()))
	beta := G.NewTensor(g, Float, 4, G.WithShape(1, shape[1], 1, 1), G.WithName(name+"_beta"), G.WithInit(G.Zeroes()))
	m.learnables = append(m.learnables, gamma, beta)

	// the op scales and shifts elementwise, so spread the channel parameters over N, H and W
	zeros := G.NewConstant(tensor.New(tensor.Of(Float), tensor.WithShape(shape.Clone()...)), G.WithName(name+"_spread"))
	scale := m.do(func() (*G.Node, error) { return G.BroadcastAdd(gamma, zeros, []byte{0, 2, 3}, nil) })
	bias := m.do(func() (*G.Node, error) { return G.BroadcastAdd(beta, zeros, []byte{0, 2, 3}, nil) })
	if m.err != nil {
		return nil
	}

	var op batchNormOp
	if retVal, _, _, op, m.err = nnops.BatchNorm(input, scale, bias, 0.9, 1e-5); m.err != nil {
		m.err = errors.Wrapf(m.err, "batch norm %s", name)
		return nil
	}
	m.ops = append(m.ops, op)
	return
}

func (m *maebe) activate(input *G.Node, a Activation) (retVal *G.Node) {
	switch a {
	case ReLU:
		return m.rectify(input)
	case Sigmoid:
		return m.do(func() (*G.Node, error) { return G.Sigmoid(input) })
	case Tanh:
		return m.do(func() (*G.Node, error) { return G.Tanh(input) })
	}
	if m.err == nil {
		m.err = configErrorf("activate_function", "unsupported activation %v", a)
	}
	return nil
}

func (m *maebe) rectify(input *G.Node) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = nnops.Rectify(input); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) dropout(input *G.Node, prob float64) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = nnops.Dropout(input, prob); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// linear is xW (+ b), with b broadcast along the batch axis.
func (m *maebe) linear(input *G.Node, in, units int, bias bool, name string) *G.Node {
	if m.err != nil {
		return nil
	}
	w := m.param(input.Graph(), in, name+"_w", in, units)
	xw := m.do(func() (*G.Node, error) { return G.Mul(input, w) })
	if !bias {
		return xw
	}
	b := m.bias(input.Graph(), units, name+"_b")
	return m.do(func() (*G.Node, error) { return G.BroadcastAdd(xw, b, nil, []byte{0}) })
}

// gap averages every channel over its spatial axes.
func (m *maebe) gap(input *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Mean(input, 2, 3) })
}

func (m *maebe) reshape(input *G.Node, to tensor.Shape) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = G.Reshape(input, to); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// normQuat divides every row of a (batch, 4) matrix by its Euclidean norm.
// A zero row divides by zero; the head is expected never to produce one.
func (m *maebe) normQuat(input *G.Node) *G.Node {
	if m.err != nil {
		return nil
	}
	if s := input.Shape(); len(s) != 2 || s[1] != quaternion.Width {
		m.err = errors.Errorf("cannot normalize %v as quaternions", input.Shape())
		return nil
	}
	ones := G.NewConstant(tensor.New(tensor.Of(Float), tensor.WithShape(quaternion.Width, 1), tensor.WithBacking(onesOf(Float, quaternion.Width))), G.WithName("QuatOnes"))
	sq := m.do(func() (*G.Node, error) { return G.Square(input) })
	sum := m.do(func() (*G.Node, error) { return G.Mul(sq, ones) }) // (batch, 1)
	norm := m.do(func() (*G.Node, error) { return G.Sqrt(sum) })
	return m.do(func() (*G.Node, error) { return G.BroadcastHadamardDiv(input, norm, nil, []byte{1}) })
}

func onesOf(dt tensor.Dtype, n int) interface{} {
	switch dt {
	case tensor.Float64:
		retVal := make([]float64, n)
		for i := range retVal {
			retVal[i] = 1
		}
		return retVal
	default:
		retVal := make([]float32, n)
		for i := range retVal {
			retVal[i] = 1
		}
		return retVal
	}
}

func stageName(kind StageKind, layer int) string { return fmt.Sprintf("%v%d", kind, layer) }
