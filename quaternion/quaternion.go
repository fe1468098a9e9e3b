// Package quaternion provides value level operations on orientation
// quaternions stored as [w, x, y, z] float32 slices.
package quaternion

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
)

// Width is the number of components of a quaternion.
const Width = 4

// DegenerateError is returned when a zero quaternion is normalized.
type DegenerateError struct{}

func (DegenerateError) Error() string { return "cannot normalize a zero quaternion" }

// IsDegenerate reports whether the cause of err is a DegenerateError.
func IsDegenerate(err error) bool {
	_, ok := errors.Cause(err).(DegenerateError)
	return ok
}

func check(qs ...[]float32) error {
	for _, q := range qs {
		if len(q) != Width {
			return errors.Errorf("expected %d components, got %d", Width, len(q))
		}
	}
	return nil
}

// Dot is the inner product of a and b.
func Dot(a, b []float32) float32 {
	prod := make([]float32, len(a))
	copy(prod, a)
	vecf32.Mul(prod, b)
	return vecf32.Sum(prod)
}

// Norm is the Euclidean norm of q.
func Norm(q []float32) float32 { return math32.Sqrt(Dot(q, q)) }

// Normalize returns q scaled to unit norm.
func Normalize(q []float32) ([]float32, error) {
	if err := check(q); err != nil {
		return nil, err
	}
	n := Norm(q)
	if n == 0 {
		return nil, errors.WithStack(DegenerateError{})
	}
	retVal := make([]float32, Width)
	copy(retVal, q)
	vecf32.Scale(retVal, 1/n)
	return retVal, nil
}

// Angle is the rotation angle in radians between two unit quaternions.
// q and -q describe the same rotation, so the result is in [0, π].
func Angle(a, b []float32) (float32, error) {
	if err := check(a, b); err != nil {
		return 0, err
	}
	d := math32.Abs(Dot(a, b))
	if d > 1 {
		d = 1
	}
	return 2 * math32.Acos(d), nil
}

// Rows splits a (batch, 4) tensor into its quaternions. The rows share memory with t.
func Rows(t tensor.Tensor) ([][]float32, error) {
	s := t.Shape()
	if len(s) != 2 || s[1] != Width {
		return nil, errors.Errorf("expected a (batch, %d) tensor, got %v", Width, s)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("expected float32 data, got %T", t.Data())
	}
	retVal := make([][]float32, s[0])
	for i := range retVal {
		retVal[i] = data[i*Width : (i+1)*Width]
	}
	return retVal, nil
}
