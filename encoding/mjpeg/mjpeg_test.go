package mjpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type state struct{}

func (state) Name() string             { return "walk" }
func (state) Epoch() int               { return 1 }
func (state) Step() int                { return 2 }
func (state) Cost() float64            { return 0.5 }
func (state) Quaternions() [][]float32 { return [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}} }

func TestEncoder(t *testing.T) {
	enc := NewEncoder(600, 800)
	assert.NoError(t, enc.Encode(state{}))
	assert.NoError(t, enc.Encode(state{}))
	assert.NoError(t, enc.Flush())
	assert.True(t, enc.W > 0 && enc.H > 0)
}
