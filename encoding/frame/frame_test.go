package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type state struct {
	epoch, step int
	qs          [][]float32
}

func (s state) Name() string             { return "walk" }
func (s state) Epoch() int               { return s.epoch }
func (s state) Step() int                { return s.step }
func (s state) Cost() float64            { return 0.125 }
func (s state) Quaternions() [][]float32 { return s.qs }

func TestRender(t *testing.T) {
	r := NewRenderer(1000, 1000)
	im := r.Render(state{qs: [][]float32{{1, 0, 0, 0}}})
	assert.True(t, r.W > 0 && r.W < 1000, "width %d", r.W)
	assert.True(t, r.H > 0 && r.H < 1000, "height %d", r.H)
	assert.Equal(t, r.W, im.Bounds().Dx())
	assert.Equal(t, r.H, im.Bounds().Dy())

	counts := make(map[uint8]int)
	for _, p := range im.Pix {
		counts[p]++
	}
	assert.NotZero(t, counts[0], "text is drawn")
	assert.NotZero(t, counts[BarIndex], "bars are drawn")

	// the frame size is fixed by the first render
	im2 := r.Render(state{epoch: 3, step: 9})
	assert.Equal(t, im.Bounds(), im2.Bounds())
	var bars int
	for _, p := range im2.Pix {
		if p == BarIndex {
			bars++
		}
	}
	assert.Zero(t, bars, "no quaternions, no bars")

	// text alone never uses the bar colour
	text := r.Render(state{epoch: 100000, step: 100000})
	for _, p := range text.Pix {
		if p == BarIndex {
			t.Fatal("text quantized to the bar colour")
		}
	}
}

func TestRenderClipped(t *testing.T) {
	r := NewRenderer(50, 60)
	im := r.Render(state{qs: [][]float32{{-2, 2, 0.5, 0}}})
	assert.Equal(t, 60, im.Bounds().Dx())
	assert.Equal(t, 50, im.Bounds().Dy())
}

func TestClamp(t *testing.T) {
	assert.Equal(t, float32(1), clamp(3))
	assert.Equal(t, float32(-1), clamp(-1.5))
	assert.Equal(t, float32(0.25), clamp(0.25))
}
