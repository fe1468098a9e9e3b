// Package frame draws the state of a training run into a paletted image.
// It is shared by the GIF and MJPEG encoders.
package frame

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/golang/freetype/truetype"
	"github.com/gorgonia/dvs"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
)

var regular *truetype.Font

const (
	dpi             = 144.0
	fontsize        = 12.0
	lineheight      = 1.2
	dummyLongString = `Epoch 100000, Step: 100000`
	textLines       = 4 // name, epoch and step, cost, components
	barWidth        = 200
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

// Palette is the palette of every frame: black, background and bar colour, followed by the
// greys anti-aliased text is quantized to.
var Palette = color.Palette{
	color.Gray{0},
	color.Gray{253},
	color.RGBA{0x1f, 0x77, 0xb4, 0xff},
	color.Gray{64},
	color.Gray{128},
	color.Gray{192},
}

// BarIndex is the palette index of the bars.
const BarIndex = 2

var components = [...]string{"w", "x", "y", "z"}

// Renderer renders a dvs.MetaState. The frame size is fixed by the first state rendered.
type Renderer struct {
	H, W int
	font.Drawer

	face font.Face

	maxH, maxW  int // maxHeight and maxWidth
	padH, padW  int // padding so everything don't start at the topleft
	dy          int
	initialized bool
}

// NewRenderer with maximum height and width
func NewRenderer(h, w int) *Renderer {
	return &Renderer{
		H:    -1,
		W:    -1,
		maxH: h,
		maxW: w,
		padH: 10,
		padW: 10,

		Drawer: font.Drawer{
			Src: image.Black,
		},
	}
}

func (r *Renderer) init() {
	// lazy init of specifications
	r.face = truetype.NewFace(regular, &truetype.Options{
		Size:    fontsize,
		DPI:     dpi,
		Hinting: font.HintingFull,
	})
	r.Drawer.Src = image.Black
	r.Drawer.Face = r.face
	r.dy = int(math.Ceil(fontsize * lineheight * dpi / 72))

	label := font.MeasureString(r.face, "w +0.000 ").Ceil()
	w := maxInt(font.MeasureString(r.face, dummyLongString).Ceil(), label+barWidth) + 2*r.padW
	h := (textLines+len(components))*r.dy + 2*r.padH

	w = minInt(w, r.maxW)
	h = minInt(h, r.maxH)
	if w == r.maxW {
		r.padW = 0
	}
	if h == r.maxH {
		r.padH = 0
	}
	r.H = h
	r.W = w
	r.initialized = true
}

// Render draws ms. Only the first orientation of the batch is drawn.
func (r *Renderer) Render(ms dvs.MetaState) *image.Paletted {
	if !r.initialized {
		r.init()
	}
	im := image.NewPaletted(image.Rect(0, 0, r.W, r.H), Palette)
	draw.Draw(im, im.Bounds(), image.NewUniform(Palette[1]), image.Point{}, draw.Src)
	r.Dst = im

	y := r.padH + r.dy
	line := func(s string) {
		r.Dot = fixed.P(r.padW, y)
		r.DrawString(s)
		y += r.dy
	}
	line(ms.Name())
	line(fmt.Sprintf("Epoch %d, Step: %d", ms.Epoch(), ms.Step()))
	line(fmt.Sprintf("Cost: %.6f", ms.Cost()))

	qs := ms.Quaternions()
	if len(qs) == 0 {
		return im
	}
	q := qs[0]
	label := font.MeasureString(r.face, "w +0.000 ").Ceil()
	mid := r.padW + label + barWidth/2
	bar := image.NewUniform(Palette[BarIndex])
	for i, c := range components {
		if i >= len(q) {
			break
		}
		y += r.dy
		r.Dot = fixed.P(r.padW, y)
		r.DrawString(fmt.Sprintf("%s %+.3f", c, q[i]))

		// bars grow from the middle, ±1 spans the whole bar width
		end := mid + int(float32(barWidth/2)*clamp(q[i]))
		x0, x1 := minInt(mid, end), maxInt(mid, end)
		rect := image.Rect(x0, y-r.dy/2, x1+1, y)
		draw.Draw(im, rect.Intersect(im.Bounds()), bar, image.Point{}, draw.Src)
	}
	return im
}

func clamp(a float32) float32 {
	switch {
	case a > 1:
		return 1
	case a < -1:
		return -1
	}
	return a
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
