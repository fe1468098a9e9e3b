package gif

import (
	"image/gif"
	"io"

	"github.com/gorgonia/dvs"
	"github.com/gorgonia/dvs/encoding/frame"
	"github.com/pkg/errors"
)

// Encoder is a structure that encodes a training state according to the dvs.OutputEncoder interface
type Encoder struct {
	*frame.Renderer
	io.Writer

	// Every keeps one frame out of Every steps. Zero keeps every frame.
	Every int
	// Delay is the delay of each frame, in 100ths of a second.
	Delay int

	out  *gif.GIF
	seen int
}

// NewGifEncoder with height and width
func NewGifEncoder(h, w int) *Encoder {
	return &Encoder{
		Renderer: frame.NewRenderer(h, w),
		Delay:    10,
		out:      &gif.GIF{LoopCount: -1},
	}
}

// Encode a training state
func (enc *Encoder) Encode(ms dvs.MetaState) error {
	enc.seen++
	if enc.Every > 1 && (enc.seen-1)%enc.Every != 0 {
		return nil
	}
	im := enc.Render(ms)
	enc.out.Image = append(enc.out.Image, im)
	enc.out.Delay = append(enc.out.Delay, enc.Delay)
	return nil
}

// Frames is the number of frames encoded so far.
func (enc *Encoder) Frames() int { return len(enc.out.Image) }

// Flush writes the gif into the writer
func (enc *Encoder) Flush() error {
	if enc.Writer == nil {
		return errors.New("gif: no writer")
	}
	if len(enc.out.Image) == 0 {
		return nil
	}
	return errors.WithStack(gif.EncodeAll(enc.Writer, enc.out))
}
