package mjpeg

import (
	"bytes"
	"image/jpeg"
	"net/http"

	"github.com/gorgonia/dvs"
	"github.com/gorgonia/dvs/encoding/frame"
	"github.com/mattn/go-mjpeg"
	"github.com/pkg/errors"
)

// Encoder streams the training state as MJPEG according to the dvs.OutputEncoder interface.
// It is an http.Handler.
type Encoder struct {
	*frame.Renderer

	stream *mjpeg.Stream
}

func (e *Encoder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.stream.ServeHTTP(w, r)
}

// NewEncoder with height and width
func NewEncoder(h, w int) *Encoder {
	return &Encoder{
		Renderer: frame.NewRenderer(h, w),
		stream:   mjpeg.NewStream(),
	}
}

// Encode a training state
func (enc *Encoder) Encode(ms dvs.MetaState) error {
	var b bytes.Buffer
	if err := jpeg.Encode(&b, enc.Render(ms), nil); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(enc.stream.Update(b.Bytes()))
}

func (enc *Encoder) Flush() error { return nil }
