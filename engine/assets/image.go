package assets

import (
	"image"
	"image/draw"
	_ "image/png"
	"os"

	"github.com/cockroachdb/errors"
	_ "golang.org/x/image/bmp"
)

// Image holds tightly packed RGBA8 pixels, top row first.
type Image struct {
	Width  uint32
	Height uint32
	Pixels []byte
}

type ImageLoader struct {
	FlipY bool
}

func (il *ImageLoader) Load(path string) (*Asset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, "decoding image")
	}
	b := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)
	if il.FlipY {
		flipRows(rgba.Pix, rgba.Stride, b.Dy())
	}
	return &Asset{
		FullPath: path,
		Kind:     KindImage,
		Data: &Image{
			Width:  uint32(b.Dx()),
			Height: uint32(b.Dy()),
			Pixels: rgba.Pix,
		},
	}, nil
}

func flipRows(pix []byte, stride, rows int) {
	tmp := make([]byte, stride)
	for top, bottom := 0, rows-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := pix[top*stride : (top+1)*stride]
		b := pix[bottom*stride : (bottom+1)*stride]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
}
