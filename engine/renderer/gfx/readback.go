package gfx

import (
	"image"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

// Readback copies mip 0 of a 4 byte per pixel color texture into a readback
// buffer. The copy is recorded into any command list, and the image can be
// decoded once that list completed on the GPU.
type Readback struct {
	tex     *TextureResource
	staging *BufferResource
	fp      driver.Footprints
}

func (d *Device) NewReadback(tex *TextureResource) (*Readback, error) {
	switch tex.Format() {
	case driver.FormatRGBA8Unorm, driver.FormatRGBA8UnormSRGB, driver.FormatBGRA8Unorm, driver.FormatBGRA8UnormSRGB:
	default:
		return nil, errors.Wrapf(core.ErrUnsupported, "readback of %s textures", tex.Format())
	}
	fp := d.gpu.CopyableFootprints(tex.desc, 0, 1, 0)
	if fp.TotalBytes > 1<<32-1 {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "%s is too large to read back", tex.name)
	}
	staging, err := d.CreateBuffer(BufferConfig{
		Name:         tex.name + "-readback",
		ElementSize:  1,
		ElementCount: uint32(fp.TotalBytes),
	}, BufferFlagReadback)
	if err != nil {
		return nil, err
	}
	tex.AddRef()
	return &Readback{tex: tex, staging: staging, fp: fp}, nil
}

// Record copies the texture into the staging buffer and returns the texture
// to the state it was tracked in.
func (r *Readback) Record(cl *CommandList) error {
	state := cl.StateOf(r.tex)
	if _, err := cl.CopyTextureToBuffer(r.staging, 0, r.tex, 0); err != nil {
		return errors.Wrapf(err, "readback of %s", r.tex.name)
	}
	cl.Transition(r.tex, state)
	return nil
}

// Image unpacks the staged rows. The recording list must have completed.
func (r *Readback) Image() *image.RGBA {
	width, height := int(r.tex.Width()), int(r.tex.Height())
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	layout := r.fp.Layouts[0]
	pitch := uint64(layout.Footprint.RowPitch)
	rowSize := r.fp.RowSizeInBytes[0]
	data := r.staging.Mapped()
	format := r.tex.Format()
	bgra := format == driver.FormatBGRA8Unorm || format == driver.FormatBGRA8UnormSRGB
	for y := 0; y < height; y++ {
		src := data[layout.Offset+uint64(y)*pitch:][:rowSize]
		dst := img.Pix[y*img.Stride:][:rowSize]
		copy(dst, src)
		if bgra {
			for x := 0; x < len(dst); x += 4 {
				dst[x], dst[x+2] = dst[x+2], dst[x]
			}
		}
	}
	return img
}

func (r *Readback) Release() {
	r.staging.Release()
	r.tex.Release()
}

// ReadTexture copies mip 0 of a color texture back to the CPU. It blocks
// until the copy finished.
func (c *GraphicsContext) ReadTexture(tex *TextureResource) (*image.RGBA, error) {
	rb, err := c.Device.NewReadback(tex)
	if err != nil {
		return nil, err
	}
	defer rb.Release()
	if err := c.Immediate("readback", rb.Record); err != nil {
		return nil, err
	}
	return rb.Image(), nil
}

// EncodeBMP writes img as a BMP image.
func EncodeBMP(w io.Writer, img image.Image) error {
	if err := bmp.Encode(w, img); err != nil {
		return errors.Wrap(err, "bmp encode")
	}
	return nil
}

// WriteBMP stores img as a BMP file at path.
func WriteBMP(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "capture %s", path)
	}
	if err := EncodeBMP(f, img); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "capture %s", path)
	}
	return nil
}

// CaptureBMP reads tex back and stores it as a BMP file at path.
func (c *GraphicsContext) CaptureBMP(tex *TextureResource, path string) error {
	img, err := c.ReadTexture(tex)
	if err != nil {
		return err
	}
	if err := WriteBMP(path, img); err != nil {
		return err
	}
	core.LogInfo("captured %s (%dx%d) to %s", tex.name, img.Rect.Dx(), img.Rect.Dy(), path)
	return nil
}
