package assets

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func writeImage(t *testing.T, path string, encode func(f *os.File, img image.Image) error) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	img.SetRGBA(1, 1, color.RGBA{B: 255, A: 255})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, encode(f, img))
}

func TestLoadShader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.spv"), []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 0, 0}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "text.spv"), []byte("void main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.spv"), []byte{1, 2, 3, 4}, 0o644))
	m := NewManager(dir)

	code, err := m.Shader("ok.spv")
	require.NoError(t, err)
	assert.Len(t, code, 8)

	_, err = m.Shader("text.spv")
	assert.True(t, errors.Is(err, ErrInvalidShader))
	_, err = m.Shader("bad.spv")
	assert.True(t, errors.Is(err, ErrInvalidShader))
	_, err = m.Shader("missing.spv")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "a.png"), func(f *os.File, img image.Image) error { return png.Encode(f, img) })
	writeImage(t, filepath.Join(dir, "a.bmp"), func(f *os.File, img image.Image) error { return bmp.Encode(f, img) })
	m := NewManager(dir)

	for _, name := range []string{"a.png", "a.bmp"} {
		img, err := m.Image(name)
		require.NoError(t, err, name)
		assert.Equal(t, uint32(2), img.Width)
		assert.Equal(t, uint32(2), img.Height)
		assert.Equal(t, []byte{255, 0, 0, 255}, img.Pixels[0:4], name)
		assert.Equal(t, []byte{0, 0, 255, 255}, img.Pixels[12:16], name)
	}

	m.Register(KindImage, &ImageLoader{FlipY: true})
	img, err := m.Image("a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 0, 0, 255}, img.Pixels[8:12])
}

func TestUnknownKind(t *testing.T) {
	m := NewManager(t.TempDir())
	_, err := m.Load(Kind(42), "x")
	assert.True(t, errors.Is(err, ErrUnknownKind))
	assert.Equal(t, "unknown", Kind(42).String())
}
