package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[log]
level = "debug"

[renderer]
backend = "software"
back_buffers = 3

[renderer.heaps]
cbv_srv_uav = 10
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "software", cfg.Renderer.Backend)
	assert.Equal(t, uint32(3), cfg.Renderer.BackBuffers)
	assert.Equal(t, uint32(10), cfg.Renderer.Heaps.CBVSRVUAV)
	// untouched keys keep their defaults
	assert.Equal(t, Default().Renderer.Heaps.RTV, cfg.Renderer.Heaps.RTV)
	assert.Equal(t, Default().App.Width, cfg.App.Width)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"backend":      "[renderer]\nbackend = \"metal\"",
		"back buffers": "[renderer]\nback_buffers = 1",
		"heap":         "[renderer.heaps]\ndsv = 0",
		"rtv capacity": "[renderer]\nback_buffers = 4\n[renderer.heaps]\nrtv = 3",
		"syntax":       "[renderer\nbackend=",
		"upload":       "[renderer]\nupload_buffer_size = 0",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestShippedConfigIsValid(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "benzin.toml"))
	require.NoError(t, err)
	assert.Equal(t, "vulkan", cfg.Renderer.Backend)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Renderer.Backend = "software"
	data, err := cfg.Marshal()
	require.NoError(t, err)

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestWatcherPublishesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "benzin.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0o644))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	// an invalid edit is skipped
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nback_buffers = 0\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"error\"\n"), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-w.Changes():
			if cfg.Log.Level == "error" {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}
