package config

import (
	"os"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Backends known to the engine.
var Backends = []string{"vulkan", "software"}

type Config struct {
	App      App      `toml:"app"`
	Log      Log      `toml:"log"`
	Renderer Renderer `toml:"renderer"`
}

type App struct {
	Name   string `toml:"name"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	PosX   uint32 `toml:"pos_x"`
	PosY   uint32 `toml:"pos_y"`
	// Frames stops the loop after the given number of frames. Zero runs until
	// the window is closed.
	Frames uint64 `toml:"frames"`
	// Capture writes the last presented back buffer to this BMP file.
	Capture string `toml:"capture"`
}

type Log struct {
	Level string `toml:"level"`
}

type Renderer struct {
	Backend          string `toml:"backend"`
	Debug            bool   `toml:"debug"`
	VSync            bool   `toml:"vsync"`
	BackBuffers      uint32 `toml:"back_buffers"`
	UploadBufferSize uint64 `toml:"upload_buffer_size"`
	// WaitTimeoutMS bounds every CPU wait on the GPU. Zero waits forever.
	WaitTimeoutMS uint32 `toml:"wait_timeout_ms"`
	Heaps         Heaps  `toml:"heaps"`
}

// Heaps holds the fixed descriptor capacity of each heap kind.
type Heaps struct {
	CBVSRVUAV uint32 `toml:"cbv_srv_uav"`
	Sampler   uint32 `toml:"sampler"`
	RTV       uint32 `toml:"rtv"`
	DSV       uint32 `toml:"dsv"`
}

func Default() *Config {
	return &Config{
		App: App{
			Name:   "Benzin Sandbox",
			Width:  1280,
			Height: 720,
			PosX:   100,
			PosY:   100,
		},
		Log: Log{
			Level: "info",
		},
		Renderer: Renderer{
			Backend:          "vulkan",
			VSync:            true,
			BackBuffers:      2,
			UploadBufferSize: 8 << 20,
			WaitTimeoutMS:    5000,
			Heaps: Heaps{
				CBVSRVUAV: 4096,
				Sampler:   64,
				RTV:       100,
				DSV:       100,
			},
		},
	}
}

// Load reads a TOML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes TOML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, errors.Wrapf(ErrInvalidConfig, "line %d column %d: %s", row, col, derr.Error())
		}
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	r := c.Renderer
	switch {
	case !slices.Contains(Backends, r.Backend):
		return errors.Wrapf(ErrInvalidConfig, "unknown renderer backend %q", r.Backend)
	case r.BackBuffers < 2:
		return errors.Wrapf(ErrInvalidConfig, "back_buffers must be at least 2, got %d", r.BackBuffers)
	case r.UploadBufferSize == 0:
		return errors.Wrap(ErrInvalidConfig, "upload_buffer_size must be positive")
	case r.Heaps.CBVSRVUAV == 0 || r.Heaps.Sampler == 0 || r.Heaps.RTV == 0 || r.Heaps.DSV == 0:
		return errors.Wrapf(ErrInvalidConfig, "descriptor heap capacities must be positive: %+v", r.Heaps)
	case r.Heaps.RTV < r.BackBuffers:
		return errors.Wrapf(ErrInvalidConfig, "rtv heap (%d) cannot hold %d back buffers", r.Heaps.RTV, r.BackBuffers)
	case c.App.Width == 0 || c.App.Height == 0:
		return errors.Wrapf(ErrInvalidConfig, "window size %dx%d", c.App.Width, c.App.Height)
	}
	return nil
}

// Marshal encodes the configuration back to TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
