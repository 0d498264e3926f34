package engine

import (
	"time"

	"github.com/spaghettifunk/benzin/engine/config"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
	"github.com/spaghettifunk/benzin/engine/renderer/gfx"
)

type ApplicationConfig struct {
	// Config is the configuration the engine starts with. Nil uses the
	// defaults.
	Config *config.Config
	// ConfigPath is watched for changes when set. Log level and vsync are
	// applied live, everything else on the next start.
	ConfigPath string
}

// headless reports whether the application runs without a window. Only the
// software backend renders without one.
func (a *ApplicationConfig) headless() bool {
	return a.Config.Renderer.Backend == "software"
}

func (a *ApplicationConfig) deviceConfig() gfx.DeviceConfig {
	r := a.Config.Renderer
	return gfx.DeviceConfig{
		Heaps: gfx.HeapCapacities{
			CBVSRVUAV: r.Heaps.CBVSRVUAV,
			Sampler:   r.Heaps.Sampler,
			RTV:       r.Heaps.RTV,
			DSV:       r.Heaps.DSV,
		},
		UploadBufferSize: r.UploadBufferSize,
		WaitTimeout:      time.Duration(r.WaitTimeoutMS) * time.Millisecond,
	}
}

func (a *ApplicationConfig) swapChainConfig(width, height uint32) gfx.SwapChainConfig {
	return gfx.SwapChainConfig{
		Width:       width,
		Height:      height,
		BufferCount: a.Config.Renderer.BackBuffers,
		Format:      driver.FormatBGRA8Unorm,
		VSync:       a.Config.Renderer.VSync,
	}
}
