/*
Sandbox application rendering a textured triangle through the engine.
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/benzin/engine"
	"github.com/spaghettifunk/benzin/engine/config"
	"github.com/spaghettifunk/benzin/engine/core"
	_ "github.com/spaghettifunk/benzin/engine/renderer/software"
	_ "github.com/spaghettifunk/benzin/engine/renderer/vulkan"
	"github.com/spaghettifunk/benzin/sandbox"
)

func main() {
	configPath := flag.String("config", "configs/benzin.toml", "path to the TOML configuration")
	backend := flag.String("backend", "", "renderer backend, overrides the configuration (vulkan or software)")
	frames := flag.Uint64("frames", 0, "stop after this many frames, 0 runs until the window closes")
	capture := flag.String("capture", "", "write the last frame to this BMP file")
	shaders := flag.String("shaders", "shaders", "directory holding the compiled sandbox shaders")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		core.LogFatal("%+v", err)
	}
	if *backend != "" {
		cfg.Renderer.Backend = *backend
	}
	if *frames > 0 {
		cfg.App.Frames = *frames
	}
	if *capture != "" {
		cfg.App.Capture = *capture
	}

	e, err := engine.New(&engine.ApplicationConfig{Config: cfg, ConfigPath: *configPath}, sandbox.New(*shaders))
	if err != nil {
		core.LogFatal("%+v", err)
	}

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal("%+v", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	go func() {
		<-sigCh
		e.Quit()
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal("%+v", runErr)
	}
}

// loadConfig reads path, falling back to the defaults when the file does not
// exist. Validation happens in engine.New after the flag overrides.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		core.LogWarn("no configuration at %s, using defaults", path)
		return config.Default(), nil
	}
	return cfg, err
}
