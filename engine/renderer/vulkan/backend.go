// Package vulkan implements the driver interface on top of Vulkan. Every
// queue kind is served by one graphics queue, descriptor heaps are backed by
// descriptor sets indexed from push constants, and resource states map onto
// image layouts and pipeline barriers.
package vulkan

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

const driverName = "vulkan"

func init() {
	driver.Register(&Driver{})
}

// Window is what the driver needs from a window to present to it. A
// *glfw.Window satisfies it.
type Window interface {
	GetRequiredInstanceExtensions() []string
	CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error)
}

type Driver struct {
	mu   sync.Mutex
	gpus []*GPU
}

func (d *Driver) Name() string { return driverName }

// Open creates the instance, the window surface (when opts.Window is set)
// and the logical device. Without a window the device is headless and
// swap chains are not supported.
func (d *Driver) Open(opts driver.OpenOptions) (driver.GPU, error) {
	var win Window
	if opts.Window != nil {
		w, ok := opts.Window.(Window)
		if !ok {
			return nil, errors.Wrapf(driver.ErrNotSupported, "vulkan: cannot present to %T", opts.Window)
		}
		win = w
	}

	if _, ok := win.(*glfw.Window); ok {
		procAddr := glfw.GetVulkanGetInstanceProcAddress()
		if procAddr == nil {
			return nil, errors.Wrap(driver.ErrNoDevice, "vulkan: GetInstanceProcAddress is nil")
		}
		vk.SetGetInstanceProcAddr(procAddr)
	} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "vulkan: loader not found"), driver.ErrNoDevice)
	}
	if err := vk.Init(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "vulkan: failed to initialize vk"), driver.ErrNoDevice)
	}

	instance, messenger, err := createInstance(opts, win)
	if err != nil {
		return nil, err
	}
	destroyInstance := func() {
		if messenger != vk.NullDebugReportCallback {
			vk.DestroyDebugReportCallback(instance, messenger, nil)
		}
		vk.DestroyInstance(instance, nil)
	}

	surface := vk.NullSurface
	if win != nil {
		core.LogDebug("Creating Vulkan surface...")
		ptr, err := win.CreateWindowSurface(instance, nil)
		if err != nil {
			destroyInstance()
			return nil, errors.Wrap(err, "vulkan: surface creation failed")
		}
		surface = vk.SurfaceFromPointer(ptr)
		core.LogDebug("Vulkan surface created.")
	}

	device, err := DeviceCreate(instance, surface, nil)
	if err != nil {
		if surface != vk.NullSurface {
			vk.DestroySurface(instance, surface, nil)
		}
		destroyInstance()
		return nil, err
	}

	g, err := newGPU(d, instance, messenger, surface, device)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.gpus = append(d.gpus, g)
	d.mu.Unlock()
	core.LogInfo("Vulkan renderer initialized successfully.")
	return g, nil
}

func (d *Driver) release(g *GPU) {
	if g.Surface != vk.NullSurface {
		vk.DestroySurface(g.Instance, g.Surface, nil)
		g.Surface = vk.NullSurface
	}
	if g.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(g.Instance, g.debugMessenger, nil)
		g.debugMessenger = vk.NullDebugReportCallback
	}
	if g.Instance != nil {
		vk.DestroyInstance(g.Instance, nil)
		g.Instance = nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.gpus {
		if d.gpus[i] == g {
			d.gpus = append(d.gpus[:i], d.gpus[i+1:]...)
			break
		}
	}
}

func (d *Driver) Close() {
	d.mu.Lock()
	gpus := append([]*GPU(nil), d.gpus...)
	d.mu.Unlock()
	for _, g := range gpus {
		g.Close()
	}
}

func instanceExtensions() (map[string]bool, error) {
	var count uint32
	if err := resultError(vk.EnumerateInstanceExtensionProperties("", &count, nil), "vkEnumerateInstanceExtensionProperties"); err != nil {
		return nil, err
	}
	list := make([]vk.ExtensionProperties, count)
	if count > 0 {
		if err := resultError(vk.EnumerateInstanceExtensionProperties("", &count, list), "vkEnumerateInstanceExtensionProperties"); err != nil {
			return nil, err
		}
	}
	names := make(map[string]bool, count)
	for i := range list {
		list[i].Deref()
		names[cString(list[i].ExtensionName[:])] = true
	}
	return names, nil
}

func instanceLayers() (map[string]bool, error) {
	var count uint32
	if err := resultError(vk.EnumerateInstanceLayerProperties(&count, nil), "vkEnumerateInstanceLayerProperties"); err != nil {
		return nil, err
	}
	list := make([]vk.LayerProperties, count)
	if count > 0 {
		if err := resultError(vk.EnumerateInstanceLayerProperties(&count, list), "vkEnumerateInstanceLayerProperties"); err != nil {
			return nil, err
		}
	}
	names := make(map[string]bool, count)
	for i := range list {
		list[i].Deref()
		names[cString(list[i].LayerName[:])] = true
	}
	return names, nil
}

func createInstance(opts driver.OpenOptions, win Window) (vk.Instance, vk.DebugReportCallback, error) {
	appName := opts.AppName
	if appName == "" {
		appName = "benzin"
	}
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Benzin Engine"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	available, err := instanceExtensions()
	if err != nil {
		return nil, vk.NullDebugReportCallback, err
	}

	// Obtain a list of required extensions
	requiredExtensions := []string{}
	if win != nil {
		requiredExtensions = append(requiredExtensions, "VK_KHR_surface") // Generic surface extension
		requiredExtensions = append(requiredExtensions, win.GetRequiredInstanceExtensions()...)
	}
	if runtime.GOOS == "darwin" && available["VK_KHR_portability_enumeration"] {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1 // VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
	}
	debug := opts.Debug && available[vk.ExtDebugReportExtensionName]
	if debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}
	requiredExtensions = dedupe(requiredExtensions)
	core.LogDebug("Required extensions: %v", requiredExtensions)
	for _, ext := range requiredExtensions {
		if !available[ext] {
			return nil, vk.NullDebugReportCallback, errors.Wrapf(driver.ErrNotSupported, "vulkan: instance extension %s is missing", ext)
		}
	}
	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	// Validation layers are optional. A missing layer only disables them.
	layerNames := []string{}
	if opts.Debug {
		core.LogInfo("Validation layers enabled. Enumerating...")
		layers, err := instanceLayers()
		if err != nil {
			return nil, vk.NullDebugReportCallback, err
		}
		const validation = "VK_LAYER_KHRONOS_validation"
		if layers[validation] {
			layerNames = append(layerNames, validation)
			core.LogInfo("All required validation layers are present.")
		} else {
			core.LogWarn("Required validation layer is missing: %s", validation)
		}
	}
	createInfo.EnabledLayerCount = uint32(len(layerNames))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layerNames)

	var instance vk.Instance
	if err := resultError(vk.CreateInstance(&createInfo, nil, &instance), "vkCreateInstance"); err != nil {
		return nil, vk.NullDebugReportCallback, errors.Mark(err, driver.ErrNoDevice)
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, vk.NullDebugReportCallback, err
	}
	core.LogInfo("Vulkan Instance created.")

	messenger := vk.NullDebugReportCallback
	if debug {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		if err := vk.Error(vk.CreateDebugReportCallback(instance, &debugCreateInfo, nil, &messenger)); err != nil {
			core.LogWarn("vk.CreateDebugReportCallback failed with %s", err)
			messenger = vk.NullDebugReportCallback
		} else {
			core.LogDebug("Vulkan debugger created.")
		}
	}
	return instance, messenger, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		core.LogDebug("DEBUG: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
