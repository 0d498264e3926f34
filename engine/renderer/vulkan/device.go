package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/benzin/engine/core"
	"github.com/spaghettifunk/benzin/engine/renderer/driver"
)

type VulkanDevice struct {
	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	SwapchainSupport   VulkanSwapchainSupportInfo
	GraphicsQueueIndex int32
	PresentQueueIndex  int32

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	DeviceExtensionNames []string
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
}

const portabilitySubset = "VK_KHR_portability_subset"

// DeviceCreate picks a physical device able to render (and present to
// surface when there is one) and creates the logical device with a single
// graphics queue.
func DeviceCreate(instance vk.Instance, surface vk.Surface, allocator *vk.AllocationCallbacks) (*VulkanDevice, error) {
	device, err := SelectPhysicalDevice(instance, surface)
	if err != nil {
		return nil, err
	}

	core.LogInfo("Creating logical device...")

	// NOTE: Do not create additional queues for shared indices.
	indices := []uint32{uint32(device.GraphicsQueueIndex)}
	if device.PresentQueueIndex >= 0 && device.PresentQueueIndex != device.GraphicsQueueIndex {
		indices = append(indices, uint32(device.PresentQueueIndex))
	}
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: indices[i],
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	// Only request what the device reports.
	supported := device.Features
	deviceFeatures := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy:                       supported.SamplerAnisotropy,
		ShaderSampledImageArrayDynamicIndexing:  supported.ShaderSampledImageArrayDynamicIndexing,
		ShaderStorageImageArrayDynamicIndexing:  supported.ShaderStorageImageArrayDynamicIndexing,
		ShaderStorageBufferArrayDynamicIndexing: supported.ShaderStorageBufferArrayDynamicIndexing,
		ShaderUniformBufferArrayDynamicIndexing: supported.ShaderUniformBufferArrayDynamicIndexing,
		FillModeNonSolid:                        supported.FillModeNonSolid,
		DepthClamp:                              supported.DepthClamp,
	}

	available, err := deviceExtensions(device.PhysicalDevice)
	if err != nil {
		return nil, err
	}
	extensionNames := []string{}
	if surface != vk.NullSurface {
		extensionNames = append(extensionNames, vk.KhrSwapchainExtensionName)
	}
	if available[portabilitySubset] {
		core.LogInfo("Adding required extension '%s'.", portabilitySubset)
		extensionNames = append(extensionNames, portabilitySubset)
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var logical vk.Device
	if err := resultError(vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, allocator, &logical), "vkCreateDevice"); err != nil {
		return nil, err
	}
	device.LogicalDevice = logical
	core.LogInfo("Logical device created.")

	var graphics vk.Queue
	vk.GetDeviceQueue(logical, uint32(device.GraphicsQueueIndex), 0, &graphics)
	device.GraphicsQueue = graphics
	device.PresentQueue = graphics
	if device.PresentQueueIndex >= 0 && device.PresentQueueIndex != device.GraphicsQueueIndex {
		var present vk.Queue
		vk.GetDeviceQueue(logical, uint32(device.PresentQueueIndex), 0, &present)
		device.PresentQueue = present
	}
	core.LogInfo("Queues obtained.")

	if !DeviceDetectDepthFormat(device) {
		core.LogWarn("No supported depth format found.")
	}
	return device, nil
}

func DeviceDestroy(g *GPU) {
	device := g.Device
	device.GraphicsQueue = nil
	device.PresentQueue = nil

	core.LogInfo("Destroying logical device...")
	if device.LogicalDevice != nil {
		vk.DestroyDevice(device.LogicalDevice, g.Allocator)
		device.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	device.PhysicalDevice = nil
	device.SwapchainSupport = VulkanSwapchainSupportInfo{}
	device.GraphicsQueueIndex = -1
	device.PresentQueueIndex = -1
}

func deviceExtensions(physical vk.PhysicalDevice) (map[string]bool, error) {
	var count uint32
	if err := resultError(vk.EnumerateDeviceExtensionProperties(physical, "", &count, nil), "vkEnumerateDeviceExtensionProperties"); err != nil {
		return nil, err
	}
	props := make([]vk.ExtensionProperties, count)
	if count > 0 {
		if err := resultError(vk.EnumerateDeviceExtensionProperties(physical, "", &count, props), "vkEnumerateDeviceExtensionProperties"); err != nil {
			return nil, err
		}
	}
	names := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		names[cString(props[i].ExtensionName[:])] = true
	}
	return names, nil
}

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, supportInfo *VulkanSwapchainSupportInfo) error {
	if err := resultError(vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities), "vkGetPhysicalDeviceSurfaceCapabilitiesKHR"); err != nil {
		return err
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()
	supportInfo.Capabilities.MinImageExtent.Deref()
	supportInfo.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if err := resultError(vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil), "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
		return err
	}
	supportInfo.Formats = make([]vk.SurfaceFormat, formatCount)
	if formatCount > 0 {
		if err := resultError(vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, supportInfo.Formats), "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
			return err
		}
	}
	for i := range supportInfo.Formats {
		supportInfo.Formats[i].Deref()
	}

	var modeCount uint32
	if err := resultError(vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, nil), "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
		return err
	}
	supportInfo.PresentModes = make([]vk.PresentMode, modeCount)
	if modeCount > 0 {
		if err := resultError(vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, supportInfo.PresentModes), "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
			return err
		}
	}
	return nil
}

// DeviceDetectDepthFormat picks the first depth format usable as an optimal
// tiling attachment.
func DeviceDetectDepthFormat(device *VulkanDevice) bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(device.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if properties.OptimalTilingFeatures&flags == flags {
			device.DepthFormat = candidate
			return true
		}
	}
	device.DepthFormat = vk.FormatUndefined
	return false
}

// SelectPhysicalDevice returns the best scoring device that meets the
// requirements. Discrete GPUs win over integrated ones.
func SelectPhysicalDevice(instance vk.Instance, surface vk.Surface) (*VulkanDevice, error) {
	var physicalDeviceCount uint32
	if err := resultError(vk.EnumeratePhysicalDevices(instance, &physicalDeviceCount, nil), "vkEnumeratePhysicalDevices"); err != nil {
		return nil, err
	}
	if physicalDeviceCount == 0 {
		return nil, errors.Wrap(driver.ErrNoDevice, "vulkan: no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if err := resultError(vk.EnumeratePhysicalDevices(instance, &physicalDeviceCount, physicalDevices), "vkEnumeratePhysicalDevices"); err != nil {
		return nil, err
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Graphics: true,
		Present:  surface != vk.NullSurface,
	}
	if requirements.Present {
		requirements.DeviceExtensionNames = []string{vk.KhrSwapchainExtensionName}
	}

	var best *VulkanDevice
	bestScore := -1
	for _, physical := range physicalDevices {
		candidate := &VulkanDevice{PhysicalDevice: physical}
		vk.GetPhysicalDeviceProperties(physical, &candidate.Properties)
		candidate.Properties.Deref()
		vk.GetPhysicalDeviceFeatures(physical, &candidate.Features)
		candidate.Features.Deref()
		vk.GetPhysicalDeviceMemoryProperties(physical, &candidate.Memory)
		candidate.Memory.Deref()

		queueInfo, ok := PhysicalDeviceMeetsRequirements(physical, surface, candidate, &requirements)
		if !ok {
			continue
		}
		score := 0
		switch candidate.Properties.DeviceType {
		case vk.PhysicalDeviceTypeDiscreteGpu:
			score = 2
		case vk.PhysicalDeviceTypeIntegratedGpu:
			score = 1
		}
		if score > bestScore {
			candidate.GraphicsQueueIndex = queueInfo.GraphicsFamilyIndex
			candidate.PresentQueueIndex = queueInfo.PresentFamilyIndex
			best, bestScore = candidate, score
		}
	}
	if best == nil {
		return nil, errors.Wrap(driver.ErrNoDevice, "vulkan: no physical devices were found which meet the requirements")
	}

	properties := best.Properties
	core.LogInfo("Selected device: '%s'.", cString(properties.DeviceName[:]))
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}
	core.LogInfo("GPU Driver version: %d.%d.%d",
		vk.Version(properties.DriverVersion).Major(),
		vk.Version(properties.DriverVersion).Minor(),
		vk.Version(properties.DriverVersion).Patch())
	core.LogInfo("Vulkan API version: %d.%d.%d",
		vk.Version(properties.ApiVersion).Major(),
		vk.Version(properties.ApiVersion).Minor(),
		vk.Version(properties.ApiVersion).Patch())

	for j := uint32(0); j < best.Memory.MemoryHeapCount; j++ {
		best.Memory.MemoryHeaps[j].Deref()
		memorySizeGib := float64(best.Memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if best.Memory.MemoryHeaps[j].Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", memorySizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", memorySizeGib)
		}
	}
	core.LogInfo("Physical device selected.")
	return best, nil
}

func PhysicalDeviceMeetsRequirements(device vk.PhysicalDevice, surface vk.Surface, candidate *VulkanDevice, requirements *VulkanPhysicalDeviceRequirements) (VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	info := VulkanPhysicalDeviceQueueFamilyInfo{GraphicsFamilyIndex: -1, PresentFamilyIndex: -1}
	name := cString(candidate.Properties.DeviceName[:])

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	for i := range queueFamilies {
		queueFamilies[i].Deref()
		graphics := queueFamilies[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 &&
			queueFamilies[i].QueueFlags&vk.QueueFlags(vk.QueueComputeBit) != 0
		if graphics && info.GraphicsFamilyIndex < 0 {
			info.GraphicsFamilyIndex = int32(i)
		}
		if surface == vk.NullSurface {
			continue
		}
		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
			return info, false
		}
		// prefer presenting from the graphics family
		if supportsPresent == vk.True && (info.PresentFamilyIndex < 0 || int32(i) == info.GraphicsFamilyIndex) {
			info.PresentFamilyIndex = int32(i)
		}
	}

	core.LogDebug("%s: graphics family %d, present family %d", name, info.GraphicsFamilyIndex, info.PresentFamilyIndex)
	if requirements.Graphics && info.GraphicsFamilyIndex < 0 {
		core.LogInfo("Device '%s' has no graphics queue, skipping.", name)
		return info, false
	}
	if requirements.Present {
		if info.PresentFamilyIndex < 0 {
			core.LogInfo("Device '%s' cannot present to the surface, skipping.", name)
			return info, false
		}
		if err := DeviceQuerySwapchainSupport(device, surface, &candidate.SwapchainSupport); err != nil ||
			len(candidate.SwapchainSupport.Formats) == 0 || len(candidate.SwapchainSupport.PresentModes) == 0 {
			core.LogInfo("Required swapchain support not present, skipping device.")
			return info, false
		}
	}
	if len(requirements.DeviceExtensionNames) > 0 {
		available, err := deviceExtensions(device)
		if err != nil {
			return info, false
		}
		for _, ext := range requirements.DeviceExtensionNames {
			if !available[ext] {
				core.LogInfo("Required extension not found: '%s', skipping device.", ext)
				return info, false
			}
		}
	}
	return info, true
}
