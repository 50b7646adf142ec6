package renderer

import (
	"io/fs"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/resource"
	"github.com/vkngwrapper/deferred/vam"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}

var deviceExtensions = []string{khr_swapchain.ExtensionName}

type queueFamilies struct {
	graphics *int
	present  *int
}

func (q queueFamilies) complete() bool {
	return q.graphics != nil && q.present != nil
}

type vulkanDevice struct {
	logger  *slog.Logger
	window  Window
	options Options

	instance core1_0.CoreInstanceDriver

	debugDriver ext_debug_utils.ExtensionDriver
	messenger   ext_debug_utils.DebugUtilsMessenger

	surfaceDriver khr_surface.ExtensionDriver
	surface       khr_surface.Surface

	physicalDevice core1_0.PhysicalDevice
	families       queueFamilies
	anisotropy     bool

	driver       core1_0.CoreDeviceDriver
	presentQueue core1_0.Queue

	ctx       *gpu.Context
	presenter *vulkanPresenter
}

// OpenVulkanDevice creates the instance, the validation messenger when options.Validation is set, the
// window surface, and a logical device on the first physical device that can render to and present
// on that surface.
func OpenVulkanDevice(window Window, logger *slog.Logger, options Options) (Device, error) {
	d := &vulkanDevice{
		logger:  logger,
		window:  window,
		options: options,
	}

	for _, step := range []struct {
		name string
		run  func() error
	}{
		{"instance", d.createInstance},
		{"debug messenger", d.createDebugMessenger},
		{"surface", d.createSurface},
		{"physical device", d.pickPhysicalDevice},
		{"logical device", d.createLogicalDevice},
		{"device context", d.createContext},
	} {
		err := step.run()
		if err != nil {
			return nil, errors.CombineErrors(errors.Wrapf(err, "failed to create %s", step.name), d.Destroy())
		}
	}

	return d, nil
}

func (d *vulkanDevice) Context() *gpu.Context { return d.ctx }

func (d *vulkanDevice) Presenter() Presenter { return d.presenter }

func (d *vulkanDevice) messengerInfo() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning | ext_debug_utils.SeverityInfo,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    validationLogger(d.logger),
	}
}

func (d *vulkanDevice) createInstance() error {
	global, err := d.window.VulkanDriver()
	if err != nil {
		return errors.Wrap(err, "failed to load vulkan")
	}

	info := core1_0.InstanceCreateInfo{
		ApplicationName:    d.options.ApplicationName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "deferred",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	extensions, _, err := global.AvailableExtensions()
	if err != nil {
		return err
	}

	for _, extension := range d.window.RequiredInstanceExtensions() {
		_, ok := extensions[extension]
		if !ok {
			return errors.Newf("the window needs instance extension %s, which is not available", extension)
		}
		info.EnabledExtensionNames = append(info.EnabledExtensionNames, extension)
	}

	_, ok := extensions[khr_portability_enumeration.ExtensionName]
	if ok {
		info.EnabledExtensionNames = append(info.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		info.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if d.options.Validation {
		_, ok = extensions[ext_debug_utils.ExtensionName]
		if !ok {
			return errors.Newf("validation needs instance extension %s, which is not available", ext_debug_utils.ExtensionName)
		}
		info.EnabledExtensionNames = append(info.EnabledExtensionNames, ext_debug_utils.ExtensionName)

		layers, _, err := global.AvailableLayers()
		if err != nil {
			return err
		}
		for _, layer := range validationLayers {
			_, ok := layers[layer]
			if !ok {
				return errors.Newf("validation layer %s is not available, install the Vulkan SDK", layer)
			}
			info.EnabledLayerNames = append(info.EnabledLayerNames, layer)
		}

		// reports problems of instance creation itself
		info.Next = d.messengerInfo()
	}

	d.instance, _, err = global.CreateInstance(nil, info)
	return err
}

func (d *vulkanDevice) createDebugMessenger() error {
	if !d.options.Validation {
		return nil
	}

	var err error
	d.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(d.instance)
	d.messenger, _, err = d.debugDriver.CreateDebugUtilsMessenger(nil, d.messengerInfo())
	return err
}

func (d *vulkanDevice) createSurface() error {
	d.surfaceDriver = khr_surface.CreateExtensionDriverFromCoreDriver(d.instance)

	surface, err := d.window.CreateSurface(d.instance.Instance(), d.surfaceDriver)
	if err != nil {
		return err
	}
	d.surface = surface
	return nil
}

func (d *vulkanDevice) findQueueFamilies(device core1_0.PhysicalDevice) (queueFamilies, error) {
	var families queueFamilies

	for index, family := range d.instance.GetPhysicalDeviceQueueFamilyProperties(device) {
		if family.QueueFlags&core1_0.QueueGraphics != 0 && families.graphics == nil {
			graphics := index
			families.graphics = &graphics
		}

		supported, _, err := d.surfaceDriver.GetPhysicalDeviceSurfaceSupport(d.surface, device, index)
		if err != nil {
			return families, err
		}
		if supported && families.present == nil {
			present := index
			families.present = &present
		}

		if families.complete() {
			break
		}
	}

	return families, nil
}

func (d *vulkanDevice) suitable(device core1_0.PhysicalDevice) (queueFamilies, bool, error) {
	families, err := d.findQueueFamilies(device)
	if err != nil || !families.complete() {
		return families, false, err
	}

	extensions, _, err := d.instance.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return families, false, err
	}
	for _, extension := range deviceExtensions {
		_, ok := extensions[extension]
		if !ok {
			return families, false, nil
		}
	}

	formats, _, err := d.surfaceDriver.GetPhysicalDeviceSurfaceFormats(d.surface, device)
	if err != nil {
		return families, false, err
	}
	presentModes, _, err := d.surfaceDriver.GetPhysicalDeviceSurfacePresentModes(d.surface, device)
	if err != nil {
		return families, false, err
	}

	return families, len(formats) > 0 && len(presentModes) > 0, nil
}

func (d *vulkanDevice) pickPhysicalDevice() error {
	devices, _, err := d.instance.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	for index, device := range devices {
		families, ok, err := d.suitable(device)
		if err != nil {
			return errors.Wrapf(err, "failed to query physical device %d", index)
		}
		if !ok {
			continue
		}

		d.physicalDevice = device
		d.families = families
		d.anisotropy = d.instance.GetPhysicalDeviceFeatures(device).SamplerAnisotropy
		d.logger.Info("physical device selected",
			slog.Int("index", index),
			slog.Int("graphicsFamily", *families.graphics),
			slog.Int("presentFamily", *families.present),
			slog.Bool("samplerAnisotropy", d.anisotropy),
		)
		return nil
	}

	return errors.Newf("none of %d physical devices can render to the window surface", len(devices))
}

func (d *vulkanDevice) createLogicalDevice() error {
	families := []int{*d.families.graphics}
	if *d.families.present != *d.families.graphics {
		families = append(families, *d.families.present)
	}

	var queueInfos []core1_0.DeviceQueueCreateInfo
	for _, family := range families {
		queueInfos = append(queueInfos, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: family,
			QueuePriorities:  []float32{1.0},
		})
	}

	extensionNames := append([]string{}, deviceExtensions...)

	extensions, _, err := d.instance.EnumerateDeviceExtensionProperties(d.physicalDevice)
	if err != nil {
		return err
	}
	_, ok := extensions[khr_portability_subset.ExtensionName]
	if ok {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	d.driver, _, err = d.instance.CreateDevice(d.physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: queueInfos,
		EnabledFeatures: &core1_0.PhysicalDeviceFeatures{
			SamplerAnisotropy: d.anisotropy,
		},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return err
	}

	d.presentQueue = d.driver.GetQueue(*d.families.present, 0)
	return nil
}

func (d *vulkanDevice) shaders() fs.FS {
	if d.options.Shaders != nil {
		return d.options.Shaders
	}
	return os.DirFS(d.options.Root)
}

func (d *vulkanDevice) createContext() error {
	depthFormat, err := gpu.FindDepthFormat(d.instance, d.physicalDevice)
	if err != nil {
		return err
	}

	properties, err := d.instance.GetPhysicalDeviceProperties(d.physicalDevice)
	if err != nil {
		return err
	}
	textureFeatures := d.instance.GetPhysicalDeviceFormatProperties(d.physicalDevice, resource.TextureFormat)

	allocator, err := vam.New(d.logger, d.driver, d.instance.GetPhysicalDeviceMemoryProperties(d.physicalDevice),
		vam.CreateOptions{BlockSize: d.options.BlockSize})
	if err != nil {
		return err
	}

	d.ctx = &gpu.Context{
		Logger:              d.logger,
		Driver:              d.driver,
		PhysicalDevice:      d.physicalDevice,
		GraphicsQueue:       d.driver.GetQueue(*d.families.graphics, 0),
		GraphicsQueueFamily: *d.families.graphics,
		Allocator:           allocator,
		Shaders:             d.shaders(),
		DepthFormat:         depthFormat,
		Limits: gpu.Limits{
			SamplerAnisotropy:    d.anisotropy,
			MaxSamplerAnisotropy: properties.Limits.MaxSamplerAnisotropy,
			LinearBlit:           textureFeatures.OptimalTilingFeatures&core1_0.FormatFeatureSampledImageFilterLinear != 0,
		},
	}

	d.presenter = &vulkanPresenter{
		logger:          d.logger,
		driver:          d.driver,
		surfaceDriver:   d.surfaceDriver,
		swapchainDriver: khr_swapchain.CreateExtensionDriverFromCoreDriver(d.driver),
		surface:         d.surface,
		physicalDevice:  d.physicalDevice,
		families:        d.families,
		presentQueue:    d.presentQueue,
	}
	return nil
}

// Destroy releases everything OpenVulkanDevice created, in reverse order
func (d *vulkanDevice) Destroy() error {
	var err error

	if d.presenter != nil {
		d.presenter.DestroySwapchain()
		d.presenter = nil
	}

	if d.ctx != nil {
		err = d.ctx.Allocator.Destroy()
		d.ctx = nil
	}

	if d.driver != nil {
		d.driver.DestroyDevice(nil)
		d.driver = nil
	}

	if d.surface.Initialized() {
		d.surfaceDriver.DestroySurface(d.surface, nil)
		d.surface = khr_surface.Surface{}
	}

	if d.messenger.Initialized() {
		d.debugDriver.DestroyDebugUtilsMessenger(d.messenger, nil)
		d.messenger = ext_debug_utils.DebugUtilsMessenger{}
	}

	if d.instance != nil {
		d.instance.DestroyInstance(nil)
		d.instance = nil
	}

	return err
}
