package renderer

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

type vulkanPresenter struct {
	logger *slog.Logger
	driver core1_0.DeviceDriver

	surfaceDriver   khr_surface.ExtensionDriver
	swapchainDriver khr_swapchain.ExtensionDriver
	surface         khr_surface.Surface
	physicalDevice  core1_0.PhysicalDevice
	families        queueFamilies
	presentQueue    core1_0.Queue

	swapchain khr_swapchain.Swapchain
	views     []core1_0.ImageView
}

// ChooseSurfaceFormat prefers 8 bit sRGB BGRA and falls back to the first format the surface offers
func ChooseSurfaceFormat(formats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range formats {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}
	return formats[0]
}

// ChoosePresentMode prefers mailbox. FIFO is always available.
func ChoosePresentMode(modes []khr_surface.PresentMode) khr_surface.PresentMode {
	for _, mode := range modes {
		if mode == khr_surface.PresentModeMailbox {
			return mode
		}
	}
	return khr_surface.PresentModeFIFO
}

// ChooseExtent uses the extent of the surface when it dictates one, and otherwise clamps the window
// size to the extents the surface supports
func ChooseExtent(capabilities *khr_surface.SurfaceCapabilities, width, height int) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	clamp := func(value, low, high int) int {
		if value < low {
			return low
		}
		if value > high {
			return high
		}
		return value
	}

	return core1_0.Extent2D{
		Width:  clamp(width, capabilities.MinImageExtent.Width, capabilities.MaxImageExtent.Width),
		Height: clamp(height, capabilities.MinImageExtent.Height, capabilities.MaxImageExtent.Height),
	}
}

func (p *vulkanPresenter) CreateSwapchain(width, height int) (Swapchain, error) {
	capabilities, _, err := p.surfaceDriver.GetPhysicalDeviceSurfaceCapabilities(p.surface, p.physicalDevice)
	if err != nil {
		return Swapchain{}, err
	}
	formats, _, err := p.surfaceDriver.GetPhysicalDeviceSurfaceFormats(p.surface, p.physicalDevice)
	if err != nil {
		return Swapchain{}, err
	}
	presentModes, _, err := p.surfaceDriver.GetPhysicalDeviceSurfacePresentModes(p.surface, p.physicalDevice)
	if err != nil {
		return Swapchain{}, err
	}
	if len(formats) == 0 {
		return Swapchain{}, errors.New("the surface reports no formats")
	}

	format := ChooseSurfaceFormat(formats)
	extent := ChooseExtent(capabilities, width, height)

	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}

	sharingMode := core1_0.SharingModeExclusive
	var familyIndices []int
	if *p.families.graphics != *p.families.present {
		sharingMode = core1_0.SharingModeConcurrent
		familyIndices = []int{*p.families.graphics, *p.families.present}
	}

	p.swapchain, _, err = p.swapchainDriver.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: p.surface,

		MinImageCount:    imageCount,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: familyIndices,

		PreTransform:   capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    ChoosePresentMode(presentModes),
		Clipped:        true,
	})
	if err != nil {
		return Swapchain{}, errors.Wrap(err, "failed to create swapchain")
	}

	images, _, err := p.swapchainDriver.GetSwapchainImages(p.swapchain)
	if err != nil {
		p.DestroySwapchain()
		return Swapchain{}, errors.Wrap(err, "failed to get swapchain images")
	}

	for index, image := range images {
		view, _, err := p.driver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
			Image:    image,
			ViewType: core1_0.ImageViewType2D,
			Format:   format.Format,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
		if err != nil {
			p.DestroySwapchain()
			return Swapchain{}, errors.Wrapf(err, "failed to create view of swapchain image %d", index)
		}
		p.views = append(p.views, view)
	}

	p.logger.Debug("swapchain created",
		slog.Int("width", extent.Width),
		slog.Int("height", extent.Height),
		slog.Int("images", len(images)),
	)

	return Swapchain{
		Format: format.Format,
		Width:  extent.Width,
		Height: extent.Height,
		Views:  append([]core1_0.ImageView{}, p.views...),
	}, nil
}

func (p *vulkanPresenter) DestroySwapchain() {
	for _, view := range p.views {
		p.driver.DestroyImageView(view, nil)
	}
	p.views = nil

	if p.swapchain.Initialized() {
		p.swapchainDriver.DestroySwapchain(p.swapchain, nil)
		p.swapchain = khr_swapchain.Swapchain{}
	}
}

func (p *vulkanPresenter) AcquireImage(signal core1_0.Semaphore) (int, error) {
	index, res, err := p.swapchainDriver.AcquireNextImage(p.swapchain, common.NoTimeout, &signal, nil)
	if res == khr_swapchain.VKErrorOutOfDate {
		return 0, ErrSwapchainOutOfDate
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to acquire swapchain image")
	}
	return index, nil
}

func (p *vulkanPresenter) PresentImage(index int, wait core1_0.Semaphore) error {
	res, err := p.swapchainDriver.QueuePresent(p.presentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{wait},
		Swapchains:     []khr_swapchain.Swapchain{p.swapchain},
		ImageIndices:   []int{index},
	})
	if res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal {
		return ErrSwapchainOutOfDate
	}
	if err != nil {
		return errors.Wrap(err, "failed to present swapchain image")
	}
	return nil
}
