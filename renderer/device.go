package renderer

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

// ErrSwapchainOutOfDate is returned by a Presenter when the swapchain no longer matches the surface.
// The renderer recreates the swapchain and skips the frame.
var ErrSwapchainOutOfDate = errors.New("swapchain is out of date")

// Window is the windowing collaborator: it loads Vulkan, names the instance extensions its surfaces
// need and creates the surface the swapchain presents to.
type Window interface {
	VulkanDriver() (core1_0.GlobalDriver, error)
	RequiredInstanceExtensions() []string
	CreateSurface(instance core1_0.Instance, surfaceDriver khr_surface.ExtensionDriver) (khr_surface.Surface, error)
	// DrawableSize returns the size of the window in pixels. Zero means the window is minimized.
	DrawableSize() (width, height int)
}

// Swapchain describes the images of the current swapchain
type Swapchain struct {
	Format core1_0.Format
	Width  int
	Height int
	Views  []core1_0.ImageView
}

// Presenter owns the swapchain of a Device
type Presenter interface {
	// CreateSwapchain creates the swapchain and one view per image. width and height are used only when
	// the surface does not dictate its own extent.
	CreateSwapchain(width, height int) (Swapchain, error)
	// DestroySwapchain destroys the views and the swapchain. Destroying twice is a no-op.
	DestroySwapchain()
	// AcquireImage returns the index of the next image, signalling signal once it can be rendered to
	AcquireImage(signal core1_0.Semaphore) (int, error)
	// PresentImage queues an image for presentation after wait is signalled
	PresentImage(index int, wait core1_0.Semaphore) error
}

// Device is everything the renderer draws with that exists before the first swapchain: instance,
// surface, logical device, queues and the memory allocator. The renderer adds its command pool and
// descriptor pool to the context.
type Device interface {
	Context() *gpu.Context
	Presenter() Presenter
	// Destroy releases the allocator, the device and the instance. Everything created from the context
	// must have been released before.
	Destroy() error
}

// DeviceOpener opens the device for a window. OpenVulkanDevice is the implementation used outside of
// tests.
type DeviceOpener func(window Window, logger *slog.Logger, options Options) (Device, error)
