package gpu

import (
	"io/fs"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/vam"
)

// Limits holds the device capabilities that resource creation depends on. They are queried once when
// the device is selected so that the components below never have to go back to the instance.
type Limits struct {
	// SamplerAnisotropy is true when the samplerAnisotropy feature was enabled on the device
	SamplerAnisotropy    bool
	MaxSamplerAnisotropy float32
	// LinearBlit is true when sampled RGBA8 images support linear filtering in blits, which mip
	// generation requires. Textures are created with a single level when it is false.
	LinearBlit bool
}

// Context is the explicit device context handed to every renderer component. It replaces any kind of
// process-wide renderer instance: whoever owns the device builds one Context and passes it down.
//
// Context is not safe for concurrent use. All Vulkan calls made through it must come from one thread.
type Context struct {
	Logger *slog.Logger

	Driver         core1_0.DeviceDriver
	PhysicalDevice core1_0.PhysicalDevice

	GraphicsQueue       core1_0.Queue
	GraphicsQueueFamily int

	// CommandPool is used for single-time submissions and for the renderer's frame command buffer
	CommandPool core1_0.CommandPool
	// DescriptorPool is the shared arena every descriptor set is allocated from
	DescriptorPool core1_0.DescriptorPool
	Allocator      *vam.Allocator

	// Shaders is the file system shader binaries are read from, see LoadShader
	Shaders fs.FS
	// ShaderRoot is the directory inside Shaders that contains Shaders/bin
	ShaderRoot string

	DepthFormat core1_0.Format
	Limits      Limits
}

// Validate returns an error naming the first field a component cannot work without
func (c *Context) Validate() error {
	if c == nil {
		return errors.New("gpu context is nil")
	}
	if c.Logger == nil {
		return errors.New("gpu context has no logger")
	}
	if c.Driver == nil {
		return errors.New("gpu context has no device driver")
	}
	if c.Allocator == nil {
		return errors.New("gpu context has no memory allocator")
	}
	return nil
}
