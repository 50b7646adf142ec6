// Package gputest builds a gpu.Context over a mock device driver that accepts every call the renderer
// components make and records the ones tests want to inspect.
package gputest

import (
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"testing"
	"testing/fstest"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/mocks"
	"github.com/vkngwrapper/core/v3/mocks/mocks1_2"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/memutils"
	"github.com/vkngwrapper/deferred/vam"
	"go.uber.org/mock/gomock"
)

// BlockSize is the allocator block size used by harness contexts. Mapped memory of every block is
// backed by one shared host buffer of this size.
const BlockSize = 8 * 1024 * 1024

// ResourceSize is the size reported by the mock driver for every image and buffer memory requirement
const ResourceSize = 64 * 1024

// DeviceLocalType and HostVisibleType are the memory type indices of the harness device
const (
	DeviceLocalType = 0
	HostVisibleType = 1
)

type Options struct {
	// Setup runs after the mock driver exists and before the permissive expectations are added, so
	// expectations registered here take precedence.
	Setup func(h *Harness)
	// Logger replaces the default logger that discards everything
	Logger *slog.Logger
}

// Harness owns a mock device driver and a gpu.Context built over it
type Harness struct {
	Ctrl    *gomock.Controller
	Driver  *mocks1_2.MockCoreDeviceDriver
	Context *gpu.Context

	// Images lists the create info of every image created, in order
	Images []core1_0.ImageCreateInfo
	// Views lists the create info of every image view created, in order
	Views []core1_0.ImageViewCreateInfo
	// Samplers lists the create info of every sampler created, in order
	Samplers []core1_0.SamplerCreateInfo
	// Barriers lists every image memory barrier recorded, in order
	Barriers []core1_0.ImageMemoryBarrier
	// Writes lists every descriptor write, in order
	Writes []core1_0.WriteDescriptorSet
	// SetLayouts lists the bindings of every descriptor set layout created, in order
	SetLayouts [][]core1_0.DescriptorSetLayoutBinding
	// Pipelines lists the create info of every graphics pipeline created, in order
	Pipelines []core1_0.GraphicsPipelineCreateInfo
	// RenderPasses lists the create info of every render pass created, in order
	RenderPasses []core1_0.RenderPassCreateInfo
	// Framebuffers lists the create info of every framebuffer created, in order
	Framebuffers []core1_0.FramebufferCreateInfo

	// Created and Destroyed count driver objects by kind, e.g. "Image" or "Sampler"
	Created   map[string]int
	Destroyed map[string]int
	// Submissions counts queue idle waits, one per single-time submission or frame
	Submissions int
	// Submitted lists the info of every queue submission, in order
	Submitted []core1_0.SubmitInfo

	hostMemory []byte
}

// New creates a harness. The controller is finished by the test cleanup.
func New(t *testing.T, options Options) *Harness {
	ctrl := gomock.NewController(t)
	driver := mocks1_2.NewMockCoreDeviceDriver(ctrl)

	h := &Harness{
		Ctrl:       ctrl,
		Driver:     driver,
		Created:    make(map[string]int),
		Destroyed:  make(map[string]int),
		hostMemory: make([]byte, BlockSize),
	}

	device := mocks.NewDummyDevice(common.Vulkan1_2, []string{})
	driver.EXPECT().Device().Return(device).AnyTimes()

	if options.Setup != nil {
		options.Setup(h)
	}

	h.expectMemory()
	h.expectResources()
	h.expectCommands()
	h.expectPipelines()

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	allocator, err := vam.New(logger, driver, &core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
		},
		MemoryHeaps: []core1_0.MemoryHeap{
			{Size: 1 << 30, Flags: core1_0.MemoryHeapDeviceLocal},
			{Size: 1 << 30},
		},
	}, vam.CreateOptions{BlockSize: BlockSize})
	require.NoError(t, err)

	h.Context = &gpu.Context{
		Logger:      logger,
		Driver:      driver,
		Allocator:   allocator,
		Shaders:     ShaderFS{},
		DepthFormat: core1_0.FormatD32SignedFloat,
		Limits: gpu.Limits{
			SamplerAnisotropy:    true,
			MaxSamplerAnisotropy: 16,
			LinearBlit:           true,
		},
	}

	return h
}

// Live returns how many objects of a kind have been created and not destroyed
func (h *Harness) Live(kind string) int {
	return h.Created[kind] - h.Destroyed[kind]
}

// LiveAllocations returns the number of allocations still held in the context's allocator
func (h *Harness) LiveAllocations() int {
	var stats memutils.DetailedStatistics
	h.Context.Allocator.CalculateStatistics(&stats)
	return stats.AllocationCount
}

// HostMemory returns the bytes backing every mapped block
func (h *Harness) HostMemory() []byte {
	return h.hostMemory
}

func (h *Harness) count(kind string) func(any, any) {
	return func(any, any) {
		h.Destroyed[kind]++
	}
}

func (h *Harness) expectMemory() {
	d := h.Driver

	d.EXPECT().AllocateMemory(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, info core1_0.MemoryAllocateInfo) (core1_0.DeviceMemory, common.VkResult, error) {
			h.Created["DeviceMemory"]++
			return mocks.NewDummyDeviceMemory(d.Device(), info.AllocationSize), core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().FreeMemory(gomock.Any(), gomock.Any()).Do(h.count("DeviceMemory")).AnyTimes()
	d.EXPECT().MapMemory(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(unsafe.Pointer(&h.hostMemory[0]), core1_0.VKSuccess, nil).AnyTimes()
	d.EXPECT().UnmapMemory(gomock.Any()).AnyTimes()

	requirements := &core1_0.MemoryRequirements{
		Size:           ResourceSize,
		Alignment:      256,
		MemoryTypeBits: 0xffffffff,
	}
	d.EXPECT().GetImageMemoryRequirements(gomock.Any()).Return(requirements).AnyTimes()
	d.EXPECT().GetBufferMemoryRequirements(gomock.Any()).Return(requirements).AnyTimes()
	d.EXPECT().BindImageMemory(gomock.Any(), gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	d.EXPECT().BindBufferMemory(gomock.Any(), gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
}

func (h *Harness) expectResources() {
	d := h.Driver

	d.EXPECT().CreateImage(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, info core1_0.ImageCreateInfo) (core1_0.Image, common.VkResult, error) {
			h.Created["Image"]++
			h.Images = append(h.Images, info)
			return mocks.NewDummyImage(d.Device()), core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().DestroyImage(gomock.Any(), gomock.Any()).Do(h.count("Image")).AnyTimes()

	d.EXPECT().CreateImageView(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, info core1_0.ImageViewCreateInfo) (core1_0.ImageView, common.VkResult, error) {
			h.Created["ImageView"]++
			h.Views = append(h.Views, info)
			return core1_0.ImageView{}, core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().DestroyImageView(gomock.Any(), gomock.Any()).Do(h.count("ImageView")).AnyTimes()

	d.EXPECT().CreateSampler(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, info core1_0.SamplerCreateInfo) (core1_0.Sampler, common.VkResult, error) {
			h.Created["Sampler"]++
			h.Samplers = append(h.Samplers, info)
			return core1_0.Sampler{}, core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().DestroySampler(gomock.Any(), gomock.Any()).Do(h.count("Sampler")).AnyTimes()

	d.EXPECT().CreateBuffer(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, _ core1_0.BufferCreateInfo) (core1_0.Buffer, common.VkResult, error) {
			h.Created["Buffer"]++
			return mocks.NewDummyBuffer(d.Device()), core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().DestroyBuffer(gomock.Any(), gomock.Any()).Do(h.count("Buffer")).AnyTimes()

	d.EXPECT().CreateFramebuffer(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, info core1_0.FramebufferCreateInfo) (core1_0.Framebuffer, common.VkResult, error) {
			h.Created["Framebuffer"]++
			h.Framebuffers = append(h.Framebuffers, info)
			return core1_0.Framebuffer{}, core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().DestroyFramebuffer(gomock.Any(), gomock.Any()).Do(h.count("Framebuffer")).AnyTimes()

	d.EXPECT().CreateRenderPass(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, info core1_0.RenderPassCreateInfo) (core1_0.RenderPass, common.VkResult, error) {
			h.Created["RenderPass"]++
			h.RenderPasses = append(h.RenderPasses, info)
			return core1_0.RenderPass{}, core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().DestroyRenderPass(gomock.Any(), gomock.Any()).Do(h.count("RenderPass")).AnyTimes()

	d.EXPECT().CreateSemaphore(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, _ core1_0.SemaphoreCreateInfo) (core1_0.Semaphore, common.VkResult, error) {
			h.Created["Semaphore"]++
			return core1_0.Semaphore{}, core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().DestroySemaphore(gomock.Any(), gomock.Any()).Do(h.count("Semaphore")).AnyTimes()

	d.EXPECT().CreateCommandPool(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, _ core1_0.CommandPoolCreateInfo) (core1_0.CommandPool, common.VkResult, error) {
			h.Created["CommandPool"]++
			return mocks.NewDummyCommandPool(d.Device()), core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().DestroyCommandPool(gomock.Any(), gomock.Any()).Do(h.count("CommandPool")).AnyTimes()

	d.EXPECT().CreateDescriptorPool(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, _ core1_0.DescriptorPoolCreateInfo) (core1_0.DescriptorPool, common.VkResult, error) {
			h.Created["DescriptorPool"]++
			return mocks.NewDummyDescriptorPool(d.Device()), core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().DestroyDescriptorPool(gomock.Any(), gomock.Any()).Do(h.count("DescriptorPool")).AnyTimes()

	d.EXPECT().AllocateDescriptorSets(gomock.Any()).DoAndReturn(
		func(info core1_0.DescriptorSetAllocateInfo) ([]core1_0.DescriptorSet, common.VkResult, error) {
			h.Created["DescriptorSet"] += len(info.SetLayouts)
			return make([]core1_0.DescriptorSet, len(info.SetLayouts)), core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().FreeDescriptorSets(gomock.Any()).AnyTimes()
	d.EXPECT().UpdateDescriptorSets(gomock.Any(), gomock.Any()).DoAndReturn(
		func(writes []core1_0.WriteDescriptorSet, _ any) error {
			h.Writes = append(h.Writes, writes...)
			return nil
		}).AnyTimes()
}

func (h *Harness) expectCommands() {
	d := h.Driver

	d.EXPECT().AllocateCommandBuffers(gomock.Any()).DoAndReturn(
		func(info core1_0.CommandBufferAllocateInfo) ([]core1_0.CommandBuffer, common.VkResult, error) {
			return make([]core1_0.CommandBuffer, info.CommandBufferCount), core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().FreeCommandBuffers(gomock.Any()).AnyTimes()
	d.EXPECT().BeginCommandBuffer(gomock.Any(), gomock.Any()).AnyTimes()
	d.EXPECT().EndCommandBuffer(gomock.Any()).AnyTimes()
	d.EXPECT().ResetCommandBuffer(gomock.Any(), gomock.Any()).AnyTimes()
	d.EXPECT().QueueSubmit(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_, _ any, infos ...core1_0.SubmitInfo) (common.VkResult, error) {
			h.Submitted = append(h.Submitted, infos...)
			return core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().DeviceWaitIdle().Return(core1_0.VKSuccess, nil).AnyTimes()
	d.EXPECT().QueueWaitIdle(gomock.Any()).DoAndReturn(func(any) (common.VkResult, error) {
		h.Submissions++
		return core1_0.VKSuccess, nil
	}).AnyTimes()

	d.EXPECT().CmdPipelineBarrier(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_, _, _, _, _, _ any, barriers []core1_0.ImageMemoryBarrier) error {
			h.Barriers = append(h.Barriers, barriers...)
			return nil
		}).AnyTimes()
	d.EXPECT().CmdBlitImage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	d.EXPECT().CmdCopyBufferToImage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	d.EXPECT().CmdCopyBuffer(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	d.EXPECT().CmdClearColorImage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	d.EXPECT().CmdClearDepthStencilImage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

	d.EXPECT().CmdBeginRenderPass(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	d.EXPECT().CmdNextSubpass(gomock.Any(), gomock.Any()).AnyTimes()
	d.EXPECT().CmdEndRenderPass(gomock.Any()).AnyTimes()
	d.EXPECT().CmdBindPipeline(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	d.EXPECT().CmdBindDescriptorSets(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	d.EXPECT().CmdBindVertexBuffers(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	d.EXPECT().CmdBindIndexBuffer(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	d.EXPECT().CmdDraw(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	d.EXPECT().CmdDrawIndexed(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
}

func (h *Harness) expectPipelines() {
	d := h.Driver

	d.EXPECT().CreateShaderModule(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, _ core1_0.ShaderModuleCreateInfo) (core1_0.ShaderModule, common.VkResult, error) {
			h.Created["ShaderModule"]++
			return core1_0.ShaderModule{}, core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().DestroyShaderModule(gomock.Any(), gomock.Any()).Do(h.count("ShaderModule")).AnyTimes()

	d.EXPECT().CreateDescriptorSetLayout(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, info core1_0.DescriptorSetLayoutCreateInfo) (core1_0.DescriptorSetLayout, common.VkResult, error) {
			h.Created["DescriptorSetLayout"]++
			h.SetLayouts = append(h.SetLayouts, info.Bindings)
			return core1_0.DescriptorSetLayout{}, core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().DestroyDescriptorSetLayout(gomock.Any(), gomock.Any()).Do(h.count("DescriptorSetLayout")).AnyTimes()

	d.EXPECT().CreatePipelineLayout(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ any, _ core1_0.PipelineLayoutCreateInfo) (core1_0.PipelineLayout, common.VkResult, error) {
			h.Created["PipelineLayout"]++
			return core1_0.PipelineLayout{}, core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().DestroyPipelineLayout(gomock.Any(), gomock.Any()).Do(h.count("PipelineLayout")).AnyTimes()

	d.EXPECT().CreateGraphicsPipelines(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_, _ any, info core1_0.GraphicsPipelineCreateInfo) ([]core1_0.Pipeline, common.VkResult, error) {
			h.Created["Pipeline"]++
			h.Pipelines = append(h.Pipelines, info)
			return []core1_0.Pipeline{{}}, core1_0.VKSuccess, nil
		}).AnyTimes()
	d.EXPECT().DestroyPipeline(gomock.Any(), gomock.Any()).Do(h.count("Pipeline")).AnyTimes()
}

var spirvMagic = []byte{0x03, 0x02, 0x23, 0x07}

// ShaderFS serves a one-word SPIR-V binary for every .vert and .frag path
type ShaderFS struct{}

func (ShaderFS) Open(name string) (fs.File, error) {
	if !strings.HasSuffix(name, ".vert") && !strings.HasSuffix(name, ".frag") {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}

	return fstest.MapFS{name: &fstest.MapFile{Data: spirvMagic}}.Open(name)
}
