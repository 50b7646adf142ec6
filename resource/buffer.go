package resource

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/vam"
)

// Buffer owns a buffer object and the allocation bound to it
type Buffer struct {
	ctx  *gpu.Context
	name string

	size       int
	usage      core1_0.BufferUsageFlags
	properties core1_0.MemoryPropertyFlags

	buffer     core1_0.Buffer
	allocation *vam.Allocation
	destroyed  bool
}

// NewBuffer creates a buffer of size bytes and binds memory with the requested properties to it
func NewBuffer(ctx *gpu.Context, name string, size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (*Buffer, error) {
	if size <= 0 {
		return nil, errors.Newf("buffer %q has invalid size %d", name, size)
	}

	buffer, _, err := ctx.Driver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create buffer %q", name)
	}

	allocation, err := ctx.Allocator.AllocateForBuffer(buffer, properties)
	if err != nil {
		ctx.Driver.DestroyBuffer(buffer, nil)
		return nil, errors.Wrapf(err, "failed to allocate memory for buffer %q", name)
	}
	allocation.SetName(name)

	return &Buffer{
		ctx:        ctx,
		name:       name,
		size:       size,
		usage:      usage,
		properties: properties,
		buffer:     buffer,
		allocation: allocation,
	}, nil
}

// NewStagingBuffer creates a host visible transfer source buffer
func NewStagingBuffer(ctx *gpu.Context, name string, size int) (*Buffer, error) {
	return NewBuffer(ctx, name, size, core1_0.BufferUsageTransferSrc,
		core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
}

// NewUniformBuffer creates a host visible uniform buffer that can be rewritten every frame
func NewUniformBuffer(ctx *gpu.Context, name string, size int) (*Buffer, error) {
	return NewBuffer(ctx, name, size, core1_0.BufferUsageUniformBuffer,
		core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
}

// UploadBuffer creates a device local buffer holding data. The data goes through a staging buffer and
// a single-time copy, so the call blocks until the GPU has finished the copy.
func UploadBuffer(ctx *gpu.Context, name string, data []byte, usage core1_0.BufferUsageFlags) (*Buffer, error) {
	staging, err := NewStagingBuffer(ctx, name+" staging", len(data))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = staging.Destroy()
	}()

	err = staging.Write(data)
	if err != nil {
		return nil, err
	}

	buffer, err := NewBuffer(ctx, name, len(data), usage|core1_0.BufferUsageTransferDst, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return nil, err
	}

	err = ctx.RunSingleTime(func(cmd core1_0.CommandBuffer) error {
		return ctx.Driver.CmdCopyBuffer(cmd, staging.buffer, buffer.buffer, core1_0.BufferCopy{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      len(data),
		})
	})
	if err != nil {
		return nil, errors.CombineErrors(errors.Wrapf(err, "failed to upload buffer %q", name), buffer.Destroy())
	}

	return buffer, nil
}

func (b *Buffer) Name() string { return b.name }

func (b *Buffer) Size() int { return b.size }

func (b *Buffer) Handle() core1_0.Buffer { return b.buffer }

// Write copies data to the start of the buffer. The buffer must be host visible.
func (b *Buffer) Write(data []byte) error {
	if b.destroyed {
		return errors.Newf("cannot write to destroyed buffer %q", b.name)
	}
	if b.properties&core1_0.MemoryPropertyHostVisible == 0 {
		return errors.Newf("buffer %q is not host visible", b.name)
	}
	if len(data) > b.size {
		return errors.Newf("cannot write %d bytes to buffer %q of %d bytes", len(data), b.name, b.size)
	}

	return b.allocation.WriteBytes(data)
}

// WriteData encodes data in the device byte order and writes it to the start of the buffer
func (b *Buffer) WriteData(data any) error {
	encoded, err := Encode(data)
	if err != nil {
		return errors.Wrapf(err, "buffer %q", b.name)
	}
	return b.Write(encoded)
}

// DescriptorInfo describes the whole buffer for a uniform buffer write
func (b *Buffer) DescriptorInfo() core1_0.DescriptorBufferInfo {
	return core1_0.DescriptorBufferInfo{
		Buffer: b.buffer,
		Offset: 0,
		Range:  b.size,
	}
}

// Destroy releases the buffer and its memory. Destroying twice is a no-op.
func (b *Buffer) Destroy() error {
	if b.destroyed {
		return nil
	}
	b.destroyed = true

	b.ctx.Driver.DestroyBuffer(b.buffer, nil)
	return b.allocation.Free()
}

// Encode serializes fixed-size data in the byte order the device expects
func Encode(data any) ([]byte, error) {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, common.ByteOrder, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode data")
	}
	return buf.Bytes(), nil
}
