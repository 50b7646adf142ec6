package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// BeginSingleTime allocates a primary command buffer from the context's command pool and begins it
// for one-time submission.
func (c *Context) BeginSingleTime() (core1_0.CommandBuffer, error) {
	buffers, _, err := c.Driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        c.CommandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return core1_0.CommandBuffer{}, errors.Wrap(err, "failed to allocate single-time command buffer")
	}
	if len(buffers) != 1 {
		return core1_0.CommandBuffer{}, errors.AssertionFailedf("requested 1 command buffer but received %d", len(buffers))
	}

	buffer := buffers[0]
	_, err = c.Driver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		c.Driver.FreeCommandBuffers(buffer)
		return core1_0.CommandBuffer{}, errors.Wrap(err, "failed to begin single-time command buffer")
	}

	return buffer, nil
}

// EndSingleTime ends the command buffer, submits it to the graphics queue and blocks until the queue
// is idle. The command buffer is freed whether or not submission succeeds.
func (c *Context) EndSingleTime(buffer core1_0.CommandBuffer) error {
	defer c.Driver.FreeCommandBuffers(buffer)

	_, err := c.Driver.EndCommandBuffer(buffer)
	if err != nil {
		return errors.Wrap(err, "failed to end single-time command buffer")
	}

	_, err = c.Driver.QueueSubmit(c.GraphicsQueue, nil, core1_0.SubmitInfo{
		CommandBuffers: []core1_0.CommandBuffer{buffer},
	})
	if err != nil {
		return errors.Wrap(err, "failed to submit single-time command buffer")
	}

	_, err = c.Driver.QueueWaitIdle(c.GraphicsQueue)
	if err != nil {
		return errors.Wrap(err, "failed to wait for single-time command buffer")
	}

	return nil
}

// RunSingleTime records commands with record into a fresh command buffer and submits them, waiting
// until the GPU has finished. If record fails, nothing is submitted.
func (c *Context) RunSingleTime(record func(cmd core1_0.CommandBuffer) error) error {
	buffer, err := c.BeginSingleTime()
	if err != nil {
		return err
	}

	err = record(buffer)
	if err != nil {
		_, endErr := c.Driver.EndCommandBuffer(buffer)
		c.Driver.FreeCommandBuffers(buffer)
		return errors.CombineErrors(err, endErr)
	}

	return c.EndSingleTime(buffer)
}
