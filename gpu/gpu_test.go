package gpu_test

import (
	"testing"
	"testing/fstest"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/gpu"
	"github.com/vkngwrapper/deferred/gpu/gputest"
	"go.uber.org/mock/gomock"
)

func TestRunSingleTimeSubmitsAndWaits(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	recorded := false
	err := h.Context.RunSingleTime(func(cmd core1_0.CommandBuffer) error {
		recorded = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, recorded)
	require.Equal(t, 1, h.Submissions)
}

func TestRunSingleTimeRecordFailureSkipsSubmit(t *testing.T) {
	h := gputest.New(t, gputest.Options{})

	boom := errors.New("boom")
	err := h.Context.RunSingleTime(func(cmd core1_0.CommandBuffer) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, h.Submissions)
}

func TestRunSingleTimeSubmitFailure(t *testing.T) {
	h := gputest.New(t, gputest.Options{
		Setup: func(h *gputest.Harness) {
			h.Driver.EXPECT().QueueSubmit(gomock.Any(), gomock.Any(), gomock.Any()).
				Return(core1_0.VKErrorDeviceLost, core1_0.VKErrorDeviceLost.ToError())
		},
	})

	err := h.Context.RunSingleTime(func(cmd core1_0.CommandBuffer) error { return nil })
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to submit single-time command buffer")
	require.Equal(t, 0, h.Submissions)
}

func TestShaderPath(t *testing.T) {
	ctx := &gpu.Context{ShaderRoot: "engine"}
	require.Equal(t, "engine/Shaders/bin/Geometry.vert", ctx.ShaderPath("Geometry", gpu.StageVertex))
	require.Equal(t, "Shaders/bin/Light.frag", (&gpu.Context{}).ShaderPath("Light", gpu.StageFragment))
}

func TestReadShader(t *testing.T) {
	ctx := &gpu.Context{
		Shaders: fstest.MapFS{
			"Shaders/bin/Post.vert":   &fstest.MapFile{Data: []byte{0x03, 0x02, 0x23, 0x07, 0x01, 0x00, 0x00, 0x00}},
			"Shaders/bin/Broken.vert": &fstest.MapFile{Data: []byte{0x03, 0x02, 0x23}},
		},
	}

	code, err := ctx.ReadShader("Post", gpu.StageVertex)
	require.NoError(t, err)
	require.Equal(t, []uint32{0x07230203, 1}, code)

	_, err = ctx.ReadShader("Broken", gpu.StageVertex)
	require.Error(t, err)

	_, err = ctx.ReadShader("Missing", gpu.StageFragment)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	h := gputest.New(t, gputest.Options{})
	require.NoError(t, h.Context.Validate())

	var nilCtx *gpu.Context
	require.Error(t, nilCtx.Validate())
	require.Error(t, (&gpu.Context{Logger: h.Context.Logger}).Validate())
}
