package renderer_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/renderer"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

func TestChooseSurfaceFormat(t *testing.T) {
	linear := khr_surface.SurfaceFormat{Format: core1_0.FormatR8G8B8A8UnsignedNormalized, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear}
	srgb := khr_surface.SurfaceFormat{Format: core1_0.FormatB8G8R8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear}

	require.Equal(t, srgb, renderer.ChooseSurfaceFormat([]khr_surface.SurfaceFormat{linear, srgb}))
	require.Equal(t, linear, renderer.ChooseSurfaceFormat([]khr_surface.SurfaceFormat{linear}))
}

func TestChoosePresentMode(t *testing.T) {
	require.Equal(t, khr_surface.PresentModeMailbox, renderer.ChoosePresentMode([]khr_surface.PresentMode{
		khr_surface.PresentModeFIFO, khr_surface.PresentModeMailbox,
	}))
	require.Equal(t, khr_surface.PresentModeFIFO, renderer.ChoosePresentMode([]khr_surface.PresentMode{
		khr_surface.PresentModeImmediate,
	}))
}

func TestChooseExtent(t *testing.T) {
	fixed := &khr_surface.SurfaceCapabilities{
		CurrentExtent: core1_0.Extent2D{Width: 1920, Height: 1080},
	}
	require.Equal(t, core1_0.Extent2D{Width: 1920, Height: 1080}, renderer.ChooseExtent(fixed, 640, 480))

	free := &khr_surface.SurfaceCapabilities{
		CurrentExtent:  core1_0.Extent2D{Width: -1, Height: -1},
		MinImageExtent: core1_0.Extent2D{Width: 100, Height: 100},
		MaxImageExtent: core1_0.Extent2D{Width: 2000, Height: 1000},
	}
	require.Equal(t, core1_0.Extent2D{Width: 640, Height: 480}, renderer.ChooseExtent(free, 640, 480))
	require.Equal(t, core1_0.Extent2D{Width: 100, Height: 1000}, renderer.ChooseExtent(free, 10, 4000))
}

func TestValidationLevel(t *testing.T) {
	require.Equal(t, slog.LevelError, renderer.ValidationLevel(ext_debug_utils.SeverityError|ext_debug_utils.SeverityWarning))
	require.Equal(t, slog.LevelWarn, renderer.ValidationLevel(ext_debug_utils.SeverityWarning))
	require.Equal(t, slog.LevelInfo, renderer.ValidationLevel(ext_debug_utils.SeverityInfo))
	require.Equal(t, slog.LevelDebug, renderer.ValidationLevel(0))
}
