package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// DepthFormatCandidates are tried in order when picking the depth attachment format
var DepthFormatCandidates = []core1_0.Format{
	core1_0.FormatD32SignedFloat,
	core1_0.FormatD32SignedFloatS8UnsignedInt,
	core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
}

// FindSupportedFormat returns the first format in candidates whose optimal or linear tiling features,
// depending on tiling, contain all of features.
func FindSupportedFormat(instance core1_0.CoreInstanceDriver, physicalDevice core1_0.PhysicalDevice, candidates []core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags) (core1_0.Format, error) {
	for _, format := range candidates {
		props := instance.GetPhysicalDeviceFormatProperties(physicalDevice, format)

		if tiling == core1_0.ImageTilingLinear && (props.LinearTilingFeatures&features) == features {
			return format, nil
		} else if tiling == core1_0.ImageTilingOptimal && (props.OptimalTilingFeatures&features) == features {
			return format, nil
		}
	}

	return 0, errors.Newf("failed to find supported format for tiling %s, featureset %s", tiling, features)
}

// FindDepthFormat picks a depth format usable as an optimal-tiling depth attachment
func FindDepthFormat(instance core1_0.CoreInstanceDriver, physicalDevice core1_0.PhysicalDevice) (core1_0.Format, error) {
	return FindSupportedFormat(instance, physicalDevice, DepthFormatCandidates,
		core1_0.ImageTilingOptimal,
		core1_0.FormatFeatureDepthStencilAttachment)
}

// HasStencilComponent reports whether a depth format carries a stencil aspect
func HasStencilComponent(format core1_0.Format) bool {
	return format == core1_0.FormatD32SignedFloatS8UnsignedInt || format == core1_0.FormatD24UnsignedNormalizedS8UnsignedInt
}

// IsDepthFormat reports whether format is one of the depth formats
func IsDepthFormat(format core1_0.Format) bool {
	switch format {
	case core1_0.FormatD32SignedFloat, core1_0.FormatD32SignedFloatS8UnsignedInt,
		core1_0.FormatD24UnsignedNormalizedS8UnsignedInt:
		return true
	}
	return false
}
