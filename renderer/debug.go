package renderer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
)

// DebugMode selects what the lighting subpass shows. The value is written to the visualization mode of
// the global uniform.
type DebugMode int

const (
	// DebugShaded is the normal lit output
	DebugShaded DebugMode = iota
	DebugPosition
	DebugNormal
	DebugColor
	DebugSpecular
	DebugMetallic
	DebugRoughness
	// DebugEnvironmentCapture shows the environment cube nearest to the camera
	DebugEnvironmentCapture
	DebugShadowMap

	debugModeCount
)

var debugModeNames = map[DebugMode]string{
	DebugShaded:             "shaded",
	DebugPosition:           "position",
	DebugNormal:             "normal",
	DebugColor:              "color",
	DebugSpecular:           "specular",
	DebugMetallic:           "metallic",
	DebugRoughness:          "roughness",
	DebugEnvironmentCapture: "environment capture",
	DebugShadowMap:          "shadow map",
}

func (m DebugMode) String() string {
	name, ok := debugModeNames[m]
	if !ok {
		return fmt.Sprintf("DebugMode(%d)", int(m))
	}
	return name
}

// Valid reports whether m is one of the declared modes
func (m DebugMode) Valid() bool {
	return m >= DebugShaded && m < debugModeCount
}

// Next returns the mode after m, wrapping around to DebugShaded
func (m DebugMode) Next() DebugMode {
	return (m + 1) % debugModeCount
}

// ValidationLevel maps the severity of a validation message to a log level
func ValidationLevel(severity ext_debug_utils.DebugUtilsMessageSeverityFlags) slog.Level {
	switch {
	case severity&ext_debug_utils.SeverityError != 0:
		return slog.LevelError
	case severity&ext_debug_utils.SeverityWarning != 0:
		return slog.LevelWarn
	case severity&ext_debug_utils.SeverityInfo != 0:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func validationLogger(logger *slog.Logger) func(ext_debug_utils.DebugUtilsMessageTypeFlags, ext_debug_utils.DebugUtilsMessageSeverityFlags, *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	return func(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
		logger.LogAttrs(context.Background(), ValidationLevel(severity), "[VALIDATION] "+data.Message,
			slog.Any("type", msgType),
		)
		return false
	}
}
