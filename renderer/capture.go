package renderer

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/deferred/descriptor"
	"github.com/vkngwrapper/deferred/envcapture"
	"github.com/vkngwrapper/deferred/pipeline"
)

// captureHost is the view of the renderer environment captures drive. Captures always render shaded,
// whatever the debug mode.
type captureHost struct {
	r *Renderer
}

var _ envcapture.Host = captureHost{}

func (h captureHost) MainPass() *pipeline.MainPass { return h.r.mainPass }

func (h captureHost) Scene() envcapture.Scene {
	if h.r.scene == nil {
		return nil
	}
	return h.r.scene
}

func (h captureHost) CaptureSets() map[pipeline.SetRole]*descriptor.Set {
	return map[pipeline.SetRole]*descriptor.Set{
		pipeline.RoleGlobal:      h.r.sets.global,
		pipeline.RoleShadow:      h.r.sets.shadow,
		pipeline.RoleEnvironment: h.r.sets.captureEnvironment,
	}
}

func (h captureHost) ScreenSize() mgl32.Vec2 { return h.r.screenSize }

func (h captureHost) SetScreenSize(size mgl32.Vec2) error {
	h.r.screenSize = size
	return h.r.writeGlobals(DebugShaded)
}

func (h captureHost) UpdateGlobals() error {
	return h.r.writeGlobals(DebugShaded)
}

// CaptureEnvironments captures every environment of the bound scene once. The captures are lit by the
// sun and shadow map of the last frame, and never by another capture.
func (r *Renderer) CaptureEnvironments() error {
	if r.state != StateReady {
		return r.invalidState("CaptureEnvironments")
	}
	if r.scene == nil {
		return errors.New("no scene to capture environments of")
	}

	host := captureHost{r: r}
	captures := r.scene.EnvironmentCaptures()
	for _, capture := range captures {
		err := capture.Capture(host)
		// a failed capture may have released the cube the environment set points at
		r.environmentBound = false
		if err != nil {
			return err
		}
	}

	r.logger.Info("environments captured", slog.Int("count", len(captures)))
	return nil
}
