// Command deferred-demo opens a window, loads a scene file and renders it with the deferred renderer.
//
// Keys: WASD moves the camera, arrows turn it, F cycles the debug view and C recaptures the environment.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/deferred/renderer"
	"github.com/vkngwrapper/deferred/scene"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
)

const (
	// moveSpeed is in units per second and turnSpeed in degrees per second
	moveSpeed = 4
	turnSpeed = 90
)

type window struct {
	window *sdl.Window
}

func (w *window) VulkanDriver() (core1_0.GlobalDriver, error) {
	return core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
}

func (w *window) RequiredInstanceExtensions() []string {
	return w.window.VulkanGetInstanceExtensions()
}

func (w *window) CreateSurface(instance core1_0.Instance, surfaceDriver khr_surface.ExtensionDriver) (khr_surface.Surface, error) {
	return vkng_sdl2.CreateSurface(instance, surfaceDriver, w.window)
}

func (w *window) DrawableSize() (int, int) {
	if w.window.GetFlags()&sdl.WINDOW_MINIMIZED != 0 {
		return 0, 0
	}
	width, height := w.window.VulkanGetDrawableSize()
	return int(width), int(height)
}

type config struct {
	root       string
	scene      string
	width      int
	height     int
	validation bool
	logLevel   slog.Level
}

func parseFlags() config {
	var c config
	flag.StringVar(&c.root, "root", ".", "directory holding Shaders/bin and the scene's meshes and textures")
	flag.StringVar(&c.scene, "scene", "scene.json", "scene file, relative to -root")
	flag.IntVar(&c.width, "width", 1280, "initial window width")
	flag.IntVar(&c.height, "height", 720, "initial window height")
	flag.BoolVar(&c.validation, "validation", false, "enable the Vulkan validation layers")
	flag.TextVar(&c.logLevel, "log-level", slog.LevelInfo, "minimum level logged: DEBUG, INFO, WARN or ERROR")
	flag.Parse()
	return c
}

type demo struct {
	logger   *slog.Logger
	window   *window
	renderer *renderer.Renderer
	scene    *scene.Scene
}

func (d *demo) load(c config) error {
	width, height := d.window.DrawableSize()
	aspect := float32(1)
	if height > 0 {
		aspect = float32(width) / float32(height)
	}

	loaded, err := scene.LoadFile(context.Background(), d.renderer.Context(), os.DirFS(c.root), scene.Resources{
		Defaults:    d.renderer.Defaults(),
		LightVolume: d.renderer.LightVolume(),
	}, c.scene, aspect)
	if err != nil {
		return err
	}
	d.scene = loaded
	d.renderer.SetScene(loaded)

	return d.renderer.CaptureEnvironments()
}

// handleEvents drains the event queue and reports whether the window was closed
func (d *demo) handleEvents() (bool, error) {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch e := event.(type) {
		case *sdl.QuitEvent:
			return true, nil
		case *sdl.WindowEvent:
			switch e.Event {
			case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED, sdl.WINDOWEVENT_RESTORED, sdl.WINDOWEVENT_MINIMIZED:
				d.renderer.NotifyResize()
			}
		case *sdl.KeyboardEvent:
			if e.Type != sdl.KEYDOWN || e.Repeat != 0 {
				continue
			}
			switch e.Keysym.Sym {
			case sdl.K_ESCAPE:
				return true, nil
			case sdl.K_f:
				d.renderer.CycleDebugMode()
			case sdl.K_c:
				err := d.renderer.CaptureEnvironments()
				if err != nil {
					return false, err
				}
			}
		}
	}
	return false, nil
}

func (d *demo) moveCamera(deltaTime float32) {
	cam := d.scene.ActiveCamera()
	if cam == nil {
		return
	}

	keys := sdl.GetKeyboardState()
	forward := cam.Forward.Normalize()
	right := forward.Cross(cam.Up).Normalize()

	var move mgl32.Vec3
	if keys[sdl.SCANCODE_W] != 0 {
		move = move.Add(forward)
	}
	if keys[sdl.SCANCODE_S] != 0 {
		move = move.Sub(forward)
	}
	if keys[sdl.SCANCODE_D] != 0 {
		move = move.Add(right)
	}
	if keys[sdl.SCANCODE_A] != 0 {
		move = move.Sub(right)
	}
	if move.Len() > 0 {
		cam.Move(move.Normalize().Mul(moveSpeed * deltaTime))
	}

	var yaw, pitch float32
	if keys[sdl.SCANCODE_LEFT] != 0 {
		yaw += turnSpeed * deltaTime
	}
	if keys[sdl.SCANCODE_RIGHT] != 0 {
		yaw -= turnSpeed * deltaTime
	}
	if keys[sdl.SCANCODE_UP] != 0 {
		pitch += turnSpeed * deltaTime
	}
	if keys[sdl.SCANCODE_DOWN] != 0 {
		pitch -= turnSpeed * deltaTime
	}
	if yaw != 0 || pitch != 0 {
		cam.Rotate(mgl32.DegToRad(yaw), mgl32.DegToRad(pitch))
	}
}

func (d *demo) loop() error {
	frames := 0
	last := hrtime.Now()
	reported := last

	for {
		closed, err := d.handleEvents()
		if err != nil || closed {
			return err
		}

		now := hrtime.Now()
		deltaTime := float32((now - last).Seconds())
		last = now

		d.moveCamera(deltaTime)
		d.scene.Update(deltaTime, false)

		err = d.renderer.Render()
		if err != nil {
			return err
		}

		frames++
		if elapsed := now - reported; elapsed.Seconds() >= 5 {
			d.logger.Debug("frame rate", slog.Float64("fps", float64(frames)/elapsed.Seconds()))
			frames = 0
			reported = now
		}
	}
}

func (d *demo) destroy() error {
	var err error
	if d.scene != nil {
		d.renderer.SetScene(nil)
		err = errors.CombineErrors(err, d.scene.Destroy())
	}
	if d.renderer != nil {
		err = errors.CombineErrors(err, d.renderer.Destroy())
	}
	if d.window != nil {
		_ = d.window.window.Destroy()
	}
	return err
}

func run(c config) (err error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.logLevel}))

	err = sdl.Init(sdl.INIT_VIDEO)
	if err != nil {
		return errors.Wrap(err, "failed to initialize SDL")
	}
	defer sdl.Quit()

	sdlWindow, err := sdl.CreateWindow("Deferred", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(c.width), int32(c.height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return errors.Wrap(err, "failed to create window")
	}

	d := &demo{logger: logger, window: &window{window: sdlWindow}}
	defer func() {
		err = errors.CombineErrors(err, d.destroy())
	}()

	d.renderer = renderer.New(d.window, renderer.Options{
		ApplicationName: "deferred-demo",
		Root:            c.root,
		Validation:      c.validation,
		Logger:          logger,
	})
	err = d.renderer.Initialize()
	if err != nil {
		return err
	}

	err = d.load(c)
	if err != nil {
		return err
	}

	return d.loop()
}

func main() {
	runtime.LockOSThread()

	err := run(parseFlags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}
