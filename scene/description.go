package scene

import (
	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/vkngwrapper/deferred/shadow"
)

// CameraDescription places the camera a loaded scene starts with
type CameraDescription struct {
	Position mgl32.Vec3
	Forward  mgl32.Vec3
	// FOV is the vertical field of view in degrees
	FOV  float32
	Near float32
	Far  float32
}

type ActorDescription struct {
	Name string
	// Mesh is the path of an OBJ file
	Mesh string
	// Textures override the textures of the OBJ material library by slot
	Textures map[TextureSlot]string
	Position mgl32.Vec3
	Scale    mgl32.Vec3
}

type CaptureDescription struct {
	Name       string
	Position   mgl32.Vec3
	Resolution int
}

// Description is a scene file: a JSON object with the optional members camera, sun, actors, lights
// and captures. Unknown members are ignored.
type Description struct {
	Camera   CameraDescription
	Sun      *shadow.DirectionalLight
	Actors   []ActorDescription
	Lights   []PointLightInfo
	Captures []CaptureDescription
}

func defaultCamera() CameraDescription {
	return CameraDescription{
		Position: mgl32.Vec3{0, 1, 5},
		Forward:  mgl32.Vec3{0, 0, -1},
		FOV:      60,
		Near:     0.1,
		Far:      100,
	}
}

// ParseDescription reads a scene file
func ParseDescription(data []byte) (Description, error) {
	description := Description{Camera: defaultCamera()}

	r := jreader.NewReader(data)
	for object := r.Object(); object.Next(); {
		switch string(object.Name()) {
		case "camera":
			readCamera(&r, &description.Camera)
		case "sun":
			description.Sun = readSun(&r)
		case "actors":
			for array := r.Array(); array.Next(); {
				description.Actors = append(description.Actors, readActor(&r))
			}
		case "lights":
			for array := r.Array(); array.Next(); {
				description.Lights = append(description.Lights, readLight(&r))
			}
		case "captures":
			for array := r.Array(); array.Next(); {
				description.Captures = append(description.Captures, readCapture(&r))
			}
		default:
			_ = r.SkipValue()
		}
	}

	err := r.Error()
	if err != nil {
		return Description{}, errors.Wrap(err, "failed to parse scene description")
	}

	for index, actor := range description.Actors {
		if actor.Mesh == "" {
			return Description{}, errors.Newf("actor %d has no mesh", index)
		}
	}
	return description, nil
}

func readVec3(r *jreader.Reader) mgl32.Vec3 {
	var v mgl32.Vec3
	count := 0
	for array := r.Array(); array.Next(); {
		value := r.Float64()
		if count < len(v) {
			v[count] = float32(value)
		}
		count++
	}
	if count != len(v) && r.Error() == nil {
		r.AddError(errors.Newf("expected 3 components but found %d", count))
	}
	return v
}

func readFloat(r *jreader.Reader) float32 {
	return float32(r.Float64())
}

func readCamera(r *jreader.Reader, camera *CameraDescription) {
	for object := r.Object(); object.Next(); {
		switch string(object.Name()) {
		case "position":
			camera.Position = readVec3(r)
		case "forward":
			camera.Forward = readVec3(r)
		case "fov":
			camera.FOV = readFloat(r)
		case "near":
			camera.Near = readFloat(r)
		case "far":
			camera.Far = readFloat(r)
		default:
			_ = r.SkipValue()
		}
	}
}

func readSun(r *jreader.Reader) *shadow.DirectionalLight {
	sun := &shadow.DirectionalLight{
		Direction: mgl32.Vec3{0, -1, 0},
		Color:     mgl32.Vec3{1, 1, 1},
		Intensity: 1,
	}
	for object := r.Object(); object.Next(); {
		switch string(object.Name()) {
		case "direction":
			sun.Direction = readVec3(r)
		case "color":
			sun.Color = readVec3(r)
		case "intensity":
			sun.Intensity = readFloat(r)
		case "castsShadows":
			sun.CastsShadows = r.Bool()
		case "shadowIntensity":
			sun.ShadowIntensity = readFloat(r)
		default:
			_ = r.SkipValue()
		}
	}
	return sun
}

var slotsByName = map[string]TextureSlot{
	"color":     SlotColor,
	"normal":    SlotNormal,
	"specular":  SlotSpecular,
	"metallic":  SlotMetallic,
	"roughness": SlotRoughness,
}

func readActor(r *jreader.Reader) ActorDescription {
	actor := ActorDescription{Scale: mgl32.Vec3{1, 1, 1}}
	for object := r.Object(); object.Next(); {
		switch string(object.Name()) {
		case "name":
			actor.Name = r.String()
		case "mesh":
			actor.Mesh = r.String()
		case "position":
			actor.Position = readVec3(r)
		case "scale":
			actor.Scale = readVec3(r)
		case "textures":
			actor.Textures = make(map[TextureSlot]string)
			for textures := r.Object(); textures.Next(); {
				name := string(textures.Name())
				slot, ok := slotsByName[name]
				if !ok {
					r.AddError(errors.Newf("unknown texture slot %q", name))
					continue
				}
				actor.Textures[slot] = r.String()
			}
		default:
			_ = r.SkipValue()
		}
	}
	return actor
}

func readLight(r *jreader.Reader) PointLightInfo {
	light := PointLightInfo{Color: mgl32.Vec3{1, 1, 1}, Intensity: 1}
	for object := r.Object(); object.Next(); {
		switch string(object.Name()) {
		case "position":
			light.Position = readVec3(r)
		case "color":
			light.Color = readVec3(r)
		case "intensity":
			light.Intensity = readFloat(r)
		case "radius":
			light.Radius = readFloat(r)
		default:
			_ = r.SkipValue()
		}
	}
	return light
}

func readCapture(r *jreader.Reader) CaptureDescription {
	var capture CaptureDescription
	for object := r.Object(); object.Next(); {
		switch string(object.Name()) {
		case "name":
			capture.Name = r.String()
		case "position":
			capture.Position = readVec3(r)
		case "resolution":
			capture.Resolution = r.Int()
		default:
			_ = r.SkipValue()
		}
	}
	return capture
}
