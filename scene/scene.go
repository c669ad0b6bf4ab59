// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package scene defines the flat Data Model that every scene front-end
// (glTF, OBJ) populates: triangle soup, materials and textures, plus the
// extracted camera pose. The BVH and renderer consume only this package's
// types, never a front-end's internal representation.
package scene

import (
	"log"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/gviegas/pathtrace/geom"
	"github.com/gviegas/pathtrace/texture"
)

const prefix = "scene: "

func newErr(reason string) error { return errors.New(prefix + reason) }

// ErrInvalid means the scene document is malformed.
var ErrInvalid = newErr("invalid scene document")

// ErrIO means the scene file (or a file it references) could not be
// read.
var ErrIO = newErr("could not read scene file")

// AlphaMode mirrors glTF's material.alphaMode.
type AlphaMode int

// Alpha modes.
const (
	AlphaOpaque AlphaMode = iota
	AlphaBlend
	AlphaMask
)

// noTexture is the sentinel for an absent texture reference.
const noTexture = -1

// Material holds the PBR factors and texture indices of the renderer's
// flat Data Model. The *Tex fields are indices into Scene.Textures, or
// noTexture when absent.
type Material struct {
	BaseColor  [4]float32
	Emissive   [3]float32
	Roughness  float32
	Metallic   float32
	IOR        float32
	Transmission      float32
	Specular          float32
	Thickness         float32
	AttenDistance     float32
	AttenColor        [3]float32
	AlphaCutoff       float32
	AlphaMode         AlphaMode

	BaseColorTex        int32
	NormalTex           int32
	MetallicRoughTex    int32
	EmissiveTex         int32
	OcclusionTex        int32
	TransmissionTex     int32
}

// DefaultMaterial returns a Material with glTF-like default factors and
// no textures bound.
func DefaultMaterial() Material {
	return Material{
		BaseColor:        [4]float32{1, 1, 1, 1},
		Roughness:        1,
		Metallic:         1,
		IOR:              1.5,
		Specular:         0.5,
		AlphaCutoff:      0.5,
		BaseColorTex:     noTexture,
		NormalTex:        noTexture,
		MetallicRoughTex: noTexture,
		EmissiveTex:      noTexture,
		OcclusionTex:     noTexture,
		TransmissionTex:  noTexture,
	}
}

// HasTexture reports whether idx refers to a bound texture.
func HasTexture(idx int32) bool { return idx != noTexture }

// Camera is the extracted pose and lens of the scene's camera node: the
// first camera found, with its pose composed from the camera node up
// to the scene root.
type Camera struct {
	Pos      geom.V3
	Forward  geom.V3
	Up       geom.V3
	HFovRad  float32 // 0 means "use default" (90deg)
	AspectOverride float32 // 0 means "derive from loaded scene/output"
}

// Scene is the flat, immutable Data Model consumed by the BVH and
// renderer. It is created once by a loader and never mutated afterward,
// so it may be shared read-only across every render worker.
type Scene struct {
	Triangles []geom.Triangle
	Materials []Material
	Textures  []*texture.Texture
	Camera    Camera

	// DegenerateCount is the number of triangles dropped at load time
	// for having zero area or NaN vertices.
	DegenerateCount int
	// SkippedPrimitives is the number of primitives silently skipped:
	// non-triangle primitives, plus primitives whose vertex data could
	// not be read.
	SkippedPrimitives int
}

// TextureCache content-addresses textures by source path so that
// duplicate filenames resolve to a single shared Texture. The scene is
// immutable after load, so a plain map is sufficient: there is never a
// concurrent writer.
type TextureCache struct {
	byPath map[string]int32
	out    *[]*texture.Texture
}

// NewTextureCache creates a cache that appends freshly loaded textures
// to textures.
func NewTextureCache(textures *[]*texture.Texture) *TextureCache {
	return &TextureCache{byPath: make(map[string]int32), out: textures}
}

// Load returns the index of the texture at path, loading and appending
// it on first reference. On decode failure it logs a TextureLoad
// warning itself and returns an error so the caller can fall back to
// the material's factor-only path.
func (c *TextureCache) Load(path string, kind texture.Kind, wrap texture.Wrap) (int32, error) {
	key := filepath.Clean(path)
	if idx, ok := c.byPath[key]; ok {
		return idx, nil
	}
	tex, err := texture.Load(path, kind, wrap)
	if err != nil {
		log.Printf("scene: TextureLoad warning: %q: %v", path, err)
		return noTexture, err
	}
	idx := int32(len(*c.out))
	*c.out = append(*c.out, tex)
	c.byPath[key] = idx
	return idx, nil
}

// Format is a scene front-end selector.
type Format int

// Formats.
const (
	Auto Format = iota
	GLTF
	OBJ
)

// SniffFormat picks a Format from a file's extension.
func SniffFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gltf", ".glb":
		return GLTF
	case ".obj":
		return OBJ
	default:
		return Auto
	}
}
