// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package gltfload turns a glTF 2.0 document into a scene.Scene: flat
// triangle/material/texture arrays in world space, ready for BVH
// construction.
package gltfload

import (
	"math"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/gviegas/pathtrace/geom"
	"github.com/gviegas/pathtrace/linear"
	"github.com/gviegas/pathtrace/scene"
	"github.com/gviegas/pathtrace/texture"
)

func atan(x float32) float32 { return float32(math.Atan(float64(x))) }
func tan(x float32) float32  { return float32(math.Tan(float64(x))) }

// Load opens a .gltf or .glb file and flattens it into a scene.Scene.
func Load(path string) (*scene.Scene, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, errors.Wrapf(scene.ErrIO, "gltf open %q: %v", path, err)
	}
	return fromDocument(doc, filepath.Dir(path))
}

func fromDocument(doc *gltf.Document, dir string) (*scene.Scene, error) {
	s := &scene.Scene{}
	cache := scene.NewTextureCache(&s.Textures)

	materials, err := loadMaterials(doc, dir, cache)
	if err != nil {
		return nil, err
	}
	if len(materials) == 0 {
		materials = []scene.Material{scene.DefaultMaterial()}
	}
	s.Materials = materials

	// World transforms, one M4 per node, computed by an explicit stack
	// composing a running parent transform down through children. The
	// scene is loaded once and never mutated, so there is no need for a
	// general-purpose mutable graph with dirty-tracking.
	worlds := computeWorldTransforms(doc)

	var camFound bool
	for ni, gn := range doc.Nodes {
		if gn.Mesh != nil {
			mesh := doc.Meshes[*gn.Mesh]
			for _, prim := range mesh.Primitives {
				if prim.Mode != gltf.PrimitiveTriangles && prim.Mode != 0 {
					s.SkippedPrimitives++
					continue
				}
				tris, dropped, err := loadPrimitive(doc, prim, &worlds[ni], materials)
				if err != nil {
					s.SkippedPrimitives++
					continue
				}
				s.DegenerateCount += dropped
				s.Triangles = append(s.Triangles, tris...)
			}
		}
		if !camFound && gn.Camera != nil {
			s.Camera = extractCamera(doc, *gn.Camera, &worlds[ni])
			camFound = true
		}
	}

	if len(s.Triangles) == 0 && len(doc.Meshes) > 0 {
		return nil, errors.Wrap(scene.ErrInvalid, "no renderable triangles after load")
	}
	return s, nil
}

// computeWorldTransforms returns, for every node index, the world matrix
// obtained by composing local TRS transforms from every root down to
// that node. Nodes with no parent use the identity as their starting
// transform (there is no separate "scene root" transform in glTF).
func computeWorldTransforms(doc *gltf.Document) []linear.M4 {
	n := len(doc.Nodes)
	worlds := make([]linear.M4, n)
	visited := make([]bool, n)

	var visit func(idx uint32, parent linear.M4)
	visit = func(idx uint32, parent linear.M4) {
		if visited[idx] {
			return
		}
		visited[idx] = true
		local := localTransform(doc.Nodes[idx])
		var world linear.M4
		world.Mul(&parent, &local)
		worlds[idx] = world
		for _, c := range doc.Nodes[idx].Children {
			visit(c, world)
		}
	}

	var roots []uint32
	if doc.Scene != nil && int(*doc.Scene) < len(doc.Scenes) {
		roots = doc.Scenes[*doc.Scene].Nodes
	}
	if len(roots) == 0 {
		hasParent := make([]bool, n)
		for _, gn := range doc.Nodes {
			for _, c := range gn.Children {
				hasParent[c] = true
			}
		}
		for i := range doc.Nodes {
			if !hasParent[i] {
				roots = append(roots, uint32(i))
			}
		}
	}

	var id linear.M4
	id.I()
	for _, r := range roots {
		visit(r, id)
	}
	// Any node unreachable from a root (malformed document) still gets
	// an identity-rooted transform rather than being left zeroed.
	for i := range worlds {
		if !visited[i] {
			worlds[i] = id
		}
	}
	return worlds
}

func localTransform(n *gltf.Node) linear.M4 {
	var m linear.M4
	if n.Matrix != [16]float64{} {
		for c := 0; c < 4; c++ {
			for r := 0; r < 4; r++ {
				m[c][r] = float32(n.Matrix[c*4+r])
			}
		}
		return m
	}
	t := n.TranslationOrDefault()
	r := n.RotationOrDefault()
	sc := n.ScaleOrDefault()

	var rot linear.M4
	q := linear.Q{V: linear.V3{float32(r[0]), float32(r[1]), float32(r[2])}, R: float32(r[3])}
	quatToM4(&q, &rot)

	var scale linear.M4
	scale.I()
	scale[0][0] = float32(sc[0])
	scale[1][1] = float32(sc[1])
	scale[2][2] = float32(sc[2])

	m.Mul(&rot, &scale)
	m[3] = linear.V4{float32(t[0]), float32(t[1]), float32(t[2]), 1}
	return m
}

func quatToM4(q *linear.Q, m *linear.M4) {
	x, y, z, w := q.V[0], q.V[1], q.V[2], q.R
	m.I()
	m[0][0] = 1 - 2*(y*y+z*z)
	m[0][1] = 2 * (x*y + z*w)
	m[0][2] = 2 * (x*z - y*w)
	m[1][0] = 2 * (x*y - z*w)
	m[1][1] = 1 - 2*(x*x+z*z)
	m[1][2] = 2 * (y*z + x*w)
	m[2][0] = 2 * (x*z + y*w)
	m[2][1] = 2 * (y*z - x*w)
	m[2][2] = 1 - 2*(x*x+y*y)
}

func transformPoint(m *linear.M4, p geom.V3) geom.V3 {
	v := linear.V4{p[0], p[1], p[2], 1}
	var out linear.V4
	out.Mul(m, &v)
	return geom.V3{out[0], out[1], out[2]}
}

func transformDir(m *linear.M4, d geom.V3) geom.V3 {
	v := linear.V4{d[0], d[1], d[2], 0}
	var out linear.V4
	out.Mul(m, &v)
	n := geom.V3{out[0], out[1], out[2]}
	n.Norm(&n)
	return n
}

// loadPrimitive flattens one glTF triangle-list primitive into world
// space, dropping degenerate (zero-area/NaN) triangles.
func loadPrimitive(doc *gltf.Document, prim *gltf.Primitive, world *linear.M4, materials []scene.Material) ([]geom.Triangle, int, error) {
	posIdx, ok := prim.Attributes[gltf.POSITION]
	if !ok {
		return nil, 0, errors.New("gltfload: primitive missing POSITION")
	}
	positions, err := modeler.ReadPosition(doc, doc.Accessors[posIdx], nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "gltfload: positions")
	}

	var normals [][3]float32
	if idx, ok := prim.Attributes[gltf.NORMAL]; ok {
		normals, _ = modeler.ReadNormal(doc, doc.Accessors[idx], nil)
	}
	var uvs [][2]float32
	hasUV := false
	if idx, ok := prim.Attributes[gltf.TEXCOORD_0]; ok {
		uvs, _ = modeler.ReadTextureCoord(doc, doc.Accessors[idx], nil)
		hasUV = true
	}

	var indices []uint32
	if prim.Indices != nil {
		indices, err = modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil)
		if err != nil {
			return nil, 0, errors.Wrap(err, "gltfload: indices")
		}
	} else {
		indices = make([]uint32, len(positions))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}

	matIdx := uint8(0)
	if prim.Material != nil && int(*prim.Material) < len(materials) {
		matIdx = uint8(*prim.Material)
	}

	var tris []geom.Triangle
	dropped := 0
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]
		var tri geom.Triangle
		tri.Pos[0] = transformPoint(world, geom.V3(positions[i0]))
		tri.Pos[1] = transformPoint(world, geom.V3(positions[i1]))
		tri.Pos[2] = transformPoint(world, geom.V3(positions[i2]))

		if isDegenerate(&tri) {
			dropped++
			continue
		}

		if len(normals) > int(i2) {
			tri.Normal[0] = transformDir(world, geom.V3(normals[i0]))
			tri.Normal[1] = transformDir(world, geom.V3(normals[i1]))
			tri.Normal[2] = transformDir(world, geom.V3(normals[i2]))
		} else {
			var e1, e2, n geom.V3
			e1.Sub(&tri.Pos[1], &tri.Pos[0])
			e2.Sub(&tri.Pos[2], &tri.Pos[0])
			n.Cross(&e1, &e2)
			n.Norm(&n)
			tri.Normal[0], tri.Normal[1], tri.Normal[2] = n, n, n
		}

		if hasUV && len(uvs) > int(i2) {
			tri.UV[0] = uvs[i0]
			tri.UV[1] = uvs[i1]
			tri.UV[2] = uvs[i2]
			tri.ComputeTangents()
		}

		tri.ComputeCentroid()
		tri.MatIdx = matIdx
		tris = append(tris, tri)
	}
	return tris, dropped, nil
}

func isDegenerate(t *geom.Triangle) bool {
	for _, p := range t.Pos {
		for _, c := range p {
			if c != c { // NaN
				return true
			}
		}
	}
	var e1, e2, n geom.V3
	e1.Sub(&t.Pos[1], &t.Pos[0])
	e2.Sub(&t.Pos[2], &t.Pos[0])
	n.Cross(&e1, &e2)
	return n.Dot(&n) < 1e-12
}

func loadMaterials(doc *gltf.Document, dir string, cache *scene.TextureCache) ([]scene.Material, error) {
	out := make([]scene.Material, len(doc.Materials))
	for i, gm := range doc.Materials {
		m := scene.DefaultMaterial()
		if pbr := gm.PBRMetallicRoughness; pbr != nil {
			cf := pbr.BaseColorFactorOrDefault()
			m.BaseColor = [4]float32{float32(cf[0]), float32(cf[1]), float32(cf[2]), float32(cf[3])}
			m.Roughness = float32(pbr.RoughnessFactorOrDefault())
			m.Metallic = float32(pbr.MetallicFactorOrDefault())
			if pbr.BaseColorTexture != nil {
				m.BaseColorTex = loadTexRef(doc, dir, int(pbr.BaseColorTexture.Index), texture.Color, cache)
			}
			if pbr.MetallicRoughnessTexture != nil {
				m.MetallicRoughTex = loadTexRef(doc, dir, int(pbr.MetallicRoughnessTexture.Index), texture.Data, cache)
			}
		}
		if gm.NormalTexture != nil {
			m.NormalTex = loadTexRef(doc, dir, int(gm.NormalTexture.Index), texture.Normal, cache)
		}
		if gm.OcclusionTexture != nil {
			m.OcclusionTex = loadTexRef(doc, dir, int(gm.OcclusionTexture.Index), texture.Data, cache)
		}
		if gm.EmissiveTexture != nil {
			m.EmissiveTex = loadTexRef(doc, dir, int(gm.EmissiveTexture.Index), texture.Color, cache)
		}
		ef := gm.EmissiveFactorOrDefault()
		m.Emissive = [3]float32{float32(ef[0]), float32(ef[1]), float32(ef[2])}

		switch gm.AlphaMode {
		case gltf.AlphaBlend:
			m.AlphaMode = scene.AlphaBlend
		case gltf.AlphaMask:
			m.AlphaMode = scene.AlphaMask
		default:
			m.AlphaMode = scene.AlphaOpaque
		}
		m.AlphaCutoff = float32(gm.AlphaCutoffOrDefault())

		if ext, ok := gm.Extensions[extTransmission]; ok {
			if mp, ok := ext.(map[string]interface{}); ok {
				if v, ok := mp["transmissionFactor"].(float64); ok {
					m.Transmission = float32(v)
				}
			}
		}

		out[i] = m
	}
	return out, nil
}

const extTransmission = "KHR_materials_transmission"

func loadTexRef(doc *gltf.Document, dir string, texIdx int, kind texture.Kind, cache *scene.TextureCache) int32 {
	if texIdx < 0 || texIdx >= len(doc.Textures) {
		return -1
	}
	gt := doc.Textures[texIdx]
	if gt.Source == nil {
		return -1
	}
	img := doc.Images[*gt.Source]
	if img.URI == "" {
		// Embedded (GLB buffer view) images are not supported by this
		// front-end; TextureLoad fails gracefully.
		return -1
	}
	idx, err := cache.Load(filepath.Join(dir, img.URI), kind, texture.Repeat)
	if err != nil {
		return -1
	}
	return idx
}

// extractCamera reads a glTF camera and its world transform into a
// scene.Camera.
func extractCamera(doc *gltf.Document, camIdx uint32, world *linear.M4) scene.Camera {
	gc := doc.Cameras[camIdx]
	cam := scene.Camera{
		Pos:     transformPoint(world, geom.V3{0, 0, 0}),
		Forward: transformDir(world, geom.V3{0, 0, -1}),
		Up:      transformDir(world, geom.V3{0, 1, 0}),
	}
	if gc.Perspective != nil {
		if gc.Perspective.AspectRatio != nil {
			cam.AspectOverride = float32(*gc.Perspective.AspectRatio)
		}
		// glTF stores vertical FOV; the renderer derives vFov from hFov,
		// so convert using the same aspect relationship.
		vfov := float32(gc.Perspective.Yfov)
		aspect := cam.AspectOverride
		if aspect == 0 {
			aspect = 4.0 / 3.0
		}
		cam.HFovRad = 2 * atan(tan(vfov/2)*aspect)
	}
	return cam
}
