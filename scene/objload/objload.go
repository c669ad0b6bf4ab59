// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package objload implements the Wavefront OBJ (+ MTL) scene front-end:
// a line-oriented scanner that fans polygon faces into triangles and
// resolves the referenced material library, mirroring the glTF front-end's
// contract of producing a flat scene.Scene.
package objload

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/gviegas/pathtrace/geom"
	"github.com/gviegas/pathtrace/scene"
	"github.com/gviegas/pathtrace/texture"
)

const prefix = "objload: "

func newErr(reason string) error { return errors.New(prefix + reason) }

var errNoGeometry = newErr("no geometry found")

// faceVertex is a single "v/vt/vn" token, 0-based, -1 when absent.
type faceVertex struct{ v, vt, vn int }

// objFace is one triangle produced by fan-triangulating a polygon face.
type objFace struct {
	v       [3]faceVertex
	matName string
}

// mtlEntry pairs a parsed material with the texture file paths referenced
// by its MTL entry; paths are resolved against the TextureCache only
// after all materials have been parsed, mirroring the glTF front-end's
// deferred texture resolution.
type mtlEntry struct {
	mat              scene.Material
	baseColorTexPath string
	normalTexPath    string
}

// Load parses the Wavefront OBJ file at path (and, if referenced, its
// "mtllib" companion) into a scene.Scene. There is no notion of a camera
// in the OBJ format, so Scene.Camera is left at its zero value; callers
// fall back to the default camera pose.
func Load(path string) (*scene.Scene, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(scene.ErrIO, "open %q: %v", path, err)
	}
	defer f.Close()

	dir := filepath.Dir(path)

	var positions []geom.V3
	var normals []geom.V3
	var uvs [][2]float32
	var faces []objFace

	materials := map[string]mtlEntry{}
	matOrder := []string{}
	curMat := ""

	scanner := bufio.NewScanner(f)
	// Some OBJ exports embed very long single-line faces; grow the
	// scanner's buffer past bufio's 64KiB default.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			positions = append(positions, parseVec3(fields[1:]))
		case "vn":
			normals = append(normals, parseVec3(fields[1:]))
		case "vt":
			uvs = append(uvs, parseVec2(fields[1:]))
		case "usemtl":
			if len(fields) > 1 {
				curMat = fields[1]
			}
		case "mtllib":
			if len(fields) > 1 {
				libPath := filepath.Join(dir, fields[1])
				mats, err := loadMTL(libPath, dir)
				if err != nil {
					// A missing/unreadable MTL degrades to default
					// materials rather than aborting the load.
					continue
				}
				for name, m := range mats {
					if _, ok := materials[name]; !ok {
						matOrder = append(matOrder, name)
					}
					materials[name] = m
				}
			}
		case "f":
			fvs := make([]faceVertex, 0, len(fields)-1)
			for _, tok := range fields[1:] {
				fvs = append(fvs, parseFaceVertex(tok))
			}
			// Fan triangulation: 0-1-2, 0-2-3, 0-3-4, ...
			for i := 1; i+1 < len(fvs); i++ {
				faces = append(faces, objFace{
					v:       [3]faceVertex{fvs[0], fvs[i], fvs[i+1]},
					matName: curMat,
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(scene.ErrIO, "scan %q: %v", path, err)
	}
	if len(faces) == 0 {
		return nil, errors.Wrap(errNoGeometry, path)
	}

	textures := make([]*texture.Texture, 0)
	cache := scene.NewTextureCache(&textures)

	// Index 0 is always the default material (faces before any
	// "usemtl"). Named materials follow in the order their "mtllib"
	// libraries were read; within one library the order is Go map
	// iteration order, which is not defined.
	matIdx := map[string]uint8{"": 0}
	sceneMats := []scene.Material{scene.DefaultMaterial()}
	for _, name := range matOrder {
		e := materials[name]
		m := e.mat
		if e.baseColorTexPath != "" {
			if idx, err := cache.Load(e.baseColorTexPath, texture.Color, texture.Repeat); err == nil {
				m.BaseColorTex = idx
			}
		}
		if e.normalTexPath != "" {
			if idx, err := cache.Load(e.normalTexPath, texture.Normal, texture.Repeat); err == nil {
				m.NormalTex = idx
			}
		}
		matIdx[name] = uint8(len(sceneMats))
		sceneMats = append(sceneMats, m)
	}

	tris := make([]geom.Triangle, 0, len(faces))
	degenerate := 0
	for _, f := range faces {
		var tri geom.Triangle
		hasNormals := true
		for c := 0; c < 3; c++ {
			fv := f.v[c]
			tri.Pos[c] = safeV3(positions, fv.v, geom.V3{})
			if fv.vn >= 0 && fv.vn < len(normals) {
				tri.Normal[c] = normals[fv.vn]
			} else {
				hasNormals = false
			}
			tri.UV[c] = safeV2(uvs, fv.vt)
		}
		if !hasNormals {
			var e1, e2, n geom.V3
			e1.Sub(&tri.Pos[1], &tri.Pos[0])
			e2.Sub(&tri.Pos[2], &tri.Pos[0])
			n.Cross(&e1, &e2)
			n.Norm(&n)
			tri.Normal[0], tri.Normal[1], tri.Normal[2] = n, n, n
		}
		tri.ComputeCentroid()
		if isDegenerate(&tri) {
			degenerate++
			continue
		}
		tri.ComputeTangents()
		tri.MatIdx = matIdx[f.matName]
		tris = append(tris, tri)
	}
	if len(tris) == 0 {
		return nil, errors.Wrap(errNoGeometry, path+": all triangles degenerate")
	}

	return &scene.Scene{
		Triangles:       tris,
		Materials:       sceneMats,
		Textures:        textures,
		DegenerateCount: degenerate,
	}, nil
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

func safeV3(v []geom.V3, i int, fallback geom.V3) geom.V3 {
	if i >= 0 && i < len(v) {
		return v[i]
	}
	return fallback
}

func safeV2(v [][2]float32, i int) [2]float32 {
	if i >= 0 && i < len(v) {
		return v[i]
	}
	return [2]float32{}
}

func parseVec3(fields []string) (v geom.V3) {
	for i := 0; i < 3 && i < len(fields); i++ {
		f, _ := strconv.ParseFloat(fields[i], 32)
		v[i] = float32(f)
	}
	return
}

func parseVec2(fields []string) (v [2]float32) {
	for i := 0; i < 2 && i < len(fields); i++ {
		f, _ := strconv.ParseFloat(fields[i], 32)
		v[i] = float32(f)
	}
	return
}

// parseFaceVertex parses one face vertex token: "v", "v/vt", "v//vn",
// "v/vt/vn". Returns 0-based indices (-1 if absent); OBJ indices are
// 1-based and may be negative (relative to the current count), but
// relative indexing is not supported by this front-end.
func parseFaceVertex(tok string) faceVertex {
	parseIdx := func(s string) int {
		if s == "" {
			return -1
		}
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return -1
		}
		return n - 1
	}
	parts := strings.Split(tok, "/")
	fv := faceVertex{v: -1, vt: -1, vn: -1}
	if len(parts) > 0 {
		fv.v = parseIdx(parts[0])
	}
	if len(parts) > 1 {
		fv.vt = parseIdx(parts[1])
	}
	if len(parts) > 2 {
		fv.vn = parseIdx(parts[2])
	}
	return fv
}

// loadMTL parses a Wavefront MTL library into scene.Materials keyed by
// name, in glTF-equivalent factor space (Kd -> BaseColor, Ks averaged
// into Specular, Ns folded into Roughness via a Phong-to-roughness
// approximation, since the renderer has no Phong lobe).
func loadMTL(path, dir string) (map[string]mtlEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	mats := map[string]mtlEntry{}
	curName := ""
	var cur mtlEntry
	haveCur := false

	commit := func() {
		if haveCur {
			mats[curName] = cur
		}
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "newmtl":
			commit()
			if len(fields) > 1 {
				curName = fields[1]
				cur = mtlEntry{mat: scene.DefaultMaterial()}
				haveCur = true
			} else {
				haveCur = false
			}
		case "Kd":
			if haveCur && len(fields) >= 4 {
				r, _ := strconv.ParseFloat(fields[1], 32)
				g, _ := strconv.ParseFloat(fields[2], 32)
				b, _ := strconv.ParseFloat(fields[3], 32)
				cur.mat.BaseColor[0] = float32(r)
				cur.mat.BaseColor[1] = float32(g)
				cur.mat.BaseColor[2] = float32(b)
			}
		case "d":
			if haveCur && len(fields) >= 2 {
				a, _ := strconv.ParseFloat(fields[1], 32)
				cur.mat.BaseColor[3] = float32(a)
			}
		case "Ks":
			if haveCur && len(fields) >= 4 {
				r, _ := strconv.ParseFloat(fields[1], 32)
				g, _ := strconv.ParseFloat(fields[2], 32)
				b, _ := strconv.ParseFloat(fields[3], 32)
				avg := (float32(r) + float32(g) + float32(b)) / 3
				cur.mat.Specular = avg
			}
		case "Ns":
			if haveCur && len(fields) >= 2 {
				ns, _ := strconv.ParseFloat(fields[1], 32)
				// Phong exponent [0,1000] -> roughness [1,0], a rough
				// approximation since OBJ carries no microfacet params.
				r := 1 - clamp01(float32(ns)/1000)
				cur.mat.Roughness = r
			}
		case "Ni":
			if haveCur && len(fields) >= 2 {
				ior, _ := strconv.ParseFloat(fields[1], 32)
				if ior > 0 {
					cur.mat.IOR = float32(ior)
				}
			}
		case "Ke":
			if haveCur && len(fields) >= 4 {
				r, _ := strconv.ParseFloat(fields[1], 32)
				g, _ := strconv.ParseFloat(fields[2], 32)
				b, _ := strconv.ParseFloat(fields[3], 32)
				cur.mat.Emissive[0] = float32(r)
				cur.mat.Emissive[1] = float32(g)
				cur.mat.Emissive[2] = float32(b)
			}
		case "map_Kd":
			if haveCur && len(fields) >= 2 {
				cur.baseColorTexPath = filepath.Join(dir, fields[len(fields)-1])
			}
		case "map_Bump", "bump", "norm":
			if haveCur && len(fields) >= 2 {
				cur.normalTexPath = filepath.Join(dir, fields[len(fields)-1])
			}
		}
	}
	commit()
	return mats, scanner.Err()
}

func clamp01(x float32) float32 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
