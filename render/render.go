// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package render implements the tile-parallel Monte-Carlo path
// integrator: camera setup, tile decomposition, per-pixel MSAA, and the
// recursive trace function that combines next-event direct lighting,
// indirect bounce sampling, emissive contribution and alpha pass-through.
package render

import (
	"context"
	"math"
	mrand "math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/gviegas/pathtrace/bvh"
	"github.com/gviegas/pathtrace/geom"
	"github.com/gviegas/pathtrace/scene"
	"github.com/gviegas/pathtrace/shading"
)

const tileSize = 32

// background is the fixed color returned by a primary or secondary ray
// that misses all geometry.
var background = geom.V3{0.5, 0.5, 0.5}

// light is the fixed directional light used for next-event estimation.
var lightDir = normalized(geom.V3{1, 1, -1})
var lightRadiance = geom.V3{1, 1, 1}

func normalized(v geom.V3) geom.V3 {
	v.Norm(&v)
	return v
}

// Params configures a render. Height is given; width is derived from
// the scene's aspect ratio (default 4:3).
type Params struct {
	Height  int
	Samples int // indirect samples at the first bounce
	Bounces int // maximum recursion depth
	MSAA    int // samples per pixel

	// Seed is the base seed mixed into every per-sample RNG, letting
	// callers reproduce or vary a render deterministically.
	Seed uint64

	// Workers bounds the tile worker-pool size; 0 means
	// runtime.GOMAXPROCS(0).
	Workers int

	// G is the Henyey-Greenstein anisotropy used for single-scatter
	// transmission through materials with non-zero Thickness.
	G float32
}

// DefaultParams returns the renderer's documented defaults.
func DefaultParams() Params {
	return Params{
		Height:  720,
		Samples: 16,
		Bounces: 3,
		MSAA:    1,
		G:       -0.55,
	}
}

// Framebuffer is a row-major, top-down linear-color image.
type Framebuffer struct {
	Width, Height int
	Pix           []geom.V3 // len == Width*Height
}

func newFramebuffer(w, h int) *Framebuffer {
	return &Framebuffer{Width: w, Height: h, Pix: make([]geom.V3, w*h)}
}

func (f *Framebuffer) at(x, y int) *geom.V3 { return &f.Pix[y*f.Width+x] }

// camera holds the derived basis and viewport corners used to generate
// primary rays.
type camera struct {
	pos                geom.V3
	forward, right, up geom.V3
	hFov, vFov         float32
}

// buildCamera derives the render camera from the scene's Camera (or a
// sensible default): right = norm(fwd x up), re-orthonormalized
// up = norm(right x fwd).
func buildCamera(c scene.Camera, aspect float32) camera {
	fwd := c.Forward
	if fwd == (geom.V3{}) {
		fwd = geom.V3{0, 0, -1}
	}
	fwd.Norm(&fwd)
	up := c.Up
	if up == (geom.V3{}) {
		up = geom.V3{0, 1, 0}
	}

	var right geom.V3
	right.Cross(&fwd, &up)
	right.Norm(&right)
	up.Cross(&right, &fwd)
	up.Norm(&up)

	hFov := c.HFovRad
	if hFov == 0 {
		hFov = float32(math.Pi) / 2 // 90 degrees
	}
	vFov := 2 * atan(tan(hFov/2)*(1/aspect))

	return camera{pos: c.Pos, forward: fwd, right: right, up: up, hFov: hFov, vFov: vFov}
}

func atan(x float32) float32 { return float32(math.Atan(float64(x))) }
func tan(x float32) float32  { return float32(math.Tan(float64(x))) }

// primaryRay builds a camera ray through normalized device coordinates
// (ndcX,ndcY) in [-1,1]x[-1,1], (-1,-1) at the bottom-left.
func (cam *camera) primaryRay(ndcX, ndcY float32) geom.Ray {
	halfH := tan(cam.hFov / 2)
	halfV := tan(cam.vFov / 2)

	var right, up, dir geom.V3
	right.Scale(ndcX*halfH, &cam.right)
	up.Scale(ndcY*halfV, &cam.up)
	dir.Add(&cam.forward, &right)
	dir.Add(&dir, &up)
	dir.Norm(&dir)
	return geom.NewRay(cam.pos, dir)
}

// sceneData bundles the immutable read-only inputs every tile worker
// needs: the triangle soup, its BVH, and the camera.
type sceneData struct {
	sc  *scene.Scene
	bvh *bvh.BVH
	cam camera
}

// Render builds a Framebuffer for sc using its BVH b and the given
// params. It fans work out across a tile-parallel worker pool wrapped in
// an errgroup so a cancelled/erroring context stops outstanding workers
// at their next tile boundary; the main goroutine participates as a
// worker rather than only dispatching.
func Render(ctx context.Context, sc *scene.Scene, b *bvh.BVH, p Params) (*Framebuffer, error) {
	aspect := float32(4) / 3
	if sc.Camera.AspectOverride > 0 {
		aspect = sc.Camera.AspectOverride
	}
	height := p.Height
	if height <= 0 {
		height = 720
	}
	width := int(float32(height) * aspect)
	if width < 1 {
		width = 1
	}

	fb := newFramebuffer(width, height)
	sd := sceneData{sc: sc, bvh: b, cam: buildCamera(sc.Camera, aspect)}

	tilesX := (width + tileSize - 1) / tileSize
	tilesY := (height + tileSize - 1) / tileSize
	type tileCoord struct{ tx, ty int }
	tiles := make([]tileCoord, 0, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			tiles = append(tiles, tileCoord{tx, ty})
		}
	}

	workers := p.Workers
	if workers <= 0 {
		workers = defaultWorkerCount()
	}
	if workers > len(tiles) {
		workers = len(tiles)
	}
	if workers < 1 {
		workers = 1
	}

	work := make(chan tileCoord)
	g, gctx := errgroup.WithContext(ctx)

	worker := func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case tc, ok := <-work:
				if !ok {
					return nil
				}
				renderTile(fb, &sd, &p, tc.tx, tc.ty)
			}
		}
	}
	for i := 1; i < workers; i++ {
		g.Go(worker)
	}

	g.Go(func() error {
		defer close(work)
		for _, tc := range tiles {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case work <- tc:
			}
		}
		return nil
	})

	mainErr := worker()
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if mainErr != nil {
		return nil, mainErr
	}
	return fb, nil
}

func defaultWorkerCount() int {
	n := cpuCount()
	if n < 1 {
		return 1
	}
	return n
}

// renderTile fills one tile's pixels, in row-major order within the
// tile, each pixel's MSAA sub-samples processed in sequence.
func renderTile(fb *Framebuffer, sd *sceneData, p *Params, tx, ty int) {
	x0, y0 := tx*tileSize, ty*tileSize
	x1, y1 := min(x0+tileSize, fb.Width), min(y0+tileSize, fb.Height)

	msaa := p.MSAA
	if msaa < 1 {
		msaa = 1
	}

	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			var sum geom.V3
			for s := 0; s < msaa; s++ {
				rng := seededRNG(p.Seed, tx, ty, s)
				var ju, jv float32
				if s != 0 {
					ju = rng.Float32() - 0.5
					jv = rng.Float32() - 0.5
				}
				px := float32(x) + 0.5 + ju
				py := float32(y) + 0.5 + jv
				ndcX := (px/float32(fb.Width))*2 - 1
				ndcY := 1 - (py/float32(fb.Height))*2

				r := sd.cam.primaryRay(ndcX, ndcY)
				c := trace(sd, r, p.Bounces, -1, p, rng, p.Samples)
				sum.Add(&sum, &c)
			}
			sum.Scale(1/float32(msaa), &sum)
			*fb.at(x, y) = sum
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// seededRNG returns a thread-local generator seeded deterministically
// from (tileX, tileY, sampleIdx, params.Seed) so output is
// bit-reproducible and independent of worker-thread count.
func seededRNG(base uint64, tx, ty, sampleIdx int) *mrand.Rand {
	h1 := base
	h1 = mix64(h1 ^ uint64(uint32(tx)))
	h1 = mix64(h1 ^ uint64(uint32(ty))<<32)
	h2 := mix64(h1 ^ uint64(uint32(sampleIdx)))
	return mrand.New(mrand.NewPCG(h1, h2))
}

// mix64 is a SplitMix64-style finalizer used to decorrelate the
// (tile, sample) coordinate bits before seeding the PCG source.
func mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

const rayEpsilon = 1e-5

// trace evaluates the radiance arriving along r, recursing up to
// bounceLimit times. ignoreTri excludes the shading triangle of the
// caller (pass -1 at the primary ray). numSamples is the indirect
// sample count to take at this bounce (p.Samples at the top level, 1
// thereafter).
func trace(sd *sceneData, r geom.Ray, bounceLimit int, ignoreTri int32, p *Params, rng *mrand.Rand, numSamples int) geom.V3 {
	hit := sd.bvh.Intersect(&r, float32(math.Inf(1)), ignoreTri)
	if !hit.Found {
		return background
	}

	tri := &sd.bvh.Triangles[hit.TriIdx]
	mat := &sd.sc.Materials[tri.MatIdx]

	var pos, n, tangent, bitan geom.V3
	interpolate3(&pos, tri.Pos, hit.W, hit.U, hit.V)
	interpolate3(&n, tri.Normal, hit.W, hit.U, hit.V)
	n.Norm(&n)
	interpolate3(&tangent, tri.Tangent, hit.W, hit.U, hit.V)
	interpolate3(&bitan, tri.Bitan, hit.W, hit.U, hit.V)

	var v geom.V3
	v.Scale(-1, &r.Dir)
	geom.FaceForward(&n, &r.Dir)

	data := sampleMaterial(sd.sc, mat, tri, hit)

	frame := shading.Frame{T: tangent, B: bitan, N: n}
	if frame.T == (geom.V3{}) || frame.B == (geom.V3{}) {
		frame = shading.BuildFrame(n)
	}
	shN := n
	if data.Normal != (geom.V3{}) {
		shN = frame.ToWorld(data.Normal)
		shN.Norm(&shN)
	}

	var color geom.V3

	// Direct light: shadow ray toward the fixed directional light.
	{
		shadowOrig := offsetOrigin(pos, shN, true)
		shadowRay := geom.NewRay(shadowOrig, lightDir)
		shadowHit := sd.bvh.Intersect(&shadowRay, float32(math.Inf(1)), hit.TriIdx)
		if !shadowHit.Found {
			brdf := shading.EvalBRDF(shN, v, lightDir, data)
			cosNL := shN.Dot(&lightDir)
			if cosNL > 0 {
				var contrib geom.V3
				for i := range contrib {
					contrib[i] = brdf[i] * cosNL * lightRadiance[i]
				}
				color.Add(&color, &contrib)
			}
		}
	}

	// Indirect bounce sampling.
	if bounceLimit > 0 {
		k := numSamples
		if k < 1 {
			k = 1
		}
		var indirect geom.V3
		for i := 0; i < k; i++ {
			contrib, ok := sampleIndirect(sd, pos, shN, v, data, frame, p, rng, bounceLimit, hit.TriIdx)
			if ok {
				indirect.Add(&indirect, &contrib)
			}
		}
		indirect.Scale(1/float32(k), &indirect)
		color.Add(&color, &indirect)
	}

	// Emissive.
	color.Add(&color, &data.Emissive)

	// Alpha pass-through.
	a := data.Alpha
	if a < 0.97 && bounceLimit >= 0 {
		contOrig := offsetOrigin(pos, r.Dir, false)
		contRay := geom.NewRay(contOrig, r.Dir)
		behind := trace(sd, contRay, bounceLimit-1, hit.TriIdx, p, rng, 1)
		for i := range color {
			color[i] = color[i]*a + behind[i]*(1-a)
		}
	}

	return color
}

// sampleIndirect draws one indirect sample, evaluates the appropriate
// lobe, recurses, and returns term*|N.L|*incoming/pdf, discarding
// samples whose pdf is non-positive, too small, or NaN.
func sampleIndirect(sd *sceneData, pos, n, v geom.V3, data *shading.SampledData, frame shading.Frame, p *Params, rng *mrand.Rand, bounceLimit int, ignoreTri int32) (geom.V3, bool) {
	isMirror := shading.IsMirror(data)
	isSpecular := isMirror || rng.Float32() < 0.5
	isTransmit := data.Transmission > 0 && rng.Float32() < 0.5

	if isTransmit && data.Thickness > 0 {
		return sampleThickTransmission(sd, pos, n, v, data, p, rng, bounceLimit, ignoreTri)
	}

	xi1, xi2 := rng.Float32(), rng.Float32()

	var local geom.V3
	roughness := data.Roughness
	if isSpecular {
		if roughness < 0.2 {
			local = shading.SampleBeckmann(xi1, xi2, roughness)
		} else {
			local = shading.SampleGGX(xi1, xi2, roughness)
		}
	} else {
		local = shading.SampleLambert(xi1, xi2)
	}
	h := frame.ToWorld(local)
	h.Norm(&h)

	var l geom.V3
	if isSpecular {
		// Reflect v about the sampled half-vector h.
		d := 2 * v.Dot(&h)
		var scaled geom.V3
		scaled.Scale(d, &h)
		l.Sub(&scaled, &v)
	} else {
		l = h // Lambert sampling already returns a cosine-weighted direction
	}
	l.Norm(&l)

	if isTransmit {
		l.Scale(-1, &l)
	}

	cosNL := n.Dot(&l)
	if !isTransmit && cosNL <= 0 {
		return geom.V3{}, false
	}

	// The combined PDF needs the density of L under both strategies,
	// which requires the actual half-vector for L (not the raw sample
	// drawn above, which is only a half-vector in the specular branch).
	var hReal geom.V3
	hReal.Add(&v, &l)
	hReal.Norm(&hReal)
	pdfSpec := shading.PDFSpecular(n, v, hReal, roughness)
	pdfDiff := shading.PDFDiffuse(n, l)
	pdf := shading.CombinedPDF(pdfSpec, pdfDiff, data.Transmission)
	if pdf <= 1e-4 || pdf != pdf {
		return geom.V3{}, false
	}

	var term geom.V3
	if isTransmit {
		term = shading.EvalBTDF(n, v, l, data)
	} else {
		term = shading.EvalBRDF(n, v, l, data)
	}

	offsetN := n
	if isTransmit {
		offsetN.Scale(-1, &offsetN)
	}
	orig := offsetOrigin(pos, offsetN, true)
	r := geom.NewRay(orig, l)
	incoming := trace(sd, r, bounceLimit-1, ignoreTri, p, rng, 1)

	absCosNL := cosNL
	if absCosNL < 0 {
		absCosNL = -absCosNL
	}

	var out geom.V3
	for i := range out {
		out[i] = term[i] * absCosNL * incoming[i] / pdf
	}
	return out, true
}

// sampleThickTransmission handles materials with non-zero Thickness:
// the entering ray is bent by Snell refraction (eta = 1/IOR, entering
// from vacuum) and the continuing direction inside the volume is drawn
// from the Henyey-Greenstein phase function with anisotropy p.G, rather
// than the thin-surface BTDF's straight-through approximation. A grazing
// angle that produces total internal reflection is treated as an
// absorbed sample (no contribution), since this is a single-scatter
// approximation with no internal bounce loop.
func sampleThickTransmission(sd *sceneData, pos, n, v geom.V3, data *shading.SampledData, p *Params, rng *mrand.Rand, bounceLimit int, ignoreTri int32) (geom.V3, bool) {
	eta := float32(1)
	if data.IOR > 0 {
		eta = 1 / data.IOR
	}
	var incident geom.V3
	incident.Scale(-1, &v)
	refracted, ok := geom.Refract(incident, n, eta)
	if !ok {
		return geom.V3{}, false
	}

	volFrame := shading.BuildFrame(refracted)
	xi1, xi2 := rng.Float32(), rng.Float32()
	local := shading.SampleHenyeyGreenstein(xi1, xi2, p.G)
	l := volFrame.ToWorld(local)
	l.Norm(&l)

	term := shading.EvalBTDF(n, v, l, data)

	var offsetN geom.V3
	offsetN.Scale(-1, &n)
	orig := offsetOrigin(pos, offsetN, true)
	r := geom.NewRay(orig, l)
	incoming := trace(sd, r, bounceLimit-1, ignoreTri, p, rng, 1)

	// Importance-sampling the phase function cancels its own PDF, and
	// the 0.5 accounts for the 50/50 transmit-vs-reflect choice above,
	// mirroring CombinedPDF's transmission-halving heuristic.
	const pdf = 0.5
	var out geom.V3
	for i := range out {
		out[i] = term[i] * incoming[i] / pdf
	}
	return out, true
}

// offsetOrigin nudges pos along n (or -n when outgoing is false) by a
// fixed epsilon to avoid self-intersection on secondary rays.
func offsetOrigin(pos, n geom.V3, outgoing bool) geom.V3 {
	sign := float32(1)
	if !outgoing {
		sign = -1
	}
	var off, out geom.V3
	off.Scale(rayEpsilon*sign, &n)
	out.Add(&pos, &off)
	return out
}

func interpolate3(out *geom.V3, v [3]geom.V3, w, u, vv float32) {
	var a, b, c geom.V3
	a.Scale(w, &v[0])
	b.Scale(u, &v[1])
	c.Scale(vv, &v[2])
	out.Add(&a, &b)
	out.Add(out, &c)
}
