// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package shading implements the path tracer's BSDF: a microfacet lobe
// (GGX or Beckmann, selected by roughness), a Lambert lobe, and a
// thin-surface BTDF lobe for materials with non-zero transmission, plus
// the importance-sampling and PDF machinery the integrator needs to
// combine them.
package shading

import (
	"math"

	"github.com/gviegas/pathtrace/geom"
)

const epsilon = 1e-7
const pi = float32(math.Pi)

// SampledData is the per-shading-event material state, already resolved
// from textures and factors by the caller (the integrator).
type SampledData struct {
	BaseColor    geom.V3
	Alpha        float32
	AO           float32
	Roughness    float32
	Metallic     float32
	Emissive     geom.V3
	Normal       geom.V3 // tangent-space normal-map sample (zero if none); the caller transforms it to world
	Transmission float32
	IOR          float32
	Thickness    float32
}

// alpha returns the squared-roughness GGX/Beckmann width, floored to
// avoid a degenerate (zero-width) distribution.
func alpha(roughness float32) float32 {
	a := roughness * roughness
	if a < 0.001 {
		return 0.001
	}
	return a
}

// distributionGGX evaluates the GGX normal distribution at cosNH (N·H).
func distributionGGX(cosNH, a float32) float32 {
	a2 := a * a
	d := cosNH*cosNH*(a2-1) + 1
	return a2 / (pi * d * d)
}

// distributionBeckmann evaluates the Beckmann normal distribution at
// cosNH. Selected over GGX for roughness < 0.2 during importance
// sampling.
func distributionBeckmann(cosNH, a float32) float32 {
	cos2 := cosNH * cosNH
	if cos2 < epsilon {
		return 0
	}
	tan2 := (1 - cos2) / cos2
	a2 := a * a
	exp := float32(math.Exp(float64(-tan2 / a2)))
	return exp / (pi * a2 * cos2 * cos2)
}

// fresnelSchlick evaluates Schlick's approximation of the Fresnel term.
func fresnelSchlick(cosTheta float32, f0 geom.V3) geom.V3 {
	c := clamp01(1 - cosTheta)
	c5 := c * c * c * c * c
	var out geom.V3
	for i := range out {
		out[i] = f0[i] + (1-f0[i])*c5
	}
	return out
}

// geometrySchlickGGX evaluates the Schlick-GGX geometry term for one
// direction, with k = alpha/2.
func geometrySchlickGGX(cosTheta, a float32) float32 {
	k := a / 2
	return cosTheta / (cosTheta*(1-k) + k)
}

// geometrySmith combines the Schlick-GGX term for both view and light
// directions.
func geometrySmith(cosNV, cosNL, a float32) float32 {
	return geometrySchlickGGX(cosNV, a) * geometrySchlickGGX(cosNL, a)
}

func f0From(d *SampledData) geom.V3 {
	var out geom.V3
	for i := range out {
		out[i] = lerp(0.04, d.BaseColor[i], d.Metallic)
	}
	return out
}

func lerp(a, b, t float32) float32 { return a + (b-a)*t }

func clamp01(x float32) float32 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// useBeckmann reports whether the Beckmann distribution should be used
// for the given roughness.
func useBeckmann(roughness float32) bool { return roughness < 0.2 }

// EvalBRDF evaluates the reflective lobe (microfacet specular + Lambert
// diffuse) for the given directions, all in world space, with n already
// face-forwarded toward the viewer.
func EvalBRDF(n, v, l geom.V3, d *SampledData) geom.V3 {
	cosNL := n.Dot(&l)
	cosNV := n.Dot(&v)
	if cosNL <= 0 || cosNV <= 0 {
		return geom.V3{}
	}
	var h geom.V3
	h.Add(&v, &l)
	h.Norm(&h)
	cosNH := clamp01(n.Dot(&h))
	cosVH := clamp01(v.Dot(&h))

	a := alpha(d.Roughness)
	var dist float32
	if useBeckmann(d.Roughness) {
		dist = distributionBeckmann(cosNH, a)
	} else {
		dist = distributionGGX(cosNH, a)
	}
	g := geometrySmith(cosNV, cosNL, a)
	f := fresnelSchlick(cosVH, f0From(d))

	var spec geom.V3
	denom := 4*cosNV*cosNL + epsilon
	for i := range spec {
		spec[i] = f[i] * dist * g / denom
	}

	kd := (1 - d.Metallic) * (1 - d.Transmission)
	var diff geom.V3
	for i := range diff {
		diff[i] = (1 - f[i]) * kd * d.BaseColor[i] / pi
	}

	var out geom.V3
	out.Add(&spec, &diff)
	return out
}

// EvalBTDF evaluates the thin-surface transmission lobe. l is the
// transmitted light direction (already on the far side of the surface);
// the Fresnel term intentionally reuses clamp(V·N,0,1) rather than H·V;
// physically the half-vector should be used instead, but this is the
// behavior this package preserves.
func EvalBTDF(n, v, l geom.V3, d *SampledData) geom.V3 {
	cosNV := clamp01(n.Dot(&v))
	f := fresnelSchlick(cosNV, f0From(d))

	kt := d.Transmission * (1 - d.Metallic)
	var out geom.V3
	for i := range out {
		out[i] = (1 - f[i]) * kt * d.BaseColor[i]
	}
	_ = l // the flipped direction only matters for the caller's geometry term
	return out
}

// henyeyGreenstein evaluates the HG phase function for cosTheta (the
// cosine between the incoming and scattered directions) with anisotropy
// g, used for thick-volume transmission.
func henyeyGreenstein(cosTheta, g float32) float32 {
	g2 := g * g
	denom := 1 + g2 - 2*g*cosTheta
	return (1 - g2) / (4 * pi * float32(math.Pow(float64(denom), 1.5)))
}

// Frame is an orthonormal tangent basis built from a shading normal.
type Frame struct {
	T, B, N geom.V3
}

// BuildFrame constructs a tangent frame from n, falling back to world-Z
// or world-X as the reference up axis depending on |n.z| < 0.999.
func BuildFrame(n geom.V3) Frame {
	var up geom.V3
	if n[2] < 0.999 && n[2] > -0.999 {
		up = geom.V3{0, 0, 1}
	} else {
		up = geom.V3{1, 0, 0}
	}
	var t, b geom.V3
	t.Cross(&up, &n)
	t.Norm(&t)
	b.Cross(&n, &t)
	return Frame{T: t, B: b, N: n}
}

// ToWorld transforms a local-space direction (x=tangent, y=bitangent,
// z=normal) into world space via the frame.
func (f *Frame) ToWorld(local geom.V3) (world geom.V3) {
	var tx, by, nz geom.V3
	tx.Scale(local[0], &f.T)
	by.Scale(local[1], &f.B)
	nz.Scale(local[2], &f.N)
	world.Add(&tx, &by)
	world.Add(&world, &nz)
	return
}

// SampleBeckmann draws a half-vector (in local tangent space) from the
// Beckmann distribution given uniform (xi1,xi2).
func SampleBeckmann(xi1, xi2, roughness float32) geom.V3 {
	a := alpha(roughness)
	phi := 2 * pi * xi1
	tan2Theta := -a * a * float32(math.Log(float64(1-xi2)))
	cosTheta := float32(1 / math.Sqrt(float64(1+tan2Theta)))
	sinTheta := float32(math.Sqrt(math.Max(0, float64(1-cosTheta*cosTheta))))
	return sphericalToCartesian(phi, sinTheta, cosTheta)
}

// SampleGGX draws a half-vector (in local tangent space) from the GGX
// distribution given uniform (xi1,xi2).
func SampleGGX(xi1, xi2, roughness float32) geom.V3 {
	a := alpha(roughness)
	phi := 2 * pi * xi1
	cos2Theta := (1 - xi2) / (1 + (a*a-1)*xi2)
	cosTheta := float32(math.Sqrt(float64(cos2Theta)))
	sinTheta := float32(math.Sqrt(math.Max(0, float64(1-cos2Theta))))
	return sphericalToCartesian(phi, sinTheta, cosTheta)
}

// SampleLambert draws a cosine-weighted hemisphere direction (local
// space) given uniform (xi1,xi2).
func SampleLambert(xi1, xi2 float32) geom.V3 {
	phi := 2 * pi * xi1
	cosTheta := float32(math.Sqrt(float64(1 - xi2)))
	sinTheta := float32(math.Sqrt(float64(xi2)))
	return sphericalToCartesian(phi, sinTheta, cosTheta)
}

// SampleUniformHemisphere draws a uniform hemisphere direction (local
// space) given uniform (xi1,xi2).
func SampleUniformHemisphere(xi1, xi2 float32) geom.V3 {
	phi := 2 * pi * xi1
	cosTheta := 1 - xi2
	sinTheta := float32(math.Sqrt(math.Max(0, float64(1-cosTheta*cosTheta))))
	return sphericalToCartesian(phi, sinTheta, cosTheta)
}

// SampleHenyeyGreenstein draws a full-sphere scatter direction (local
// space, z axis is the forward/incident direction) from the HG phase
// function with anisotropy g, given uniform (xi1,xi2). Importance
// sampling this distribution means the drawn direction's phase value
// and its PDF are equal, so a caller doing single-scatter volume
// integration can weight the sample by 1 instead of evaluating
// henyeyGreenstein separately.
func SampleHenyeyGreenstein(xi1, xi2, g float32) geom.V3 {
	phi := 2 * pi * xi1
	var cosTheta float32
	if float32(math.Abs(float64(g))) < 1e-3 {
		cosTheta = 1 - 2*xi2
	} else {
		sq := (1 - g*g) / (1 + g - 2*g*xi2)
		cosTheta = (1 + g*g - sq*sq) / (2 * g)
	}
	sinTheta := float32(math.Sqrt(math.Max(0, float64(1-cosTheta*cosTheta))))
	return sphericalToCartesian(phi, sinTheta, cosTheta)
}

func sphericalToCartesian(phi, sinTheta, cosTheta float32) geom.V3 {
	s, c := float32(math.Sin(float64(phi))), float32(math.Cos(float64(phi)))
	return geom.V3{sinTheta * c, sinTheta * s, cosTheta}
}

// PDFSpecular evaluates the specular-lobe PDF for a half-vector h given
// the distribution parameterized by roughness:
// pdf = D*(N.H) / (4*(V.H)).
func PDFSpecular(n, v, h geom.V3, roughness float32) float32 {
	cosNH := clamp01(n.Dot(&h))
	cosVH := v.Dot(&h)
	if cosVH <= epsilon {
		return 0
	}
	a := alpha(roughness)
	var dist float32
	if useBeckmann(roughness) {
		dist = distributionBeckmann(cosNH, a)
	} else {
		dist = distributionGGX(cosNH, a)
	}
	return dist * cosNH / (4 * cosVH)
}

// PDFDiffuse evaluates the Lambert-lobe PDF: (N.L)/pi.
func PDFDiffuse(n, l geom.V3) float32 {
	cosNL := n.Dot(&l)
	if cosNL <= 0 {
		return 0
	}
	return cosNL / pi
}

// CombinedPDF mixes the specular and diffuse PDFs 50/50, halving the
// result again when the material has non-zero transmission. This is a
// heuristic, not MIS-consistent: it is applied regardless of whether
// the particular sample being evaluated is itself reflective or
// transmissive.
func CombinedPDF(pdfSpecular, pdfDiffuse, transmission float32) float32 {
	pdf := 0.5 * (pdfSpecular + pdfDiffuse)
	if transmission > 0 {
		pdf *= 0.5
	}
	return pdf
}

// PowerHeuristic combines two sampling strategies' PDFs with MIS weight
// using the power heuristic, exponent 2.
func PowerHeuristic(nf, fPdf, ng, gPdf float32) float32 {
	f := nf * fPdf
	g := ng * gPdf
	if f+g == 0 {
		return 0
	}
	return (f * f) / (f*f + g*g)
}

// IsMirror reports whether the material is effectively a perfect mirror
// (metallic~=1 and roughness<0.001), which forces specular-only sampling.
func IsMirror(d *SampledData) bool {
	return d.Metallic >= 0.999 && d.Roughness < 0.001
}
