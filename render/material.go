// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package render

import (
	"runtime"

	"github.com/gviegas/pathtrace/bvh"
	"github.com/gviegas/pathtrace/geom"
	"github.com/gviegas/pathtrace/scene"
	"github.com/gviegas/pathtrace/shading"
)

func cpuCount() int { return runtime.GOMAXPROCS(0) }

// sampleMaterial resolves mat's factors and any bound textures at the
// hit's interpolated UV into a shading.SampledData.
func sampleMaterial(sc *scene.Scene, mat *scene.Material, tri *geom.Triangle, hit bvh.Hit) *shading.SampledData {
	var uv [2]float32
	uv[0] = tri.UV[0][0]*hit.W + tri.UV[1][0]*hit.U + tri.UV[2][0]*hit.V
	uv[1] = tri.UV[0][1]*hit.W + tri.UV[1][1]*hit.U + tri.UV[2][1]*hit.V

	baseColor := geom.V3{mat.BaseColor[0], mat.BaseColor[1], mat.BaseColor[2]}
	alpha := mat.BaseColor[3]
	roughness := mat.Roughness
	metallic := mat.Metallic
	ao := float32(1)
	emissive := geom.V3{mat.Emissive[0], mat.Emissive[1], mat.Emissive[2]}
	transmission := mat.Transmission
	var normal geom.V3 // zero means "use geometric normal"

	if scene.HasTexture(mat.BaseColorTex) {
		r, g, b, a := sc.Textures[mat.BaseColorTex].Sample(uv[0], uv[1])
		baseColor = geom.V3{r * baseColor[0], g * baseColor[1], b * baseColor[2]}
		alpha *= a
	}
	if scene.HasTexture(mat.MetallicRoughTex) {
		_, g, b, _ := sc.Textures[mat.MetallicRoughTex].Sample(uv[0], uv[1])
		roughness *= g
		metallic *= b
	}
	if scene.HasTexture(mat.OcclusionTex) {
		r, _, _, _ := sc.Textures[mat.OcclusionTex].Sample(uv[0], uv[1])
		ao = r
	}
	if scene.HasTexture(mat.EmissiveTex) {
		r, g, b, _ := sc.Textures[mat.EmissiveTex].Sample(uv[0], uv[1])
		emissive = geom.V3{r * emissive[0], g * emissive[1], b * emissive[2]}
	}
	if scene.HasTexture(mat.TransmissionTex) {
		r, _, _, _ := sc.Textures[mat.TransmissionTex].Sample(uv[0], uv[1])
		transmission *= r
	}
	if scene.HasTexture(mat.NormalTex) {
		r, g, b, _ := sc.Textures[mat.NormalTex].Sample(uv[0], uv[1])
		normal = geom.V3{r, g, b}
	}

	return &shading.SampledData{
		BaseColor:    baseColor,
		Alpha:        alpha,
		AO:           ao,
		Roughness:    clampRoughness(roughness),
		Metallic:     clamp01f(metallic),
		Emissive:     emissive,
		Normal:       normal,
		Transmission: clamp01f(transmission),
		IOR:          mat.IOR,
		Thickness:    mat.Thickness,
	}
}

func clamp01f(x float32) float32 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func clampRoughness(x float32) float32 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
