// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package shading

import (
	"math"
	"math/rand"
	"testing"

	"github.com/gviegas/pathtrace/geom"
)

// TestEnergyBound verifies that the BRDF does not amplify energy: the
// hemispherical integral of BRDF*cosTheta stays within 1+eps for rough,
// non-emissive materials.
func TestEnergyBound(t *testing.T) {
	n := geom.V3{0, 0, 1}
	v := geom.V3{0, 0, 1}
	d := &SampledData{
		BaseColor: geom.V3{0.8, 0.8, 0.8},
		Roughness: 0.5,
		Metallic:  0,
	}

	rng := rand.New(rand.NewSource(7))
	const samples = 100000
	var sum geom.V3
	for i := 0; i < samples; i++ {
		l := uniformHemisphereSample(rng)
		cosNL := n.Dot(&l)
		if cosNL <= 0 {
			continue
		}
		f := EvalBRDF(n, v, l, d)
		pdf := float32(1.0 / (2 * math.Pi)) // uniform hemisphere pdf
		for k := range sum {
			sum[k] += f[k] * cosNL / pdf
		}
	}
	for k := range sum {
		integral := sum[k] / samples
		if integral > 1.02 {
			t.Fatalf("channel %d: energy integral = %v, want <= 1.02", k, integral)
		}
	}
}

func uniformHemisphereSample(rng *rand.Rand) geom.V3 {
	xi1, xi2 := rng.Float32(), rng.Float32()
	return SampleUniformHemisphere(xi1, xi2)
}

// TestBTDFFresnelUsesClampVN pins the BTDF's Fresnel term to
// clamp(V.N,0,1), not H.V. Changing EvalBTDF to use the half-vector
// would change this result.
func TestBTDFFresnelUsesClampVN(t *testing.T) {
	n := geom.V3{0, 0, 1}
	v := geom.V3{0, 0.6, 0.8}
	l := geom.V3{0, -0.6, 0.8} // transmitted direction, far side

	d := &SampledData{
		BaseColor:    geom.V3{1, 1, 1},
		Transmission: 1,
		Metallic:     0,
	}
	got := EvalBTDF(n, v, l, d)

	cosNV := clamp01(n.Dot(&v))
	f := fresnelSchlick(cosNV, f0From(d))
	want := geom.V3{}
	for i := range want {
		want[i] = (1 - f[i]) * 1 * d.BaseColor[i]
	}
	for i := range got {
		if diff := got[i] - want[i]; diff < -1e-6 || diff > 1e-6 {
			t.Fatalf("EvalBTDF[%d] = %v, want %v (clamp(V.N) Fresnel)", i, got[i], want[i])
		}
	}
}

// TestCombinedPDFHalvesOnTransmission pins the non-MIS-consistent
// heuristic: the combined PDF is halved whenever the material has any
// transmission, regardless of which lobe was sampled.
func TestCombinedPDFHalvesOnTransmission(t *testing.T) {
	base := CombinedPDF(0.4, 0.2, 0)
	withTransmission := CombinedPDF(0.4, 0.2, 0.5)
	if withTransmission != base/2 {
		t.Fatalf("CombinedPDF with transmission = %v, want exactly half of %v", withTransmission, base)
	}
}

func TestIsMirror(t *testing.T) {
	if !IsMirror(&SampledData{Metallic: 1, Roughness: 0}) {
		t.Fatal("expected a perfect mirror to be detected")
	}
	if IsMirror(&SampledData{Metallic: 0.9, Roughness: 0.2}) {
		t.Fatal("non-mirror material misclassified as mirror")
	}
}

func TestBuildFrameOrthonormal(t *testing.T) {
	cases := []geom.V3{{0, 0, 1}, {1, 0, 0}, {0, 1, 0}, {0.577, 0.577, 0.577}}
	for _, n := range cases {
		n.Norm(&n)
		f := BuildFrame(n)
		if d := f.T.Dot(&f.N); d < -1e-4 || d > 1e-4 {
			t.Fatalf("T.N = %v, want ~0", d)
		}
		if d := f.B.Dot(&f.N); d < -1e-4 || d > 1e-4 {
			t.Fatalf("B.N = %v, want ~0", d)
		}
		if d := f.T.Dot(&f.B); d < -1e-4 || d > 1e-4 {
			t.Fatalf("T.B = %v, want ~0", d)
		}
	}
}

func TestPowerHeuristicSymmetric(t *testing.T) {
	w := PowerHeuristic(1, 0.5, 1, 0.5)
	if d := w - 0.5; d < -1e-5 || d > 1e-5 {
		t.Fatalf("equal strategies should split 50/50, have %v", w)
	}
}

// TestHenyeyGreensteinNormalized verifies the HG phase function
// integrates to 1 over the full sphere (solid angle 4*pi), for an
// isotropic, a backward-scattering and a forward-scattering anisotropy.
func TestHenyeyGreensteinNormalized(t *testing.T) {
	for _, g := range []float32{0, -0.55, 0.7} {
		const n = 200000
		var sum float64
		for i := 0; i < n; i++ {
			cosTheta := float32(1 - 2*rand.Float64())
			sum += float64(henyeyGreenstein(cosTheta, g))
		}
		integral := sum / n * 4 * math.Pi
		if integral < 0.97 || integral > 1.03 {
			t.Fatalf("g=%v: HG phase integral = %v, want ~1", g, integral)
		}
	}
}

// TestSampleHenyeyGreensteinMatchesPhase checks that every direction
// drawn by SampleHenyeyGreenstein has a positive, non-NaN value under the
// phase function it samples. It does not compare the distribution of the
// drawn directions against the phase function.
func TestSampleHenyeyGreensteinMatchesPhase(t *testing.T) {
	g := float32(-0.55)
	for i := 0; i < 100; i++ {
		xi1, xi2 := rand.Float32(), rand.Float32()
		dir := SampleHenyeyGreenstein(xi1, xi2, g)
		cosTheta := dir[2] // z axis is the forward direction
		phase := henyeyGreenstein(cosTheta, g)
		if phase <= 0 || phase != phase {
			t.Fatalf("draw %d: non-positive or NaN phase value %v for cosTheta=%v", i, phase, cosTheta)
		}
	}
}
