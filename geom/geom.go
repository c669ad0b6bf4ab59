// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package geom implements the math primitives of the path tracer: rays,
// axis-aligned bounding boxes, triangles and their intersection tests.
package geom

import (
	"math"

	"github.com/gviegas/pathtrace/linear"
)

// parallelEps rejects near-parallel ray/triangle edges in Möller-Trumbore.
const parallelEps = 1e-6

// Ray is a world-space ray.
// Dir must be a unit vector; RDir is its component-wise reciprocal and
// must be kept in sync with Dir whenever the latter changes (used by the
// slab test).
type Ray struct {
	Orig V3
	Dir  V3
	RDir V3
}

// V3 is a 3-component vector of float32. It is an alias of linear.V3,
// so geom and linear vectors are interchangeable and share its methods.
type V3 = linear.V3

// NewRay builds a Ray from an origin and a unit direction, computing the
// reciprocal direction.
func NewRay(orig, dir V3) Ray {
	r := Ray{Orig: orig, Dir: dir}
	r.SetDir(dir)
	return r
}

// SetDir updates Dir and recomputes RDir, keeping the invariant that RDir
// is always the reciprocal of Dir.
func (r *Ray) SetDir(dir V3) {
	r.Dir = dir
	for i := range dir {
		if dir[i] != 0 {
			r.RDir[i] = 1 / dir[i]
		} else {
			r.RDir[i] = float32(math.Inf(1))
		}
	}
}

// At returns the point at parameter t along the ray.
func (r *Ray) At(t float32) (p V3) {
	p.Scale(t, &r.Dir)
	p.Add(&p, &r.Orig)
	return
}

// AABB is an axis-aligned bounding box. The zero value is not a valid
// empty box; use Empty.
type AABB struct {
	Min V3
	Max V3
}

// Empty returns the identity element of Extend: +inf/-inf sentinels such
// that extending it with any point or box yields that point/box.
func Empty() AABB {
	inf := float32(math.Inf(1))
	return AABB{
		Min: V3{inf, inf, inf},
		Max: V3{-inf, -inf, -inf},
	}
}

// ExtendPoint grows b to contain p.
func (b *AABB) ExtendPoint(p V3) {
	for i := range b.Min {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
}

// Extend grows b to contain o. Extend is a monoid union: Empty() is its
// identity and it is associative/commutative.
func (b *AABB) Extend(o AABB) {
	for i := range b.Min {
		if o.Min[i] < b.Min[i] {
			b.Min[i] = o.Min[i]
		}
		if o.Max[i] > b.Max[i] {
			b.Max[i] = o.Max[i]
		}
	}
}

// Centroid returns the midpoint of the box.
func (b *AABB) Centroid() (c V3) {
	c.Add(&b.Min, &b.Max)
	c.Scale(0.5, &c)
	return
}

// Area returns the box's surface area (0 for a degenerate/empty box).
func (b *AABB) Area() float32 {
	var d V3
	d.Sub(&b.Max, &b.Min)
	if d[0] < 0 || d[1] < 0 || d[2] < 0 {
		return 0
	}
	return 2 * (d[0]*d[1] + d[1]*d[2] + d[2]*d[0])
}

// Hit returns the distance to the nearest slab intersection with r, or
// +Inf if there is none within (0, maxLen).
func (b *AABB) Hit(r *Ray, maxLen float32) float32 {
	tmin := float32(0)
	tmax := maxLen
	for i := 0; i < 3; i++ {
		t1 := (b.Min[i] - r.Orig[i]) * r.RDir[i]
		t2 := (b.Max[i] - r.Orig[i]) * r.RDir[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
		if tmax < tmin {
			return float32(math.Inf(1))
		}
	}
	if tmax <= 0 {
		return float32(math.Inf(1))
	}
	return tmin
}

// Triangle is an immutable, load-time-constructed triangle with
// interpolated shading attributes. MatIdx indexes the scene's flat
// material array.
type Triangle struct {
	Pos      [3]V3
	Normal   [3]V3
	Tangent  [3]V3
	Bitan    [3]V3
	UV       [3][2]float32
	Centroid V3
	MatIdx   uint8
}

// ComputeCentroid fills in t.Centroid from the average of its vertices.
// Must be called once after Pos is set.
func (t *Triangle) ComputeCentroid() {
	var c V3
	c.Add(&t.Pos[0], &t.Pos[1])
	c.Add(&c, &t.Pos[2])
	c.Scale(1.0/3.0, &c)
	t.Centroid = c
}

// ComputeTangents derives Tangent/Bitan from the UV deltas of the
// triangle's edges. Degenerate UV parameterizations (|det| < 1e-6) leave
// Tangent and Bitan zeroed.
func (t *Triangle) ComputeTangents() {
	var e1, e2 V3
	e1.Sub(&t.Pos[1], &t.Pos[0])
	e2.Sub(&t.Pos[2], &t.Pos[0])
	du1 := t.UV[1][0] - t.UV[0][0]
	dv1 := t.UV[1][1] - t.UV[0][1]
	du2 := t.UV[2][0] - t.UV[0][0]
	dv2 := t.UV[2][1] - t.UV[0][1]
	det := du1*dv2 - du2*dv1
	if det > -1e-6 && det < 1e-6 {
		return
	}
	r := 1 / det
	var tan, bit V3
	for i := 0; i < 3; i++ {
		tan[i] = r * (dv2*e1[i] - dv1*e2[i])
		bit[i] = r * (du1*e2[i] - du2*e1[i])
	}
	tan.Norm(&tan)
	bit.Norm(&bit)
	t.Tangent[0], t.Tangent[1], t.Tangent[2] = tan, tan, tan
	t.Bitan[0], t.Bitan[1], t.Bitan[2] = bit, bit, bit
}

// RaycastHit is the result of a successful ray/triangle intersection.
type RaycastHit struct {
	T        float32 // distance along the ray
	U, V, W  float32 // barycentrics, in (1-u-v, u, v) order: W, U, V
	TriIdx   int32   // index into the reordered triangle array
	OrigTri  int32   // original (pre-BVH-reorder) triangle index
}

// IntersectTriangle performs a Möller-Trumbore test of r against tri,
// reporting a hit only if its distance is in (0, maxLen) and strictly
// closer than prevBest. Returns the distance t, the barycentrics u and v,
// and whether there was such a hit.
func IntersectTriangle(r *Ray, tri *Triangle, maxLen, prevBest float32) (t, u, v float32, ok bool) {
	var e1, e2 V3
	e1.Sub(&tri.Pos[1], &tri.Pos[0])
	e2.Sub(&tri.Pos[2], &tri.Pos[0])
	var pvec V3
	pvec.Cross(&r.Dir, &e2)
	det := e1.Dot(&pvec)
	if det > -parallelEps && det < parallelEps {
		return
	}
	invDet := 1 / det
	var tvec V3
	tvec.Sub(&r.Orig, &tri.Pos[0])
	u = tvec.Dot(&pvec) * invDet
	if u < 0 || u > 1 {
		return
	}
	var qvec V3
	qvec.Cross(&tvec, &e1)
	v = r.Dir.Dot(&qvec) * invDet
	if v < 0 || u+v > 1 {
		return
	}
	t = e2.Dot(&qvec) * invDet
	if t <= 1e-5 || t >= maxLen || t >= prevBest {
		return
	}
	ok = true
	return
}

// FaceForward flips n to the same hemisphere as -d (i.e., facing back
// against the incoming ray direction d), returning whether a flip occurred.
func FaceForward(n *V3, d *V3) (flipped bool) {
	if n.Dot(d) > 0 {
		n.Scale(-1, n)
		return true
	}
	return false
}

// Refract bends incident direction d (pointing into the surface, unit
// length) across a surface with outward normal n using the relative
// index of refraction eta = iorFrom/iorTo, returning false on total
// internal reflection.
func Refract(d, n V3, eta float32) (V3, bool) {
	cosI := -n.Dot(&d)
	sin2T := eta * eta * (1 - cosI*cosI)
	if sin2T > 1 {
		return V3{}, false
	}
	cosT := float32(math.Sqrt(float64(1 - sin2T)))
	var a, b, out V3
	a.Scale(eta, &d)
	b.Scale(eta*cosI-cosT, &n)
	out.Add(&a, &b)
	out.Norm(&out)
	return out, true
}
