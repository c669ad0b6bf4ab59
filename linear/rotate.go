// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package linear

import "math"

// SetAxisAngle sets q to the rotation of angle radians around axis,
// which must be a unit vector.
func (q *Q) SetAxisAngle(axis *V3, angle float32) {
	s, c := math.Sincos(float64(angle) / 2)
	q.V.Scale(float32(s), axis)
	q.R = float32(c)
}

// Rotate sets v to contain w rotated by q, which must be a unit
// quaternion.
func (v *V3) Rotate(q *Q, w *V3) {
	// t = 2 * cross(q.V, w)
	var t, u V3
	t.Cross(&q.V, w)
	t.Scale(2, &t)
	// v = w + q.R*t + cross(q.V, t)
	u.Cross(&q.V, &t)
	v.Scale(q.R, &t)
	v.Add(v, w)
	v.Add(v, &u)
}
