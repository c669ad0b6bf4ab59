// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package linear

import (
	"math"
	"testing"
)

func TestV(t *testing.T) {
	v := V3{1, 2, 4}
	w := V3{0, -1, 2}

	var u V3
	u.Add(&v, &w)
	if u != (V3{1, 1, 6}) {
		t.Fatalf("V3.Add\nhave %v\nwant [1 1 6]", u)
	}
	u.Sub(&v, &w)
	if u != (V3{1, 3, 2}) {
		t.Fatalf("V3.Sub\nhave %v\nwant [1 3 2]", u)
	}
	u.Scale(-1, &v)
	if u != (V3{-1, -2, -4}) {
		t.Fatalf("V3.Scale\nhave %v\nwant [-1 -2 -4]", u)
	}
	u.Scale(2, &w)
	if u != (V3{0, -2, 4}) {
		t.Fatalf("V3.Scale\nhave %v\nwant [0 -2 4]", u)
	}
	if d := v.Dot(&w); d != 6 {
		t.Fatalf("V3.Dot\nhave %v\nwant 6\n", d)
	}
	if d := v.Dot(&v); d != 21 {
		t.Fatalf("V3.Dot\nhave %v\nwant 21\n", d)
	}
	if l := v.Len(); l != float32(math.Sqrt(21)) {
		t.Fatalf("V3.Len\nhave %v\nwant %v\n", l, math.Sqrt(21))
	}
	if l := w.Len(); l != float32(math.Sqrt(5)) {
		t.Fatalf("V3.Len\nhave %v\nwant %v\n", l, math.Sqrt(5))
	}

	v = V3{0, 0, -2}
	w = V3{0, 4, 0}

	v.Norm(&v)
	if v != (V3{0, 0, -1}) {
		t.Fatalf("V3.Norm\nhave %v\nwant [0 0 -1]", v)
	}
	w.Norm(&w)
	if w != (V3{0, 1, 0}) {
		t.Fatalf("V3.Norm\nhave %v\nwant [0 1 0]", w)
	}
	u.Cross(&v, &w)
	if u != (V3{1, 0, 0}) {
		t.Fatalf("V3.Cross\nhave %v\nwant [1 0 0]", u)
	}
	u.Cross(&w, &v)
	if u != (V3{-1, 0, 0}) {
		t.Fatalf("V3.Cross\nhave %v\nwant [-1 0 0]", u)
	}
}

func TestM4Invert(t *testing.T) {
	var m, inv, id M4
	m.I()
	m[3] = V4{1, 2, 3, 1} // translation
	inv.Invert(&m)
	id.Mul(&m, &inv)
	var want M4
	want.I()
	for i := range id {
		for j := range id[i] {
			d := id[i][j] - want[i][j]
			if d < -1e-5 || d > 1e-5 {
				t.Fatalf("M4.Invert\nhave %v\nwant %v", id, want)
			}
		}
	}
}

func TestRotate(t *testing.T) {
	var q Q
	axis := V3{0, 0, 1}
	q.SetAxisAngle(&axis, float32(math.Pi/2))
	v := V3{1, 0, 0}
	var r V3
	r.Rotate(&q, &v)
	want := V3{0, 1, 0}
	for i := range r {
		d := r[i] - want[i]
		if d < -1e-5 || d > 1e-5 {
			t.Fatalf("V3.Rotate\nhave %v\nwant %v", r, want)
		}
	}
}
