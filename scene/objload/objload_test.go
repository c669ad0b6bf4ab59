// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package objload

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadTriangleFanQuad(t *testing.T) {
	dir := t.TempDir()
	obj := `
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
f 1 2 3 4
`
	p := writeFile(t, dir, "quad.obj", obj)
	sc, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(sc.Triangles) != 2 {
		t.Fatalf("fan triangulation: have %d triangles, want 2", len(sc.Triangles))
	}
	if len(sc.Materials) != 1 {
		t.Fatalf("have %d materials, want 1 (default)", len(sc.Materials))
	}
}

func TestLoadWithMTL(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "mat.mtl", `
newmtl red
Kd 1 0 0
Ns 500
`)
	obj := `
mtllib mat.mtl
v 0 0 0
v 1 0 0
v 0 1 0
usemtl red
f 1 2 3
`
	p := writeFile(t, dir, "tri.obj", obj)
	sc, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(sc.Triangles) != 1 {
		t.Fatalf("have %d triangles, want 1", len(sc.Triangles))
	}
	mi := sc.Triangles[0].MatIdx
	if mi == 0 {
		t.Fatal("expected triangle to reference the \"red\" material, not the default")
	}
	m := sc.Materials[mi]
	if m.BaseColor[0] != 1 || m.BaseColor[1] != 0 {
		t.Fatalf("BaseColor not read from Kd: %v", m.BaseColor)
	}
}

func TestLoadDegenerateTriangleDropped(t *testing.T) {
	dir := t.TempDir()
	obj := `
v 0 0 0
v 0 0 0
v 0 0 0
f 1 2 3
v 1 0 0
v 1 1 0
v 0 1 0
f 4 5 6
`
	p := writeFile(t, dir, "degen.obj", obj)
	sc, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(sc.Triangles) != 1 {
		t.Fatalf("have %d triangles, want 1 (one degenerate dropped)", len(sc.Triangles))
	}
	if sc.DegenerateCount != 1 {
		t.Fatalf("DegenerateCount\nhave %d\nwant 1", sc.DegenerateCount)
	}
}

func TestLoadNoGeometry(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "empty.obj", "# just a comment\n")
	if _, err := Load(p); err == nil {
		t.Fatal("expected an error for a file with no faces")
	}
}

func TestParseFaceVertex(t *testing.T) {
	cases := []struct {
		tok  string
		want faceVertex
	}{
		{"1", faceVertex{0, -1, -1}},
		{"1/2", faceVertex{0, 1, -1}},
		{"1//3", faceVertex{0, -1, 2}},
		{"1/2/3", faceVertex{0, 1, 2}},
	}
	for _, c := range cases {
		got := parseFaceVertex(c.tok)
		if got != c.want {
			t.Errorf("parseFaceVertex(%q)\nhave %+v\nwant %+v", c.tok, got, c.want)
		}
	}
}
