// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Command pathtrace renders a glTF or OBJ scene offline with a
// tile-parallel Monte-Carlo path tracer and writes the result as an
// 8-bit sRGB PNG.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/gviegas/pathtrace/bvh"
	"github.com/gviegas/pathtrace/imageio"
	"github.com/gviegas/pathtrace/render"
	"github.com/gviegas/pathtrace/scene"
	"github.com/gviegas/pathtrace/scene/gltfload"
	"github.com/gviegas/pathtrace/scene/objload"
)

// Exit codes distinguish argument, scene-load, and output-write failures.
const (
	exitOK          = 0
	exitInvalidArgs = 1
	exitSceneLoad   = 2
	exitOutputWrite = 3
)

type cliOpts struct {
	in      string
	out     string
	height  int
	samples int
	bounces int
	msaa    int
	seed    uint64
	workers int
	g       float32
	format  string
	verbose bool
}

func main() {
	os.Exit(run())
}

func run() int {
	def := render.DefaultParams()
	var o cliOpts
	flag.StringVar(&o.in, "in", "", "input scene path (glTF or OBJ)")
	flag.StringVar(&o.out, "out", "", "output PNG path")
	flag.IntVar(&o.height, "height", def.Height, "output height in pixels; width is derived from aspect")
	flag.IntVar(&o.samples, "samples", def.Samples, "indirect samples at the first bounce")
	flag.IntVar(&o.bounces, "bounces", def.Bounces, "maximum recursion depth")
	flag.IntVar(&o.msaa, "msaa", def.MSAA, "samples per pixel")
	flag.Uint64Var(&o.seed, "seed", def.Seed, "base RNG seed (render is deterministic for a given seed)")
	flag.IntVar(&o.workers, "workers", 0, "tile worker-pool size (0 = GOMAXPROCS)")
	g := flag.Float64("g", float64(def.G), "Henyey-Greenstein anisotropy for thick-volume transmission")
	flag.StringVar(&o.format, "format", "auto", "scene format: auto, gltf, obj")
	flag.BoolVar(&o.verbose, "verbose", false, "log progress to stderr")
	flag.Parse()
	o.g = float32(*g)

	if !o.verbose {
		log.SetOutput(io.Discard)
	}

	if o.in == "" || o.out == "" {
		fmt.Fprintln(os.Stderr, "pathtrace: both -in and -out are required")
		flag.PrintDefaults()
		return exitInvalidArgs
	}

	format, err := parseFormat(o.format, o.in)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pathtrace:", err)
		return exitInvalidArgs
	}

	start := time.Now()
	sc, err := loadScene(o.in, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pathtrace: scene load failed for %q: %v\n", o.in, err)
		return exitSceneLoad
	}
	if o.verbose {
		log.Printf("loaded %q: %d triangles (%d degenerate dropped), %d materials, %d textures in %s",
			o.in, len(sc.Triangles), sc.DegenerateCount, len(sc.Materials), len(sc.Textures), time.Since(start))
		if sc.SkippedPrimitives > 0 {
			log.Printf("skipped %d unsupported (non-triangle) or unreadable primitive(s)", sc.SkippedPrimitives)
		}
	}

	buildStart := time.Now()
	b := bvh.Build(sc.Triangles)
	if o.verbose {
		log.Printf("built BVH: %d nodes in %s", len(b.Nodes), time.Since(buildStart))
	}

	params := render.Params{
		Height:  o.height,
		Samples: o.samples,
		Bounces: o.bounces,
		MSAA:    o.msaa,
		Seed:    o.seed,
		Workers: o.workers,
		G:       o.g,
	}

	renderStart := time.Now()
	fb, err := render.Render(context.Background(), sc, b, params)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pathtrace: render failed:", err)
		return exitSceneLoad
	}
	if o.verbose {
		log.Printf("rendered %dx%d in %s", fb.Width, fb.Height, time.Since(renderStart))
	}

	if err := imageio.Write(o.out, fb); err != nil {
		fmt.Fprintln(os.Stderr, "pathtrace: writing output failed:", err)
		return exitOutputWrite
	}

	return exitOK
}

func parseFormat(s, path string) (scene.Format, error) {
	switch s {
	case "", "auto":
		return scene.SniffFormat(path), nil
	case "gltf":
		return scene.GLTF, nil
	case "obj":
		return scene.OBJ, nil
	default:
		return scene.Auto, fmt.Errorf("unknown -format %q (want auto, gltf, or obj)", s)
	}
}

func loadScene(path string, format scene.Format) (*scene.Scene, error) {
	if format == scene.Auto {
		format = scene.SniffFormat(path)
	}
	switch format {
	case scene.OBJ:
		return objload.Load(path)
	default:
		return gltfload.Load(path)
	}
}
