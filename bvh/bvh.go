// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package bvh implements a binary bounding-volume hierarchy over a
// triangle soup, built with Surface-Area-Heuristic (SAH) binning and
// walked with a stack-based ordered traversal. Nodes hold child indices
// rather than pointers, in the same flat-array idiom the rest of this
// module uses for its scene graph.
package bvh

import (
	"math"

	"github.com/gviegas/pathtrace/geom"
)

const (
	binCount  = 8
	leafLimit = 4  // a node with triCount <= leafLimit never splits
	stackCap  = 64 // sufficient for depths below ~1e6 triangles
)

// Node is 32 bytes logically: an AABB plus a union field that is either
// a left-child index (internal node) or a first-triangle index (leaf).
// TriCount==0 iff the node is internal.
type Node struct {
	BoundsMin  geom.V3
	LeftFirst  int32 // left child index, or first triangle index if leaf
	BoundsMax  geom.V3
	TriCount   int32 // 0 for internal nodes, >0 for leaves
}

func (n *Node) isLeaf() bool { return n.TriCount > 0 }

func (n *Node) aabb() geom.AABB { return geom.AABB{Min: n.BoundsMin, Max: n.BoundsMax} }

func (n *Node) setAABB(b geom.AABB) { n.BoundsMin, n.BoundsMax = b.Min, b.Max }

// BVH is a flat node array over a reordered copy of the input triangles.
// Root is always 0. ReorderMap maps a position in Triangles back to the
// index it had in the slice passed to Build, for hit attribution.
type BVH struct {
	Nodes      []Node
	Triangles  []geom.Triangle
	ReorderMap []int32
}

// Build constructs a BVH over tris, which is left untouched; the BVH
// holds its own reordered copy. Node storage is reserved up front for
// 2*N-1 nodes where N = len(tris), the size of a tree with one triangle
// per leaf; since a leaf holds up to leafLimit triangles, len(Nodes) is
// 2*L-1 for L leaves and may be smaller than that bound.
func Build(tris []geom.Triangle) *BVH {
	n := len(tris)
	b := &BVH{
		Nodes:     make([]Node, 0, max(1, 2*n-1)),
		Triangles: make([]geom.Triangle, n),
		ReorderMap: make([]int32, n),
	}
	if n == 0 {
		b.Nodes = append(b.Nodes, Node{BoundsMin: geom.Empty().Min, BoundsMax: geom.Empty().Max})
		return b
	}

	triIdx := make([]int32, n)
	centroids := make([]geom.V3, n)
	for i := range tris {
		triIdx[i] = int32(i)
		centroids[i] = tris[i].Centroid
	}

	root := Node{}
	b.Nodes = append(b.Nodes, root)
	b.fitBounds(&b.Nodes[0], triIdx, tris)
	b.Nodes[0].LeftFirst = 0
	b.Nodes[0].TriCount = int32(n)
	b.subdivide(0, triIdx, tris, centroids)

	// Second pass: copy triangles into leaf order and rewrite LeftFirst
	// for leaves to index the new array.
	pos := int32(0)
	var relabel func(nodeIdx int32)
	relabel = func(nodeIdx int32) {
		node := &b.Nodes[nodeIdx]
		if node.isLeaf() {
			first := node.LeftFirst
			count := node.TriCount
			for i := int32(0); i < count; i++ {
				orig := triIdx[first+i]
				b.Triangles[pos] = tris[orig]
				b.ReorderMap[pos] = orig
				pos++
			}
			node.LeftFirst = pos - count
			return
		}
		left := node.LeftFirst
		relabel(left)
		relabel(left + 1)
	}
	relabel(0)

	return b
}

func (b *BVH) fitBounds(node *Node, triIdx []int32, tris []geom.Triangle) {
	box := geom.Empty()
	for _, idx := range triIdx {
		for _, p := range tris[idx].Pos {
			box.ExtendPoint(p)
		}
	}
	node.setAABB(box)
}

// bin accumulates triangle count and an extended AABB for one SAH bin.
type bin struct {
	box   geom.AABB
	count int
}

// subdivide recursively splits the node at nodeIdx, whose triIdx slice is
// triIdx[node.LeftFirst : node.LeftFirst+node.TriCount] at entry (indices
// into tris/centroids, not yet reordered into leaf order).
func (b *BVH) subdivide(nodeIdx int32, triIdx []int32, tris []geom.Triangle, centroids []geom.V3) {
	node := &b.Nodes[nodeIdx]
	first, count := node.LeftFirst, node.TriCount
	if count <= leafLimit {
		return
	}
	slice := triIdx[first : first+count]

	bestAxis := -1
	bestCost := float32(math.Inf(1))
	var bestSplitPos float32

	nodeBox := node.aabb()
	nodeArea := nodeBox.Area()
	noSplitCost := float32(count) * nodeArea

	for axis := 0; axis < 3; axis++ {
		cmin, cmax := float32(math.Inf(1)), float32(math.Inf(-1))
		for _, idx := range slice {
			c := centroids[idx][axis]
			if c < cmin {
				cmin = c
			}
			if c > cmax {
				cmax = c
			}
		}
		if cmax-cmin < 1e-12 {
			continue
		}

		var bins [binCount]bin
		for i := range bins {
			bins[i].box = geom.Empty()
		}
		scale := float32(binCount) / (cmax - cmin)
		for _, idx := range slice {
			bi := int((centroids[idx][axis] - cmin) * scale)
			if bi < 0 {
				bi = 0
			}
			if bi > binCount-1 {
				bi = binCount - 1
			}
			bins[bi].count++
			for _, p := range tris[idx].Pos {
				bins[bi].box.ExtendPoint(p)
			}
		}

		// Prefix sums left-to-right and right-to-left.
		var leftBox [binCount]geom.AABB
		var leftCount [binCount]int
		box := geom.Empty()
		cnt := 0
		for i := 0; i < binCount; i++ {
			box.Extend(bins[i].box)
			cnt += bins[i].count
			leftBox[i] = box
			leftCount[i] = cnt
		}
		var rightBox [binCount]geom.AABB
		var rightCount [binCount]int
		box = geom.Empty()
		cnt = 0
		for i := binCount - 1; i >= 0; i-- {
			box.Extend(bins[i].box)
			cnt += bins[i].count
			rightBox[i] = box
			rightCount[i] = cnt
		}

		for i := 0; i < binCount-1; i++ {
			nL, nR := leftCount[i], rightCount[i+1]
			if nL == 0 || nR == 0 {
				continue
			}
			lb, rb := leftBox[i], rightBox[i+1]
			cost := float32(nL)*lb.Area() + float32(nR)*rb.Area()
			if cost < bestCost {
				bestCost = cost
				bestAxis = axis
				bestSplitPos = cmin + (cmax-cmin)*float32(i+1)/binCount
			}
		}
	}

	if bestAxis < 0 || bestCost >= noSplitCost {
		return
	}

	// Two-pointer in-place partition of slice by centroid position
	// relative to bestSplitPos on bestAxis.
	i, j := 0, len(slice)-1
	for i <= j {
		if centroids[slice[i]][bestAxis] < bestSplitPos {
			i++
		} else {
			slice[i], slice[j] = slice[j], slice[i]
			j--
		}
	}
	leftCount := i
	if leftCount == 0 || leftCount == len(slice) {
		return // a degenerate split; keep as leaf
	}

	leftIdx := int32(len(b.Nodes))
	b.Nodes = append(b.Nodes, Node{}, Node{})
	node = &b.Nodes[nodeIdx] // re-fetch: append may have reallocated

	leftNode := &b.Nodes[leftIdx]
	leftNode.LeftFirst = first
	leftNode.TriCount = int32(leftCount)
	b.fitBounds(leftNode, triIdx[first:first+int32(leftCount)], tris)

	rightNode := &b.Nodes[leftIdx+1]
	rightNode.LeftFirst = first + int32(leftCount)
	rightNode.TriCount = count - int32(leftCount)
	b.fitBounds(rightNode, triIdx[first+int32(leftCount):first+count], tris)

	node.LeftFirst = leftIdx
	node.TriCount = 0

	b.subdivide(leftIdx, triIdx, tris, centroids)
	b.subdivide(leftIdx+1, triIdx, tris, centroids)
}

// Hit is the result of a BVH traversal.
type Hit struct {
	geom.RaycastHit
	Found bool
}

// Intersect walks the BVH for the closest hit of r within (0, maxLen),
// ignoring the triangle at ignoreTri (pass -1 for none; the index is in
// reordered space, i.e. matches RaycastHit.TriIdx of a prior Intersect).
func (b *BVH) Intersect(r *geom.Ray, maxLen float32, ignoreTri int32) Hit {
	if len(b.Triangles) == 0 {
		return Hit{Found: false}
	}
	var stack [stackCap]int32
	sp := 0
	stack[sp] = 0
	sp++

	best := Hit{Found: false}
	bestT := maxLen

	for sp > 0 {
		sp--
		nodeIdx := stack[sp]
		node := &b.Nodes[nodeIdx]

		if node.isLeaf() {
			first, count := node.LeftFirst, node.TriCount
			for i := int32(0); i < count; i++ {
				triIdx := first + i
				if triIdx == ignoreTri {
					continue
				}
				tri := &b.Triangles[triIdx]
				t, u, v, ok := geom.IntersectTriangle(r, tri, bestT, bestT)
				if ok {
					bestT = t
					best = Hit{
						RaycastHit: geom.RaycastHit{
							T:       t,
							U:       u,
							V:       v,
							W:       1 - u - v,
							TriIdx:  triIdx,
							OrigTri: b.ReorderMap[triIdx],
						},
						Found: true,
					}
				}
			}
			continue
		}

		left := &b.Nodes[node.LeftFirst]
		right := &b.Nodes[node.LeftFirst+1]
		leftBox, rightBox := left.aabb(), right.aabb()
		dLeft := leftBox.Hit(r, bestT)
		dRight := rightBox.Hit(r, bestT)

		if dLeft > dRight {
			// Push the nearer child last so it pops first.
			if dLeft < bestT {
				stack[sp] = node.LeftFirst
				sp++
			}
			if dRight < bestT {
				stack[sp] = node.LeftFirst + 1
				sp++
			}
		} else {
			if dRight < bestT {
				stack[sp] = node.LeftFirst + 1
				sp++
			}
			if dLeft < bestT {
				stack[sp] = node.LeftFirst
				sp++
			}
		}
	}

	return best
}
