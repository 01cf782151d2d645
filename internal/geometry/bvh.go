package geometry

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// MaxLeafSize bounds the triangles stored in one BVH leaf.
	MaxLeafSize = 4
	sahBins     = 12
	// traversal cost relative to one triangle test
	sahTraversalCost = 1.0
	maxStackDepth    = 64
)

// node is one entry of the flattened hierarchy. Interior nodes keep their
// left child at index+1 and the right child at offset; leaves list count
// triangles of Scene.order starting at offset.
type node struct {
	box    AABB
	offset int32
	count  int32
	axis   int8
}

func (n *node) leaf() bool { return n.count > 0 }

type buildItem struct {
	box      AABB
	centroid r3.Vec
	tri      int32
}

type builder struct {
	nodes []node
	order []int32
}

// buildBVH builds a binned surface-area-heuristic hierarchy over all
// triangles of m.
func buildBVH(m *Mesh) ([]node, []int32) {
	items := make([]buildItem, len(m.Triangles))
	for i := range m.Triangles {
		a, b, c := m.Corners(i)
		box := EmptyAABB().Extend(a).Extend(b).Extend(c)
		items[i] = buildItem{box: box, centroid: box.Center(), tri: int32(i)}
	}
	bld := &builder{
		nodes: make([]node, 0, 2*len(items)/MaxLeafSize+1),
		order: make([]int32, 0, len(items)),
	}
	if len(items) > 0 {
		bld.build(items, 0)
	}
	return bld.nodes, bld.order
}

func (bld *builder) build(items []buildItem, depth int) int32 {
	idx := int32(len(bld.nodes))
	bld.nodes = append(bld.nodes, node{})

	box := EmptyAABB()
	cbox := EmptyAABB()
	for _, it := range items {
		box = box.Union(it.box)
		cbox = cbox.Extend(it.centroid)
	}

	if len(items) <= MaxLeafSize || depth >= maxStackDepth-2 {
		bld.nodes[idx] = bld.makeLeaf(box, items)
		return idx
	}

	ax, mid := bld.split(items, box, cbox)
	bld.build(items[:mid], depth+1) // lands at idx+1
	right := bld.build(items[mid:], depth+1)
	bld.nodes[idx] = node{box: box, offset: right, axis: int8(ax)}
	return idx
}

func (bld *builder) makeLeaf(box AABB, items []buildItem) node {
	n := node{box: box, offset: int32(len(bld.order)), count: int32(len(items))}
	for _, it := range items {
		bld.order = append(bld.order, it.tri)
	}
	return n
}

// split partitions items in place and returns the split axis and the
// index of the first item on the right.
func (bld *builder) split(items []buildItem, box, cbox AABB) (int, int) {
	type bin struct {
		box   AABB
		count int
	}

	bestAxis, bestBin := -1, 0
	bestCost := float64(len(items)) // cost of not splitting
	parentArea := box.SurfaceArea()

	ext := cbox.Diagonal()
	for ax := 0; ax < 3; ax++ {
		lo := axis(cbox.Min, ax)
		extent := axis(ext, ax)
		if extent <= 0 {
			continue
		}
		var bins [sahBins]bin
		for i := range bins {
			bins[i].box = EmptyAABB()
		}
		scale := float64(sahBins) / extent
		for _, it := range items {
			b := binIndex(axis(it.centroid, ax), lo, scale)
			bins[b].count++
			bins[b].box = bins[b].box.Union(it.box)
		}

		// Sweep from the right to get suffix areas and counts
		var rightArea [sahBins]float64
		var rightCount [sahBins]int
		acc := EmptyAABB()
		cnt := 0
		for i := sahBins - 1; i > 0; i-- {
			acc = acc.Union(bins[i].box)
			cnt += bins[i].count
			rightArea[i] = acc.SurfaceArea()
			rightCount[i] = cnt
		}

		acc = EmptyAABB()
		cnt = 0
		for i := 1; i < sahBins; i++ {
			acc = acc.Union(bins[i-1].box)
			cnt += bins[i-1].count
			if cnt == 0 || rightCount[i] == 0 {
				continue
			}
			cost := sahTraversalCost
			if parentArea > 0 {
				cost += (acc.SurfaceArea()*float64(cnt) + rightArea[i]*float64(rightCount[i])) / parentArea
			}
			if bestAxis < 0 || cost < bestCost {
				bestAxis, bestBin, bestCost = ax, i, cost
			}
		}
	}

	if bestAxis < 0 {
		return bld.medianSplit(items, box)
	}

	lo := axis(cbox.Min, bestAxis)
	scale := float64(sahBins) / axis(ext, bestAxis)
	mid := 0
	for i := range items {
		if binIndex(axis(items[i].centroid, bestAxis), lo, scale) < bestBin {
			items[i], items[mid] = items[mid], items[i]
			mid++
		}
	}
	if mid == 0 || mid == len(items) {
		return bld.medianSplit(items, box)
	}
	return bestAxis, mid
}

// medianSplit handles coincident centroids: sort on the longest box axis
// and cut in half.
func (bld *builder) medianSplit(items []buildItem, box AABB) (int, int) {
	d := box.Diagonal()
	ax := 0
	if d.Y > d.X {
		ax = 1
	}
	if d.Z > axis(d, ax) {
		ax = 2
	}
	sort.SliceStable(items, func(i, j int) bool {
		ci, cj := axis(items[i].centroid, ax), axis(items[j].centroid, ax)
		if ci != cj {
			return ci < cj
		}
		return items[i].tri < items[j].tri
	})
	return ax, len(items) / 2
}

func binIndex(c, lo, scale float64) int {
	b := int((c - lo) * scale)
	if b < 0 {
		return 0
	}
	if b >= sahBins {
		return sahBins - 1
	}
	return b
}
