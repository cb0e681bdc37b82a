package content

import (
	"math"
	"sort"
)

// Density clustering over a single axis. The document layouts we normalize
// are effectively two independent 1-D problems: fragments sharing a visual
// row, then fragments sharing a column within a run of structurally similar
// rows. min_samples is fixed at 1 so every fragment lands in a cluster and
// no text is ever discarded as noise.

const (
	minEps              = 1.0
	heightEpsMultiplier = 0.8
	gapEpsRatio         = 0.35
	minClusterSamples   = 1
)

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}

// adaptiveEps derives the neighborhood radius from the data itself: 80% of
// the median fragment extent along the axis, bounded below by 35% of the
// median gap between successive positions and by an absolute floor of 1.0.
// Dense sheets with tiny gaps keep a usable radius; sparse pages do not
// collapse into one cluster.
func adaptiveEps(extents, positions []float64) float64 {
	eps := minEps
	if h := median(extents); h > 0 {
		eps = math.Max(eps, h*heightEpsMultiplier)
	}
	if len(positions) > 1 {
		s := append([]float64(nil), positions...)
		sort.Float64s(s)
		gaps := make([]float64, 0, len(s)-1)
		for i := 1; i < len(s); i++ {
			gaps = append(gaps, s[i]-s[i-1])
		}
		if g := median(gaps); g > 0 {
			eps = math.Max(eps, g*gapEpsRatio)
		}
	}
	return eps
}

// dbscan1D labels each value with a cluster id, -1 meaning noise. Values
// need not be sorted; neighbors are found with a binary-search window over a
// sorted copy, so the whole pass is O(n log n).
func dbscan1D(values []float64, eps float64, minSamples int) []int {
	n := len(values)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -2 // unvisited
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })
	sorted := make([]float64, n)
	for rank, idx := range order {
		sorted[rank] = values[idx]
	}

	neighbors := func(idx int) []int {
		v := values[idx]
		lo := sort.SearchFloat64s(sorted, v-eps)
		hi := sort.SearchFloat64s(sorted, v+eps)
		for hi < n && sorted[hi] <= v+eps {
			hi++
		}
		out := make([]int, 0, hi-lo)
		for rank := lo; rank < hi; rank++ {
			out = append(out, order[rank])
		}
		return out
	}

	cluster := 0
	for _, idx := range order {
		if labels[idx] != -2 {
			continue
		}
		seeds := neighbors(idx)
		if len(seeds) < minSamples {
			labels[idx] = -1
			continue
		}
		labels[idx] = cluster
		for i := 0; i < len(seeds); i++ {
			j := seeds[i]
			if labels[j] == -1 {
				labels[j] = cluster
			}
			if labels[j] != -2 {
				continue
			}
			labels[j] = cluster
			more := neighbors(j)
			if len(more) >= minSamples {
				seeds = append(seeds, more...)
			}
		}
		cluster++
	}
	return labels
}

// clusterAxis groups box indices by position along one axis and returns the
// groups ordered by their minimum position.
func clusterAxis(boxes []BoundingBox, idxs []int, position func(BoundingBox) float64, eps float64) [][]int {
	if len(idxs) == 0 {
		return nil
	}
	positions := make([]float64, len(idxs))
	for i, bi := range idxs {
		positions[i] = position(boxes[bi])
	}
	labels := dbscan1D(positions, eps, minClusterSamples)

	groups := map[int][]int{}
	for i, lbl := range labels {
		groups[lbl] = append(groups[lbl], idxs[i])
	}
	ordered := make([][]int, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(a, b int) bool {
		return minPos(boxes, ordered[a], position) < minPos(boxes, ordered[b], position)
	})
	return ordered
}

func minPos(boxes []BoundingBox, idxs []int, position func(BoundingBox) float64) float64 {
	m := math.Inf(1)
	for _, i := range idxs {
		if p := position(boxes[i]); p < m {
			m = p
		}
	}
	return m
}

// ClusterPage assigns Row, Col and Idx to every box on the page.
//
// Rows are clustered by top edge and numbered top to bottom. Columns are then
// clustered within each row, reusing the row epsilon, so a fragment's column
// depends only on its own row's geometry. Within one (row, col) cell,
// fragments are ordered by top edge then left edge and numbered from 1.
func ClusterPage(page *Page) {
	if page == nil || len(page.Boxes) == 0 {
		return
	}
	boxes := page.Boxes
	all := make([]int, len(boxes))
	for i := range all {
		all[i] = i
	}

	topY := func(b BoundingBox) float64 { return b.TopLeftY }
	topX := func(b BoundingBox) float64 { return b.TopLeftX }

	yPositions := make([]float64, len(boxes))
	heights := make([]float64, len(boxes))
	for i, b := range boxes {
		yPositions[i] = b.TopLeftY
		heights[i] = b.BottomRightY - b.TopLeftY
	}
	rowEps := adaptiveEps(heights, yPositions)

	rows := clusterAxis(boxes, all, topY, rowEps)

	for rowNum, row := range rows {
		columns := clusterAxis(boxes, row, topX, rowEps)
		for c, col := range columns {
			sort.Slice(col, func(a, b int) bool {
				ba, bb := boxes[col[a]], boxes[col[b]]
				if ba.TopLeftY != bb.TopLeftY {
					return ba.TopLeftY < bb.TopLeftY
				}
				return ba.TopLeftX < bb.TopLeftX
			})
			for i, bi := range col {
				boxes[bi].Row = rowNum + 1
				boxes[bi].Col = c + 1
				boxes[bi].Idx = i + 1
			}
		}
	}
}
