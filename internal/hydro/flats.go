package hydro

import (
	"slices"

	"geoweaver/internal/raster"
)

// resolveFlatAreas assigns directions to the sinks of dirs that belong to a
// flat region, i.e. a connected set of equal-elevation pixels.
//
// A region with a lower boundary drains toward it along a breadth-first
// distance gradient. A closed region (a depression or a plateau) drains toward
// a single outlet chosen as the pixel farthest from the higher boundary, which
// is the "toward higher reversed" rule collapsed onto one pixel. The outlet
// stays a sink. Every assigned direction points at a strictly smaller
// distance, so no cycle can form.
func resolveFlatAreas(dem, dirs *raster.Grid) {
	n := dem.Cols * dem.Rows
	seen := make([]bool, n)
	for start := 0; start < n; start++ {
		c, r := start%dem.Cols, start/dem.Cols
		if seen[start] || !dem.Valid(c, r) || !dirs.Info.IsNodata(dirs.Data[start]) {
			continue
		}
		region := flatRegion(dem, start, seen)
		drainRegion(dem, dirs, region)
	}
}

// flatRegion collects the 8-connected equal-elevation component containing
// start, in row-major order.
func flatRegion(dem *raster.Grid, start int, seen []bool) []int {
	z := dem.Data[start]
	inRegion := map[int]bool{start: true}
	queue := []int{start}
	seen[start] = true
	for i := 0; i < len(queue); i++ {
		c, r := queue[i]%dem.Cols, queue[i]/dem.Cols
		for d := 0; d < 8; d++ {
			nc, nr := c+dx[d], r+dy[d]
			if !dem.Valid(nc, nr) {
				continue
			}
			ni := dem.Index(nc, nr)
			if inRegion[ni] || dem.Data[ni] != z {
				continue
			}
			inRegion[ni] = true
			seen[ni] = true
			queue = append(queue, ni)
		}
	}
	slices.Sort(queue)
	return queue
}

func drainRegion(dem, dirs *raster.Grid, region []int) {
	if len(region) == 1 {
		return
	}
	member := make(map[int]bool, len(region))
	for _, i := range region {
		member[i] = true
	}
	var low []int
	for _, i := range region {
		if !dirs.Info.IsNodata(dirs.Data[i]) {
			low = append(low, i)
		}
	}
	if len(low) == 0 {
		var high []int
		for _, i := range region {
			if touchesHigher(dem, i) {
				high = append(high, i)
			}
		}
		outlet := region[0]
		if len(high) > 0 {
			dist := bfs(dem, member, high)
			for _, i := range region {
				if dist[i] > dist[outlet] {
					outlet = i
				}
			}
		}
		low = []int{outlet}
	}
	dist := bfs(dem, member, low)
	for _, i := range region {
		if !dirs.Info.IsNodata(dirs.Data[i]) || dist[i] == 0 {
			continue
		}
		c, r := i%dem.Cols, i/dem.Cols
		best, bestDist := DirNodata, dist[i]
		for _, d := range tieOrder {
			nc, nr := c+dx[d], r+dy[d]
			if !dem.InBounds(nc, nr) {
				continue
			}
			ni := dem.Index(nc, nr)
			if nd, ok := dist[ni]; ok && member[ni] && nd < bestDist {
				best, bestDist = d, nd
			}
		}
		dirs.Data[i] = float64(best)
	}
}

func touchesHigher(dem *raster.Grid, i int) bool {
	c, r := i%dem.Cols, i/dem.Cols
	for d := 0; d < 8; d++ {
		nc, nr := c+dx[d], r+dy[d]
		if dem.Valid(nc, nr) && dem.At(nc, nr) > dem.Data[i] {
			return true
		}
	}
	return false
}

// bfs returns the 8-connected step distance from seeds within member.
func bfs(dem *raster.Grid, member map[int]bool, seeds []int) map[int]int {
	dist := make(map[int]int, len(member))
	queue := make([]int, 0, len(member))
	for _, s := range seeds {
		dist[s] = 0
		queue = append(queue, s)
	}
	for i := 0; i < len(queue); i++ {
		cur := queue[i]
		c, r := cur%dem.Cols, cur/dem.Cols
		for d := 0; d < 8; d++ {
			nc, nr := c+dx[d], r+dy[d]
			if !dem.InBounds(nc, nr) {
				continue
			}
			ni := dem.Index(nc, nr)
			if !member[ni] {
				continue
			}
			if _, done := dist[ni]; done {
				continue
			}
			dist[ni] = dist[cur] + 1
			queue = append(queue, ni)
		}
	}
	return dist
}
