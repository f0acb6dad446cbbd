package opt

import "math"

// Point is a coordinate used by the ordering heuristics.
type Point struct {
	Lat float64
	Lng float64
}

// OrderStops returns the visiting order of stops for a tour that starts and ends at origin:
// nearest-neighbour seed, then 2-opt. The returned indexes refer to stops.
func OrderStops(origin Point, stops []Point, iterations int) []int {
	if len(stops) == 0 {
		return []int{}
	}
	// node 0 and node n+1 are the origin; stops are 1..n
	nodes := make([]Point, 0, len(stops)+2)
	nodes = append(nodes, origin)
	nodes = append(nodes, stops...)
	nodes = append(nodes, origin)

	order := nearestNeighbor(nodes)
	order = ImproveOrder2Opt(nodes, order, iterations)

	out := make([]int, 0, len(stops))
	for _, n := range order[1 : len(order)-1] {
		out = append(out, n-1)
	}
	return out
}

// TourMeters is the origin -> stops (in order) -> origin distance.
func TourMeters(origin Point, stops []Point, order []int) float64 {
	prev := origin
	total := 0.0
	for _, i := range order {
		total += HaversineMeters(prev.Lat, prev.Lng, stops[i].Lat, stops[i].Lng)
		prev = stops[i]
	}
	return total + HaversineMeters(prev.Lat, prev.Lng, origin.Lat, origin.Lng)
}

func nearestNeighbor(nodes []Point) []int {
	last := len(nodes) - 1
	visited := make([]bool, len(nodes))
	order := []int{0}
	visited[0] = true
	cur := 0
	for len(order) < last {
		next, best := -1, math.MaxFloat64
		for j := 1; j < last; j++ {
			if visited[j] {
				continue
			}
			d := HaversineMeters(nodes[cur].Lat, nodes[cur].Lng, nodes[j].Lat, nodes[j].Lng)
			if d < best {
				next, best = j, d
			}
		}
		visited[next] = true
		order = append(order, next)
		cur = next
	}
	return append(order, last)
}

// ImproveOrder2Opt applies a simple 2-opt heuristic to reduce total distance.
// The first and last entries of order stay in place.
func ImproveOrder2Opt(nodes []Point, order []int, iterations int) []int {
	if iterations <= 0 {
		iterations = 1
	}
	best := append([]int(nil), order...)
	bestDist := pathDistance(nodes, best)
	n := len(order)
	for it := 0; it < iterations; it++ {
		improved := false
		for i := 1; i < n-2; i++ {
			for k := i + 1; k < n-1; k++ {
				newOrder := twoOptSwap(best, i, k)
				d := pathDistance(nodes, newOrder)
				if d+1e-3 < bestDist {
					best = newOrder
					bestDist = d
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return best
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	// reverse i..k
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}

func pathDistance(nodes []Point, order []int) float64 {
	total := 0.0
	for i := 0; i < len(order)-1; i++ {
		a := nodes[order[i]]
		b := nodes[order[i+1]]
		total += HaversineMeters(a.Lat, a.Lng, b.Lat, b.Lng)
	}
	return total
}

// HaversineMeters is the great-circle distance between two coordinates.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
