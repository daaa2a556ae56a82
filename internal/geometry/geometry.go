package geometry

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// GeometryError reports an unsatisfiable tessellation request. It is
// surfaced before any simulation state exists.
type GeometryError struct {
	Reason string
}

func (e *GeometryError) Error() string {
	return "geometry: " + e.Reason
}

// Vec2 is a point in the 2D world plane [m].
type Vec2 struct {
	X, Y float64
}

func (v Vec2) Sub(o Vec2) Vec2      { return Vec2{v.X - o.X, v.Y - o.Y} }
func (v Vec2) Add(o Vec2) Vec2      { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Scale(s float64) Vec2 { return Vec2{v.X * s, v.Y * s} }
func (v Vec2) Dot(o Vec2) float64   { return v.X*o.X + v.Y*o.Y }

func (v Vec2) Dist(o Vec2) float64 {
	dx, dy := v.X-o.X, v.Y-o.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Params controls cluster construction. Lengths are in meters.
type Params struct {
	WorldX     float64 // world extent in x
	WorldY     float64 // world extent in y
	CellRadius float64 // target cell radius
	Height     float64 // cell depth normal to the plane
	Noise      float64 // lattice jitter, 0 (square grid) to 1 (full)
	CircleCrop bool    // crop the seed lattice to an inscribed circle
	RelaxIters int     // Lloyd relaxation iteration cap
	RelaxTol   float64 // convergence tolerance as a fraction of CellRadius
	Seed       int64
}

// DefaultParams returns a small round cluster suitable for tests and demos.
func DefaultParams() Params {
	return Params{
		WorldX:     1.0e-4,
		WorldY:     1.0e-4,
		CellRadius: 5.0e-6,
		Height:     1.0e-5,
		Noise:      0.5,
		CircleCrop: true,
		RelaxIters: 50,
		RelaxTol:   0.05,
	}
}

// Cell is one tessellated cell. Immutable after Build.
type Cell struct {
	Index    int
	Centre   Vec2
	Verts    []Vec2  // membrane polygon, counter-clockwise
	MemArea  float64 // membrane surface area (perimeter * height) [m^2]
	Volume   float64 // cytoplasmic volume (polygon area * height) [m^3]
	Boundary bool    // membrane touches the environment border
}

// Cluster is the immutable output of Build: cells plus the
// neighbor-candidate adjacency used to place gap junctions.
type Cluster struct {
	Cells  []Cell
	Params Params

	// Candidates lists unordered cell-index pairs whose membranes are
	// close enough to plausibly couple. Pairs satisfy i < j and are
	// sorted, so downstream consumers are deterministic.
	Candidates [][2]int
}

// Build tessellates the world region into a cell cluster. The seed
// lattice is jittered for biological irregularity, optionally cropped to
// a circle, tessellated into Voronoi regions, and relaxed toward
// centroidal cells to avoid degenerate slivers.
func Build(p Params) (*Cluster, error) {
	if p.CellRadius <= 0 || p.WorldX <= 0 || p.WorldY <= 0 {
		return nil, &GeometryError{Reason: fmt.Sprintf(
			"invalid extents: world %.3g x %.3g, radius %.3g", p.WorldX, p.WorldY, p.CellRadius)}
	}
	if p.Height <= 0 {
		return nil, &GeometryError{Reason: "cell height must be positive"}
	}
	spacing := 2 * p.CellRadius
	nx := int(p.WorldX / spacing)
	ny := int(p.WorldY / spacing)
	if nx < 1 || ny < 1 {
		return nil, &GeometryError{Reason: fmt.Sprintf(
			"cell radius %.3g too large for world %.3g x %.3g", p.CellRadius, p.WorldX, p.WorldY)}
	}

	rng := rand.New(rand.NewSource(p.Seed))
	seeds := makeSeeds(p, nx, ny, rng)
	if p.CircleCrop {
		seeds = cropCircle(seeds, p)
	}
	if len(seeds) == 0 {
		return nil, &GeometryError{Reason: "no seed points survive cropping"}
	}

	clip := clipRegion(p)

	// Lloyd relaxation: move each seed to its Voronoi cell centroid
	// until the lattice settles or the iteration budget runs out.
	tol := p.RelaxTol * p.CellRadius
	iters := p.RelaxIters
	if iters <= 0 {
		iters = 1
	}
	var polys [][]Vec2
	converged := false
	for it := 0; it < iters; it++ {
		polys = tessellate(seeds, clip, spacing)
		maxShift := 0.0
		for i, poly := range polys {
			if len(poly) < 3 {
				return nil, &GeometryError{Reason: fmt.Sprintf("degenerate cell at seed %d", i)}
			}
			c := centroid(poly)
			if d := c.Dist(seeds[i]); d > maxShift {
				maxShift = d
			}
			seeds[i] = c
		}
		if maxShift < tol {
			converged = true
			polys = tessellate(seeds, clip, spacing)
			break
		}
	}
	if !converged {
		return nil, &GeometryError{Reason: fmt.Sprintf(
			"centroidal relaxation did not converge in %d iterations", iters)}
	}

	cl := &Cluster{Params: p, Cells: make([]Cell, len(seeds))}
	for i, poly := range polys {
		cl.Cells[i] = Cell{
			Index:    i,
			Centre:   seeds[i],
			Verts:    poly,
			MemArea:  perimeter(poly) * p.Height,
			Volume:   polyArea(poly) * p.Height,
			Boundary: touchesBorder(poly, clip, 1e-6*p.CellRadius),
		}
	}
	cl.Candidates = nearNeighbors(seeds, 3.0*p.CellRadius)
	return cl, nil
}

// makeSeeds lays out a jittered lattice, following the classic
// irregular-scatter construction: a square grid with a per-point
// uniform deviation of up to Noise * radius in each axis.
func makeSeeds(p Params, nx, ny int, rng *rand.Rand) []Vec2 {
	spacing := 2 * p.CellRadius
	seeds := make([]Vec2, 0, nx*ny)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			x := (float64(i)+0.5)*spacing + p.Noise*p.CellRadius*(rng.Float64()-0.5)
			y := (float64(j)+0.5)*spacing + p.Noise*p.CellRadius*(rng.Float64()-0.5)
			seeds = append(seeds, Vec2{x, y})
		}
	}
	return seeds
}

func cropCircle(seeds []Vec2, p Params) []Vec2 {
	c := Vec2{p.WorldX / 2, p.WorldY / 2}
	r := math.Min(p.WorldX, p.WorldY)/2 - p.CellRadius
	kept := seeds[:0]
	for _, s := range seeds {
		if s.Dist(c) <= r {
			kept = append(kept, s)
		}
	}
	return kept
}

// clipRegion returns the polygon bounding the tissue: the world
// rectangle, or a 64-gon approximating the inscribed circle when
// cropping is enabled.
func clipRegion(p Params) []Vec2 {
	if !p.CircleCrop {
		return []Vec2{{0, 0}, {p.WorldX, 0}, {p.WorldX, p.WorldY}, {0, p.WorldY}}
	}
	const sides = 64
	c := Vec2{p.WorldX / 2, p.WorldY / 2}
	r := math.Min(p.WorldX, p.WorldY) / 2
	poly := make([]Vec2, sides)
	for i := 0; i < sides; i++ {
		a := 2 * math.Pi * float64(i) / sides
		poly[i] = Vec2{c.X + r*math.Cos(a), c.Y + r*math.Sin(a)}
	}
	return poly
}

// tessellate computes one Voronoi polygon per seed by clipping the
// bounding region against the perpendicular bisector of every nearby
// seed pair. Only seeds within a few diameters matter, found through a
// uniform bucket grid.
func tessellate(seeds []Vec2, region []Vec2, spacing float64) [][]Vec2 {
	grid := newBucketGrid(seeds, 2*spacing)
	polys := make([][]Vec2, len(seeds))
	for i, s := range seeds {
		poly := region
		for _, j := range grid.near(s, 4*spacing) {
			if j == i {
				continue
			}
			o := seeds[j]
			// Half-plane of points closer to s than to o.
			mid := s.Add(o).Scale(0.5)
			n := o.Sub(s)
			poly = clipHalfPlane(poly, mid, n)
			if len(poly) < 3 {
				break
			}
		}
		polys[i] = poly
	}
	return polys
}

// clipHalfPlane clips a convex polygon against the half-plane
// {p : (p - mid) . n <= 0} using Sutherland-Hodgman.
func clipHalfPlane(poly []Vec2, mid, n Vec2) []Vec2 {
	out := make([]Vec2, 0, len(poly)+1)
	inside := func(p Vec2) bool { return p.Sub(mid).Dot(n) <= 0 }
	for i := range poly {
		cur, prev := poly[i], poly[(i+len(poly)-1)%len(poly)]
		ci, pi := inside(cur), inside(prev)
		if ci != pi {
			out = append(out, intersect(prev, cur, mid, n))
		}
		if ci {
			out = append(out, cur)
		}
	}
	return out
}

// intersect finds where segment a-b crosses the bisector line.
func intersect(a, b, mid, n Vec2) Vec2 {
	da := a.Sub(mid).Dot(n)
	db := b.Sub(mid).Dot(n)
	t := da / (da - db)
	return a.Add(b.Sub(a).Scale(t))
}

func centroid(poly []Vec2) Vec2 {
	var cx, cy, a float64
	for i := range poly {
		p, q := poly[i], poly[(i+1)%len(poly)]
		cross := p.X*q.Y - q.X*p.Y
		cx += (p.X + q.X) * cross
		cy += (p.Y + q.Y) * cross
		a += cross
	}
	a *= 0.5
	if a == 0 {
		return poly[0]
	}
	return Vec2{cx / (6 * a), cy / (6 * a)}
}

func polyArea(poly []Vec2) float64 {
	a := 0.0
	for i := range poly {
		p, q := poly[i], poly[(i+1)%len(poly)]
		a += p.X*q.Y - q.X*p.Y
	}
	return math.Abs(a) / 2
}

func perimeter(poly []Vec2) float64 {
	d := 0.0
	for i := range poly {
		d += poly[i].Dist(poly[(i+1)%len(poly)])
	}
	return d
}

// touchesBorder reports whether any polygon vertex lies on the clip
// region outline. Interior Voronoi cells never reach the outline, so a
// border vertex marks an environment-facing cell.
func touchesBorder(poly, region []Vec2, eps float64) bool {
	for _, v := range poly {
		for i := range region {
			a, b := region[i], region[(i+1)%len(region)]
			if distToSegment(v, a, b) < eps {
				return true
			}
		}
	}
	return false
}

func distToSegment(p, a, b Vec2) float64 {
	ab := b.Sub(a)
	t := p.Sub(a).Dot(ab) / ab.Dot(ab)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return p.Dist(a.Add(ab.Scale(t)))
}

// nearNeighbors returns sorted unordered pairs of seeds within searchD.
func nearNeighbors(seeds []Vec2, searchD float64) [][2]int {
	grid := newBucketGrid(seeds, searchD)
	pairs := make([][2]int, 0, len(seeds)*3)
	for i, s := range seeds {
		for _, j := range grid.near(s, searchD) {
			if j <= i {
				continue
			}
			if s.Dist(seeds[j]) <= searchD {
				pairs = append(pairs, [2]int{i, j})
			}
		}
	}
	return pairs
}

// bucketGrid is a uniform spatial hash for near-neighbor queries,
// standing in for a KD-tree over the seed scatter.
type bucketGrid struct {
	cell    float64
	buckets map[[2]int][]int
}

func newBucketGrid(pts []Vec2, cell float64) *bucketGrid {
	g := &bucketGrid{cell: cell, buckets: make(map[[2]int][]int)}
	for i, p := range pts {
		k := g.key(p)
		g.buckets[k] = append(g.buckets[k], i)
	}
	return g
}

func (g *bucketGrid) key(p Vec2) [2]int {
	return [2]int{int(math.Floor(p.X / g.cell)), int(math.Floor(p.Y / g.cell))}
}

// near returns indices of points within radius r of p, in ascending
// index order.
func (g *bucketGrid) near(p Vec2, r float64) []int {
	k := g.key(p)
	span := int(math.Ceil(r/g.cell)) + 1
	var out []int
	for dx := -span; dx <= span; dx++ {
		for dy := -span; dy <= span; dy++ {
			out = append(out, g.buckets[[2]int{k[0] + dx, k[1] + dy}]...)
		}
	}
	sort.Ints(out)
	return out
}
