package geometry

import (
	"math"
	"testing"
)

func TestBuildSmallCluster(t *testing.T) {
	p := DefaultParams()
	p.Seed = 42

	cl, err := Build(p)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(cl.Cells) == 0 {
		t.Fatal("expected at least one cell")
	}

	for _, c := range cl.Cells {
		if len(c.Verts) < 3 {
			t.Errorf("cell %d has degenerate polygon (%d verts)", c.Index, len(c.Verts))
		}
		if c.Volume <= 0 {
			t.Errorf("cell %d has non-positive volume %g", c.Index, c.Volume)
		}
		if c.MemArea <= 0 {
			t.Errorf("cell %d has non-positive membrane area %g", c.Index, c.MemArea)
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	p := DefaultParams()
	p.Seed = 7

	a, err := Build(p)
	if err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	b, err := Build(p)
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}

	if len(a.Cells) != len(b.Cells) {
		t.Fatalf("cell counts differ: %d vs %d", len(a.Cells), len(b.Cells))
	}
	for i := range a.Cells {
		if a.Cells[i].Centre != b.Cells[i].Centre {
			t.Fatalf("cell %d centre differs between identical seeds", i)
		}
	}
	if len(a.Candidates) != len(b.Candidates) {
		t.Fatalf("candidate counts differ: %d vs %d", len(a.Candidates), len(b.Candidates))
	}
}

func TestBuildImpossibleDensity(t *testing.T) {
	p := DefaultParams()
	p.CellRadius = p.WorldX // one cell cannot fit

	_, err := Build(p)
	if err == nil {
		t.Fatal("expected GeometryError")
	}
	if _, ok := err.(*GeometryError); !ok {
		t.Fatalf("expected *GeometryError, got %T", err)
	}
}

func TestBuildInvalidExtents(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero radius", func(p *Params) { p.CellRadius = 0 }},
		{"negative world", func(p *Params) { p.WorldX = -1 }},
		{"zero height", func(p *Params) { p.Height = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			if _, err := Build(p); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestCandidatePairsOrderedUnique(t *testing.T) {
	p := DefaultParams()
	p.Seed = 3

	cl, err := Build(p)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	seen := make(map[[2]int]bool)
	for _, pr := range cl.Candidates {
		if pr[0] >= pr[1] {
			t.Errorf("pair %v not ordered", pr)
		}
		if seen[pr] {
			t.Errorf("duplicate pair %v", pr)
		}
		seen[pr] = true
	}
}

func TestBoundaryCellsExist(t *testing.T) {
	p := DefaultParams()
	p.Seed = 11

	cl, err := Build(p)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	boundary := 0
	for _, c := range cl.Cells {
		if c.Boundary {
			boundary++
		}
	}
	if boundary == 0 {
		t.Error("expected some boundary cells in a cropped cluster")
	}
	if boundary == len(cl.Cells) {
		t.Error("expected some interior cells")
	}
}

func TestPolygonHelpers(t *testing.T) {
	square := []Vec2{{0, 0}, {2, 0}, {2, 2}, {0, 2}}

	if a := polyArea(square); math.Abs(a-4) > 1e-12 {
		t.Errorf("square area: got %g, want 4", a)
	}
	if p := perimeter(square); math.Abs(p-8) > 1e-12 {
		t.Errorf("square perimeter: got %g, want 8", p)
	}
	c := centroid(square)
	if math.Abs(c.X-1) > 1e-12 || math.Abs(c.Y-1) > 1e-12 {
		t.Errorf("square centroid: got %+v, want (1,1)", c)
	}
}

func TestClipHalfPlane(t *testing.T) {
	square := []Vec2{{0, 0}, {2, 0}, {2, 2}, {0, 2}}

	// Keep the half with x <= 1.
	out := clipHalfPlane(square, Vec2{1, 1}, Vec2{1, 0})
	if a := polyArea(out); math.Abs(a-2) > 1e-12 {
		t.Errorf("clipped area: got %g, want 2", a)
	}
	for _, v := range out {
		if v.X > 1+1e-12 {
			t.Errorf("vertex %+v outside half-plane", v)
		}
	}
}
