package ion

// Physical constants (SI).
const (
	Faraday  = 96485.3329 // C/mol
	GasConst = 8.3144626  // J/(mol K)

	// DefaultTemp is body temperature in Kelvin.
	DefaultTemp = 310.0

	// MembraneCap is membrane capacitance per unit area [F/m^2].
	MembraneCap = 0.05

	// MembraneThickness is the electrodiffusion distance across
	// a plasma membrane [m].
	MembraneThickness = 7.5e-9
)

// Species describes one ionic species. Concentrations are in mol/m^3
// (numerically equal to mmol/L), diffusion constants in m^2/s.
// Values are shared read-only across the whole cluster.
type Species struct {
	Name    string
	Valence int
	D       float64 // free-solution diffusion constant
	CIn     float64 // default intracellular concentration
	COut    float64 // default extracellular (bath) concentration
}

// Canonical species indices into DefaultSpecies. Channel models address
// species by these indices rather than by name lookups in the hot path.
const (
	Na = iota
	K
	Cl
	Ca
	H
	Protein
	NumSpecies
)

// DefaultSpecies returns the standard mammalian ion profile.
// Protein stands in for large intracellular anions; it cannot cross
// membranes or junctions (D = 0) and exists to balance resting charge.
func DefaultSpecies() []Species {
	return []Species{
		Na:      {Name: "Na", Valence: 1, D: 1.33e-9, CIn: 12.0, COut: 145.0},
		K:       {Name: "K", Valence: 1, D: 1.96e-9, CIn: 139.0, COut: 4.0},
		Cl:      {Name: "Cl", Valence: -1, D: 2.03e-9, CIn: 4.0, COut: 115.0},
		Ca:      {Name: "Ca", Valence: 2, D: 0.79e-9, CIn: 1.0e-4, COut: 2.0},
		H:       {Name: "H", Valence: 1, D: 9.31e-9, CIn: 4.47e-5, COut: 3.98e-5},
		Protein: {Name: "P", Valence: -1, D: 0, CIn: 147.0, COut: 32.0},
	}
}

// ByName returns the index of the named species, or -1.
func ByName(species []Species, name string) int {
	for i, s := range species {
		if s.Name == name {
			return i
		}
	}
	return -1
}
