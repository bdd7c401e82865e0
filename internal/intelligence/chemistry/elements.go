package chemistry

type element struct {
	number int
	weight float64
	// valences are the default valences used to derive implicit hydrogens.
	// Empty means the element never gets implicit hydrogens.
	valences []int
}

var elements = map[string]element{
	"H":  {1, 1.008, []int{1}},
	"He": {2, 4.003, nil},
	"Li": {3, 6.94, nil},
	"Be": {4, 9.012, nil},
	"B":  {5, 10.81, []int{3}},
	"C":  {6, 12.011, []int{4}},
	"N":  {7, 14.007, []int{3, 5}},
	"O":  {8, 15.999, []int{2}},
	"F":  {9, 18.998, []int{1}},
	"Ne": {10, 20.180, nil},
	"Na": {11, 22.990, nil},
	"Mg": {12, 24.305, nil},
	"Al": {13, 26.982, nil},
	"Si": {14, 28.085, []int{4}},
	"P":  {15, 30.974, []int{3, 5}},
	"S":  {16, 32.06, []int{2, 4, 6}},
	"Cl": {17, 35.45, []int{1}},
	"Ar": {18, 39.948, nil},
	"K":  {19, 39.098, nil},
	"Ca": {20, 40.078, nil},
	"Sc": {21, 44.956, nil},
	"Ti": {22, 47.867, nil},
	"V":  {23, 50.942, nil},
	"Cr": {24, 51.996, nil},
	"Mn": {25, 54.938, nil},
	"Fe": {26, 55.845, nil},
	"Co": {27, 58.933, nil},
	"Ni": {28, 58.693, nil},
	"Cu": {29, 63.546, nil},
	"Zn": {30, 65.38, nil},
	"Ga": {31, 69.723, nil},
	"Ge": {32, 72.630, nil},
	"As": {33, 74.922, []int{3, 5}},
	"Se": {34, 78.971, []int{2, 4, 6}},
	"Br": {35, 79.904, []int{1}},
	"Kr": {36, 83.798, nil},
	"Rb": {37, 85.468, nil},
	"Sr": {38, 87.62, nil},
	"Y":  {39, 88.906, nil},
	"Zr": {40, 91.224, nil},
	"Nb": {41, 92.906, nil},
	"Mo": {42, 95.95, nil},
	"Tc": {43, 98, nil},
	"Ru": {44, 101.07, nil},
	"Rh": {45, 102.906, nil},
	"Pd": {46, 106.42, nil},
	"Ag": {47, 107.868, nil},
	"Cd": {48, 112.414, nil},
	"In": {49, 114.818, nil},
	"Sn": {50, 118.710, nil},
	"Sb": {51, 121.760, nil},
	"Te": {52, 127.60, []int{2, 4, 6}},
	"I":  {53, 126.904, []int{1}},
	"Xe": {54, 131.293, nil},
	"Cs": {55, 132.905, nil},
	"Ba": {56, 137.327, nil},
	"La": {57, 138.905, nil},
	"Gd": {64, 157.25, nil},
	"W":  {74, 183.84, nil},
	"Re": {75, 186.207, nil},
	"Os": {76, 190.23, nil},
	"Ir": {77, 192.217, nil},
	"Pt": {78, 195.084, nil},
	"Au": {79, 196.967, nil},
	"Hg": {80, 200.592, nil},
	"Tl": {81, 204.38, nil},
	"Pb": {82, 207.2, nil},
	"Bi": {83, 208.980, nil},
	"U":  {92, 238.029, nil},
	"*":  {0, 0, nil},
}

// organicSubset may be written without brackets in SMILES.
var organicSubset = map[string]bool{
	"B": true, "C": true, "N": true, "O": true, "P": true, "S": true,
	"F": true, "Cl": true, "Br": true, "I": true, "*": true,
}

// aromaticSymbols maps lowercase aromatic SMILES symbols to elements.
var aromaticSymbols = map[string]string{
	"b": "B", "c": "C", "n": "N", "o": "O", "p": "P", "s": "S",
	"se": "Se", "as": "As", "te": "Te",
}

// chargedValence adjusts the default valence for a formal charge. Group 15
// and 16 atoms gain a bond per positive charge, carbon loses one per unit of
// charge in either direction and boron behaves like carbon when negative.
func chargedValence(symbol string, v, charge int) int {
	if charge == 0 {
		return v
	}
	switch symbol {
	case "C", "Si":
		if charge < 0 {
			return v + charge
		}
		return v - charge
	case "B":
		return v - charge
	case "N", "P", "As", "O", "S", "Se":
		return v + charge
	}
	return v
}
